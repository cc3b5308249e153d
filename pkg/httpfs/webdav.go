package httpfs

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// DirEntry is one entry returned by DirList, parsed from a PROPFIND
// multistatus response per spec §4.9.
type DirEntry struct {
	Name       string
	IsDir      bool
	Size       int64
	ModTime    time.Time
	Executable bool
}

// maxPropfindBody bounds the accumulated PROPFIND response body, per spec
// §4.4 ("oversize returns an internal ServerError") and §8.
const maxPropfindBody = 10 * 1024 * 1024

type multistatusXML struct {
	Responses []responseXML `xml:"response"`
}

type responseXML struct {
	Href     string       `xml:"href"`
	Propstat []propstatXML `xml:"propstat"`
}

type propstatXML struct {
	Prop propXML `xml:"prop"`
}

type propXML struct {
	ResourceType  resourceTypeXML `xml:"resourcetype"`
	ContentLength string          `xml:"getcontentlength"`
	LastModified  string          `xml:"getlastmodified"`
	Executable    string          `xml:"executable"`
}

type resourceTypeXML struct {
	Collection *struct{} `xml:"collection"`
}

// ParsePropfindResponse parses a PROPFIND multistatus body into DirEntry
// values, skipping the first response (the queried path itself), per spec
// §4.9. Both the canonical "DAV:" namespace and the "lp1:" alias are
// accepted because encoding/xml matches on local element name by default,
// which already ignores the namespace prefix/URI distinction between them.
func ParsePropfindResponse(r io.Reader) ([]DirEntry, error) {
	limited := io.LimitReader(r, maxPropfindBody+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading propfind body: %w", err)
	}
	if len(body) > maxPropfindBody {
		return nil, NewError(KindServerError, "PROPFIND", "", "response exceeds 10MB limit", nil)
	}

	var ms multistatusXML
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parsing propfind xml: %w", err)
	}

	var entries []DirEntry
	for i, resp := range ms.Responses {
		if i == 0 {
			continue
		}
		entry, err := convertResponse(resp)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func convertResponse(resp responseXML) (DirEntry, error) {
	name := lastPathSegment(resp.Href)
	var entry DirEntry
	entry.Name = name
	for _, ps := range resp.Propstat {
		if ps.Prop.ResourceType.Collection != nil {
			entry.IsDir = true
		}
		if ps.Prop.ContentLength != "" {
			if n, err := strconv.ParseInt(ps.Prop.ContentLength, 10, 64); err == nil {
				entry.Size = n
			}
		}
		if ps.Prop.LastModified != "" {
			if t, err := time.Parse(time.RFC1123, ps.Prop.LastModified); err == nil {
				entry.ModTime = t
			}
		}
		if ps.Prop.Executable == "T" {
			entry.Executable = true
		}
	}
	return entry, nil
}

func lastPathSegment(href string) string {
	trimmed := strings.TrimSuffix(href, "/")
	return path.Base(trimmed)
}

// PropfindRequestBody is the minimal XML propfind request body sent with
// Depth: 1, per spec §6.
const PropfindRequestBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:allprop/>
</D:propfind>`
