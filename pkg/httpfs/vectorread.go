package httpfs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// ChunkRequest is one requested byte range for VectorRead (spec §4.8.6).
type ChunkRequest struct {
	Offset int64
	Length int
}

// ChunkResult is the delivered bytes for one ChunkRequest.
type ChunkResult struct {
	Offset int64
	Data   []byte
}

// VectorReadInfo is the aggregate result of VectorRead.
type VectorReadInfo struct {
	Size    int64
	Results []ChunkResult
}

// PlanVectorRead returns early with an empty result for a request with no
// chunks, per spec §8 ("Empty VectorRead ... completes immediately with a
// size == 0 VectorReadInfo").
func PlanVectorRead(chunks []ChunkRequest) (*VectorReadInfo, bool) {
	if len(chunks) == 0 {
		return &VectorReadInfo{}, true
	}
	return nil, false
}

// ParseSinglePartRange validates a single-part 206 response against the
// first requested chunk: the Content-Range offset must equal the requested
// offset, per spec §8.
func ParseSinglePartRange(headers *ParsedHeaders, requested ChunkRequest, body []byte) (ChunkResult, error) {
	if !headers.HasRange {
		return ChunkResult{}, fmt.Errorf("206 response missing Content-Range")
	}
	if headers.RangeStart != requested.Offset {
		return ChunkResult{}, NewError(KindInvalidResponse, "VectorRead", "",
			fmt.Sprintf("Content-Range offset %d does not match requested offset %d", headers.RangeStart, requested.Offset), nil)
	}
	return ChunkResult{Offset: requested.Offset, Data: body}, nil
}

// ParseMultipartByteranges walks a multipart/byteranges body (boundary
// "--<boundary>" per-part separators, each part with its own Content-Range,
// terminated by "--<boundary>--"), assigning each response byte to whichever
// requested chunk (if any) it falls within; bytes outside every requested
// chunk are skipped, per spec §4.8.6 and the scenario in spec §8.
func ParseMultipartByteranges(body []byte, boundary string, requested []ChunkRequest) ([]ChunkResult, error) {
	reader := multipartReader(bytes.NewReader(body), boundary)
	var results []ChunkResult

	for {
		partHeaders, partBody, err := reader.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing multipart/byteranges: %w", err)
		}
		if !partHeaders.HasRange {
			continue
		}
		start := partHeaders.RangeStart
		for _, req := range requested {
			reqEnd := req.Offset + int64(req.Length)
			overlapStart := maxInt64(start, req.Offset)
			overlapEnd := minInt64(start+int64(len(partBody)), reqEnd)
			if overlapStart >= overlapEnd {
				continue
			}
			data := partBody[overlapStart-start : overlapEnd-start]
			results = append(results, ChunkResult{Offset: overlapStart, Data: append([]byte(nil), data...)})
		}
	}
	return results, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

type multipartScanner struct {
	r        *bufio.Reader
	boundary string
	done     bool
}

func multipartReader(r io.Reader, boundary string) *multipartScanner {
	return &multipartScanner{r: bufio.NewReader(r), boundary: boundary}
}

// next reads one multipart/byteranges part: its header block (parsed as
// response headers, for Content-Range) and its body, stopping at the next
// "--boundary" delimiter line.
func (s *multipartScanner) next() (*ParsedHeaders, []byte, error) {
	if s.done {
		return nil, nil, io.EOF
	}
	delim := "--" + s.boundary
	terminator := delim + "--"

	// Skip to the next delimiter line.
	for {
		line, err := s.r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == terminator {
			s.done = true
			return nil, nil, io.EOF
		}
		if trimmed == delim {
			break
		}
		if err != nil {
			return nil, nil, io.EOF
		}
	}

	headers := NewParsedHeaders()
	for {
		line, err := s.r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		_ = headers.ParseHeaderLine(trimmed)
		if err != nil {
			break
		}
	}

	var body bytes.Buffer
	for {
		line, err := s.r.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == delim || trimmed == terminator {
			if trimmed == terminator {
				s.done = true
			}
			break
		}
		body.WriteString(line)
		if err != nil {
			break
		}
	}
	// Trim the trailing CRLF that precedes the delimiter line.
	data := bytes.TrimSuffix(body.Bytes(), []byte("\r\n"))
	return headers, data, nil
}
