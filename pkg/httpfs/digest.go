package httpfs

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"

	"github.com/xrdhttp/curlfs/pkg/common/workers"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// PageChecksum is one 4 KiB (or shorter, for the final page) CRC32C computed
// for PgRead (spec §4.8.5).
type PageChecksum struct {
	Offset int64
	Length int
	CRC32C uint32
}

const pgReadPageSize = 4096

// pgReadFanoutThreshold is the buffer size above which page checksums are
// computed across a workers.Pool instead of inline, mirroring the
// index package's level-by-level fan-out for the same Pool type.
const pgReadFanoutThreshold = 1 << 20 // 1 MiB

// ComputePageChecksums splits data into pgReadPageSize pages starting at
// baseOffset and computes a CRC32C for each.
func ComputePageChecksums(data []byte, baseOffset int64) []PageChecksum {
	if len(data) >= pgReadFanoutThreshold {
		return computePageChecksumsParallel(data, baseOffset, 0)
	}
	return computePageChecksumsSequential(data, baseOffset)
}

func computePageChecksumsSequential(data []byte, baseOffset int64) []PageChecksum {
	var pages []PageChecksum
	for off := 0; off < len(data); off += pgReadPageSize {
		end := off + pgReadPageSize
		if end > len(data) {
			end = len(data)
		}
		page := data[off:end]
		pages = append(pages, PageChecksum{
			Offset: baseOffset + int64(off),
			Length: len(page),
			CRC32C: crc32.Checksum(page, crc32cTable),
		})
	}
	return pages
}

// pageChecksumTask is a workers.Task computing the CRC32C of one page,
// letting ComputePageChecksums fan large buffers out across a workers.Pool.
type pageChecksumTask struct {
	offset int64
	page   []byte
}

func (t *pageChecksumTask) ID() string { return strconv.FormatInt(t.offset, 10) }

func (t *pageChecksumTask) Execute(ctx context.Context) (interface{}, error) {
	return PageChecksum{
		Offset: t.offset,
		Length: len(t.page),
		CRC32C: crc32.Checksum(t.page, crc32cTable),
	}, nil
}

// computePageChecksumsParallel fans CRC32C computation for each page out
// across a workers.Pool, then sorts results back into offset order since
// ExecuteAll preserves input order but workerCount 0 lets Pool pick a
// runtime.NumCPU() default.
func computePageChecksumsParallel(data []byte, baseOffset int64, workerCount int) []PageChecksum {
	var tasks []workers.Task
	for off := 0; off < len(data); off += pgReadPageSize {
		end := off + pgReadPageSize
		if end > len(data) {
			end = len(data)
		}
		tasks = append(tasks, &pageChecksumTask{offset: baseOffset + int64(off), page: data[off:end]})
	}
	if len(tasks) == 0 {
		return nil
	}

	pool := workers.NewPool(workers.Config{WorkerCount: workerCount})
	if err := pool.Start(); err != nil {
		return computePageChecksumsSequential(data, baseOffset)
	}
	defer pool.Shutdown()

	results, err := pool.ExecuteAll(context.Background(), tasks)
	if err != nil {
		return computePageChecksumsSequential(data, baseOffset)
	}

	pages := make([]PageChecksum, 0, len(results))
	for _, r := range results {
		if r.Error != nil {
			continue
		}
		pages = append(pages, r.Value.(PageChecksum))
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].Offset < pages[j].Offset })
	return pages
}

// DecodeCRC32C decodes a Digest header's crc32c value, accepting hex (8
// chars) or the legacy base64 form (8 chars with "==" padding), per spec §9's
// Open Question. Hex is tried first and base64 second; the first decoding
// that yields 4 bytes is returned, and an error if neither does.
func DecodeCRC32C(raw string) (uint32, error) {
	if b, err := hex.DecodeString(raw); err == nil && len(b) == 4 {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
	}
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == 4 {
		return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
	}
	return 0, fmt.Errorf("crc32c digest %q is neither valid hex nor base64", raw)
}

// WantDigestHeaderValue maps a checksum algorithm name to the value placed
// in the Want-Digest request header (spec §6), recognizing md5, crc32c,
// sha, sha-256; an unrecognized algorithm falls back to crc32c per spec §9.
func WantDigestHeaderValue(algo string) string {
	switch algo {
	case "md5", "crc32c", "sha", "sha-256":
		return algo
	default:
		return "crc32c"
	}
}

// FormatDigestResult renders a checksum query result as "<algo> <hexvalue>",
// matching the scenario in spec §8 ("md5 4a42da...", "crc32c 0a72a4df").
func FormatDigestResult(algo, hexValue string) string {
	return algo + " " + hexValue
}
