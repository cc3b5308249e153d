package httpfs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanVectorReadEmpty(t *testing.T) {
	info, ok := PlanVectorRead(nil)
	require.True(t, ok)
	assert.Equal(t, int64(0), info.Size)
	assert.Empty(t, info.Results)
}

func TestPlanVectorReadNonEmpty(t *testing.T) {
	_, ok := PlanVectorRead([]ChunkRequest{{Offset: 0, Length: 10}})
	assert.False(t, ok)
}

func TestParseSinglePartRange(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Content-Range: bytes 10-19/100"))

	result, err := ParseSinglePartRange(h, ChunkRequest{Offset: 10, Length: 10}, []byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Offset)
	assert.Equal(t, []byte("0123456789"), result.Data)
}

func TestParseSinglePartRangeMissingContentRange(t *testing.T) {
	h := NewParsedHeaders()
	_, err := ParseSinglePartRange(h, ChunkRequest{Offset: 0, Length: 10}, []byte("x"))
	assert.Error(t, err)
}

func TestParseSinglePartRangeOffsetMismatch(t *testing.T) {
	h := NewParsedHeaders()
	require.NoError(t, h.ParseHeaderLine("Content-Range: bytes 50-59/100"))
	_, err := ParseSinglePartRange(h, ChunkRequest{Offset: 10, Length: 10}, []byte("0123456789"))
	assert.Error(t, err)
}

func TestParseMultipartByteranges(t *testing.T) {
	body := strings.Join([]string{
		"--BOUNDARY",
		"Content-Range: bytes 0-4/100",
		"",
		"hello",
		"--BOUNDARY",
		"Content-Range: bytes 10-14/100",
		"",
		"world",
		"--BOUNDARY--",
		"",
	}, "\r\n")

	requested := []ChunkRequest{
		{Offset: 0, Length: 5},
		{Offset: 10, Length: 5},
	}

	results, err := ParseMultipartByteranges([]byte(body), "BOUNDARY", requested)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(0), results[0].Offset)
	assert.Equal(t, []byte("hello"), results[0].Data)
	assert.Equal(t, int64(10), results[1].Offset)
	assert.Equal(t, []byte("world"), results[1].Data)
}

func TestMaxMinInt64(t *testing.T) {
	assert.Equal(t, int64(5), maxInt64(5, 3))
	assert.Equal(t, int64(3), minInt64(5, 3))
}
