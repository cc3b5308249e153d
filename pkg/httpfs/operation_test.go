package httpfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerbString(t *testing.T) {
	assert.Equal(t, "GET", VerbOpGet.String())
	assert.Equal(t, "PUT", VerbOpPut.String())
	assert.Equal(t, "PROPFIND", VerbOpPropfind.String())
	assert.Equal(t, "UNKNOWN", Verb(999).String())
}

func TestOperationSuccessInvokesCallbackOnce(t *testing.T) {
	calls := 0
	var gotErr error
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", func(delivered []byte, headers *ParsedHeaders, err error) {
		calls++
		gotErr = err
	})

	op.Success([]byte("hello"))
	op.Success([]byte("ignored"))

	assert.Equal(t, 1, calls)
	assert.NoError(t, gotErr)
	assert.Equal(t, StateDoneSuccess, op.State())
}

func TestOperationFailInvokesCallbackOnce(t *testing.T) {
	calls := 0
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", func(delivered []byte, headers *ParsedHeaders, err error) {
		calls++
	})

	op.Fail(NewError(KindNotFound, "GET", op.URL, "missing", nil))
	op.Fail(NewError(KindNotFound, "GET", op.URL, "missing again", nil))

	assert.Equal(t, 1, calls)
	assert.True(t, op.HasFailed())
	assert.Equal(t, StateDoneFail, op.State())
}

func TestOperationFailFallsBackToDefaultCallback(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpPut, "https://example.org/x", nil)
	var gotErr error
	op.SetDefaultCallback(func(delivered []byte, headers *ParsedHeaders, err error) {
		gotErr = err
	})

	op.Fail(NewError(KindServerError, "PUT", op.URL, "boom", nil))
	assert.Error(t, gotErr)
}

func TestOperationPauseThenContinue(t *testing.T) {
	var paused bool
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", func(delivered []byte, headers *ParsedHeaders, err error) {
		paused = true
	})
	op.Pause([]byte("partial"))
	assert.True(t, paused)
	assert.Equal(t, StatePaused, op.State())

	ok := op.ContinueHandle([]byte("more"))
	assert.True(t, ok)
	assert.Equal(t, StateInFlight, op.State())
}

func TestOperationContinueHandleAfterTerminalFails(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	op.Success(nil)
	assert.False(t, op.ContinueHandle([]byte("x")))
}

func TestOperationMarkCalloutTried(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	assert.False(t, op.MarkCalloutTried())
	assert.True(t, op.MarkCalloutTried())
}

func TestOperationCheckTimeoutsHeaderDeadline(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	op.HeaderDeadline = time.Now().Add(-time.Second)
	kind := op.CheckTimeouts(time.Now(), 0)
	assert.Equal(t, KindTimerExpired, kind)
}

func TestOperationCheckTimeoutsOperationDeadline(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	op.MarkHeaderReceived()
	op.OperationDeadline = time.Now().Add(-time.Second)
	kind := op.CheckTimeouts(time.Now(), 0)
	assert.Equal(t, KindOperationExpired, kind)
}

func TestOperationCheckTimeoutsNoneWhenHealthy(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	op.HeaderDeadline = time.Now().Add(time.Minute)
	op.OperationDeadline = time.Now().Add(time.Minute)
	kind := op.CheckTimeouts(time.Now(), 0)
	assert.Equal(t, KindNone, kind)
}

func TestOperationRecordBytesUpdatesStallDeadline(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	before := op.StallDeadline
	op.RecordBytes(1024, 30*time.Second)
	require.True(t, op.StallDeadline.After(before))
	assert.Equal(t, int64(1024), op.Stats.BytesMoved)
}

func TestOperationRecordBytesRateEMA(t *testing.T) {
	op := NewOperation(context.Background(), VerbOpGet, "https://example.org/x", nil)
	op.RecordBytes(1000, 30*time.Second)
	time.Sleep(5 * time.Millisecond)
	op.RecordBytes(1000, 30*time.Second)
	assert.Greater(t, op.Stats.RateEMA, 0.0)
}
