package httpfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOp(cb CompletionCallback) *Operation {
	return NewOperation(context.Background(), VerbOpGet, "https://example.org/x", cb)
}

func TestHandlerQueueProduceConsume(t *testing.T) {
	q := NewHandlerQueue(4)
	op := newTestOp(nil)
	q.Produce(op)
	assert.Equal(t, 1, q.Len())

	got := q.Consume(time.Second)
	require.NotNil(t, got)
	assert.Same(t, op, got)
	assert.Equal(t, 0, q.Len())
}

func TestHandlerQueueTryConsumeEmpty(t *testing.T) {
	q := NewHandlerQueue(4)
	assert.Nil(t, q.TryConsume())
}

func TestHandlerQueueConsumeTimeout(t *testing.T) {
	q := NewHandlerQueue(4)
	start := time.Now()
	got := q.Consume(20 * time.Millisecond)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestHandlerQueueExpire(t *testing.T) {
	q := NewHandlerQueue(4)
	var failed bool
	op := newTestOp(func(delivered []byte, headers *ParsedHeaders, err error) {
		failed = err != nil
	})
	op.OperationDeadline = time.Now().Add(-time.Second)
	q.Produce(op)

	n := q.Expire()
	assert.Equal(t, 1, n)
	assert.True(t, failed)
	assert.Equal(t, 0, q.Len())
}

func TestHandlerQueueShutdownWakesConsume(t *testing.T) {
	q := NewHandlerQueue(4)
	done := make(chan *Operation, 1)
	go func() {
		done <- q.Consume(2 * time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	q.Shutdown()

	select {
	case got := <-done:
		assert.Nil(t, got)
	case <-time.After(time.Second):
		t.Fatal("Consume did not wake up after Shutdown")
	}
}

func TestHandlerQueueProduceAfterShutdownFails(t *testing.T) {
	q := NewHandlerQueue(4)
	q.Shutdown()

	var gotErr error
	op := newTestOp(func(delivered []byte, headers *ParsedHeaders, err error) {
		gotErr = err
	})
	q.Produce(op)
	assert.Error(t, gotErr)
}
