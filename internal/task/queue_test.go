package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	msg := Message{JobID: "01J", SessionID: "s-1", Kind: KindPlan, Attempt: 2}
	raw, err := msg.encode()
	require.NoError(t, err)

	got, err := decodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// 只含任务 ID 的纯文本消息。
	got, err = decodeMessage([]byte(" 01K \n"))
	require.NoError(t, err)
	assert.Equal(t, Message{JobID: "01K"}, got)

	_, err = decodeMessage([]byte("   "))
	assert.ErrorIs(t, err, errEmptyMessage)
	_, err = decodeMessage([]byte(`{"session_id":"s"}`))
	assert.Error(t, err)
	_, err = decodeMessage([]byte(`{"job_id":`))
	assert.Error(t, err)
}

func TestMessageForNextAttempt(t *testing.T) {
	job := &Job{ID: "j", SessionID: "s", Kind: KindConfirm, Attempts: 1}
	assert.Equal(t, Message{JobID: "j", SessionID: "s", Kind: KindConfirm, Attempt: 2}, messageFor(job))
}

func TestMemoryQueueRedeliversFailedMessages(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, 1, func(_ context.Context, msg Message) error {
			if calls.Add(1) == 1 {
				return errors.New("store unavailable")
			}
			assert.Equal(t, "j", msg.JobID)
			close(done)
			return nil
		})
	}()

	require.NoError(t, q.Publish(ctx, Message{JobID: "j"}))
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(2), calls.Load())
	assert.Zero(t, q.Len())
}

func TestMemoryQueueConsumeReturnsOnClose(t *testing.T) {
	q := NewMemoryQueue(1)
	returned := make(chan error, 1)
	go func() {
		returned <- q.Consume(context.Background(), 3, func(context.Context, Message) error { return nil })
	}()
	require.NoError(t, q.Close())

	select {
	case err := <-returned:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not return after close")
	}
}
