package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestConsumerCommitsOnlyHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeReader{
		messages: []kafka.Message{
			{Offset: 1, Value: []byte("ok")},
			{Offset: 2, Value: []byte("fail")},
			{Offset: 3, Value: []byte("ok")},
		},
		cancel: cancel,
	}
	c := NewConsumerFromReader(r, "test", func(_ context.Context, _ []byte, value []byte) error {
		if string(value) == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []int64{1, 3}, r.committed)
	assert.True(t, r.closed)
}

type fakeWriter struct {
	messages []kafka.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerFromWriter(w, "test")
	require.NoError(t, p.Publish(context.Background(),
		Event{Key: "7", Value: map[string]int{"shard_id": 3}},
	))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "7", string(w.messages[0].Key))
	assert.JSONEq(t, `{"shard_id":3}`, string(w.messages[0].Value))

	decoded, err := DecodeJSON[map[string]int](w.messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, 3, decoded["shard_id"])
}
