package kafka

import (
	"context"
	"errors"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w)

	err := p.PublishJSON(context.Background(), "my-bucket/file.csv", map[string]any{"bytes": 12}, map[string]string{
		"event_type": "replication.completed",
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, []byte("my-bucket/file.csv"), msg.Key)
	assert.JSONEq(t, `{"bytes":12}`, string(msg.Value))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("replication.completed"), msg.Headers[0].Value)
	assert.False(t, msg.Time.IsZero())

	require.NoError(t, p.Close(context.Background()))
	assert.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	brokerErr := errors.New("leader not available")
	p := NewProducerWithWriter(&fakeWriter{err: brokerErr})
	assert.ErrorIs(t, p.Publish(context.Background(), nil, []byte("x"), nil), brokerErr)

	err := p.PublishJSON(context.Background(), "k", make(chan int), nil)
	assert.ErrorContains(t, err, "marshal payload")
}

func TestCompressionFromString(t *testing.T) {
	assert.Equal(t, kafkago.Gzip, CompressionFromString("GZIP"))
	assert.Equal(t, kafkago.Zstd, CompressionFromString("zstd"))
	assert.Equal(t, kafkago.Lz4, CompressionFromString("lz4"))
	assert.Equal(t, kafkago.Snappy, CompressionFromString("unknown"))
}
