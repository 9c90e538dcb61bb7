package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/your-org/replicator/internal/replication"
)

// EventProducer publishes JSON payloads; *kafka.Producer satisfies it.
type EventProducer interface {
	PublishJSON(ctx context.Context, key string, payload any, headers map[string]string) error
}

// Publisher announces completed replications on Kafka.
type Publisher struct {
	producer EventProducer
}

var _ replication.Recorder = (*Publisher)(nil)

// NewPublisher constructs a Publisher.
func NewPublisher(p EventProducer) *Publisher {
	return &Publisher{producer: p}
}

func (p *Publisher) Name() string {
	return "kafka"
}

// Record publishes a replication event keyed by the destination path, so
// events for one object stay ordered on one partition.
func (p *Publisher) Record(ctx context.Context, res replication.Result) error {
	if res.Status == replication.StatusFailed {
		return nil
	}

	id := uuid.NewString()
	headers := map[string]string{
		"event_id":   id,
		"event_type": replication.EventType,
	}
	key := replication.DestinationPath(res.Request.SourceContainer, res.Request.ObjectKey)
	if err := p.producer.PublishJSON(ctx, key, replication.NewEvent(id, res), headers); err != nil {
		return fmt.Errorf("publish replication event: %w", err)
	}
	return nil
}

// Multi hands every result to each of its recorders.
type Multi []replication.Recorder

var _ replication.Recorder = Multi(nil)

// Record calls every recorder, even after a failure, and joins the errors.
func (m Multi) Record(ctx context.Context, res replication.Result) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, res); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nameOf(r), err))
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Name() string {
	names := make([]string, 0, len(m))
	for _, r := range m {
		names = append(names, nameOf(r))
	}
	return strings.Join(names, "+")
}

func nameOf(r replication.Recorder) string {
	if n, ok := r.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}
