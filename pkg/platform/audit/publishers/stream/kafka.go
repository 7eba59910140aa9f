// Package stream writes audit events to a Kafka topic.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "emrvault/pkg/platform/audit"
)

// Producer is the slice of the Kafka client the sink needs.
type Producer interface {
	Produce(ctx context.Context, recs ...*kgo.Record) error
}

// Sink produces one record per event, keyed by subject so a subject's
// history stays ordered within a partition.
type Sink struct {
	producer Producer
	topic    string
}

func NewSink(producer Producer, topic string) *Sink {
	return &Sink{producer: producer, topic: topic}
}

func (s *Sink) Write(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	recs := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		rec, err := s.record(e)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	if err := s.producer.Produce(ctx, recs...); err != nil {
		return fmt.Errorf("produce %d audit events: %w", len(recs), err)
	}
	return nil
}

func (s *Sink) record(e audit.Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event %s: %w", e.ID, err)
	}
	return &kgo.Record{
		Topic: s.topic,
		Key:   []byte(e.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_id", Value: []byte(e.ID.String())},
			{Key: "category", Value: []byte(e.Category)},
		},
		Timestamp: e.Timestamp,
	}, nil
}
