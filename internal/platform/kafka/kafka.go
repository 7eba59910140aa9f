// Package kafka holds the franz-go client used to mirror activity entries
// off-box.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"emrvault/internal/platform/config"
)

// Client produces to a single default topic.
type Client struct {
	cl    *kgo.Client
	topic string
}

// New dials the brokers. Returns nil if no brokers are configured.
func New(cfg config.KafkaConfig) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Client{cl: cl, topic: cfg.Topic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (c *Client) EnsureTopic(ctx context.Context, partitions int32, replicas int16) error {
	resp, err := kadm.NewClient(c.cl).CreateTopics(ctx, partitions, replicas, nil, c.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", c.topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

// Produce writes the records synchronously and reports the first failure.
func (c *Client) Produce(ctx context.Context, recs ...*kgo.Record) error {
	return c.cl.ProduceSync(ctx, recs...).FirstErr()
}

func (c *Client) Topic() string { return c.topic }

func (c *Client) Health(ctx context.Context) error {
	return c.cl.Ping(ctx)
}

func (c *Client) Close() {
	c.cl.Close()
}
