package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"accord/internal/platform/config"
)

// Client is the shared producer. It satisfies the mapping forwarder and
// the audit sink producer interfaces.
type Client struct {
	*kgo.Client
	cfg    config.Kafka
	logger *slog.Logger
}

// New connects to the brokers. Returns nil, nil when none are configured so
// event forwarding stays off.
func New(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (*Client, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	if err := cl.Ping(ctx); err != nil {
		cl.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	return &Client{Client: cl, cfg: cfg, logger: logger}, nil
}

// EnsureTopics creates the change and audit topics. Existing topics are
// left as they are.
func (c *Client) EnsureTopics(ctx context.Context) error {
	adm := kadm.NewClient(c.Client)
	resp, err := adm.CreateTopics(ctx, c.cfg.Partitions, c.cfg.Replicas, nil, c.cfg.ChangeTopic, c.cfg.AuditTopic)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	var errs []error
	for _, r := range resp.Sorted() {
		switch {
		case r.Err == nil:
			c.logger.InfoContext(ctx, "kafka topic created", "topic", r.Topic)
		case errors.Is(r.Err, kerr.TopicAlreadyExists):
		default:
			errs = append(errs, fmt.Errorf("topic %s: %w", r.Topic, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Health pings the brokers.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx)
}

// Close flushes buffered records before closing.
func (c *Client) Close(ctx context.Context) {
	if err := c.Flush(ctx); err != nil {
		c.logger.WarnContext(ctx, "kafka flush failed", "error", err)
	}
	c.Client.Close()
}
