package audit

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher records verifier decisions. Persistence is synchronous and
// fail-closed: if the entry cannot be stored the caller must not proceed.
// Stored entries are then offered to an optional forwarding queue.
type Publisher struct {
	store   Store
	forward chan<- Entry
	logger  *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithForwardQueue hands every stored entry to queue without blocking.
func WithForwardQueue(queue chan<- Entry) PublisherOption {
	return func(p *Publisher) { p.forward = queue }
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = logger }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit appends e to the log and returns the sealed entry.
func (p *Publisher) Emit(ctx context.Context, e Entry) (Entry, error) {
	if e.Decision != DecisionAccept && e.Decision != DecisionReject {
		return Entry{}, fmt.Errorf("audit entry requires a decision, got %q", e.Decision)
	}
	sealed, err := p.store.Append(ctx, e)
	if err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"mapping_id", e.MappingID,
			"decision", e.Decision,
			"error", err,
		)
		return Entry{}, fmt.Errorf("audit persistence failed: %w", err)
	}
	if p.forward != nil {
		select {
		case p.forward <- sealed:
		default:
			p.logger.Warn("audit forward queue full, entry not forwarded", "sequence", sealed.Sequence)
		}
	}
	return sealed, nil
}
