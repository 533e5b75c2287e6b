package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
)

// Store persists versioned mappings. At most one mapping per pair is active
// at any observable instant.
type Store interface {
	// Supersede stores m as the next version for its pair and deactivates the
	// previously active one in the same atomic step.
	Supersede(ctx context.Context, m Mapping) (*Mapping, error)
	// Insert stores m as the active version; it fails with an invariant
	// violation if the pair already has an active mapping.
	Insert(ctx context.Context, m Mapping) (*Mapping, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	ListActiveByEvidence(ctx context.Context, evidenceID string) ([]Mapping, error)
	ListActiveByStandard(ctx context.Context, standardID string) ([]Mapping, error)
	ListActive(ctx context.Context) ([]Mapping, error)
	// History returns every version of a pair, oldest first.
	History(ctx context.Context, evidenceID, standardID string) ([]Mapping, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (*Mapping, error)
}

// NewInvariantViolation reports a second active mapping for pair.
func NewInvariantViolation(pair Pair) error {
	return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeInvariantViolation,
		fmt.Sprintf("active mapping already exists for %s", pair))
}

// StoreOption configures a mapping store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	logger *slog.Logger
}

// WithStoreLogger sets the logger for rejected writes. Defaults to the
// notifier's logger, then slog.Default.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(c *storeConfig) { c.logger = logger }
}

func newStoreConfig(notifier *Notifier, opts []StoreOption) storeConfig {
	var c storeConfig
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil && notifier != nil {
		c.logger = notifier.logger
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// invariantViolation logs the rejected write and returns its error.
func invariantViolation(ctx context.Context, logger *slog.Logger, pair Pair) error {
	logger.WarnContext(ctx, "rejected second active mapping",
		"evidence_id", pair.EvidenceID,
		"standard_id", pair.StandardID,
	)
	return NewInvariantViolation(pair)
}

func validate(m Mapping) error {
	if m.EvidenceID == "" || m.StandardID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "mapping requires evidence_id and standard_id")
	}
	if m.CalibratedConfidence < 0 || m.CalibratedConfidence > 1 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "calibrated confidence %v outside [0,1]", m.CalibratedConfidence)
	}
	return nil
}
