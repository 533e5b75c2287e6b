package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"accord/internal/mapping"
	dErrors "accord/pkg/domain-errors"
	"accord/pkg/platform/sentinel"
	"accord/pkg/requestcontext"
)

// DefaultThreshold is the minimum confidence for a citation to be accepted.
const DefaultThreshold = 0.85

const (
	reasonBelowThreshold = "confidence_below_threshold"
	reasonSuperseded     = "mapping_superseded"
)

// MappingVerifier is the part of mapping.Store the verifier needs.
type MappingVerifier interface {
	FindByID(ctx context.Context, id uuid.UUID) (*mapping.Mapping, error)
	MarkVerified(ctx context.Context, id uuid.UUID) (*mapping.Mapping, error)
}

// Verifier gates narrative citations on their mapping's confidence and
// records every decision in the audit log.
type Verifier struct {
	mappings  MappingVerifier
	store     Store
	publisher *Publisher
	threshold float64
	logger    *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithThreshold(t float64) Option {
	return func(v *Verifier) {
		if t > 0 && t <= 1 {
			v.threshold = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// WithPublisher overrides the default publisher over store.
func WithPublisher(p *Publisher) Option {
	return func(v *Verifier) { v.publisher = p }
}

func NewVerifier(mappings MappingVerifier, store Store, opts ...Option) *Verifier {
	v := &Verifier{
		mappings:  mappings,
		store:     store,
		threshold: DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.publisher == nil {
		v.publisher = NewPublisher(store, WithPublisherLogger(v.logger))
	}
	return v
}

// Threshold is the acceptance threshold in use.
func (v *Verifier) Threshold() float64 { return v.threshold }

// Verify decides whether the citation of mappingID stands. The decision is
// logged before the mapping is marked verified, so a verified mapping always
// has an accept entry. An accepted mapping that is superseded before it can be
// marked gets a compensating reject entry and a rejected outcome.
func (v *Verifier) Verify(ctx context.Context, stage mapping.Stage, mappingID uuid.UUID) (Outcome, error) {
	m, err := v.mappings.FindByID(ctx, mappingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Outcome{}, dErrors.Wrap(err, dErrors.CodeNotFound, "cited mapping does not exist")
		}
		return Outcome{}, fmt.Errorf("load cited mapping: %w", err)
	}

	out := Outcome{
		MappingID:  m.ID,
		Confidence: m.CalibratedConfidence,
		Threshold:  v.threshold,
	}
	switch {
	case !m.Active:
		out.Reason = reasonSuperseded
	case m.CalibratedConfidence < v.threshold:
		out.Reason = reasonBelowThreshold
	default:
		out.Accepted = true
	}

	decision := DecisionReject
	if out.Accepted {
		decision = DecisionAccept
	}
	entry, err := v.publisher.Emit(ctx, Entry{
		ActorStage:           stage,
		MappingID:            m.ID,
		EvidenceID:           m.EvidenceID,
		StandardID:           m.StandardID,
		Decision:             decision,
		ConfidenceAtDecision: m.CalibratedConfidence,
		Threshold:            v.threshold,
		Timestamp:            requestcontext.Now(ctx),
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Entry = entry

	if out.Accepted {
		if _, err := v.mappings.MarkVerified(ctx, m.ID); err != nil {
			if !errors.Is(err, sentinel.ErrInvalidState) && !errors.Is(err, sentinel.ErrConflict) {
				return Outcome{}, fmt.Errorf("mark mapping verified: %w", err)
			}
			// Superseded between the decision and the mark; the accept
			// entry is countered so the log still ends in a reject.
			decision = DecisionReject
			entry, err = v.publisher.Emit(ctx, Entry{
				ActorStage:           stage,
				MappingID:            m.ID,
				EvidenceID:           m.EvidenceID,
				StandardID:           m.StandardID,
				Decision:             DecisionReject,
				ConfidenceAtDecision: m.CalibratedConfidence,
				Threshold:            v.threshold,
				Timestamp:            requestcontext.Now(ctx),
			})
			if err != nil {
				return Outcome{}, err
			}
			out.Accepted = false
			out.Reason = reasonSuperseded
			out.Entry = entry
		}
	}

	v.logger.InfoContext(ctx, "citation verified",
		"mapping_id", m.ID,
		"standard_id", m.StandardID,
		"decision", decision,
		"confidence", m.CalibratedConfidence,
		"threshold", v.threshold,
		"sequence", entry.Sequence,
	)
	return out, nil
}

// History returns the audit entries of every version of mappingID's
// (evidence, standard) pair, ordered by sequence.
func (v *Verifier) History(ctx context.Context, mappingID uuid.UUID) ([]Entry, error) {
	m, err := v.mappings.FindByID(ctx, mappingID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "mapping not found")
		}
		return nil, fmt.Errorf("load mapping: %w", err)
	}
	entries, err := v.store.ListByPair(ctx, m.EvidenceID, m.StandardID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return entries, nil
}

// VerifyLog checks the integrity of the whole audit chain.
func (v *Verifier) VerifyLog(ctx context.Context) error {
	entries, err := v.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list audit log: %w", err)
	}
	if err := VerifyChain(entries); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvariantViolation, "audit log integrity check failed")
	}
	return nil
}
