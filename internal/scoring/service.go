package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"accord/internal/mapping"
	"accord/internal/scoring/metrics"
	"accord/pkg/requestcontext"
)

const (
	cacheTrust = "trust"
	cacheRisk  = "risk"

	DefaultCacheSize = 4096
)

// SlotCounter reports how many evidence items a standard expects.
type SlotCounter interface {
	Slots(ctx context.Context, standardID string) (int, error)
}

// SingleSlot expects one evidence item per standard.
type SingleSlot struct{}

func (SingleSlot) Slots(context.Context, string) (int, error) { return 1, nil }

// MappingReader is the part of mapping.Store the scorer reads.
type MappingReader interface {
	ListActiveByStandard(ctx context.Context, standardID string) ([]mapping.Mapping, error)
}

// Service serves trust scores and risk profiles through caches that are
// invalidated per standard by mapping change events.
type Service struct {
	mappings  MappingReader
	slots     SlotCounter
	trustCfg  TrustConfig
	riskCfg   RiskConfig
	cacheSize int
	trustL2   L2[TrustScore]
	riskL2    L2[RiskProfile]
	logger    *slog.Logger
	metrics   *metrics.Metrics

	trust *Cache[TrustScore]
	risk  *Cache[RiskProfile]
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTrustConfig(cfg TrustConfig) Option {
	return func(s *Service) { s.trustCfg = cfg }
}

func WithRiskConfig(cfg RiskConfig) Option {
	return func(s *Service) { s.riskCfg = cfg }
}

func WithSlotCounter(sc SlotCounter) Option {
	return func(s *Service) {
		if sc != nil {
			s.slots = sc
		}
	}
}

func WithCacheSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.cacheSize = n
		}
	}
}

// WithSharedCache puts the given L2 stores behind the in-process caches.
func WithSharedCache(trust L2[TrustScore], risk L2[RiskProfile]) Option {
	return func(s *Service) {
		s.trustL2 = trust
		s.riskL2 = risk
	}
}

func NewService(mappings MappingReader, opts ...Option) (*Service, error) {
	s := &Service{
		mappings:  mappings,
		slots:     SingleSlot{},
		trustCfg:  DefaultTrustConfig(),
		riskCfg:   DefaultRiskConfig(),
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	var err error
	if s.trust, err = NewCache(cacheTrust, s.cacheSize, s.riskCfg.TTL, s.trustL2, s.logger, s.metrics); err != nil {
		return nil, fmt.Errorf("create trust cache: %w", err)
	}
	if s.risk, err = NewCache(cacheRisk, s.cacheSize, s.riskCfg.TTL, s.riskL2, s.logger, s.metrics); err != nil {
		return nil, fmt.Errorf("create risk cache: %w", err)
	}
	return s, nil
}

// Attach subscribes the service to mapping changes and returns the
// unsubscribe func.
func (s *Service) Attach(n *mapping.Notifier) func() {
	return n.Subscribe(s.OnMappingChange)
}

// OnMappingChange invalidates the derived values of the changed standard only.
func (s *Service) OnMappingChange(ctx context.Context, evt mapping.ChangeEvent) {
	s.Invalidate(ctx, evt.StandardID)
}

// Invalidate drops cached trust and risk for standardID.
func (s *Service) Invalidate(ctx context.Context, standardID string) {
	s.trust.Invalidate(ctx, standardID)
	s.risk.Invalidate(ctx, standardID)
}

// TrustScore returns the cached or freshly computed trust of standardID.
func (s *Service) TrustScore(ctx context.Context, standardID string) (TrustView, error) {
	res, err := s.trust.Get(ctx, standardID, func(ctx context.Context) (TrustScore, error) {
		return s.computeTrust(ctx, standardID)
	})
	if err != nil {
		return TrustView{}, err
	}
	return TrustView{TrustScore: res.Value, CachedAt: res.CachedAt, Stale: res.Stale}, nil
}

// RiskProfile returns the cached or freshly computed risk of standardID.
func (s *Service) RiskProfile(ctx context.Context, standardID string) (RiskView, error) {
	res, err := s.risk.Get(ctx, standardID, func(ctx context.Context) (RiskProfile, error) {
		return s.computeRisk(ctx, standardID)
	})
	if err != nil {
		return RiskView{}, err
	}
	return RiskView{RiskProfile: res.Value, CachedAt: res.CachedAt, Stale: res.Stale}, nil
}

func (s *Service) computeTrust(ctx context.Context, standardID string) (TrustScore, error) {
	active, err := s.mappings.ListActiveByStandard(ctx, standardID)
	if err != nil {
		return TrustScore{}, fmt.Errorf("list active mappings for %s: %w", standardID, err)
	}
	now := requestcontext.Now(ctx)
	score := ComputeTrust(standardID, active, s.trustCfg.AsOf(now), s.trustCfg)
	score.ComputedAt = now
	return score, nil
}

func (s *Service) computeRisk(ctx context.Context, standardID string) (RiskProfile, error) {
	trust, err := s.TrustScore(ctx, standardID)
	if err != nil {
		return RiskProfile{}, err
	}
	slots, err := s.slots.Slots(ctx, standardID)
	if err != nil {
		return RiskProfile{}, fmt.Errorf("count evidence slots for %s: %w", standardID, err)
	}
	profile := ComputeRisk(trust.TrustScore, slots, requestcontext.Now(ctx), s.riskCfg)
	s.logger.Debug("risk profile computed",
		"standard_id", standardID,
		"tier", profile.Tier,
		"trust", profile.Trust,
		"coverage", profile.Coverage,
	)
	return profile, nil
}

// TTL is how long a cached value is served as fresh.
func (s *Service) TTL() time.Duration { return s.riskCfg.TTL }
