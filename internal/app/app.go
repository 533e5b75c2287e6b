// Package app assembles the services from configuration. The HTTP server
// and the CLI share it so both run the same pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"accord/internal/audit"
	"accord/internal/crosswalk"
	"accord/internal/mapping"
	"accord/internal/orchestrator"
	orchmetrics "accord/internal/orchestrator/metrics"
	"accord/internal/platform/config"
	"accord/internal/platform/kafka"
	"accord/internal/platform/postgres"
	redisclient "accord/internal/platform/redis"
	"accord/internal/retrieval"
	retrievalmetrics "accord/internal/retrieval/metrics"
	"accord/internal/scoring"
	scoringmetrics "accord/internal/scoring/metrics"
	"accord/internal/standards"
	httptransport "accord/internal/transport/http"
)

const auditQueueSize = 1024

// App holds the wired services.
type App struct {
	Config       config.Config
	Logger       *slog.Logger
	Graph        *standards.Graph
	Corpus       standards.CorpusSource
	Notifier     *mapping.Notifier
	Mappings     mapping.Store
	AuditLog     audit.Store
	Scoring      *scoring.Service
	Verifier     *audit.Verifier
	Matcher      *crosswalk.Matcher
	Orchestrator *orchestrator.Orchestrator

	postgres *postgres.Conn
	redis    *redisclient.Client
	kafka    *kafka.Client
	worker   *audit.Worker
}

type options struct {
	corpus  standards.CorpusSource
	scorer  retrieval.Scorer
	metrics bool
}

// Option configures Build.
type Option func(*options)

// WithCorpus overrides the corpus source; the default reads Corpus.Path.
func WithCorpus(src standards.CorpusSource) Option {
	return func(o *options) { o.corpus = src }
}

// WithScorer replaces the lexical reranking scorer.
func WithScorer(s retrieval.Scorer) Option {
	return func(o *options) { o.scorer = s }
}

// WithoutMetrics skips Prometheus registration, for tests building more
// than one App per process.
func WithoutMetrics() Option {
	return func(o *options) { o.metrics = false }
}

// Build connects the optional infrastructure, wires every service and loads
// the corpus. Postgres, Redis and Kafka are used only when configured.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{metrics: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.corpus == nil && cfg.Corpus.Path != "" {
		o.corpus = standards.FileSource{Path: cfg.Corpus.Path}
	}
	if o.scorer == nil {
		o.scorer = retrieval.NewBlendScorer()
	}

	var (
		rm *retrievalmetrics.Metrics
		sm *scoringmetrics.Metrics
		om *orchmetrics.Metrics
	)
	if o.metrics {
		rm, sm, om = retrievalmetrics.New(), scoringmetrics.New(), orchmetrics.New()
	}

	a := &App{Config: cfg, Logger: logger, Corpus: o.corpus}
	ok := false
	defer func() {
		if !ok {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.Graph = standards.NewGraph(standards.WithLogger(logger))
	a.Notifier = mapping.NewNotifier(logger)

	retriever := retrieval.NewRetriever(
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithRetrieverLogger(logger),
		retrieval.WithRetrieverMetrics(rm),
	)
	rerankOpts := []retrieval.RerankerOption{retrieval.WithRerankerMetrics(rm)}
	if cfg.Retrieval.ScorerRateLimit > 0 {
		rerankOpts = append(rerankOpts, retrieval.WithRateLimit(cfg.Retrieval.ScorerRateLimit, cfg.Retrieval.ScorerBurst))
	}
	reranker := retrieval.NewReranker(o.scorer, rerankOpts...)
	calibrator := retrieval.NewCalibrator(
		retrieval.WithCurve(cfg.Retrieval.Steepness, cfg.Retrieval.Midpoint),
		retrieval.WithMappingFloor(cfg.Retrieval.MappingFloor),
		retrieval.WithCalibratorMetrics(rm),
	)

	a.Matcher = crosswalk.New(a.Graph, retriever, reranker, calibrator,
		crosswalk.WithThreshold(cfg.Crosswalk.Threshold),
		crosswalk.WithCacheTTL(cfg.Crosswalk.CacheTTL),
		crosswalk.WithWorkers(cfg.Pipeline.Workers),
		crosswalk.WithLogger(logger),
	)
	a.Graph.OnReload(retriever.Prime)
	a.Graph.OnReload(a.Matcher.Flush)

	if err := a.connectStores(ctx); err != nil {
		return nil, err
	}

	scoringOpts := []scoring.Option{
		scoring.WithLogger(logger),
		scoring.WithMetrics(sm),
		scoring.WithCacheSize(cfg.Scoring.CacheSize),
		scoring.WithTrustConfig(trustConfig(cfg.Scoring)),
		scoring.WithRiskConfig(riskConfig(cfg)),
	}
	if a.redis != nil {
		scoringOpts = append(scoringOpts, scoring.WithSharedCache(
			scoring.NewRedisStore[scoring.TrustScore](a.redis.Client, "trust"),
			scoring.NewRedisStore[scoring.RiskProfile](a.redis.Client, "risk"),
		))
	}
	svc, err := scoring.NewService(a.Mappings, scoringOpts...)
	if err != nil {
		return nil, fmt.Errorf("build scoring service: %w", err)
	}
	a.Scoring = svc
	a.Scoring.Attach(a.Notifier)

	publisherOpts := []audit.PublisherOption{audit.WithPublisherLogger(logger)}
	if err := a.connectKafka(ctx, &publisherOpts); err != nil {
		return nil, err
	}
	a.Verifier = audit.NewVerifier(a.Mappings, a.AuditLog,
		audit.WithThreshold(cfg.Verifier.Threshold),
		audit.WithLogger(logger),
		audit.WithPublisher(audit.NewPublisher(a.AuditLog, publisherOpts...)),
	)

	a.Orchestrator = orchestrator.New(orchestrator.Deps{
		Graph:      a.Graph,
		Retriever:  retriever,
		Reranker:   reranker,
		Calibrator: calibrator,
		Mappings:   a.Mappings,
		Risk:       a.Scoring,
		Verifier:   a.Verifier,
	},
		orchestrator.WithWorkers(cfg.Pipeline.Workers),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(om),
	)

	if a.Corpus != nil {
		if _, err := a.Graph.Load(ctx, a.Corpus); err != nil {
			return nil, fmt.Errorf("load standards corpus: %w", err)
		}
	}
	ok = true
	return a, nil
}

func (a *App) connectStores(ctx context.Context) error {
	conn, err := postgres.Open(ctx, a.Config.Postgres)
	if err != nil {
		return err
	}
	if conn != nil {
		a.postgres = conn
		a.Mappings = mapping.NewPostgresStore(conn.Pool, a.Notifier)
		a.AuditLog = audit.NewPostgresStore(conn.DB)
		a.Logger.InfoContext(ctx, "using postgres stores")
	} else {
		a.Mappings = mapping.NewInMemoryStore(a.Notifier)
		a.AuditLog = audit.NewInMemoryStore()
		a.Logger.InfoContext(ctx, "using in-memory stores")
	}

	rc, err := redisclient.New(ctx, a.Config.Redis)
	if err != nil {
		return err
	}
	a.redis = rc
	return nil
}

func (a *App) connectKafka(ctx context.Context, publisherOpts *[]audit.PublisherOption) error {
	kc, err := kafka.New(ctx, a.Config.Kafka, a.Logger)
	if err != nil {
		return err
	}
	if kc == nil {
		return nil
	}
	a.kafka = kc
	if err := kc.EnsureTopics(ctx); err != nil {
		return err
	}
	mapping.NewKafkaForwarder(kc, a.Config.Kafka.ChangeTopic, a.Logger).Attach(a.Notifier)

	queue := make(chan audit.Entry, auditQueueSize)
	*publisherOpts = append(*publisherOpts, audit.WithForwardQueue(queue))
	a.worker = audit.NewWorker(audit.NewKafkaSink(kc, a.Config.Kafka.AuditTopic), queue, a.Logger)
	return nil
}

// RunWorkers blocks running background workers until ctx ends.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HealthChecks lists the readiness probes of the configured dependencies.
func (a *App) HealthChecks() map[string]httptransport.HealthCheck {
	checks := map[string]httptransport.HealthCheck{
		"standards": func(context.Context) error {
			_, err := a.Graph.Snapshot()
			return err
		},
	}
	if a.postgres != nil {
		checks["postgres"] = a.postgres.Health
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Health
	}
	return checks
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.kafka != nil {
		a.kafka.Close(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
}

func trustConfig(c config.Scoring) scoring.TrustConfig {
	t := scoring.DefaultTrustConfig()
	if c.CycleLength > 0 {
		t.CycleLength = c.CycleLength
	}
	if c.AsOfGranularity > 0 {
		t.AsOfGranularity = c.AsOfGranularity
	}
	return t
}

func riskConfig(c config.Config) scoring.RiskConfig {
	r := scoring.DefaultRiskConfig()
	r.MappingFloor = c.Retrieval.MappingFloor
	if c.Scoring.RiskTTL > 0 {
		r.TTL = c.Scoring.RiskTTL
	}
	return r
}
