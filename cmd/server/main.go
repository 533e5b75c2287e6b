package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"accord/internal/app"
	audithandler "accord/internal/audit/handler"
	crosswalkhandler "accord/internal/crosswalk/handler"
	mappinghandler "accord/internal/mapping/handler"
	orchestratorhandler "accord/internal/orchestrator/handler"
	"accord/internal/platform/config"
	"accord/internal/platform/httpserver"
	"accord/internal/platform/logger"
	"accord/internal/platform/metrics"
	"accord/internal/platform/tracing"
	scoringhandler "accord/internal/scoring/handler"
	standardshandler "accord/internal/standards/handler"
	httptransport "accord/internal/transport/http"
)

// main wires the services from config, exposes the HTTP router and runs the
// background workers until a signal arrives.
func main() {
	configPath := flag.String("config", os.Getenv("ACCORD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.Server.Environment, log)
	if err != nil {
		return err
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}

	std := standardshandler.New(a.Graph, a.Corpus, log)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:     log,
		Metrics:    metrics.New(),
		AdminToken: cfg.Server.AdminToken,
		Handlers: []httptransport.Registrar{
			std,
			mappinghandler.New(a.Mappings, log),
			scoringhandler.New(a.Scoring, a.Graph, log),
			crosswalkhandler.New(a.Matcher, log),
			audithandler.New(a.Verifier, log),
			orchestratorhandler.New(a.Orchestrator, log),
		},
		Admin:  []httptransport.AdminRegistrar{std},
		Checks: a.HealthChecks(),
	})
	srv := httpserver.New(cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting accord", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return a.RunWorkers(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.Close(shutdownCtx)
		if tErr := shutdownTracing(shutdownCtx); tErr != nil {
			log.Warn("tracing shutdown failed", "error", tErr)
		}
		return err
	})
	return g.Wait()
}
