package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/quotekeeper/internal/catalog"
	"github.com/ahmethakanbesel/quotekeeper/internal/config"
	"github.com/ahmethakanbesel/quotekeeper/internal/extract"
	"github.com/ahmethakanbesel/quotekeeper/internal/fetch"
	"github.com/ahmethakanbesel/quotekeeper/internal/job"
	"github.com/ahmethakanbesel/quotekeeper/internal/platform/logging"
	"github.com/ahmethakanbesel/quotekeeper/internal/platform/metrics"
	"github.com/ahmethakanbesel/quotekeeper/internal/platform/sqlite"
	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
	quoterepo "github.com/ahmethakanbesel/quotekeeper/internal/repository/quote"
	runrepo "github.com/ahmethakanbesel/quotekeeper/internal/repository/run"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper"
	"github.com/ahmethakanbesel/quotekeeper/internal/scraper/yahoo"
	"github.com/ahmethakanbesel/quotekeeper/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	loc, _ := cfg.Location() // validated by Load

	// Root context: cancelled on SIGINT/SIGTERM so in-flight resolution and
	// catch-up stop promptly during graceful shutdown.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	overrides, err := loadOverrides(cfg.RulesFile)
	if err != nil {
		slog.Error("failed to load rules file", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}

	// Repositories
	quoteRepo := quoterepo.NewRepository(db.DB)
	runRepo := runrepo.NewRepository(db.DB)

	m := metrics.New()

	// The registry is filled after the service exists because the computed
	// futures source reads spot values back through it.
	registry := scraper.NewRegistry()
	quoteSvc := quote.NewService(quoteRepo, registry, catalog.Instruments(), quote.WithLocation(loc))

	httpFetcher := fetch.New(
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithMaxBodyBytes(cfg.Fetch.MaxBodyBytes),
		fetch.WithHostRate(cfg.Fetch.RatePerHost, cfg.Fetch.Burst),
	)
	var fetcher fetch.Fetcher = httpFetcher
	if cfg.Fetch.Browser {
		fetcher = fetch.WithBlockFallback(httpFetcher, fetch.NewBrowser(fetch.WithBrowserTimeout(2*cfg.Fetch.Timeout)))
	}

	jar, _ := cookiejar.New(nil)
	yahooFetcher := fetch.New(
		fetch.WithClient(&http.Client{Jar: jar}),
		fetch.WithTimeout(cfg.Fetch.Timeout),
		fetch.WithHostRate(cfg.Fetch.RatePerHost, cfg.Fetch.Burst),
	)

	catalog.Register(registry, catalog.Deps{
		Fetcher:        fetcher,
		Yahoo:          yahoo.New(yahoo.WithFetcher(yahooFetcher)),
		Spot:           quoteSvc,
		FuturesPremium: cfg.FuturesPremium,
		Match: extract.MatchConfig{
			Tolerance:      cfg.Match.Tolerance,
			MaxChangeRatio: cfg.Match.MaxChangeRatio,
			WindowSize:     extract.DefaultMatchConfig().WindowSize,
			Windows:        extract.DefaultMatchConfig().Windows,
		},
		Overrides: overrides,
		Observer:  m,
	})

	jobSvc := job.NewService(runRepo)
	if err := jobSvc.RecoverStaleRuns(rootCtx); err != nil {
		slog.Error("failed to recover stale runs", "error", err)
	}

	sched, err := job.NewScheduler(loc, catalog.Jobs(cfg.Scheduler, quoteSvc),
		job.WithRunRepository(runRepo),
		job.WithRecordChecker(quoteSvc),
		job.WithObserver(m),
		job.WithCatchUpDelay(cfg.Scheduler.CatchUpDelay),
		job.WithJobTimeout(cfg.Scheduler.JobTimeout),
	)
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}

	catchUpDone := make(chan struct{})
	if cfg.Scheduler.Enabled {
		if err := sched.Start(rootCtx); err != nil {
			slog.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
		if cfg.Scheduler.CatchUp {
			go func() {
				defer close(catchUpDone)
				if _, err := sched.CatchUp(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
					slog.Error("catch-up failed", "error", err)
				}
			}()
		} else {
			close(catchUpDone)
		}
	} else {
		slog.Info("scheduler disabled")
		close(catchUpDone)
	}

	srv := server.New(rootCtx, cfg.Port, server.Services{
		Quotes:    quoteSvc,
		Scheduler: sched,
		Runs:      jobSvc,
		Metrics:   m.Handler(),
	})

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started", "port", cfg.Port, "timezone", loc.String())
	<-done

	rootCancel()
	sched.Stop()
	<-catchUpDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

func loadOverrides(path string) (map[string]extract.Cascade, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return extract.LoadCascades(f)
}
