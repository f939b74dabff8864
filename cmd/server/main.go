package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"legal_kb/internal/api"
	"legal_kb/internal/bot"
	"legal_kb/internal/config"
	"legal_kb/internal/contextcache"
	"legal_kb/internal/scheduler"
	"legal_kb/internal/source"
	"legal_kb/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	slog.SetDefault(log)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()
	store.SetRefreshInterval(cfg.RefreshInterval)
	store.SetLogger(log)

	srcs, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		log.Error("load sources", "path", cfg.SourcesFile, "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.FetchTimeout}
	registry, err := source.NewRegistry(srcs.Sources, source.DefaultDrivers(client), log)
	if err != nil {
		log.Error("create source registry", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(store, registry, srcs.Sources, scheduler.Config{
		Tick:            cfg.SchedulerTick,
		StartupDelay:    cfg.StartupDelay,
		FetchTimeout:    cfg.FetchTimeout,
		PolitenessDelay: cfg.PolitenessDelay,
		FetchRetries:    cfg.FetchRetries,
	}, log)

	cache := contextcache.New(store, contextcache.Config{
		TTL:            cfg.CacheTTL,
		MaxEntries:     cfg.CacheMaxEntries,
		SweepInterval:  cfg.CacheSweepInterval,
		PrewarmDelay:   cfg.PrewarmDelay,
		PrewarmSpacing: cfg.PrewarmSpacing,
	}, log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { sched.Run(ctx) })
	wg.Go(func() { cache.Run(ctx) })
	wg.Go(func() {
		n := cache.Prewarm(ctx, prewarmRequests(srcs.PrewarmQueries))
		log.Info("cache prewarmed", "entries", n)
	})

	if cfg.BotEnabled() {
		b, err := bot.New(cfg.TelegramBotToken, store, cache, sched, cfg, log)
		if err != nil {
			log.Error("create bot", "error", err)
			os.Exit(1)
		}
		log.Info("starting telegram console")
		wg.Go(func() { b.Run(ctx) })
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(api.NewHandler(ctx, store, cache, sched, log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", "error", err)
		}
	}()

	log.Info("starting http server", "addr", cfg.HTTPAddr, "sources", len(srcs.Sources))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server", "error", err)
		cancel()
	}

	wg.Wait()
	log.Info("server stopped")
}

func prewarmRequests(queries []config.PrewarmQuery) []contextcache.Request {
	reqs := make([]contextcache.Request, 0, len(queries))
	for _, q := range queries {
		reqs = append(reqs, contextcache.Request{Query: q.Query, Category: q.Category, Language: q.Language})
	}
	return reqs
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
