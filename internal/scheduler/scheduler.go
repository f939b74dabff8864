// Package scheduler keeps every registered source fresh in the item store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"legal_kb/internal/model"
	"legal_kb/internal/source"
	"legal_kb/internal/storage"
)

var (
	// ErrRunInProgress is returned by a manual trigger while another run
	// holds the scheduler.
	ErrRunInProgress = errors.New("refresh already in progress")
	// ErrUnknownSource is returned when a trigger names an unregistered source.
	ErrUnknownSource = errors.New("unknown source")
	// ErrFetchTimeout marks a fetch abandoned after Config.FetchTimeout.
	ErrFetchTimeout = errors.New("fetch timed out")
)

// Fetcher returns the current items of a source.
type Fetcher interface {
	Fetch(ctx context.Context, sourceID string) ([]model.Item, error)
}

// Config tunes the refresh loop.
type Config struct {
	Tick            time.Duration
	StartupDelay    time.Duration
	FetchTimeout    time.Duration
	PolitenessDelay time.Duration
	FetchRetries    int
	RetryBase       time.Duration
	Now             func() time.Time
}

func (c Config) defaults() Config {
	if c.Tick <= 0 {
		c.Tick = 6 * time.Hour
	}
	if c.StartupDelay < 0 {
		c.StartupDelay = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 8 * time.Second
	}
	if c.FetchRetries < 0 {
		c.FetchRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SourceResult is the outcome of one source within a run.
type SourceResult struct {
	Source   string          `json:"source"`
	Skipped  bool            `json:"skipped,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Count    int             `json:"count"`
	Attempts int             `json:"attempts,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	RunID      string         `json:"run_id"`
	Overlapped bool           `json:"overlapped,omitempty"`
	Forced     bool           `json:"forced,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Results    []SourceResult `json:"results"`
}

// Count returns how many results have the given status.
func (r Report) Count(status model.RunStatus) int {
	n := 0
	for _, res := range r.Results {
		if !res.Skipped && res.Status == status {
			n++
		}
	}
	return n
}

// Scheduler refreshes stale sources one after another in registration order.
type Scheduler struct {
	store   storage.Storage
	fetcher Fetcher
	sources []model.SourceConfig
	cfg     Config
	limiter *rate.Limiter
	running atomic.Bool
	log     *slog.Logger
}

// New creates a Scheduler over sources, processed in the given order.
func New(store storage.Storage, fetcher Fetcher, sources []model.SourceConfig, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.defaults()
	limit := rate.Inf
	if cfg.PolitenessDelay > 0 {
		limit = rate.Every(cfg.PolitenessDelay)
	}
	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		sources: sources,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Sources returns the registered source ids in processing order.
func (s *Scheduler) Sources() []string {
	ids := make([]string, len(s.sources))
	for i, src := range s.sources {
		ids[i] = src.ID
	}
	return ids
}

// Running reports whether a run currently holds the scheduler.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Run checks source freshness at startup, performs the first run after
// Config.StartupDelay and then one run per Config.Tick until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logStartupState(ctx)

	if s.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.StartupDelay):
		}
	}
	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) logStartupState(ctx context.Context) {
	stale := 0
	for _, src := range s.sources {
		needs, err := s.store.NeedsUpdate(ctx, src.ID)
		if err != nil {
			s.log.Error("startup freshness check", "source", src.ID, "error", err)
			continue
		}
		if needs {
			stale++
		}
	}
	s.log.Info("scheduler started", "sources", len(s.sources), "stale", stale,
		"tick", s.cfg.Tick, "startup_delay", s.cfg.StartupDelay)
}

// Tick refreshes every stale source. A tick that fires while another run is
// in progress is skipped and reported as overlapped.
func (s *Scheduler) Tick(ctx context.Context) Report {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Info("refresh skipped, previous run still in progress")
		return Report{Overlapped: true}
	}
	defer s.running.Store(false)
	return s.run(ctx, s.sources, false)
}

// Trigger refreshes the named sources now, regardless of staleness. With no
// names every source is refreshed.
func (s *Scheduler) Trigger(ctx context.Context, names []string) (Report, error) {
	subset, err := s.subset(names)
	if err != nil {
		return Report{}, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunInProgress
	}
	defer s.running.Store(false)
	return s.run(ctx, subset, true), nil
}

// TriggerAsync starts a manual refresh in the background and returns once
// the scheduler is held. done, when non-nil, receives the report.
func (s *Scheduler) TriggerAsync(ctx context.Context, names []string, done func(Report)) error {
	subset, err := s.subset(names)
	if err != nil {
		return err
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	go func() {
		defer s.running.Store(false)
		report := s.run(ctx, subset, true)
		if done != nil {
			done(report)
		}
	}()
	return nil
}

func (s *Scheduler) subset(names []string) ([]model.SourceConfig, error) {
	if len(names) == 0 {
		return s.sources, nil
	}
	byID := make(map[string]model.SourceConfig, len(s.sources))
	for _, src := range s.sources {
		byID[src.ID] = src
	}
	out := make([]model.SourceConfig, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		src, ok := byID[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, src)
		}
	}
	return out, nil
}

func (s *Scheduler) run(ctx context.Context, sources []model.SourceConfig, forced bool) Report {
	report := Report{
		RunID:     uuid.NewString(),
		Forced:    forced,
		StartedAt: s.cfg.Now().UTC(),
	}
	log := s.log.With("run_id", report.RunID)
	log.Info("refresh started", "sources", len(sources), "forced", forced)

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		res := s.processSource(ctx, log, report.RunID, src, forced)
		report.Results = append(report.Results, res)
	}

	report.FinishedAt = s.cfg.Now().UTC()
	log.Info("refresh finished",
		"success", report.Count(model.StatusSuccess),
		"no_data", report.Count(model.StatusNoData),
		"error", report.Count(model.StatusError),
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// processSource never returns an error: every failure is recorded against
// the source and the run moves on.
func (s *Scheduler) processSource(ctx context.Context, log *slog.Logger, runID string, src model.SourceConfig, forced bool) SourceResult {
	res := SourceResult{Source: src.ID}
	log = log.With("source", src.ID)

	if !forced {
		needs, err := s.store.NeedsUpdate(ctx, src.ID)
		if err != nil {
			log.Error("check freshness", "error", err)
			res.Status = model.StatusError
			res.Error = err.Error()
			return res
		}
		if !needs {
			log.Debug("source fresh, skipping")
			res.Skipped = true
			return res
		}
	}

	items, attempts, err := s.fetchWithRetry(ctx, src)
	res.Attempts = attempts
	if err != nil {
		log.Error("fetch source", "attempts", attempts, "error", err)
		res.Status = model.StatusError
		res.Error = err.Error()
		s.record(ctx, log, model.SourceRun{RunID: runID, Source: src.ID, Status: model.StatusError, Error: err.Error()})
		return res
	}

	items = attach(items, src)
	count, err := s.store.ReplaceSource(ctx, src.ID, items)
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			log.Error("store items", "error", err)
			res.Status = model.StatusError
			res.Error = err.Error()
			s.record(ctx, log, model.SourceRun{RunID: runID, Source: src.ID, Status: model.StatusError, Error: err.Error()})
			return res
		}
		log.Warn("some items rejected", "stored", count, "fetched", len(items), "error", err)
	}

	res.Count = count
	res.Status = model.StatusSuccess
	if count == 0 {
		res.Status = model.StatusNoData
	}
	s.record(ctx, log, model.SourceRun{RunID: runID, Source: src.ID, ItemCount: count, Status: res.Status})
	log.Info("source refreshed", "status", res.Status, "count", count)
	return res
}

func (s *Scheduler) record(ctx context.Context, log *slog.Logger, run model.SourceRun) {
	if err := s.store.RecordSourceRun(ctx, run); err != nil {
		log.Error("record source run", "status", run.Status, "error", err)
	}
}

// fetchWithRetry retries failed fetches with exponential backoff. Network
// sources wait on the shared politeness limiter before every attempt.
func (s *Scheduler) fetchWithRetry(ctx context.Context, src model.SourceConfig) ([]model.Item, int, error) {
	var (
		items    []model.Item
		attempts int
	)
	backoff := retry.WithMaxRetries(uint64(s.cfg.FetchRetries), retry.NewExponential(s.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if isNetworkSource(src) {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		attempts++
		got, err := s.fetchOnce(ctx, src.ID)
		if err != nil {
			if errors.Is(err, source.ErrUnknownSource) {
				return err
			}
			s.log.Warn("fetch attempt failed", "source", src.ID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		items = got
		return nil
	})
	return items, attempts, err
}

// fetchOnce bounds a single fetch by Config.FetchTimeout even when the
// fetcher ignores its context.
func (s *Scheduler) fetchOnce(ctx context.Context, id string) ([]model.Item, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	type result struct {
		items []model.Item
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		items, err := s.fetcher.Fetch(ctx, id)
		ch <- result{items: items, err: err}
	}()

	select {
	case r := <-ch:
		return r.items, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w after %s: %w", id, ErrFetchTimeout, s.cfg.FetchTimeout, ctx.Err())
	}
}

func isNetworkSource(src model.SourceConfig) bool {
	switch src.Kind {
	case model.KindSeed:
		return false
	case model.KindPDF:
		return src.Path == ""
	default:
		return true
	}
}

// attach fills the category and language configured for src on items that
// do not carry their own.
func attach(items []model.Item, src model.SourceConfig) []model.Item {
	out := make([]model.Item, len(items))
	for i, it := range items {
		if !it.Category.Valid() {
			it.Category = src.Category
		}
		if it.Category == "" {
			it.Category = model.CategoryGeneral
		}
		if it.Language == "" {
			it.Language = src.Language
		}
		if it.Language == "" {
			it.Language = model.DefaultLanguage
		}
		it.Source = src.ID
		out[i] = it
	}
	return out
}
