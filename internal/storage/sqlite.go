package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"legal_kb/internal/model"
	"legal_kb/internal/relevance"
	"legal_kb/migrations"
)

const timeLayout = "2006-01-02T15:04:05.000Z"

const recentRunsLimit = 10

const itemColumns = `id, title, content, category, source, url, language, last_updated, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db              *sql.DB
	now             Clock
	refreshInterval time.Duration
	log             *slog.Logger
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{
		db:              db,
		now:             time.Now,
		refreshInterval: model.DefaultRefreshInterval,
		log:             slog.Default(),
	}, nil
}

// SetLogger sets the logger used for data problems found while reading.
func (s *SQLite) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// SetClock overrides the time source used for staleness and run stamps.
func (s *SQLite) SetClock(now Clock) {
	s.now = now
}

// SetRefreshInterval overrides the default 48-hour staleness threshold.
func (s *SQLite) SetRefreshInterval(d time.Duration) {
	s.refreshInterval = d
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// UpsertItems inserts items or updates existing ones with the same id when
// one is set, otherwise with the same (source, title). An item whose
// (source, title) belongs to a different id is rejected, never merged.
// Invalid items and per-row failures are skipped and reported together;
// the rest of the batch is still stored.
func (s *SQLite) UpsertItems(ctx context.Context, items []model.Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, itemErr := s.insertItems(ctx, tx, items)
	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit items", err)
	}
	return stored, itemErr
}

// ReplaceSource removes every item of source and stores items in its place
// within a single transaction.
func (s *SQLite) ReplaceSource(ctx context.Context, source string, items []model.Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM faq_items WHERE source = ?`, source); err != nil {
		return 0, unavailable("clear source", err)
	}

	owned := make([]model.Item, len(items))
	for i, it := range items {
		it.Source = source
		owned[i] = it
	}
	stored, itemErr := s.insertItems(ctx, tx, owned)

	if err := tx.Commit(); err != nil {
		return 0, unavailable("commit source", err)
	}
	return stored, itemErr
}

func (s *SQLite) insertItems(ctx context.Context, tx *sql.Tx, items []model.Item) (int, error) {
	now := s.now().UTC().Format(timeLayout)
	stored := 0
	var errs []error

	for i, it := range items {
		if err := validateItem(it); err != nil {
			errs = append(errs, fmt.Errorf("item %d %q: %w", i, it.Title, err))
			continue
		}
		lang := it.Language
		if lang == "" {
			lang = model.DefaultLanguage
		}
		cat := it.Category
		if cat == "" {
			cat = model.CategoryGeneral
		}
		it.Title = strings.TrimSpace(it.Title)
		updated := it.LastUpdated
		if updated.IsZero() {
			updated = s.now()
		}
		folded := foldText(it.Title + " " + it.Content)

		var err error
		if it.ID != 0 {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO faq_items
				 (id, title, content, category, source, url, language, last_updated, created_at, search_text)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(id) DO UPDATE SET
				   title = excluded.title,
				   content = excluded.content,
				   category = excluded.category,
				   source = excluded.source,
				   url = excluded.url,
				   language = excluded.language,
				   last_updated = excluded.last_updated,
				   search_text = excluded.search_text`,
				it.ID, it.Title, it.Content, string(cat), it.Source, it.URL, lang,
				updated.UTC().Format(timeLayout), now, folded,
			)
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO faq_items
				 (title, content, category, source, url, language, last_updated, created_at, search_text)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(source, title) WHERE title <> '' DO UPDATE SET
				   content = excluded.content,
				   category = excluded.category,
				   url = excluded.url,
				   language = excluded.language,
				   last_updated = excluded.last_updated,
				   search_text = excluded.search_text`,
				it.Title, it.Content, string(cat), it.Source, it.URL, lang,
				updated.UTC().Format(timeLayout), now, folded,
			)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("item %d %q: %w", i, it.Title, err))
			continue
		}
		stored++
	}
	return stored, errors.Join(errs...)
}

// validateItem requires a title unless the item carries an explicit id,
// which then serves as its key.
func validateItem(it model.Item) error {
	switch {
	case strings.TrimSpace(it.Title) == "" && it.ID == 0:
		return fmt.Errorf("%w: empty title", ErrInvalidItem)
	case strings.TrimSpace(it.Content) == "":
		return fmt.Errorf("%w: empty content", ErrInvalidItem)
	case it.Source == "":
		return fmt.Errorf("%w: empty source", ErrInvalidItem)
	case it.Category != "" && !it.Category.Valid():
		return fmt.Errorf("%w: unknown category %q", ErrInvalidItem, it.Category)
	}
	return nil
}

// Search returns items in q.Language whose lowercased title and content
// contain the query or one of its keywords, newest first. The generic
// category and the empty category do not filter.
func (s *SQLite) Search(ctx context.Context, q SearchQuery) ([]model.Item, error) {
	lang := q.Language
	if lang == "" {
		lang = model.DefaultLanguage
	}

	where := []string{"language = ?"}
	args := []any{lang}

	if !q.Category.MatchesAny() {
		where = append(where, "category = ?")
		args = append(args, string(q.Category))
	}

	if terms := searchTerms(q.Query); len(terms) > 0 {
		ors := make([]string, len(terms))
		for i, term := range terms {
			ors[i] = "instr(search_text, ?) > 0"
			args = append(args, term)
		}
		where = append(where, "("+strings.Join(ors, " OR ")+")")
	}

	args = append(args, clampLimit(q.Limit))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM faq_items
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY last_updated DESC, id DESC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, unavailable("search items", err)
	}
	defer func() { _ = rows.Close() }()
	return s.scanItems(rows)
}

// foldText is the case folding shared by stored search text and query
// terms. SQLite's lower() only folds ASCII.
func foldText(s string) string {
	return strings.ToLower(s)
}

func searchTerms(query string) []string {
	text := foldText(strings.TrimSpace(query))
	if text == "" {
		return nil
	}
	terms := []string{text}
	for _, kw := range relevance.Keywords(text) {
		if kw != text {
			terms = append(terms, kw)
		}
	}
	return terms
}

// ByCategory returns the newest items of a category in a language.
func (s *SQLite) ByCategory(ctx context.Context, category model.Category, language string, limit int) ([]model.Item, error) {
	return s.Search(ctx, SearchQuery{Category: category, Language: language, Limit: limit})
}

// ClearSource removes every item of source and returns how many were removed.
func (s *SQLite) ClearSource(ctx context.Context, source string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM faq_items WHERE source = ?`, source)
	if err != nil {
		return 0, unavailable("clear source", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected", err)
	}
	return int(n), nil
}

// RecordSourceRun stamps the source metadata with the current time and
// appends the run to the history. A failed run keeps the last successful
// item count.
func (s *SQLite) RecordSourceRun(ctx context.Context, run model.SourceRun) error {
	now := s.now().UTC().Format(timeLayout)
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scraping_metadata (source, last_scraped, item_count, status)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(source) DO UPDATE SET
		   last_scraped = excluded.last_scraped,
		   item_count = CASE WHEN excluded.status = 'error'
		                     THEN scraping_metadata.item_count
		                     ELSE excluded.item_count END,
		   status = excluded.status`,
		run.Source, now, run.ItemCount, string(run.Status),
	)
	if err != nil {
		return unavailable("upsert source metadata", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO source_runs (run_id, source, item_count, status, error, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Source, run.ItemCount, string(run.Status), run.Error, now,
	)
	if err != nil {
		return unavailable("insert source run", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit source run", err)
	}
	return nil
}

// NeedsUpdate reports whether source has never run or last ran at least
// the refresh interval ago.
func (s *SQLite) NeedsUpdate(ctx context.Context, source string) (bool, error) {
	meta, err := s.SourceMetadata(ctx, source)
	if err != nil {
		return false, err
	}
	return meta.NeedsUpdate(s.now(), s.refreshInterval), nil
}

// SourceMetadata returns the metadata of source, or nil if it never ran.
func (s *SQLite) SourceMetadata(ctx context.Context, source string) (*model.SourceMetadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT source, last_scraped, item_count, status FROM scraping_metadata WHERE source = ?`, source,
	)
	m, err := s.scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get source metadata", err)
	}
	return m, nil
}

// ListSourceMetadata returns the metadata of every source that ever ran.
func (s *SQLite) ListSourceMetadata(ctx context.Context) ([]model.SourceMetadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, last_scraped, item_count, status FROM scraping_metadata ORDER BY source`,
	)
	if err != nil {
		return nil, unavailable("list source metadata", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SourceMetadata
	for rows.Next() {
		m, err := s.scanMetadata(rows)
		if err != nil {
			return nil, unavailable("scan source metadata", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate source metadata", err)
	}
	return out, nil
}

// Stats aggregates item counts per source and category plus the most
// recent ingestion runs.
func (s *SQLite) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faq_items`).Scan(&st.Total); err != nil {
		return nil, unavailable("count items", err)
	}

	var err error
	st.BySource, err = s.groupCount(ctx, "source")
	if err != nil {
		return nil, err
	}
	st.ByCategory, err = s.groupCount(ctx, "category")
	if err != nil {
		return nil, err
	}
	st.RecentRuns, err = s.recentRuns(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// groupCount counts items grouped by column, which must be a trusted name.
func (s *SQLite) groupCount(ctx context.Context, column string) ([]model.Count, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+column+`, COUNT(*) AS n FROM faq_items GROUP BY `+column+` ORDER BY n DESC, `+column,
	)
	if err != nil {
		return nil, unavailable("count by "+column, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Count
	for rows.Next() {
		var c model.Count
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			return nil, unavailable("scan count", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate counts", err)
	}
	return out, nil
}

func (s *SQLite) recentRuns(ctx context.Context) ([]model.SourceRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, source, item_count, status, error, finished_at
		 FROM source_runs ORDER BY finished_at DESC, id DESC LIMIT ?`, recentRunsLimit,
	)
	if err != nil {
		return nil, unavailable("list source runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.SourceRun
	for rows.Next() {
		var r model.SourceRun
		var status, finished string
		if err := rows.Scan(&r.RunID, &r.Source, &r.ItemCount, &status, &r.Error, &finished); err != nil {
			return nil, unavailable("scan source run", err)
		}
		r.Status = model.RunStatus(status)
		r.FinishedAt = s.parseTime("source_runs.finished_at", finished)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate source runs", err)
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// parseTime decodes a stored timestamp. A corrupt value is logged and read
// as the zero time.
func (s *SQLite) parseTime(column, value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		s.log.Warn("parse stored timestamp", "column", column, "value", value, "error", err)
		return time.Time{}
	}
	return t
}

func (s *SQLite) scanMetadata(row scannable) (*model.SourceMetadata, error) {
	var m model.SourceMetadata
	var last, status string
	if err := row.Scan(&m.Source, &last, &m.ItemCount, &status); err != nil {
		return nil, err
	}
	m.Status = model.RunStatus(status)
	m.LastScraped = s.parseTime("scraping_metadata.last_scraped", last)
	return &m, nil
}

func (s *SQLite) scanItem(row scannable) (model.Item, error) {
	var it model.Item
	var category, updated, created string
	err := row.Scan(&it.ID, &it.Title, &it.Content, &category, &it.Source, &it.URL, &it.Language, &updated, &created)
	if err != nil {
		return it, fmt.Errorf("scan item: %w", err)
	}
	it.Category = model.Category(category)
	it.LastUpdated = s.parseTime("faq_items.last_updated", updated)
	it.CreatedAt = s.parseTime("faq_items.created_at", created)
	return it, nil
}

func (s *SQLite) scanItems(rows *sql.Rows) ([]model.Item, error) {
	var items []model.Item
	for rows.Next() {
		it, err := s.scanItem(rows)
		if err != nil {
			return nil, unavailable("scan items", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate items", err)
	}
	return items, nil
}
