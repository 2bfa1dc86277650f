package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/prodcrawl/internal/model"
)

// FileName is the database file created inside the data directory.
const FileName = "prodcrawl.db"

// ErrDuplicateRun is returned by SaveRun when the run ID is already stored.
var ErrDuplicateRun = errors.New("crawl run already saved")

// timestampLayout is fixed-width so that stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CrawlDB provides SQLite-based storage for crawl runs.
//
// Design decision: We use a single database file for all runs rather than
// one per domain. A run usually covers several domains, and the history
// command queries across them.
type CrawlDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (run a crawl first)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per crawl run
	CREATE TABLE IF NOT EXISTS crawl_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		seeds TEXT NOT NULL,
		stats TEXT NOT NULL,
		total_products INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON crawl_runs(started_at);

	-- Every domain a run covered, including those without products
	CREATE TABLE IF NOT EXISTS run_domains (
		run_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		product_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, domain)
	);

	CREATE INDEX IF NOT EXISTS idx_run_domains_domain ON run_domains(domain);

	-- Product URLs in discovery order
	CREATE TABLE IF NOT EXISTS product_urls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		url TEXT NOT NULL,
		position INTEGER NOT NULL,
		UNIQUE(run_id, domain, url)
	);

	CREATE INDEX IF NOT EXISTS idx_products_run ON product_urls(run_id, domain);
	CREATE INDEX IF NOT EXISTS idx_products_url ON product_urls(url);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveRun stores a finished crawl run and all of its product URLs in one
// transaction.
func (cdb *CrawlDB) SaveRun(ctx context.Context, result *model.CrawlResult) (err error) {
	if result.RunID == "" {
		return errors.New("crawl run has no run id")
	}

	seedsJSON, err := json.Marshal(result.Seeds)
	if err != nil {
		return fmt.Errorf("failed to serialize seeds: %w", err)
	}
	statsJSON, err := json.Marshal(result.Stats)
	if err != nil {
		return fmt.Errorf("failed to serialize stats: %w", err)
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_runs WHERE run_id = ?`, result.RunID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check run: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateRun, result.RunID)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO crawl_runs (run_id, started_at, finished_at, seeds, stats, total_products, cancelled)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		formatTimestamp(result.StartedAt),
		formatTimestamp(result.FinishedAt),
		string(seedsJSON),
		string(statsJSON),
		result.TotalProducts(),
		result.Stats.Cancelled,
	)
	if err != nil {
		return fmt.Errorf("failed to insert crawl run: %w", err)
	}

	for _, domain := range result.Domains() {
		urls := result.Products[domain]
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO run_domains (run_id, domain, product_count) VALUES (?, ?, ?)`,
			result.RunID, domain, len(urls),
		); err != nil {
			return fmt.Errorf("failed to insert run domain: %w", err)
		}

		for i, u := range urls {
			if _, err = tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO product_urls (run_id, domain, url, position) VALUES (?, ?, ?, ?)`,
				result.RunID, domain, u, i,
			); err != nil {
				return fmt.Errorf("failed to insert product url: %w", err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit crawl run: %w", err)
	}
	return nil
}

// RunMetadata contains summary information about a crawl run.
// This is used for displaying history without loading every URL.
type RunMetadata struct {
	// ID is the row ID of the run.
	ID int64

	// RunID is the run's unique identifier.
	RunID string

	// StartedAt is when the crawl started.
	StartedAt time.Time

	// FinishedAt is when the crawl finished.
	FinishedAt time.Time

	// Seeds are the domains the run started from.
	Seeds []string

	// Stats are the run's counters.
	Stats model.CrawlStats

	// TotalProducts is the number of product URLs across all domains.
	// When the metadata comes from LatestRuns it is the count for the
	// requested domain only.
	TotalProducts int
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (cdb *CrawlDB) ListRuns(ctx context.Context, limit int) ([]RunMetadata, error) {
	query := `
	SELECT id, run_id, started_at, finished_at, seeds, stats, total_products
	FROM crawl_runs
	ORDER BY started_at DESC, id DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LatestRuns returns up to n runs that covered domain, most recent first.
// TotalProducts holds the domain's count in each run.
func (cdb *CrawlDB) LatestRuns(ctx context.Context, domain string, n int) ([]RunMetadata, error) {
	query := `
	SELECT r.id, r.run_id, r.started_at, r.finished_at, r.seeds, r.stats, d.product_count
	FROM crawl_runs r
	JOIN run_domains d ON d.run_id = r.run_id
	WHERE d.domain = ?
	ORDER BY r.started_at DESC, r.id DESC
	`
	args := []any{domain}
	if n > 0 {
		query += " LIMIT ?"
		args = append(args, n)
	}

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs for %s: %w", domain, err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// scanRuns reads RunMetadata rows.
func scanRuns(rows *sql.Rows) ([]RunMetadata, error) {
	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var started, finished, seedsJSON, statsJSON string

		if err := rows.Scan(&meta.ID, &meta.RunID, &started, &finished, &seedsJSON, &statsJSON, &meta.TotalProducts); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		meta.StartedAt = parseTimestamp(started)
		meta.FinishedAt = parseTimestamp(finished)
		if err := json.Unmarshal([]byte(seedsJSON), &meta.Seeds); err != nil {
			meta.Seeds = nil
		}
		if err := json.Unmarshal([]byte(statsJSON), &meta.Stats); err != nil {
			meta.Stats = model.CrawlStats{}
		}

		results = append(results, meta)
	}
	return results, rows.Err()
}

// GetRun loads a complete run, product URLs included.
// It returns nil without error when the run does not exist.
func (cdb *CrawlDB) GetRun(ctx context.Context, runID string) (*model.CrawlResult, error) {
	var started, finished, seedsJSON, statsJSON string
	err := cdb.db.QueryRowContext(ctx, `
	SELECT started_at, finished_at, seeds, stats FROM crawl_runs WHERE run_id = ?
	`, runID).Scan(&started, &finished, &seedsJSON, &statsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	result := &model.CrawlResult{
		RunID:      runID,
		StartedAt:  parseTimestamp(started),
		FinishedAt: parseTimestamp(finished),
	}
	if err := json.Unmarshal([]byte(seedsJSON), &result.Seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seeds: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &result.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse stats: %w", err)
	}

	result.Products, err = cdb.GetRunProducts(ctx, runID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetRunProducts returns the product URLs of a run grouped by domain, in
// discovery order. Domains without products map to an empty list.
func (cdb *CrawlDB) GetRunProducts(ctx context.Context, runID string) (map[string][]string, error) {
	products := make(map[string][]string)

	domainRows, err := cdb.db.QueryContext(ctx, `SELECT domain FROM run_domains WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run domains: %w", err)
	}
	for domainRows.Next() {
		var domain string
		if err := domainRows.Scan(&domain); err != nil {
			domainRows.Close()
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		products[domain] = []string{}
	}
	if err := domainRows.Close(); err != nil {
		return nil, err
	}

	rows, err := cdb.db.QueryContext(ctx, `
	SELECT domain, url FROM product_urls
	WHERE run_id = ?
	ORDER BY domain, position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get product urls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var domain, u string
		if err := rows.Scan(&domain, &u); err != nil {
			return nil, fmt.Errorf("failed to scan product url: %w", err)
		}
		products[domain] = append(products[domain], u)
	}
	return products, rows.Err()
}

// DomainProducts returns the product URLs one run found for domain.
func (cdb *CrawlDB) DomainProducts(ctx context.Context, runID, domain string) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT url FROM product_urls
	WHERE run_id = ? AND domain = ?
	ORDER BY position
	`, runID, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to get product urls: %w", err)
	}
	defer rows.Close()

	urls := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan product url: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

// ListDomains returns every domain that appears in the history.
func (cdb *CrawlDB) ListDomains(ctx context.Context) ([]string, error) {
	rows, err := cdb.db.QueryContext(ctx, `SELECT DISTINCT domain FROM run_domains ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, domain)
	}
	return domains, rows.Err()
}

// formatTimestamp renders t in UTC with a fixed width.
func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05", // SQLite default datetime format
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
