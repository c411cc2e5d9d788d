package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// dbFileName is the ledger database file inside the database directory.
const dbFileName = "onionhost.db"

// Ledger provides SQLite-based storage for onion service publications.
// Every successful start records the address it published, so a restart can
// tell whether the address survived and operators can review the history.
type Ledger struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Ledger behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	// This is recommended for most use cases.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// ReadOnlyOptions returns options for commands that only inspect history
// and must not create a database as a side effect.
func ReadOnlyOptions() Options {
	return Options{}
}

// ErrNotFound is returned by Open when the database does not exist and
// CreateIfNotExists is false.
var ErrNotFound = errors.New("publication ledger not found")

// Open opens or creates a Ledger in the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, ErrNotFound is returned.
func Open(dbDir string, opts Options) (*Ledger, error) {
	dbPath := filepath.Join(dbDir, dbFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite takes the open mode as a DSN parameter.
	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	l := &Ledger{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := l.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return l, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.dbPath
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (l *Ledger) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS publications (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		nickname TEXT NOT NULL,
		onion_host TEXT NOT NULL,
		onion_port INTEGER NOT NULL,
		upstream_port INTEGER NOT NULL,
		external_tor INTEGER NOT NULL DEFAULT 0,
		published_at TEXT NOT NULL,
		stopped_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_pub_nickname ON publications(nickname);
	CREATE INDEX IF NOT EXISTS idx_pub_host ON publications(onion_host);
	`

	_, err := l.db.ExecContext(context.Background(), schema)
	return err
}

// Publication is one recorded start of an onion service.
type Publication struct {
	ID           int64     `json:"id"`
	Nickname     string    `json:"nickname"`
	OnionHost    string    `json:"onion_host"`
	OnionPort    int       `json:"onion_port"`
	UpstreamPort int       `json:"upstream_port"`
	ExternalTor  bool      `json:"external_tor"`
	PublishedAt  time.Time `json:"published_at"`

	// StoppedAt is zero while the service runs or when the process ended
	// without a clean stop.
	StoppedAt time.Time `json:"stopped_at,omitzero"`
}

// RecordPublication inserts a publication and returns its ID.
// A zero PublishedAt is replaced by the current time.
func (l *Ledger) RecordPublication(ctx context.Context, pub *Publication) (int64, error) {
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = time.Now()
	}

	query := `
	INSERT INTO publications (nickname, onion_host, onion_port, upstream_port, external_tor, published_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := l.db.ExecContext(ctx, query,
		pub.Nickname,
		pub.OnionHost,
		pub.OnionPort,
		pub.UpstreamPort,
		pub.ExternalTor,
		formatTimestamp(pub.PublishedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record publication: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read publication id: %w", err)
	}
	pub.ID = id
	return id, nil
}

// MarkStopped records when the publication with the given ID was stopped.
func (l *Ledger) MarkStopped(ctx context.Context, id int64, at time.Time) error {
	result, err := l.db.ExecContext(ctx,
		`UPDATE publications SET stopped_at = ? WHERE id = ?`,
		formatTimestamp(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark publication stopped: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark publication stopped: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("publication %d not found", id)
	}
	return nil
}

// LatestPublication returns the most recent publication for a nickname,
// or nil when the nickname was never published.
func (l *Ledger) LatestPublication(ctx context.Context, nickname string) (*Publication, error) {
	query := `
	SELECT id, nickname, onion_host, onion_port, upstream_port, external_tor, published_at, stopped_at
	FROM publications
	WHERE nickname = ?
	ORDER BY id DESC
	LIMIT 1
	`

	pub, err := scanPublication(l.db.QueryRowContext(ctx, query, nickname))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest publication: %w", err)
	}
	return pub, nil
}

// ListPublications returns publications newest first.
// An empty nickname lists every nickname. A limit of zero or less means no limit.
func (l *Ledger) ListPublications(ctx context.Context, nickname string, limit int) ([]Publication, error) {
	query := `
	SELECT id, nickname, onion_host, onion_port, upstream_port, external_tor, published_at, stopped_at
	FROM publications
	WHERE 1=1
	`
	args := make([]any, 0, 2)

	if nickname != "" {
		query += " AND nickname = ?"
		args = append(args, nickname)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var results []Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		results = append(results, *pub)
	}

	return results, rows.Err()
}

// DistinctHosts returns every onion host ever published under a nickname,
// oldest first. More than one entry means the address changed at some point.
func (l *Ledger) DistinctHosts(ctx context.Context, nickname string) ([]string, error) {
	query := `
	SELECT onion_host FROM publications
	WHERE nickname = ?
	GROUP BY onion_host
	ORDER BY MIN(id)
	`

	rows, err := l.db.QueryContext(ctx, query, nickname)
	if err != nil {
		return nil, fmt.Errorf("failed to list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []string
	for rows.Next() {
		var host string
		if err := rows.Scan(&host); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, host)
	}

	return hosts, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublication(row rowScanner) (*Publication, error) {
	var pub Publication
	var publishedAt string
	var stoppedAt sql.NullString

	err := row.Scan(
		&pub.ID,
		&pub.Nickname,
		&pub.OnionHost,
		&pub.OnionPort,
		&pub.UpstreamPort,
		&pub.ExternalTor,
		&publishedAt,
		&stoppedAt,
	)
	if err != nil {
		return nil, err
	}

	pub.PublishedAt = parseTimestamp(publishedAt)
	if stoppedAt.Valid {
		pub.StoppedAt = parseTimestamp(stoppedAt.String)
	}
	return &pub, nil
}

// timestampLayout is the layout timestamps are written with.
const timestampLayout = time.RFC3339Nano

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
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
