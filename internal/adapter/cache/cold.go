package cache

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "modernc.org/sqlite"

	"github.com/claudette-ai/claudette/internal/core/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const coldSchema = `
CREATE TABLE IF NOT EXISTS entries (
	fingerprint TEXT PRIMARY KEY,
	body        BLOB NOT NULL,
	created_at  INT NOT NULL,
	expires_at  INT NOT NULL,
	hit_count   INT NOT NULL DEFAULT 0,
	last_access INT NOT NULL,
	size        INT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at);
`

// SQLiteStore is the persistent cache tier, an embedded store at
// ${dataDir}/cache.db. It is a performance optimisation, not a contract;
// callers absorb every error it returns.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dataDir string, logger *slog.Logger) (*SQLiteStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "cache.db")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	// The embedded driver serialises writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent write-through.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(coldSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT body, created_at, expires_at, hit_count, last_access, size
		 FROM entries WHERE fingerprint = ?`, fingerprint)

	var body []byte
	var createdAt, expiresAt, hitCount, lastAccess, size int64
	if err := row.Scan(&body, &createdAt, &expiresAt, &hitCount, &lastAccess, &size); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	var resp domain.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	return &domain.CacheEntry{
		Fingerprint: fingerprint,
		Response:    resp,
		CreatedAt:   time.Unix(createdAt, 0),
		ExpiresAt:   time.Unix(expiresAt, 0),
		LastAccess:  time.Unix(lastAccess, 0),
		HitCount:    hitCount,
		Size:        size,
	}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, entry *domain.CacheEntry) error {
	body, err := json.Marshal(entry.Response)
	if err != nil {
		return err
	}

	lastAccess := entry.LastAccess
	if lastAccess.IsZero() {
		lastAccess = entry.CreatedAt
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (fingerprint, body, created_at, expires_at, hit_count, last_access, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			body = excluded.body,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			hit_count = excluded.hit_count,
			last_access = excluded.last_access,
			size = excluded.size`,
		entry.Fingerprint, body,
		entry.CreatedAt.Unix(), entry.ExpiresAt.Unix(),
		entry.HitCount, lastAccess.Unix(), entry.Size)
	return err
}

func (s *SQLiteStore) Delete(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE fingerprint = ?`, fingerprint)
	return err
}

// Compact removes expired rows; scheduled daily by the owning cache.
func (s *SQLiteStore) Compact(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE expires_at > 0 AND expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	removed, _ := res.RowsAffected()
	return removed, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
