package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlite3 "modernc.org/sqlite"
)

const schemaVersion = 2

const schemaV1 = `
CREATE TABLE IF NOT EXISTS journal_entries (
  id          TEXT PRIMARY KEY,
  video_id    TEXT NOT NULL,
  kind        TEXT NOT NULL,
  attempt     INTEGER NOT NULL,
  strategy    TEXT,
  result      TEXT NOT NULL,
  error       TEXT,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_created
  ON journal_entries(created_at DESC, id DESC);
`

const schemaV2 = `
CREATE INDEX IF NOT EXISTS idx_journal_video
  ON journal_entries(video_id, created_at DESC, id DESC);
`

type SQLiteOption func(*SQLiteStore)

func WithSQLiteNowFunc(now func() time.Time) SQLiteOption {
	return func(s *SQLiteStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithSQLiteRetention deletes entries older than maxAge, checked at most once
// per pruneInterval on write.
func WithSQLiteRetention(maxAge, pruneInterval time.Duration) SQLiteOption {
	return func(s *SQLiteStore) {
		s.retentionMaxAge = max(maxAge, 0)
		s.pruneInterval = max(pruneInterval, 0)
	}
}

type SQLiteStore struct {
	db *sql.DB

	nowFn           func() time.Time
	retentionMaxAge time.Duration
	pruneInterval   time.Duration
	pruneMu         sync.Mutex
	lastPrune       time.Time
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("empty db path")
	}

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	ctx := context.Background()

	var journalMode string
	if err := s.db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("sqlite: set journal_mode=wal: %w", err)
	}
	if strings.ToLower(journalMode) != "wal" {
		return fmt.Errorf("sqlite: journal_mode=%q, want wal", journalMode)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;"); err != nil {
		return fmt.Errorf("sqlite: set synchronous=normal: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000;"); err != nil {
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}
	return s.migrate(ctx)
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE;"); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(ctx, "ROLLBACK;")
		}
	}()

	if _, err := conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL);`); err != nil {
		return fmt.Errorf("sqlite: init migrations table: %w", err)
	}

	current, hasVersion, err := readSchemaVersion(ctx, conn)
	if err != nil {
		return err
	}
	if current > schemaVersion {
		return fmt.Errorf("sqlite: schema_version=%d, want <=%d", current, schemaVersion)
	}

	migrations := map[int]string{1: schemaV1, 2: schemaV2}
	for v := current + 1; v <= schemaVersion; v++ {
		stmt, ok := migrations[v]
		if !ok {
			return fmt.Errorf("sqlite: unknown migration %d", v)
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate v%d: %w", v, err)
		}
	}

	if !hasVersion || current != schemaVersion {
		if _, err := conn.ExecContext(ctx, `INSERT OR REPLACE INTO schema_migrations(rowid, version) VALUES (1, ?);`, schemaVersion); err != nil {
			return fmt.Errorf("sqlite: write schema_version: %w", err)
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT;"); err != nil {
		return err
	}
	committed = true
	return nil
}

func readSchemaVersion(ctx context.Context, conn *sql.Conn) (int, bool, error) {
	var v int
	err := conn.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1;`).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("sqlite: read schema_version: %w", err)
	}
	return v, true, nil
}

func (s *SQLiteStore) Record(e Entry) error {
	e = normalize(e, s.nowFn)
	if err := s.maybePrune(e.CreatedAt); err != nil {
		return err
	}

	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO journal_entries (
  id, video_id, kind, attempt, strategy, result, error, duration_ms, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID,
		e.VideoID,
		string(e.Kind),
		e.Attempt,
		nullIfEmpty(e.Strategy),
		e.Result,
		nullIfEmpty(e.Error),
		e.DurationMS,
		e.CreatedAt.UnixNano(),
	)
	if isSQLiteConstraintError(err) {
		return ErrEntryExists
	}
	return err
}

func (s *SQLiteStore) List(req ListRequest) (ListResponse, error) {
	limit := clampLimit(req.Limit)

	query := `
SELECT id, video_id, kind, attempt, strategy, result, error, duration_ms, created_at
FROM journal_entries
WHERE 1 = 1`
	args := make([]any, 0, 6)
	if req.VideoID != "" {
		query += " AND video_id = ?"
		args = append(args, req.VideoID)
	}
	if req.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(req.Kind))
	}
	if req.Strategy != "" {
		query += " AND strategy = ?"
		args = append(args, req.Strategy)
	}
	if req.Result != "" {
		query += " AND result = ?"
		args = append(args, req.Result)
	}
	if !req.Before.IsZero() {
		query += " AND created_at < ?"
		args = append(args, req.Before.UnixNano())
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return ListResponse{}, err
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e              Entry
			kind           string
			strategy       sql.NullString
			errText        sql.NullString
			createdAtNanos int64
		)
		if err := rows.Scan(&e.ID, &e.VideoID, &kind, &e.Attempt, &strategy, &e.Result, &errText, &e.DurationMS, &createdAtNanos); err != nil {
			return ListResponse{}, err
		}
		e.Kind = Kind(kind)
		e.Strategy = strategy.String
		e.Error = errText.String
		e.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Items: items}, nil
}

func (s *SQLiteStore) maybePrune(now time.Time) error {
	if s.pruneInterval <= 0 || s.retentionMaxAge <= 0 {
		return nil
	}

	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.pruneInterval {
		return nil
	}
	cutoff := now.Add(-s.retentionMaxAge)
	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM journal_entries WHERE created_at <= ?;`, cutoff.UnixNano()); err != nil {
		return err
	}
	s.lastPrune = now
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteConstraintError(err error) bool {
	var sqliteErr *sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes carry the base code in the lower 8 bits.
	const sqliteConstraintBase = 19
	return sqliteErr.Code()&0xff == sqliteConstraintBase
}
