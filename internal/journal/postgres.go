package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresSchemaV1 = `
CREATE TABLE IF NOT EXISTS subwarm_journal_entries (
  id          TEXT PRIMARY KEY,
  video_id    TEXT NOT NULL,
  kind        TEXT NOT NULL,
  attempt     INTEGER NOT NULL,
  strategy    TEXT,
  result      TEXT NOT NULL,
  error       TEXT,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_subwarm_journal_created
  ON subwarm_journal_entries(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_subwarm_journal_video
  ON subwarm_journal_entries(video_id, created_at DESC, id DESC);
`

type PostgresOption func(*PostgresStore)

func WithPostgresNowFunc(now func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

func WithPostgresRetention(maxAge, pruneInterval time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		s.retentionMaxAge = max(maxAge, 0)
		s.pruneInterval = max(pruneInterval, 0)
	}
}

type PostgresStore struct {
	db *sql.DB

	nowFn           func() time.Time
	retentionMaxAge time.Duration
	pruneInterval   time.Duration
	pruneMu         sync.Mutex
	lastPrune       time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty postgres dsn")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &PostgresStore{db: db, nowFn: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, postgresSchemaV1); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: init schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) Record(e Entry) error {
	e = normalize(e, s.nowFn)
	if err := s.maybePrune(e.CreatedAt); err != nil {
		return err
	}

	_, err := s.db.ExecContext(context.Background(), `
INSERT INTO subwarm_journal_entries (
  id, video_id, kind, attempt, strategy, result, error, duration_ms, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`,
		e.ID,
		e.VideoID,
		string(e.Kind),
		e.Attempt,
		nullIfEmpty(e.Strategy),
		e.Result,
		nullIfEmpty(e.Error),
		e.DurationMS,
		e.CreatedAt,
	)
	return mapPostgresInsertError(err)
}

func (s *PostgresStore) List(req ListRequest) (ListResponse, error) {
	limit := clampLimit(req.Limit)

	var b strings.Builder
	b.WriteString(`
SELECT id, video_id, kind, attempt, strategy, result, error, duration_ms, created_at
FROM subwarm_journal_entries
WHERE 1 = 1`)
	args := make([]any, 0, 6)
	add := func(clause string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND %s $%d", clause, len(args))
	}
	if req.VideoID != "" {
		add("video_id =", req.VideoID)
	}
	if req.Kind != "" {
		add("kind =", string(req.Kind))
	}
	if req.Strategy != "" {
		add("strategy =", req.Strategy)
	}
	if req.Result != "" {
		add("result =", req.Result)
	}
	if !req.Before.IsZero() {
		add("created_at <", req.Before.UTC())
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(context.Background(), b.String(), args...)
	if err != nil {
		return ListResponse{}, err
	}
	defer rows.Close()

	items := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e        Entry
			kind     string
			strategy sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.VideoID, &kind, &e.Attempt, &strategy, &e.Result, &errText, &e.DurationMS, &e.CreatedAt); err != nil {
			return ListResponse{}, err
		}
		e.Kind = Kind(kind)
		e.Strategy = strategy.String
		e.Error = errText.String
		e.CreatedAt = e.CreatedAt.UTC()
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return ListResponse{}, err
	}
	return ListResponse{Items: items}, nil
}

func (s *PostgresStore) maybePrune(now time.Time) error {
	if s.pruneInterval <= 0 || s.retentionMaxAge <= 0 {
		return nil
	}

	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	if !s.lastPrune.IsZero() && now.Sub(s.lastPrune) < s.pruneInterval {
		return nil
	}
	cutoff := now.Add(-s.retentionMaxAge)
	if _, err := s.db.ExecContext(context.Background(), `DELETE FROM subwarm_journal_entries WHERE created_at <= $1;`, cutoff); err != nil {
		return err
	}
	s.lastPrune = now
	return nil
}

func mapPostgresInsertError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrEntryExists
	}
	return err
}
