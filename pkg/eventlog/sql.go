package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLSink persists events to a session_events table managed by goose.
type SQLSink struct {
	db      *sql.DB
	dialect goose.Dialect
	pool    *pgxpool.Pool
}

// OpenSQLite opens (or creates) an embedded sqlite database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLSink, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLSink{db: db, dialect: goose.DialectSQLite3}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects through a pgx pool and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("eventlog: ping postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	s := &SQLSink{db: db, dialect: goose.DialectPostgres, pool: pool}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("eventlog: migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("eventlog: migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("eventlog: migrate: %w", err)
	}
	return nil
}

func (s *SQLSink) bind(n int) string {
	if s.dialect == goose.DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLSink) WriteEvent(ctx context.Context, ev Event) error {
	query := fmt.Sprintf(
		`INSERT INTO session_events (id, session_id, seq, direction, event_name, payload, recorded_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		s.bind(1), s.bind(2), s.bind(3), s.bind(4), s.bind(5), s.bind(6), s.bind(7),
	)
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.SessionID, ev.Seq, string(ev.Direction), ev.Name, string(ev.Payload),
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("eventlog: insert event: %w", err)
	}
	return nil
}

// SessionEvents returns the stored events of one session in record order.
func (s *SQLSink) SessionEvents(ctx context.Context, sessionID string) ([]Event, error) {
	query := fmt.Sprintf(
		`SELECT id, session_id, seq, direction, event_name, payload, recorded_at FROM session_events WHERE session_id = %s ORDER BY seq`,
		s.bind(1),
	)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev        Event
			direction string
			payload   string
			at        string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Seq, &direction, &ev.Name, &payload, &at); err != nil {
			return nil, fmt.Errorf("eventlog: scan event: %w", err)
		}
		ev.Direction = Direction(direction)
		if payload != "" {
			ev.Payload = []byte(payload)
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			ev.Timestamp = ts
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLSink) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}
