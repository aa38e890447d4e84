package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite driver

	"plugkit/internal/storage"
)

// Store реализует storage.Store поверх SQLite.
type Store struct {
	db *sql.DB
}

// Open инициализирует соединение и выполняет миграции.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			op TEXT NOT NULL,
			module TEXT,
			plugin TEXT,
			handle_id TEXT,
			status TEXT NOT NULL,
			error_kind TEXT,
			message TEXT,
			duration_us INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_ts ON lifecycle_events(ts);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_plugin_ts ON lifecycle_events(plugin, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_lifecycle_handle ON lifecycle_events(handle_id);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveEvent сохраняет событие журнала.
func (s *Store) SaveEvent(ctx context.Context, ev storage.LifecycleEvent) error {
	ts := ev.TS
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO lifecycle_events(op, module, plugin, handle_id, status, error_kind, message, duration_us, ts) VALUES(?,?,?,?,?,?,?,?,?)`,
		ev.Op, ev.Module, ev.Plugin, ev.HandleID, ev.Status, ev.ErrorKind, ev.Message, ev.Duration.Microseconds(), ts.UTC())
	if err != nil {
		return fmt.Errorf("insert lifecycle event: %w", err)
	}
	return nil
}

// QueryEvents возвращает события по фильтрам, новые первыми.
func (s *Store) QueryEvents(ctx context.Context, q storage.EventQuery) ([]storage.LifecycleEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	from := q.From
	if from.IsZero() {
		from = time.Unix(0, 0).UTC()
	}
	to := q.To
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT op, module, plugin, handle_id, status, error_kind, message, duration_us, ts
FROM lifecycle_events
WHERE ts >= ? AND ts <= ? AND (? = '' OR plugin = ?) AND (? = '' OR op = ?)
ORDER BY ts DESC, id DESC
LIMIT ?`, from.UTC(), to.UTC(), q.Plugin, q.Plugin, q.Op, q.Op, limit)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle events: %w", err)
	}
	defer rows.Close()

	events := make([]storage.LifecycleEvent, 0, limit)
	for rows.Next() {
		var ev storage.LifecycleEvent
		var durationUS int64
		var ts string
		if err := rows.Scan(&ev.Op, &ev.Module, &ev.Plugin, &ev.HandleID, &ev.Status, &ev.ErrorKind, &ev.Message, &durationUS, &ts); err != nil {
			return nil, fmt.Errorf("scan lifecycle event: %w", err)
		}
		parsedTS, err := parseSQLiteTS(ts)
		if err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		ev.TS = parsedTS
		ev.Duration = time.Duration(durationUS) * time.Microsecond
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lifecycle events: %w", err)
	}
	return events, nil
}

func parseSQLiteTS(v string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported sqlite time format: %q", v)
}

// Close закрывает соединение.
func (s *Store) Close() error {
	return s.db.Close()
}
