// Package history persists live conversation transcripts in SQLite.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Conversation is one recorded connect/disconnect cycle.
type Conversation struct {
	ID        string
	Model     string
	StartedAt time.Time
	EndedAt   time.Time
	EndReason string
}

// Turn is a persisted transcript turn. Seq is the turn's position within its
// conversation.
type Turn struct {
	Seq  int
	Role string
	Text string
}

// Store wraps the transcript database.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or migrates the database at path.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, log: log, clock: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Debug("history migration applied", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartConversation records a new conversation. Starting an existing id is a
// no-op.
func (s *Store) StartConversation(ctx context.Context, id, model string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, model, started_at) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, model, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	return nil
}

// SaveTurn inserts or replaces turn seq of a conversation. Merged transcript
// fragments rewrite the same seq as the turn grows.
func (s *Store) SaveTurn(ctx context.Context, conversationID string, t Turn) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(conversation_id, seq, role, text, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(conversation_id, seq) DO UPDATE SET role=excluded.role, text=excluded.text, updated_at=excluded.updated_at`,
		conversationID, t.Seq, t.Role, t.Text, s.clock().UnixMilli())
	if err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

// EndConversation stamps the end time and reason. Only the first call has an
// effect.
func (s *Store) EndConversation(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`,
		s.clock().UnixMilli(), reason, id)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

// Turns returns a conversation's turns in order.
func (s *Store) Turns(ctx context.Context, conversationID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, role, text FROM turns WHERE conversation_id = ? ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Seq, &t.Role, &t.Text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Conversations returns the most recent conversations first.
func (s *Store) Conversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, model, started_at, ended_at, end_reason FROM conversations
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c       Conversation
			started int64
			ended   sql.NullInt64
			reason  sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Model, &started, &ended, &reason); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		c.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			c.EndedAt = time.UnixMilli(ended.Int64)
		}
		c.EndReason = reason.String
		out = append(out, c)
	}
	return out, rows.Err()
}
