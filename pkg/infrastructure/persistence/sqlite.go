package persistence

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// Schema version tracking:
// 1 - signals and updates tables
const sqliteSchemaVersion = 1

// SQLiteStore implements signal.Store on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates or opens the database at path and applies the schema.
// If path is empty, defaults to "./data/relay.db".
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement (updates must reference an existing signal)
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/relay.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < sqliteSchemaVersion {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// sqliteErr translates driver constraint failures into domain errors.
func sqliteErr(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return fmt.Errorf("%s: %w", op, signal.ErrDuplicateKey)
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: parent: %w", op, signal.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// InsertSignal implements signal.Store.
func (s *SQLiteStore) InsertSignal(ctx context.Context, sig *signal.Signal) (domain.EntityID, error) {
	defer observe("insert_signal")()
	r := signalRecord(sig)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals (id, source_chat_id, source_message_id, sender_id, content, translated,
			status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(r.ID), r.SourceChatID, r.SourceMessageID, nullInt64(r.SenderID), r.Content, r.Translated,
		string(r.Status), r.DestChatID, r.DestMessageID, r.FailureReason, r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return "", sqliteErr(fmt.Sprintf("insert signal %s", r.thread()), err)
	}
	return r.ID, nil
}

// InsertUpdate implements signal.Store.
func (s *SQLiteStore) InsertUpdate(ctx context.Context, u *signal.Update) (domain.EntityID, error) {
	defer observe("insert_update")()
	r := updateRecord(u)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO updates (id, parent_id, parent_message_id, source_chat_id, source_message_id, sender_id,
			content, translated, status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, string(r.ID), string(r.ParentID), r.ParentMessageID, r.SourceChatID, r.SourceMessageID, nullInt64(r.SenderID),
		r.Content, r.Translated, string(r.Status), r.DestChatID, r.DestMessageID, r.FailureReason,
		r.CreatedAt.UTC(), r.UpdatedAt.UTC())
	if err != nil {
		return "", sqliteErr(fmt.Sprintf("insert update %s", r.thread()), err)
	}
	return r.ID, nil
}

// FindSignalBySource implements signal.Store.
func (s *SQLiteStore) FindSignalBySource(ctx context.Context, chatID, messageID int64) (*signal.Signal, error) {
	defer observe("find_signal")()

	var (
		r      record
		id     string
		status string
		sender sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_chat_id, source_message_id, sender_id, content, translated,
			status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at
		FROM signals WHERE source_chat_id = ? AND source_message_id = ?
	`, chatID, messageID).Scan(
		&id, &r.SourceChatID, &r.SourceMessageID, &sender, &r.Content, &r.Translated,
		&status, &r.DestChatID, &r.DestMessageID, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, signal.ErrNotFound
		}
		return nil, fmt.Errorf("find signal %d:%d: %w", chatID, messageID, err)
	}
	r.ID = domain.EntityID(id)
	r.Kind = signal.KindSignal
	r.Status = signal.Status(status)
	if sender.Valid {
		r.SenderID = &sender.Int64
	}
	return r.toSignal(), nil
}

// Exists implements signal.Store.
func (s *SQLiteStore) Exists(ctx context.Context, kind signal.Kind, chatID, messageID int64) (bool, error) {
	defer observe("exists")()
	if err := validKind(kind); err != nil {
		return false, err
	}

	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM "+table(kind)+" WHERE source_chat_id = ? AND source_message_id = ?",
		chatID, messageID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s %d:%d: %w", kind, chatID, messageID, err)
	}
	return true, nil
}

// UpdateStatus implements signal.Store as a single UPDATE statement.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, kind signal.Kind, id domain.EntityID, change signal.StatusChange) error {
	defer observe("update_status")()
	if err := validKind(kind); err != nil {
		return err
	}

	var destChat, destMsg sql.NullString
	if change.Destination != nil {
		destChat = sql.NullString{String: change.Destination.ChatID, Valid: true}
		destMsg = sql.NullString{String: change.Destination.MessageID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table(kind)+` SET
			status = ?,
			dest_chat_id = COALESCE(?, dest_chat_id),
			dest_message_id = COALESCE(?, dest_message_id),
			translated = CASE WHEN ? = '' THEN translated ELSE ? END,
			failure_reason = CASE WHEN ? = '' THEN failure_reason ELSE ? END,
			updated_at = ?
		WHERE id = ?
	`, string(change.Status), destChat, destMsg,
		change.Translated, change.Translated,
		change.FailureReason, change.FailureReason,
		time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s %s: %w", kind, id, signal.ErrNotFound)
	}
	return nil
}

// MarkStale implements signal.Store.
func (s *SQLiteStore) MarkStale(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	defer observe("mark_stale")()

	var total int64
	for _, kind := range []signal.Kind{signal.KindSignal, signal.KindUpdate} {
		res, err := s.db.ExecContext(ctx, `
			UPDATE `+table(kind)+` SET status = ?, failure_reason = ?, updated_at = ?
			WHERE status IN (?, ?) AND created_at < ?
		`, string(signal.StatusError), reason, time.Now().UTC(),
			string(signal.StatusPending), string(signal.StatusProcessing), olderThan.UTC())
		if err != nil {
			return total, fmt.Errorf("mark stale %s: %w", kind, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("mark stale %s: %w", kind, err)
		}
		total += n
	}
	return total, nil
}

// Ping implements signal.Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements signal.Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Verify interface compliance at compile time.
var _ signal.Store = (*SQLiteStore)(nil)
