package persistence

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liker0704/telegram-signals-parisng/pkg/domain"
	"github.com/liker0704/telegram-signals-parisng/pkg/domain/signal"
)

//go:embed schema/postgres.sql
var postgresSchema string

// PostgreSQL error codes the store translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements signal.Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store: database URL is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func pgErr(op string, err error) error {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w", op, signal.ErrDuplicateKey)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: parent: %w", op, signal.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// InsertSignal implements signal.Store.
func (s *PostgresStore) InsertSignal(ctx context.Context, sig *signal.Signal) (domain.EntityID, error) {
	defer observe("insert_signal")()
	r := signalRecord(sig)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO signals (id, source_chat_id, source_message_id, sender_id, content, translated,
			status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, string(r.ID), r.SourceChatID, r.SourceMessageID, r.SenderID, r.Content, r.Translated,
		string(r.Status), r.DestChatID, r.DestMessageID, r.FailureReason, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return "", pgErr(fmt.Sprintf("insert signal %s", r.thread()), err)
	}
	return r.ID, nil
}

// InsertUpdate implements signal.Store.
func (s *PostgresStore) InsertUpdate(ctx context.Context, u *signal.Update) (domain.EntityID, error) {
	defer observe("insert_update")()
	r := updateRecord(u)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO updates (id, parent_id, parent_message_id, source_chat_id, source_message_id, sender_id,
			content, translated, status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, string(r.ID), string(r.ParentID), r.ParentMessageID, r.SourceChatID, r.SourceMessageID, r.SenderID,
		r.Content, r.Translated, string(r.Status), r.DestChatID, r.DestMessageID, r.FailureReason,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return "", pgErr(fmt.Sprintf("insert update %s", r.thread()), err)
	}
	return r.ID, nil
}

// FindSignalBySource implements signal.Store.
func (s *PostgresStore) FindSignalBySource(ctx context.Context, chatID, messageID int64) (*signal.Signal, error) {
	defer observe("find_signal")()

	var (
		r      record
		id     string
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, source_chat_id, source_message_id, sender_id, content, translated,
			status, dest_chat_id, dest_message_id, failure_reason, created_at, updated_at
		FROM signals WHERE source_chat_id = $1 AND source_message_id = $2
	`, chatID, messageID).Scan(
		&id, &r.SourceChatID, &r.SourceMessageID, &r.SenderID, &r.Content, &r.Translated,
		&status, &r.DestChatID, &r.DestMessageID, &r.FailureReason, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, signal.ErrNotFound
		}
		return nil, fmt.Errorf("find signal %d:%d: %w", chatID, messageID, err)
	}
	r.ID = domain.EntityID(id)
	r.Kind = signal.KindSignal
	r.Status = signal.Status(status)
	return r.toSignal(), nil
}

// Exists implements signal.Store.
func (s *PostgresStore) Exists(ctx context.Context, kind signal.Kind, chatID, messageID int64) (bool, error) {
	defer observe("exists")()
	if err := validKind(kind); err != nil {
		return false, err
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM "+table(kind)+" WHERE source_chat_id = $1 AND source_message_id = $2)",
		chatID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exists %s %d:%d: %w", kind, chatID, messageID, err)
	}
	return exists, nil
}

// UpdateStatus implements signal.Store as a single UPDATE statement.
func (s *PostgresStore) UpdateStatus(ctx context.Context, kind signal.Kind, id domain.EntityID, change signal.StatusChange) error {
	defer observe("update_status")()
	if err := validKind(kind); err != nil {
		return err
	}

	var destChat, destMsg *string
	if change.Destination != nil {
		destChat = &change.Destination.ChatID
		destMsg = &change.Destination.MessageID
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE `+table(kind)+` SET
			status = $1,
			dest_chat_id = COALESCE($2, dest_chat_id),
			dest_message_id = COALESCE($3, dest_message_id),
			translated = COALESCE(NULLIF($4, ''), translated),
			failure_reason = COALESCE(NULLIF($5, ''), failure_reason),
			updated_at = $6
		WHERE id = $7
	`, string(change.Status), destChat, destMsg, change.Translated, change.FailureReason,
		time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update %s %s: %w", kind, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s: %w", kind, id, signal.ErrNotFound)
	}
	return nil
}

// MarkStale implements signal.Store.
func (s *PostgresStore) MarkStale(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	defer observe("mark_stale")()

	var total int64
	for _, kind := range []signal.Kind{signal.KindSignal, signal.KindUpdate} {
		tag, err := s.pool.Exec(ctx, `
			UPDATE `+table(kind)+` SET status = $1, failure_reason = $2, updated_at = $3
			WHERE status IN ($4, $5) AND created_at < $6
		`, string(signal.StatusError), reason, time.Now().UTC(),
			string(signal.StatusPending), string(signal.StatusProcessing), olderThan)
		if err != nil {
			return total, fmt.Errorf("mark stale %s: %w", kind, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// Ping implements signal.Store.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements signal.Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Verify interface compliance at compile time.
var _ signal.Store = (*PostgresStore)(nil)
