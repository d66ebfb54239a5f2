// Package sqlite provides a SQLite-backed messaging storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/courier.space/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists messaging state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Open opens a SQLite messaging store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateConversation persists one conversation with its participant set.
func (s *Store) CreateConversation(ctx context.Context, record storage.ConversationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	conversationID := strings.TrimSpace(record.ID)
	if conversationID == "" {
		return fmt.Errorf("conversation id is required")
	}
	if len(record.Participants) < 2 {
		return fmt.Errorf("at least two participants are required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO conversations (id, kind, pair_key, last_seq, last_message_at, created_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		conversationID,
		string(record.Kind),
		strings.TrimSpace(record.PairKey),
		toMillis(record.CreatedAt),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range record.Participants {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return fmt.Errorf("participant user id is required")
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
			 VALUES (?, ?, ?)`,
			conversationID,
			userID,
			toMillis(record.CreatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("duplicate participant %s", userID)
			}
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create conversation: %w", err)
	}
	return nil
}

// GetConversation returns one conversation with its participant set.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (storage.ConversationRecord, error) {
	return s.getConversation(ctx, `WHERE id = ?`, strings.TrimSpace(conversationID))
}

// GetConversationByPairKey returns the direct conversation for a normalized pair.
func (s *Store) GetConversationByPairKey(ctx context.Context, pairKey string) (storage.ConversationRecord, error) {
	return s.getConversation(ctx, `WHERE pair_key = ?`, strings.TrimSpace(pairKey))
}

func (s *Store) getConversation(ctx context.Context, where string, arg string) (storage.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationRecord{}, fmt.Errorf("storage is not configured")
	}
	if arg == "" {
		return storage.ConversationRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, kind, pair_key, last_seq, last_message_at, created_at
		 FROM conversations `+where,
		arg,
	)
	record, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ConversationRecord{}, storage.ErrNotFound
		}
		return storage.ConversationRecord{}, fmt.Errorf("get conversation: %w", err)
	}

	record.Participants, err = s.listParticipants(ctx, record.ID)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (storage.ConversationRecord, error) {
	var (
		record        storage.ConversationRecord
		kind          string
		lastMessageAt int64
		createdAt     int64
	)
	err := row.Scan(
		&record.ID,
		&kind,
		&record.PairKey,
		&record.LastSeq,
		&lastMessageAt,
		&createdAt,
	)
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	record.Kind = storage.ConversationKind(kind)
	record.LastMessageAt = fromMillis(lastMessageAt)
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func (s *Store) listParticipants(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT user_id FROM conversation_participants
		 WHERE conversation_id = ?
		 ORDER BY user_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("list participants: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return participants, nil
}

// IsParticipant reports whether userID belongs to the conversation.
func (s *Store) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return false, nil
	}

	var found int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT 1 FROM conversation_participants
		 WHERE conversation_id = ? AND user_id = ?`,
		conversationID,
		userID,
	)
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check participant: %w", err)
	}
	return true, nil
}

// ListConversationsByParticipant returns one page of conversations for a user,
// most recent message first.
func (s *Store) ListConversationsByParticipant(ctx context.Context, userID string, pageSize int, pageToken string) (storage.ConversationPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ConversationPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ConversationPage{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.ConversationPage{}, fmt.Errorf("user id is required")
	}
	if pageSize <= 0 {
		return storage.ConversationPage{}, fmt.Errorf("page size must be greater than zero")
	}

	query := `SELECT c.id, c.kind, c.pair_key, c.last_seq, c.last_message_at, c.created_at
		 FROM conversations c
		 JOIN conversation_participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?`
	args := []any{userID}

	pageToken = strings.TrimSpace(pageToken)
	if pageToken != "" {
		beforeMillis, beforeID, err := decodePageToken(pageToken)
		if err != nil {
			return storage.ConversationPage{}, err
		}
		query += ` AND (c.last_message_at < ? OR (c.last_message_at = ? AND c.id < ?))`
		args = append(args, beforeMillis, beforeMillis, beforeID)
	}
	query += ` ORDER BY c.last_message_at DESC, c.id DESC LIMIT ?`
	args = append(args, pageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	page := storage.ConversationPage{
		Conversations: make([]storage.ConversationRecord, 0, pageSize),
	}
	for rows.Next() {
		record, err := scanConversation(rows)
		if err != nil {
			return storage.ConversationPage{}, fmt.Errorf("list conversations: %w", err)
		}
		page.Conversations = append(page.Conversations, record)
	}
	if err := rows.Err(); err != nil {
		return storage.ConversationPage{}, fmt.Errorf("list conversations: %w", err)
	}

	if len(page.Conversations) > pageSize {
		last := page.Conversations[pageSize-1]
		page.NextPageToken = encodePageToken(toMillis(last.LastMessageAt), last.ID)
		page.Conversations = page.Conversations[:pageSize]
	}

	for i := range page.Conversations {
		participants, err := s.listParticipants(ctx, page.Conversations[i].ID)
		if err != nil {
			return storage.ConversationPage{}, err
		}
		page.Conversations[i].Participants = participants
	}
	return page, nil
}

func encodePageToken(millis int64, conversationID string) string {
	raw := strconv.FormatInt(millis, 10) + ":" + conversationID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePageToken(token string) (int64, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, "", storage.ErrInvalidPageToken
	}
	millisPart, idPart, ok := strings.Cut(string(raw), ":")
	if !ok {
		return 0, "", storage.ErrInvalidPageToken
	}
	millis, err := strconv.ParseInt(millisPart, 10, 64)
	if err != nil {
		return 0, "", storage.ErrInvalidPageToken
	}
	return millis, idPart, nil
}

// AppendMessage reserves the next sequence number and persists the message
// plus one pending delivery row per recipient, in a single transaction.
func (s *Store) AppendMessage(ctx context.Context, message storage.MessageRecord, recipients []string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID := strings.TrimSpace(message.ConversationID)
	if conversationID == "" {
		return storage.MessageRecord{}, fmt.Errorf("conversation id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.MessageRecord{}, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Incrementing the counter first makes the transaction take the write
	// lock immediately, so concurrent appends queue on the busy timeout
	// instead of failing on a deferred snapshot upgrade.
	var (
		newSeq        int64
		lastMessageAt int64
	)
	row := tx.QueryRowContext(
		ctx,
		`UPDATE conversations SET last_seq = last_seq + 1 WHERE id = ?
		 RETURNING last_seq, last_message_at`,
		conversationID,
	)
	if err := row.Scan(&newSeq, &lastMessageAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MessageRecord{}, storage.ErrNotFound
		}
		return storage.MessageRecord{}, fmt.Errorf("advance sequence counter: %w", err)
	}

	message.ConversationID = conversationID
	message.Seq = newSeq
	// Server timestamps never regress within a conversation even if the
	// wall clock does.
	createdAtMillis := toMillis(message.CreatedAt)
	if createdAtMillis < lastMessageAt {
		createdAtMillis = lastMessageAt
	}
	message.CreatedAt = fromMillis(createdAtMillis)

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO messages (conversation_id, seq, id, sender_id, content, idempotency_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		message.ConversationID,
		message.Seq,
		message.ID,
		message.SenderID,
		message.Content,
		strings.TrimSpace(message.IdempotencyToken),
		createdAtMillis,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.MessageRecord{}, storage.ErrConflict
		}
		return storage.MessageRecord{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		createdAtMillis,
		conversationID,
	); err != nil {
		return storage.MessageRecord{}, fmt.Errorf("advance last message time: %w", err)
	}

	for _, recipient := range recipients {
		recipient = strings.TrimSpace(recipient)
		if recipient == "" {
			continue
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO message_deliveries
			 (conversation_id, seq, recipient_user_id, status, attempt_count, next_attempt_at, last_error, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, '', ?, ?)`,
			message.ConversationID,
			message.Seq,
			recipient,
			string(storage.DeliveryStatusPending),
			createdAtMillis,
			createdAtMillis,
			createdAtMillis,
		); err != nil {
			return storage.MessageRecord{}, fmt.Errorf("insert delivery for %s: %w", recipient, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.MessageRecord{}, fmt.Errorf("commit append: %w", err)
	}
	return message, nil
}

// GetMessageByToken returns the message previously appended with an idempotency token.
func (s *Store) GetMessageByToken(ctx context.Context, conversationID string, token string) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	token = strings.TrimSpace(token)
	if conversationID == "" || token == "" {
		return storage.MessageRecord{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT conversation_id, seq, id, sender_id, content, idempotency_token, created_at
		 FROM messages
		 WHERE conversation_id = ? AND idempotency_token = ?`,
		conversationID,
		token,
	)
	return scanMessage(row)
}

// GetMessage returns one message by conversation and sequence number.
func (s *Store) GetMessage(ctx context.Context, conversationID string, seq int64) (storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MessageRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT conversation_id, seq, id, sender_id, content, idempotency_token, created_at
		 FROM messages
		 WHERE conversation_id = ? AND seq = ?`,
		strings.TrimSpace(conversationID),
		seq,
	)
	return scanMessage(row)
}

func scanMessage(row rowScanner) (storage.MessageRecord, error) {
	var (
		record    storage.MessageRecord
		createdAt int64
	)
	err := row.Scan(
		&record.ConversationID,
		&record.Seq,
		&record.ID,
		&record.SenderID,
		&record.Content,
		&record.IdempotencyToken,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MessageRecord{}, storage.ErrNotFound
		}
		return storage.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// ListMessagesSince returns messages with seq > afterSeq in ascending order.
func (s *Store) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int, filter storage.MessageFilter) ([]storage.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, fmt.Errorf("conversation id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	query := `SELECT conversation_id, seq, id, sender_id, content, idempotency_token, created_at
		 FROM messages
		 WHERE conversation_id = ? AND seq > ?`
	args := []any{conversationID, afterSeq}
	if strings.TrimSpace(filter.Clause) != "" {
		query += ` AND (` + filter.Clause + `)`
		args = append(args, filter.Params...)
	}
	query += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]storage.MessageRecord, 0, limit)
	for rows.Next() {
		record, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// CountMessagesAfter counts messages with seq > afterSeq.
func (s *Store) CountMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND seq > ?`,
		strings.TrimSpace(conversationID),
		afterSeq,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// GetCursor returns one participant read cursor.
func (s *Store) GetCursor(ctx context.Context, conversationID string, userID string) (storage.CursorRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CursorRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CursorRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT conversation_id, user_id, last_read_seq, updated_at
		 FROM read_cursors
		 WHERE conversation_id = ? AND user_id = ?`,
		strings.TrimSpace(conversationID),
		strings.TrimSpace(userID),
	)
	var (
		record    storage.CursorRecord
		updatedAt int64
	)
	err := row.Scan(&record.ConversationID, &record.UserID, &record.LastReadSeq, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CursorRecord{}, storage.ErrNotFound
		}
		return storage.CursorRecord{}, fmt.Errorf("get cursor: %w", err)
	}
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// AdvanceCursor moves the read cursor forward to seq, never backward.
func (s *Store) AdvanceCursor(ctx context.Context, conversationID string, userID string, seq int64, now time.Time) (storage.CursorRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CursorRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CursorRecord{}, fmt.Errorf("storage is not configured")
	}
	conversationID = strings.TrimSpace(conversationID)
	userID = strings.TrimSpace(userID)
	if conversationID == "" || userID == "" {
		return storage.CursorRecord{}, fmt.Errorf("conversation id and user id are required")
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO read_cursors (conversation_id, user_id, last_read_seq, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, user_id) DO UPDATE SET
		   last_read_seq = MAX(last_read_seq, excluded.last_read_seq),
		   updated_at = excluded.updated_at`,
		conversationID,
		userID,
		seq,
		toMillis(now),
	)
	if err != nil {
		return storage.CursorRecord{}, fmt.Errorf("advance cursor: %w", err)
	}
	return s.GetCursor(ctx, conversationID, userID)
}

// ListPendingDeliveries returns due pending deliveries ordered by next attempt time.
func (s *Store) ListPendingDeliveries(ctx context.Context, limit int, now time.Time) ([]storage.DeliveryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT conversation_id, seq, recipient_user_id, status, attempt_count, next_attempt_at, last_error, created_at, updated_at, delivered_at
		 FROM message_deliveries
		 WHERE status = ? AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC
		 LIMIT ?`,
		string(storage.DeliveryStatusPending),
		toMillis(now),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []storage.DeliveryRecord
	for rows.Next() {
		var (
			record        storage.DeliveryRecord
			status        string
			nextAttemptAt int64
			createdAt     int64
			updatedAt     int64
			deliveredAt   sql.NullInt64
		)
		if err := rows.Scan(
			&record.ConversationID,
			&record.Seq,
			&record.RecipientUserID,
			&status,
			&record.AttemptCount,
			&nextAttemptAt,
			&record.LastError,
			&createdAt,
			&updatedAt,
			&deliveredAt,
		); err != nil {
			return nil, fmt.Errorf("list pending deliveries: %w", err)
		}
		record.Status = storage.DeliveryStatus(status)
		record.NextAttemptAt = fromMillis(nextAttemptAt)
		record.CreatedAt = fromMillis(createdAt)
		record.UpdatedAt = fromMillis(updatedAt)
		if deliveredAt.Valid {
			value := fromMillis(deliveredAt.Int64)
			record.DeliveredAt = &value
		}
		deliveries = append(deliveries, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	return deliveries, nil
}

// MarkDeliveryRetry reschedules one delivery after a failed attempt.
func (s *Store) MarkDeliveryRetry(ctx context.Context, conversationID string, seq int64, recipientUserID string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	return s.updateDelivery(
		ctx,
		conversationID, seq, recipientUserID,
		`status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?`,
		string(storage.DeliveryStatusPending),
		attemptCount,
		toMillis(nextAttemptAt),
		lastError,
		toMillis(nextAttemptAt),
	)
}

// MarkDeliverySucceeded finalizes one delivery as delivered.
func (s *Store) MarkDeliverySucceeded(ctx context.Context, conversationID string, seq int64, recipientUserID string, deliveredAt time.Time) error {
	return s.updateDelivery(
		ctx,
		conversationID, seq, recipientUserID,
		`status = ?, delivered_at = ?, updated_at = ?`,
		string(storage.DeliveryStatusDelivered),
		toMillis(deliveredAt),
		toMillis(deliveredAt),
	)
}

// MarkDeliveryFailed records one delivery as exhausted.
func (s *Store) MarkDeliveryFailed(ctx context.Context, conversationID string, seq int64, recipientUserID string, attemptCount int, lastError string) error {
	return s.updateDelivery(
		ctx,
		conversationID, seq, recipientUserID,
		`status = ?, attempt_count = ?, last_error = ?, updated_at = ?`,
		string(storage.DeliveryStatusFailed),
		attemptCount,
		lastError,
		toMillis(time.Now()),
	)
}

func (s *Store) updateDelivery(ctx context.Context, conversationID string, seq int64, recipientUserID string, set string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	args = append(args, strings.TrimSpace(conversationID), seq, strings.TrimSpace(recipientUserID))
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE message_deliveries SET `+set+`
		 WHERE conversation_id = ? AND seq = ? AND recipient_user_id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var (
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.MessageStore      = (*Store)(nil)
	_ storage.CursorStore       = (*Store)(nil)
	_ storage.DeliveryStore     = (*Store)(nil)
)
