// Package storage defines persistence contracts for messaging service state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
	// ErrInvalidPageToken indicates a malformed or foreign page token.
	ErrInvalidPageToken = errors.New("invalid page token")
)

// ConversationKind identifies one conversation shape.
type ConversationKind string

const (
	// KindDirect is a two-party conversation deduplicated by pair key.
	KindDirect ConversationKind = "direct"
	// KindGroup is a multi-party conversation, never deduplicated.
	KindGroup ConversationKind = "group"
)

// DeliveryStatus identifies one delivery lifecycle state.
type DeliveryStatus string

const (
	// DeliveryStatusPending means the delivery is queued for processing.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusDelivered means the recipient sink accepted the message.
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	// DeliveryStatusFailed means retries are exhausted; kept for follow-up.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// ConversationRecord stores one conversation with its participant set.
type ConversationRecord struct {
	ID            string
	Kind          ConversationKind
	PairKey       string // normalized participant pair, direct conversations only
	Participants  []string
	LastSeq       int64
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// ConversationPage stores a paged conversation listing result.
type ConversationPage struct {
	Conversations []ConversationRecord
	NextPageToken string
}

// MessageRecord stores one appended message.
type MessageRecord struct {
	ID               string
	ConversationID   string
	Seq              int64
	SenderID         string
	Content          string
	IdempotencyToken string
	CreatedAt        time.Time
}

// CursorRecord stores one participant read high-water mark.
type CursorRecord struct {
	ConversationID string
	UserID         string
	LastReadSeq    int64
	UpdatedAt      time.Time
}

// DeliveryRecord stores one per-recipient delivery attempt state.
type DeliveryRecord struct {
	ConversationID  string
	Seq             int64
	RecipientUserID string
	Status          DeliveryStatus
	AttemptCount    int
	NextAttemptAt   time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeliveredAt     *time.Time
}

// MessageFilter is an optional SQL fragment restricting a message listing.
// Produced by the filter package from an AIP-160 expression.
type MessageFilter struct {
	Clause string
	Params []any
}

// ConversationStore persists conversation lifecycle and membership.
type ConversationStore interface {
	// CreateConversation persists a conversation with its participants.
	// Returns ErrConflict when the direct pair key already exists.
	CreateConversation(ctx context.Context, record ConversationRecord) error
	GetConversation(ctx context.Context, conversationID string) (ConversationRecord, error)
	GetConversationByPairKey(ctx context.Context, pairKey string) (ConversationRecord, error)
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	ListConversationsByParticipant(ctx context.Context, userID string, pageSize int, pageToken string) (ConversationPage, error)
}

// MessageStore persists the append-only, per-conversation ordered message log.
type MessageStore interface {
	// AppendMessage atomically reserves the next sequence number and
	// persists the message together with pending delivery rows for each
	// recipient. Returns ErrConflict when the idempotency token was
	// already used in the conversation.
	AppendMessage(ctx context.Context, message MessageRecord, recipients []string) (MessageRecord, error)
	GetMessageByToken(ctx context.Context, conversationID string, token string) (MessageRecord, error)
	ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int, filter MessageFilter) ([]MessageRecord, error)
	CountMessagesAfter(ctx context.Context, conversationID string, afterSeq int64) (int, error)
}

// CursorStore persists per-participant read cursors.
type CursorStore interface {
	GetCursor(ctx context.Context, conversationID string, userID string) (CursorRecord, error)
	// AdvanceCursor moves the cursor forward to seq, never backward.
	AdvanceCursor(ctx context.Context, conversationID string, userID string, seq int64, now time.Time) (CursorRecord, error)
}

// DeliveryStore persists per-recipient delivery attempt state.
type DeliveryStore interface {
	ListPendingDeliveries(ctx context.Context, limit int, now time.Time) ([]DeliveryRecord, error)
	MarkDeliveryRetry(ctx context.Context, conversationID string, seq int64, recipientUserID string, attemptCount int, nextAttemptAt time.Time, lastError string) error
	MarkDeliverySucceeded(ctx context.Context, conversationID string, seq int64, recipientUserID string, deliveredAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, conversationID string, seq int64, recipientUserID string, attemptCount int, lastError string) error
	GetMessage(ctx context.Context, conversationID string, seq int64) (MessageRecord, error)
}
