// Package domain implements conversation registry, message log, and
// read-model behavior over the storage boundary.
package domain

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
	"github.com/louisbranch/courier.space/internal/platform/id"
	"github.com/louisbranch/courier.space/internal/platform/pagination"
	"github.com/louisbranch/courier.space/internal/services/messaging/filter"
	"github.com/louisbranch/courier.space/internal/services/messaging/identity"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var tracer = otel.Tracer("courier.space/messaging")

// AppendEvent notifies listeners that one message was durably persisted.
type AppendEvent struct {
	Message    storage.MessageRecord
	Recipients []string
}

// AppendListener receives append events after commit. Handlers must not
// block; delivery state is already persisted when the event fires.
type AppendListener interface {
	MessageAppended(event AppendEvent)
}

// Store is the persistence surface the domain service depends on.
type Store interface {
	storage.ConversationStore
	storage.MessageStore
	storage.CursorStore
}

// Service orchestrates conversation and message lifecycle behavior.
type Service struct {
	store    Store
	resolver identity.Resolver
	listener AppendListener
	clock    func() time.Time
	newID    func() (string, error)
}

// NewService constructs messaging domain use-cases.
func NewService(store Store, resolver identity.Resolver, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    store,
		resolver: resolver,
		clock:    clock,
		newID:    newID,
	}
}

// SetAppendListener registers the fan-out hook invoked after each append.
func (s *Service) SetAppendListener(listener AppendListener) {
	s.listener = listener
}

// CreateConversationInput describes one conversation creation request.
type CreateConversationInput struct {
	ParticipantIDs []string
	Kind           storage.ConversationKind
	// ForceNew skips direct-pair deduplication and always opens a new thread.
	ForceNew bool
}

// CreateConversation validates participants and persists a conversation.
// Direct conversations deduplicate on the normalized participant pair: a
// concurrent create for the same pair returns the winner instead of failing.
func (s *Service) CreateConversation(ctx context.Context, input CreateConversationInput) (storage.ConversationRecord, error) {
	participants := normalizeParticipants(input.ParticipantIDs)
	if len(participants) == 0 {
		return storage.ConversationRecord{}, apperrors.New(apperrors.CodeEmptyParticipantSet, "participant set is empty")
	}

	switch input.Kind {
	case storage.KindDirect:
		if len(participants) != 2 {
			return storage.ConversationRecord{}, apperrors.New(apperrors.CodeDirectPairRequired, "direct conversations require exactly two participants")
		}
	case storage.KindGroup:
		if len(participants) < 2 {
			return storage.ConversationRecord{}, apperrors.New(apperrors.CodeParticipantSetSmall, "group conversations require at least two participants")
		}
	default:
		return storage.ConversationRecord{}, apperrors.WithMetadata(
			apperrors.CodeConversationKindInvalid,
			"unknown conversation kind",
			map[string]string{"kind": string(input.Kind)},
		)
	}

	for _, userID := range participants {
		resolved, err := s.resolve(ctx, userID)
		if err != nil {
			return storage.ConversationRecord{}, err
		}
		if !resolved.Exists {
			return storage.ConversationRecord{}, apperrors.WithMetadata(
				apperrors.CodeUnknownParticipant,
				"participant does not exist",
				map[string]string{"user_id": userID},
			)
		}
		if !resolved.Active {
			return storage.ConversationRecord{}, apperrors.WithMetadata(
				apperrors.CodeParticipantInactive,
				"participant is inactive",
				map[string]string{"user_id": userID},
			)
		}
	}

	pairKey := ""
	if input.Kind == storage.KindDirect && !input.ForceNew {
		pairKey = strings.Join(participants, "|")
		existing, err := s.store.GetConversationByPairKey(ctx, pairKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.ConversationRecord{}, mapStorageError(err)
		}
	}

	conversationID, err := s.newID()
	if err != nil {
		return storage.ConversationRecord{}, err
	}
	record := storage.ConversationRecord{
		ID:            conversationID,
		Kind:          input.Kind,
		PairKey:       pairKey,
		Participants:  participants,
		LastMessageAt: s.nowUTC(),
		CreatedAt:     s.nowUTC(),
	}
	if err := s.store.CreateConversation(ctx, record); err != nil {
		// Two first-message attempts can race on the pair key; the loser
		// re-reads and returns the winner.
		if pairKey != "" && errors.Is(err, storage.ErrConflict) {
			existing, lookupErr := s.store.GetConversationByPairKey(ctx, pairKey)
			if lookupErr == nil {
				return existing, nil
			}
			return storage.ConversationRecord{}, mapStorageError(lookupErr)
		}
		return storage.ConversationRecord{}, mapStorageError(err)
	}
	return record, nil
}

// GetConversation returns one conversation by id.
func (s *Service) GetConversation(ctx context.Context, conversationID string) (storage.ConversationRecord, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return storage.ConversationRecord{}, apperrors.New(apperrors.CodeConversationIDRequired, "conversation id is required")
	}
	record, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ConversationRecord{}, apperrors.New(apperrors.CodeConversationNotFound, "conversation not found")
		}
		return storage.ConversationRecord{}, mapStorageError(err)
	}
	return record, nil
}

// IsParticipant reports whether userID belongs to the conversation. This is
// the sole authorization primitive of the engine.
func (s *Service) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	ok, err := s.store.IsParticipant(ctx, strings.TrimSpace(conversationID), strings.TrimSpace(userID))
	if err != nil {
		return false, mapStorageError(err)
	}
	return ok, nil
}

// AppendInput describes one message append request.
type AppendInput struct {
	ConversationID   string
	SenderID         string
	Content          string
	IdempotencyToken string
}

// Append persists one message with the next sequence number for the
// conversation. Re-submitting with a previously used idempotency token
// returns the original message without consuming a new sequence number.
func (s *Service) Append(ctx context.Context, input AppendInput) (storage.MessageRecord, error) {
	ctx, span := tracer.Start(ctx, "messaging.Append", trace.WithAttributes(
		attribute.String("conversation.id", input.ConversationID),
	))
	defer span.End()

	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return storage.MessageRecord{}, apperrors.New(apperrors.CodeConversationIDRequired, "conversation id is required")
	}
	senderID := strings.TrimSpace(input.SenderID)
	if senderID == "" {
		return storage.MessageRecord{}, apperrors.New(apperrors.CodeSenderRequired, "sender id is required")
	}
	if strings.TrimSpace(input.Content) == "" {
		return storage.MessageRecord{}, apperrors.New(apperrors.CodeEmptyContent, "message content is empty")
	}

	// The sender must currently be a participant; missing conversations are
	// indistinguishable from foreign ones on purpose.
	isMember, err := s.IsParticipant(ctx, conversationID, senderID)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	if !isMember {
		return storage.MessageRecord{}, apperrors.New(apperrors.CodeNotParticipant, "sender is not a participant")
	}

	token := strings.TrimSpace(input.IdempotencyToken)
	if token != "" {
		existing, err := s.store.GetMessageByToken(ctx, conversationID, token)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return storage.MessageRecord{}, mapStorageError(err)
		}
	}

	conversation, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return storage.MessageRecord{}, err
	}
	recipients := make([]string, 0, len(conversation.Participants)-1)
	for _, participant := range conversation.Participants {
		if participant != senderID {
			recipients = append(recipients, participant)
		}
	}

	messageID, err := s.newID()
	if err != nil {
		return storage.MessageRecord{}, err
	}
	record := storage.MessageRecord{
		ID:               messageID,
		ConversationID:   conversationID,
		SenderID:         senderID,
		Content:          input.Content,
		IdempotencyToken: token,
		CreatedAt:        s.nowUTC(),
	}

	appended, err := s.store.AppendMessage(ctx, record, recipients)
	if err != nil {
		// A concurrent retry with the same token lost the race; return the
		// winner unchanged.
		if token != "" && errors.Is(err, storage.ErrConflict) {
			existing, lookupErr := s.store.GetMessageByToken(ctx, conversationID, token)
			if lookupErr == nil {
				return existing, nil
			}
			return storage.MessageRecord{}, mapStorageError(lookupErr)
		}
		return storage.MessageRecord{}, mapStorageError(err)
	}

	span.SetAttributes(attribute.Int64("message.seq", appended.Seq))
	if s.listener != nil {
		s.listener.MessageAppended(AppendEvent{Message: appended, Recipients: recipients})
	}
	return appended, nil
}

// ListSinceInput configures an ordered message listing.
type ListSinceInput struct {
	ConversationID string
	AfterSeq       int64
	Limit          int
	Filter         string
}

// ListSince returns messages with seq > AfterSeq in ascending sequence
// order, capped at Limit. A zero Limit means the caller omitted it and gets
// the default page size; negative limits and limits above the maximum are
// rejected with InvalidPageSize.
func (s *Service) ListSince(ctx context.Context, input ListSinceInput) ([]storage.MessageRecord, error) {
	conversationID := strings.TrimSpace(input.ConversationID)
	if conversationID == "" {
		return nil, apperrors.New(apperrors.CodeConversationIDRequired, "conversation id is required")
	}
	if input.AfterSeq < 0 {
		return nil, apperrors.WithMetadata(
			apperrors.CodeInvalidSequence,
			"after_seq must not be negative",
			map[string]string{"seq": strconv.FormatInt(input.AfterSeq, 10)},
		)
	}
	limit, err := pagination.NormalizePageSize(input.Limit, pagination.PageSizeConfig{
		Default: defaultPageSize,
		Max:     maxPageSize,
	})
	if err != nil {
		return nil, err
	}

	condition, err := filter.ParseMessageFilter(input.Filter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidFilter, "invalid message filter", err)
	}

	messages, err := s.store.ListMessagesSince(ctx, conversationID, input.AfterSeq, limit, condition)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return messages, nil
}

// ListMessagesInput configures a participant-gated message listing.
type ListMessagesInput struct {
	ConversationID string
	RequesterID    string
	AfterSeq       int64
	Limit          int
	Filter         string
}

// ListMessages is ListSince behind the participant authorization gate.
func (s *Service) ListMessages(ctx context.Context, input ListMessagesInput) ([]storage.MessageRecord, error) {
	requesterID := strings.TrimSpace(input.RequesterID)
	if requesterID == "" {
		return nil, apperrors.New(apperrors.CodeRequesterRequired, "requester id is required")
	}
	isMember, err := s.IsParticipant(ctx, input.ConversationID, requesterID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, apperrors.New(apperrors.CodeForbidden, "requester is not a participant")
	}
	return s.ListSince(ctx, ListSinceInput{
		ConversationID: input.ConversationID,
		AfterSeq:       input.AfterSeq,
		Limit:          input.Limit,
		Filter:         input.Filter,
	})
}

// ListConversationsInput configures a paged conversation listing.
type ListConversationsInput struct {
	UserID    string
	PageSize  int
	PageToken string
}

// ListConversations returns the user's conversations, most recent message
// first, with an opaque keyset cursor.
func (s *Service) ListConversations(ctx context.Context, input ListConversationsInput) (storage.ConversationPage, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return storage.ConversationPage{}, apperrors.New(apperrors.CodeRequesterRequired, "user id is required")
	}
	pageSize, err := pagination.NormalizePageSize(input.PageSize, pagination.PageSizeConfig{
		Default: defaultPageSize,
		Max:     maxPageSize,
	})
	if err != nil {
		return storage.ConversationPage{}, err
	}

	page, err := s.store.ListConversationsByParticipant(ctx, userID, pageSize, strings.TrimSpace(input.PageToken))
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPageToken) {
			return storage.ConversationPage{}, apperrors.New(apperrors.CodeInvalidPageToken, "invalid page token")
		}
		return storage.ConversationPage{}, mapStorageError(err)
	}
	return page, nil
}

// MarkReadInput identifies one read acknowledgement.
type MarkReadInput struct {
	ConversationID string
	UserID         string
	Seq            int64
}

// MarkRead advances the participant's read cursor to Seq. The cursor is
// monotonic: a smaller Seq than the current cursor leaves it unchanged.
func (s *Service) MarkRead(ctx context.Context, input MarkReadInput) (storage.CursorRecord, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return storage.CursorRecord{}, apperrors.New(apperrors.CodeRequesterRequired, "user id is required")
	}
	isMember, err := s.IsParticipant(ctx, input.ConversationID, userID)
	if err != nil {
		return storage.CursorRecord{}, err
	}
	if !isMember {
		return storage.CursorRecord{}, apperrors.New(apperrors.CodeForbidden, "user is not a participant")
	}

	conversation, err := s.GetConversation(ctx, input.ConversationID)
	if err != nil {
		return storage.CursorRecord{}, err
	}
	if input.Seq < 0 || input.Seq > conversation.LastSeq {
		return storage.CursorRecord{}, apperrors.WithMetadata(
			apperrors.CodeInvalidSequence,
			"sequence exceeds the conversation log",
			map[string]string{"seq": strconv.FormatInt(input.Seq, 10)},
		)
	}

	cursor, err := s.store.AdvanceCursor(ctx, conversation.ID, userID, input.Seq, s.nowUTC())
	if err != nil {
		return storage.CursorRecord{}, mapStorageError(err)
	}
	return cursor, nil
}

// UnreadCount returns the number of messages past the participant's cursor.
// A participant who never read counts every message.
func (s *Service) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.New(apperrors.CodeRequesterRequired, "user id is required")
	}
	isMember, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if !isMember {
		return 0, apperrors.New(apperrors.CodeForbidden, "user is not a participant")
	}

	var afterSeq int64
	cursor, err := s.store.GetCursor(ctx, strings.TrimSpace(conversationID), userID)
	if err == nil {
		afterSeq = cursor.LastReadSeq
	} else if !errors.Is(err, storage.ErrNotFound) {
		return 0, mapStorageError(err)
	}

	count, err := s.store.CountMessagesAfter(ctx, strings.TrimSpace(conversationID), afterSeq)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return count, nil
}

func (s *Service) resolve(ctx context.Context, userID string) (identity.Identity, error) {
	if s.resolver == nil {
		return identity.Identity{}, apperrors.New(apperrors.CodeUnknown, "identity resolver is not configured")
	}
	resolved, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		return identity.Identity{}, mapStorageError(err)
	}
	return resolved, nil
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func normalizeParticipants(participantIDs []string) []string {
	seen := make(map[string]struct{}, len(participantIDs))
	normalized := make([]string, 0, len(participantIDs))
	for _, userID := range participantIDs {
		userID = strings.TrimSpace(userID)
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		normalized = append(normalized, userID)
	}
	sort.Strings(normalized)
	return normalized
}

func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.CodeTimeout, "persistence deadline exceeded", err)
	}
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, "record not found", err)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.Wrap(apperrors.CodeConflict, "record conflict", err)
	}
	return apperrors.Wrap(apperrors.CodeUnknown, "storage failure", err)
}
