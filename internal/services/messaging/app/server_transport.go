package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
	"github.com/louisbranch/courier.space/internal/platform/errors/i18n"
	"github.com/louisbranch/courier.space/internal/platform/timeouts"
	"github.com/louisbranch/courier.space/internal/services/messaging/domain"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

func newHandler(service *domain.Service, hub *streamHub, grants *streamGrantVerifier) http.Handler {
	h := &transport{service: service, hub: hub, grants: grants}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/conversations", h.createConversation)
	mux.HandleFunc("GET /v1/conversations", h.listConversations)
	mux.HandleFunc("GET /v1/conversations/{id}", h.getConversation)
	mux.HandleFunc("GET /v1/conversations/{id}/unread", h.unreadCount)
	mux.HandleFunc("POST /v1/messages", h.appendMessage)
	mux.HandleFunc("GET /v1/messages", h.listMessages)
	mux.HandleFunc("POST /v1/read", h.markRead)
	mux.Handle("/v1/stream", h.streamHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

type transport struct {
	service *domain.Service
	hub     *streamHub
	grants  *streamGrantVerifier
}

type conversationPayload struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Participants  []string `json:"participant_ids"`
	LastSeq       int64    `json:"last_seq"`
	LastMessageAt string   `json:"last_message_at"`
	CreatedAt     string   `json:"created_at"`
}

type messagePayload struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Seq            int64  `json:"seq"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

type cursorPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	LastReadSeq    int64  `json:"last_read_seq"`
	UpdatedAt      string `json:"updated_at"`
}

func toConversationPayload(record storage.ConversationRecord) conversationPayload {
	return conversationPayload{
		ID:            record.ID,
		Kind:          string(record.Kind),
		Participants:  record.Participants,
		LastSeq:       record.LastSeq,
		LastMessageAt: record.LastMessageAt.UTC().Format(time.RFC3339Nano),
		CreatedAt:     record.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toMessagePayload(record storage.MessageRecord) messagePayload {
	return messagePayload{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Seq:            record.Seq,
		SenderID:       record.SenderID,
		Content:        record.Content,
		CreatedAt:      record.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (t *transport) createConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids"`
		Kind           string   `json:"kind"`
		ForceNew       bool     `json:"force_new"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	record, err := t.service.CreateConversation(ctx, domain.CreateConversationInput{
		ParticipantIDs: req.ParticipantIDs,
		Kind:           storage.ConversationKind(req.Kind),
		ForceNew:       req.ForceNew,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationPayload(record))
}

func (t *transport) getConversation(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	record, err := t.service.GetConversation(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationPayload(record))
}

func (t *transport) listConversations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize, ok := intQueryParam(w, r, query.Get("page_size"), "page_size")
	if !ok {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	page, err := t.service.ListConversations(ctx, domain.ListConversationsInput{
		UserID:    query.Get("user_id"),
		PageSize:  pageSize,
		PageToken: query.Get("page_token"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload := struct {
		Conversations []conversationPayload `json:"conversations"`
		NextPageToken string                `json:"next_page_token,omitempty"`
	}{
		Conversations: make([]conversationPayload, 0, len(page.Conversations)),
		NextPageToken: page.NextPageToken,
	}
	for _, record := range page.Conversations {
		payload.Conversations = append(payload.Conversations, toConversationPayload(record))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (t *transport) appendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID   string `json:"conversation_id"`
		SenderID         string `json:"sender_id"`
		Content          string `json:"content"`
		IdempotencyToken string `json:"idempotency_token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	record, err := t.service.Append(ctx, domain.AppendInput{
		ConversationID:   req.ConversationID,
		SenderID:         req.SenderID,
		Content:          req.Content,
		IdempotencyToken: req.IdempotencyToken,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessagePayload(record))
}

func (t *transport) listMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	afterSeq, ok := int64QueryParam(w, r, query.Get("after_seq"), "after_seq")
	if !ok {
		return
	}
	limit, ok := intQueryParam(w, r, query.Get("limit"), "limit")
	if !ok {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	records, err := t.service.ListMessages(ctx, domain.ListMessagesInput{
		ConversationID: query.Get("conversation_id"),
		RequesterID:    query.Get("requester_id"),
		AfterSeq:       afterSeq,
		Limit:          limit,
		Filter:         query.Get("filter"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload := struct {
		Messages []messagePayload `json:"messages"`
	}{Messages: make([]messagePayload, 0, len(records))}
	for _, record := range records {
		payload.Messages = append(payload.Messages, toMessagePayload(record))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (t *transport) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
		UserID         string `json:"user_id"`
		Seq            int64  `json:"seq"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := requestContext(r)
	defer cancel()
	cursor, err := t.service.MarkRead(ctx, domain.MarkReadInput{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Seq:            req.Seq,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cursorPayload{
		ConversationID: cursor.ConversationID,
		UserID:         cursor.UserID,
		LastReadSeq:    cursor.LastReadSeq,
		UpdatedAt:      cursor.UpdatedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (t *transport) unreadCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	count, err := t.service.UnreadCount(ctx, r.PathValue("id"), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Unread int `json:"unread"`
	}{Unread: count})
}

func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeouts.Persistence)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := decoder.Decode(dst); err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed request body", err))
		return false
	}
	return true
}

func intQueryParam(w http.ResponseWriter, r *http.Request, raw string, name string) (int, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"query parameter must be an integer",
			map[string]string{"param": name},
		))
		return 0, false
	}
	return value, true
}

func int64QueryParam(w http.ResponseWriter, r *http.Request, raw string, name string) (int64, bool) {
	if strings.TrimSpace(raw) == "" {
		return 0, true
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, apperrors.WithMetadata(
			apperrors.CodeInvalidArgument,
			"query parameter must be an integer",
			map[string]string{"param": name},
		))
		return 0, false
	}
	return value, true
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// writeError renders a google.rpc.Status body with ErrorInfo and a
// LocalizedMessage matched against the Accept-Language header.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	domainErr, ok := err.(*apperrors.Error)
	if !ok {
		domainErr = apperrors.Wrap(apperrors.CodeUnknown, "internal error", err)
	}

	catalog := i18n.GetCatalog(requestLocale(r))
	userMessage := catalog.Format(string(domainErr.Code), domainErr.Metadata)
	st := domainErr.ToStatus(catalog.Locale(), userMessage)

	body, marshalErr := protojson.Marshal(st.Proto())
	if marshalErr != nil {
		http.Error(w, userMessage, domainErr.HTTPStatus())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainErr.HTTPStatus())
	if _, writeErr := w.Write(body); writeErr != nil {
		log.Printf("write error response: %v", writeErr)
	}
}

func errorCode(err error) string {
	return string(apperrors.CodeOf(err))
}

func requestLocale(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return i18n.BaseLocale
	}
	// Take the first language range; quality weights are ignored.
	first := strings.Split(header, ",")[0]
	if i := strings.Index(first, ";"); i >= 0 {
		first = first[:i]
	}
	return strings.TrimSpace(first)
}
