package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/courier.space/internal/services/messaging/domain"
	"github.com/louisbranch/courier.space/internal/services/messaging/identity"
	"github.com/louisbranch/courier.space/internal/services/messaging/notifier"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
	messagingsqlite "github.com/louisbranch/courier.space/internal/services/messaging/storage/sqlite"
)

func newTestHandler(t *testing.T) (http.Handler, *domain.Service, *streamHub) {
	t.Helper()
	store, err := messagingsqlite.Open(filepath.Join(t.TempDir(), "messaging.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	resolver := identity.StaticResolver{
		"user-a": true,
		"user-b": true,
		"user-c": true,
	}
	service := domain.NewService(store, resolver, nil, nil)
	hub := newStreamHub()
	return newHandler(service, hub, nil), service, hub
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func getPath(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func createTestConversation(t *testing.T, handler http.Handler) conversationPayload {
	t.Helper()
	recorder := postJSON(t, handler, "/v1/conversations", map[string]any{
		"participant_ids": []string{"user-a", "user-b"},
		"kind":            "direct",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("create conversation: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var payload conversationPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode conversation: %v", err)
	}
	return payload
}

func TestCreateConversationEndpoint(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestHandler(t)
	payload := createTestConversation(t, handler)
	if payload.ID == "" || payload.Kind != "direct" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if len(payload.Participants) != 2 {
		t.Fatalf("expected two participants, got %v", payload.Participants)
	}
}

func TestAppendAndListEndpoints(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestHandler(t)
	conversation := createTestConversation(t, handler)

	for i, content := range []string{"hello", "hi"} {
		sender := "user-a"
		if i == 1 {
			sender = "user-b"
		}
		recorder := postJSON(t, handler, "/v1/messages", map[string]any{
			"conversation_id": conversation.ID,
			"sender_id":       sender,
			"content":         content,
		})
		if recorder.Code != http.StatusOK {
			t.Fatalf("append %q: status %d body %s", content, recorder.Code, recorder.Body.String())
		}
	}

	recorder := getPath(t, handler, fmt.Sprintf("/v1/messages?conversation_id=%s&requester_id=user-a&after_seq=0", conversation.ID))
	if recorder.Code != http.StatusOK {
		t.Fatalf("list messages: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var listed struct {
		Messages []messagePayload `json:"messages"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(listed.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(listed.Messages))
	}
	if listed.Messages[0].Seq != 1 || listed.Messages[1].Seq != 2 {
		t.Fatalf("unexpected order: %+v", listed.Messages)
	}
}

func TestListMessagesForbiddenForOutsider(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestHandler(t)
	conversation := createTestConversation(t, handler)

	recorder := getPath(t, handler, fmt.Sprintf("/v1/messages?conversation_id=%s&requester_id=user-c", conversation.ID))
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", recorder.Code, recorder.Body.String())
	}
}

func TestMarkReadAndUnreadEndpoints(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestHandler(t)
	conversation := createTestConversation(t, handler)
	for i := 0; i < 3; i++ {
		recorder := postJSON(t, handler, "/v1/messages", map[string]any{
			"conversation_id": conversation.ID,
			"sender_id":       "user-a",
			"content":         "hello",
		})
		if recorder.Code != http.StatusOK {
			t.Fatalf("append %d: status %d", i, recorder.Code)
		}
	}

	recorder := postJSON(t, handler, "/v1/read", map[string]any{
		"conversation_id": conversation.ID,
		"user_id":         "user-b",
		"seq":             2,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("mark read: status %d body %s", recorder.Code, recorder.Body.String())
	}

	recorder = getPath(t, handler, fmt.Sprintf("/v1/conversations/%s/unread?user_id=user-b", conversation.ID))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unread: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var unread struct {
		Unread int `json:"unread"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &unread); err != nil {
		t.Fatalf("decode unread: %v", err)
	}
	if unread.Unread != 1 {
		t.Fatalf("expected 1 unread, got %d", unread.Unread)
	}
}

func TestErrorBodyCarriesLocalizedStatus(t *testing.T) {
	t.Parallel()

	handler, _, _ := newTestHandler(t)
	conversation := createTestConversation(t, handler)

	body, _ := json.Marshal(map[string]any{
		"conversation_id": conversation.ID,
		"sender_id":       "user-a",
		"content":         "",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", bytes.NewReader(body))
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}

	var st struct {
		Details []map[string]any `json:"details"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	var reason, locale string
	for _, detail := range st.Details {
		if value, ok := detail["reason"].(string); ok {
			reason = value
		}
		if value, ok := detail["locale"].(string); ok {
			locale = value
		}
	}
	if reason != "EMPTY_CONTENT" {
		t.Fatalf("expected EMPTY_CONTENT reason, got %q in %s", reason, recorder.Body.String())
	}
	if locale != "pt-BR" {
		t.Fatalf("expected pt-BR localized message, got %q", locale)
	}
}

func TestListConversationsEndpointPaginates(t *testing.T) {
	t.Parallel()

	handler, service, _ := newTestHandler(t)
	for i := 0; i < 3; i++ {
		if _, err := service.CreateConversation(context.Background(), domain.CreateConversationInput{
			ParticipantIDs: []string{"user-a", "user-b", "user-c"},
			Kind:           storage.KindGroup,
		}); err != nil {
			t.Fatalf("create group %d: %v", i, err)
		}
	}

	recorder := getPath(t, handler, "/v1/conversations?user_id=user-a&page_size=2")
	if recorder.Code != http.StatusOK {
		t.Fatalf("list conversations: status %d body %s", recorder.Code, recorder.Body.String())
	}
	var page struct {
		Conversations []conversationPayload `json:"conversations"`
		NextPageToken string                `json:"next_page_token"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Conversations) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected full first page with token, got %+v", page)
	}
}

func TestHubDeliverWithoutPeersSkips(t *testing.T) {
	t.Parallel()

	hub := newStreamHub()
	err := hub.Deliver(context.Background(), "user-b", storage.MessageRecord{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Seq:            1,
		CreatedAt:      time.Now().UTC(),
	})
	if err != notifier.ErrSkip {
		t.Fatalf("expected skip for offline recipient, got %v", err)
	}
}
