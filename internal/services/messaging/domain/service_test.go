package domain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/courier.space/internal/platform/errors"
	"github.com/louisbranch/courier.space/internal/services/messaging/identity"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage/sqlite"
)

type recordingListener struct {
	mu     sync.Mutex
	events []AppendEvent
}

func (l *recordingListener) MessageAppended(event AppendEvent) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *recordingListener) all() []AppendEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AppendEvent(nil), l.events...)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "messaging.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	resolver := identity.StaticResolver{
		"user-a":        true,
		"user-b":        true,
		"user-c":        true,
		"user-inactive": false,
	}

	var mu sync.Mutex
	counter := 0
	newID := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("id-%04d", counter), nil
	}
	clock := func() time.Time {
		return time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	}
	return NewService(store, resolver, clock, newID)
}

func mustCreateDirect(t *testing.T, service *Service, a, b string) storage.ConversationRecord {
	t.Helper()
	record, err := service.CreateConversation(context.Background(), CreateConversationInput{
		ParticipantIDs: []string{a, b},
		Kind:           storage.KindDirect,
	})
	if err != nil {
		t.Fatalf("create direct conversation: %v", err)
	}
	return record
}

func expectCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if got := apperrors.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func TestCreateConversationValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateConversationInput
		code  apperrors.Code
	}{
		{
			name:  "empty participant set",
			input: CreateConversationInput{Kind: storage.KindDirect},
			code:  apperrors.CodeEmptyParticipantSet,
		},
		{
			name: "direct with three participants",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-b", "user-c"},
				Kind:           storage.KindDirect,
			},
			code: apperrors.CodeDirectPairRequired,
		},
		{
			name: "direct with duplicate participant",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-a"},
				Kind:           storage.KindDirect,
			},
			code: apperrors.CodeDirectPairRequired,
		},
		{
			name: "group with one participant",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a"},
				Kind:           storage.KindGroup,
			},
			code: apperrors.CodeParticipantSetSmall,
		},
		{
			name: "unknown kind",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-b"},
				Kind:           storage.ConversationKind("broadcast"),
			},
			code: apperrors.CodeConversationKindInvalid,
		},
		{
			name: "unknown participant",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-ghost"},
				Kind:           storage.KindDirect,
			},
			code: apperrors.CodeUnknownParticipant,
		},
		{
			name: "inactive participant",
			input: CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-inactive"},
				Kind:           storage.KindDirect,
			},
			code: apperrors.CodeParticipantInactive,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreateConversation(ctx, tc.input)
			expectCode(t, err, tc.code)
		})
	}
}

func TestCreateConversationInactiveParticipantMetadata(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	_, err := service.CreateConversation(context.Background(), CreateConversationInput{
		ParticipantIDs: []string{"user-a", "user-inactive"},
		Kind:           storage.KindDirect,
	})
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected domain error, got %v", err)
	}
	if domainErr.Metadata["user_id"] != "user-inactive" {
		t.Fatalf("expected offending user id in metadata, got %+v", domainErr.Metadata)
	}
}

func TestCreateConversationDirectDeduplicates(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	first := mustCreateDirect(t, service, "user-a", "user-b")
	// Reversed order resolves to the same normalized pair.
	second := mustCreateDirect(t, service, "user-b", "user-a")
	if first.ID != second.ID {
		t.Fatalf("expected deduplicated conversation, got %s and %s", first.ID, second.ID)
	}
}

func TestCreateConversationForceNewSkipsDedupe(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	first := mustCreateDirect(t, service, "user-a", "user-b")
	second, err := service.CreateConversation(context.Background(), CreateConversationInput{
		ParticipantIDs: []string{"user-a", "user-b"},
		Kind:           storage.KindDirect,
		ForceNew:       true,
	})
	if err != nil {
		t.Fatalf("create force new: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected a distinct conversation for force_new")
	}
}

func TestCreateConversationGroupsNeverDeduplicate(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	ctx := context.Background()
	input := CreateConversationInput{
		ParticipantIDs: []string{"user-a", "user-b", "user-c"},
		Kind:           storage.KindGroup,
	}
	first, err := service.CreateConversation(ctx, input)
	if err != nil {
		t.Fatalf("create first group: %v", err)
	}
	second, err := service.CreateConversation(ctx, input)
	if err != nil {
		t.Fatalf("create second group: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct group conversations")
	}
}

func TestCreateConversationConcurrentDirectYieldsOne(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	const attempts = 8
	results := make([]string, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, err := service.CreateConversation(context.Background(), CreateConversationInput{
				ParticipantIDs: []string{"user-a", "user-b"},
				Kind:           storage.KindDirect,
			})
			results[i] = record.ID
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent create %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("expected one winner, got %s and %s", results[0], results[i])
		}
	}
}

func TestAppendConcurrentSendersGetDistinctSequences(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")

	const senders = 10
	results := make([]storage.MessageRecord, senders)
	errs := make([]error, senders)

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = service.Append(context.Background(), AppendInput{
				ConversationID: conversation.ID,
				SenderID:       "user-a",
				Content:        fmt.Sprintf("message %d", i),
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]struct{}, senders)
	for i := 0; i < senders; i++ {
		if errs[i] != nil {
			t.Fatalf("concurrent append %d: %v", i, errs[i])
		}
		if _, ok := seen[results[i].Seq]; ok {
			t.Fatalf("sequence %d assigned twice", results[i].Seq)
		}
		seen[results[i].Seq] = struct{}{}
	}
	for seq := int64(1); seq <= senders; seq++ {
		if _, ok := seen[seq]; !ok {
			t.Fatalf("sequence %d was never assigned", seq)
		}
	}
}

func TestAppendAssignsStrictlyIncreasingSequences(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")

	var lastSeq int64
	for i := 0; i < 5; i++ {
		appended, err := service.Append(context.Background(), AppendInput{
			ConversationID: conversation.ID,
			SenderID:       "user-a",
			Content:        fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if appended.Seq != lastSeq+1 {
			t.Fatalf("expected seq %d, got %d", lastSeq+1, appended.Seq)
		}
		lastSeq = appended.Seq
	}
}

func TestAppendValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	_, err := service.Append(ctx, AppendInput{SenderID: "user-a", Content: "x"})
	expectCode(t, err, apperrors.CodeConversationIDRequired)

	_, err = service.Append(ctx, AppendInput{ConversationID: conversation.ID, Content: "x"})
	expectCode(t, err, apperrors.CodeSenderRequired)

	_, err = service.Append(ctx, AppendInput{ConversationID: conversation.ID, SenderID: "user-a", Content: "   "})
	expectCode(t, err, apperrors.CodeEmptyContent)
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")

	_, err := service.Append(context.Background(), AppendInput{
		ConversationID: conversation.ID,
		SenderID:       "user-c",
		Content:        "let me in",
	})
	expectCode(t, err, apperrors.CodeNotParticipant)
}

func TestAppendMissingConversationLooksLikeForeignOne(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	_, err := service.Append(context.Background(), AppendInput{
		ConversationID: "no-such-conversation",
		SenderID:       "user-a",
		Content:        "hello",
	})
	expectCode(t, err, apperrors.CodeNotParticipant)
}

func TestAppendIdempotencyTokenReturnsOriginal(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	original, err := service.Append(ctx, AppendInput{
		ConversationID:   conversation.ID,
		SenderID:         "user-a",
		Content:          "hello",
		IdempotencyToken: "token-1",
	})
	if err != nil {
		t.Fatalf("append original: %v", err)
	}

	// A retry may carry different content; the original wins.
	replay, err := service.Append(ctx, AppendInput{
		ConversationID:   conversation.ID,
		SenderID:         "user-a",
		Content:          "something else entirely",
		IdempotencyToken: "token-1",
	})
	if err != nil {
		t.Fatalf("replay append: %v", err)
	}
	if replay.ID != original.ID || replay.Seq != original.Seq || replay.Content != "hello" {
		t.Fatalf("expected original message, got %+v", replay)
	}

	refreshed, err := service.GetConversation(ctx, conversation.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if refreshed.LastSeq != 1 {
		t.Fatalf("replay must not consume a sequence number, got last seq %d", refreshed.LastSeq)
	}
}

func TestAppendNotifiesListenerWithRecipients(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	listener := &recordingListener{}
	service.SetAppendListener(listener)
	conversation, err := service.CreateConversation(context.Background(), CreateConversationInput{
		ParticipantIDs: []string{"user-a", "user-b", "user-c"},
		Kind:           storage.KindGroup,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	appended, err := service.Append(context.Background(), AppendInput{
		ConversationID: conversation.ID,
		SenderID:       "user-b",
		Content:        "hello",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	events := listener.all()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	if events[0].Message.ID != appended.ID {
		t.Fatalf("unexpected event message: %+v", events[0].Message)
	}
	if len(events[0].Recipients) != 2 {
		t.Fatalf("expected two recipients, got %v", events[0].Recipients)
	}
	for _, recipient := range events[0].Recipients {
		if recipient == "user-b" {
			t.Fatal("sender must not be a recipient")
		}
	}
}

func TestListSinceReturnsOrderedWindow(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	for _, content := range []string{"hello", "hi", "how are you"} {
		sender := "user-a"
		if content == "hi" {
			sender = "user-b"
		}
		if _, err := service.Append(ctx, AppendInput{
			ConversationID: conversation.ID,
			SenderID:       sender,
			Content:        content,
		}); err != nil {
			t.Fatalf("append %q: %v", content, err)
		}
	}

	messages, err := service.ListSince(ctx, ListSinceInput{
		ConversationID: conversation.ID,
		AfterSeq:       1,
	})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages after seq 1, got %d", len(messages))
	}
	if messages[0].Content != "hi" || messages[1].Content != "how are you" {
		t.Fatalf("unexpected order: %q then %q", messages[0].Content, messages[1].Content)
	}
}

func TestListSinceValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	_, err := service.ListSince(ctx, ListSinceInput{ConversationID: conversation.ID, AfterSeq: -1})
	expectCode(t, err, apperrors.CodeInvalidSequence)

	_, err = service.ListSince(ctx, ListSinceInput{ConversationID: conversation.ID, Limit: 10000})
	expectCode(t, err, apperrors.CodeInvalidPageSize)

	_, err = service.ListSince(ctx, ListSinceInput{ConversationID: conversation.ID, Filter: `nonsense = "x"`})
	expectCode(t, err, apperrors.CodeInvalidFilter)
}

func TestListSinceWithSenderFilter(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	for _, sender := range []string{"user-a", "user-b", "user-a"} {
		if _, err := service.Append(ctx, AppendInput{
			ConversationID: conversation.ID,
			SenderID:       sender,
			Content:        "hello",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	messages, err := service.ListSince(ctx, ListSinceInput{
		ConversationID: conversation.ID,
		Filter:         `sender_id = "user-a"`,
	})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages from user-a, got %d", len(messages))
	}
}

func TestListMessagesGatesOnRequester(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	_, err := service.ListMessages(ctx, ListMessagesInput{ConversationID: conversation.ID})
	expectCode(t, err, apperrors.CodeRequesterRequired)

	_, err = service.ListMessages(ctx, ListMessagesInput{
		ConversationID: conversation.ID,
		RequesterID:    "user-c",
	})
	expectCode(t, err, apperrors.CodeForbidden)

	if _, err := service.ListMessages(ctx, ListMessagesInput{
		ConversationID: conversation.ID,
		RequesterID:    "user-a",
	}); err != nil {
		t.Fatalf("list as participant: %v", err)
	}
}

func TestListConversationsValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	ctx := context.Background()

	_, err := service.ListConversations(ctx, ListConversationsInput{})
	expectCode(t, err, apperrors.CodeRequesterRequired)

	_, err = service.ListConversations(ctx, ListConversationsInput{
		UserID:    "user-a",
		PageToken: "not-a-token!!",
	})
	expectCode(t, err, apperrors.CodeInvalidPageToken)
}

func TestMarkReadIsMonotonic(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := service.Append(ctx, AppendInput{
			ConversationID: conversation.ID,
			SenderID:       "user-a",
			Content:        "hello",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	cursor, err := service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-b", Seq: 2})
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if cursor.LastReadSeq != 2 {
		t.Fatalf("expected cursor 2, got %d", cursor.LastReadSeq)
	}

	cursor, err = service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-b", Seq: 1})
	if err != nil {
		t.Fatalf("mark read backward: %v", err)
	}
	if cursor.LastReadSeq != 2 {
		t.Fatalf("cursor must not regress, got %d", cursor.LastReadSeq)
	}
}

func TestMarkReadValidation(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	_, err := service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-c", Seq: 0})
	expectCode(t, err, apperrors.CodeForbidden)

	_, err = service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-a", Seq: 5})
	expectCode(t, err, apperrors.CodeInvalidSequence)

	_, err = service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-a", Seq: -1})
	expectCode(t, err, apperrors.CodeInvalidSequence)
}

func TestUnreadCount(t *testing.T) {
	t.Parallel()

	service := newTestService(t)
	conversation := mustCreateDirect(t, service, "user-a", "user-b")
	ctx := context.Background()

	const total = 4
	for i := 0; i < total; i++ {
		if _, err := service.Append(ctx, AppendInput{
			ConversationID: conversation.ID,
			SenderID:       "user-a",
			Content:        "hello",
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	count, err := service.UnreadCount(ctx, conversation.ID, "user-b")
	if err != nil {
		t.Fatalf("unread before reading: %v", err)
	}
	if count != total {
		t.Fatalf("expected %d unread, got %d", total, count)
	}

	if _, err := service.MarkRead(ctx, MarkReadInput{ConversationID: conversation.ID, UserID: "user-b", Seq: 3}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	count, err = service.UnreadCount(ctx, conversation.ID, "user-b")
	if err != nil {
		t.Fatalf("unread after reading: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread, got %d", count)
	}

	_, err = service.UnreadCount(ctx, conversation.ID, "user-c")
	expectCode(t, err, apperrors.CodeForbidden)
}
