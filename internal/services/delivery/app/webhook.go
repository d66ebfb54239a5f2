package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

// WebhookPusher delivers messages by POSTing JSON envelopes to a push
// gateway. The gateway owns the last hop (mobile push, email digests).
type WebhookPusher struct {
	endpoint string
	client   *http.Client
}

// NewWebhookPusher creates a pusher for the given gateway endpoint.
func NewWebhookPusher(endpoint string, client *http.Client) *WebhookPusher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookPusher{endpoint: endpoint, client: client}
}

type webhookEnvelope struct {
	RecipientUserID string `json:"recipient_user_id"`
	ConversationID  string `json:"conversation_id"`
	MessageID       string `json:"message_id"`
	Seq             int64  `json:"seq"`
	SenderID        string `json:"sender_id"`
	Content         string `json:"content"`
	CreatedAt       string `json:"created_at"`
}

// Push implements Pusher. Any non-2xx response counts as a failed attempt.
func (p *WebhookPusher) Push(ctx context.Context, recipientUserID string, message storage.MessageRecord) error {
	body, err := json.Marshal(webhookEnvelope{
		RecipientUserID: recipientUserID,
		ConversationID:  message.ConversationID,
		MessageID:       message.ID,
		Seq:             message.Seq,
		SenderID:        message.SenderID,
		Content:         message.Content,
		CreatedAt:       message.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal push envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push to gateway: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push gateway returned %d", resp.StatusCode)
	}
	return nil
}

var _ Pusher = (*WebhookPusher)(nil)
