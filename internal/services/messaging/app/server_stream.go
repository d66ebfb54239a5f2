package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/courier.space/internal/services/messaging/domain"
	"github.com/louisbranch/courier.space/internal/services/messaging/notifier"
	"github.com/louisbranch/courier.space/internal/services/messaging/storage"
)

const maxDecodeErrorsPerConn = 5

type wsUserIDContextKey struct{}

type wsFrame struct {
	Type            string `json:"type"`
	ConversationID  string `json:"conversation_id,omitempty"`
	Content         string `json:"content,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`

	Message *messagePayload `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
	conn    *websocket.Conn
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{encoder: json.NewEncoder(conn), conn: conn}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// streamHub tracks connected peers per user and pushes message frames to
// them. It is the in-process delivery sink: recipients without an open
// stream are skipped and drained by the delivery worker instead.
type streamHub struct {
	mu    sync.Mutex
	peers map[string]map[*wsPeer]struct{}
}

func newStreamHub() *streamHub {
	return &streamHub{peers: make(map[string]map[*wsPeer]struct{})}
}

func (h *streamHub) attach(userID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[userID]
	if !ok {
		set = make(map[*wsPeer]struct{})
		h.peers[userID] = set
	}
	set[peer] = struct{}{}
}

func (h *streamHub) detach(userID string, peer *wsPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.peers[userID]
	if !ok {
		return
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(h.peers, userID)
	}
}

func (h *streamHub) connections(userID string) []*wsPeer {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.peers[userID]
	peers := make([]*wsPeer, 0, len(set))
	for peer := range set {
		peers = append(peers, peer)
	}
	return peers
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	peers := make([]*wsPeer, 0)
	for _, set := range h.peers {
		for peer := range set {
			peers = append(peers, peer)
		}
	}
	h.peers = make(map[string]map[*wsPeer]struct{})
	h.mu.Unlock()

	for _, peer := range peers {
		if peer.conn != nil {
			_ = peer.conn.Close()
		}
	}
}

// Deliver implements notifier.Sink by pushing a message frame to every open
// stream of the recipient.
func (h *streamHub) Deliver(_ context.Context, recipientUserID string, message storage.MessageRecord) error {
	peers := h.connections(recipientUserID)
	if len(peers) == 0 {
		return notifier.ErrSkip
	}

	payload := toMessagePayload(message)
	delivered := false
	for _, peer := range peers {
		if err := peer.writeFrame(wsFrame{Type: "message", Message: &payload}); err == nil {
			delivered = true
		}
	}
	if !delivered {
		return errors.New("all stream writes failed")
	}
	return nil
}

var _ notifier.Sink = (*streamHub)(nil)

func (t *transport) streamHandler() http.Handler {
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		t.handleStreamConn(conn)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		userID, err := t.streamUserID(r)
		if err != nil {
			log.Printf("stream unauthorized for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsUserIDContextKey{}, userID)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})
}

// streamUserID resolves the stream identity from the signed grant, or from
// the user_id parameter when grant verification is not configured.
func (t *transport) streamUserID(r *http.Request) (string, error) {
	if t.grants == nil {
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			return "", errors.New("user_id is required")
		}
		return userID, nil
	}
	return t.grants.Verify(r.URL.Query().Get("grant"))
}

func (t *transport) handleStreamConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	userID := ""
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsUserIDContextKey{}).(string); ok {
			userID = strings.TrimSpace(resolved)
		}
	}
	if userID == "" {
		return
	}

	peer := newWSPeer(conn)
	t.hub.attach(userID, peer)
	defer t.hub.detach(userID, peer)

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = peer.writeFrame(wsFrame{Type: "error", Code: "INVALID_ARGUMENT", Error: "invalid frame payload"})
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "send":
			t.handleStreamSend(peer, userID, frame)
		case "ping":
			_ = peer.writeFrame(wsFrame{Type: "pong"})
		default:
			_ = peer.writeFrame(wsFrame{Type: "error", Code: "INVALID_ARGUMENT", Error: "unknown frame type"})
		}
	}
}

func (t *transport) handleStreamSend(peer *wsPeer, userID string, frame wsFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, err := t.service.Append(ctx, domain.AppendInput{
		ConversationID:   frame.ConversationID,
		SenderID:         userID,
		Content:          frame.Content,
		IdempotencyToken: frame.ClientMessageID,
	})
	if err != nil {
		_ = peer.writeFrame(wsFrame{
			Type:            "error",
			ClientMessageID: frame.ClientMessageID,
			Code:            errorCode(err),
			Error:           err.Error(),
		})
		return
	}

	payload := toMessagePayload(record)
	_ = peer.writeFrame(wsFrame{
		Type:            "ack",
		ClientMessageID: frame.ClientMessageID,
		Message:         &payload,
	})
}
