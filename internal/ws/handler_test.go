package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PaulBabatuyi/wayfare/internal/auth"
	"github.com/PaulBabatuyi/wayfare/internal/chat"
	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/middleware"
)

// noMessages and noConversations back a coordinator for transport tests that
// never touch storage.
type noMessages struct{}

func (noMessages) Insert(ctx context.Context, msg *data.Message) error { return nil }
func (noMessages) Get(ctx context.Context, id string) (*data.Message, error) {
	return nil, data.ErrNotFound
}
func (noMessages) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	return false, data.ErrNotFound
}
func (noMessages) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	return false, data.ErrNotFound
}
func (noMessages) Undelivered(ctx context.Context, conversationID, receiverID string) ([]*data.Message, error) {
	return nil, nil
}

type noConversations struct{}

func (noConversations) Get(ctx context.Context, id string) (*data.Conversation, error) {
	return nil, data.ErrNotFound
}
func (noConversations) ForParticipant(ctx context.Context, userID string) ([]*data.Conversation, error) {
	return nil, nil
}
func (noConversations) RecordMessage(ctx context.Context, id string, last data.LastMessage, receiverID string) error {
	return data.ErrNotFound
}
func (noConversations) ResetUnread(ctx context.Context, id, userID string) error {
	return data.ErrNotFound
}

type testServer struct {
	srv   *httptest.Server
	coord *chat.Coordinator
	jwt   *auth.JWTManager
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	coord := chat.NewCoordinator(chat.NewRegistry(), noMessages{}, noConversations{})
	jwtm := auth.NewJWTManager("ws-test-secret", time.Hour)
	srv := httptest.NewServer(NewHandler(coord, jwtm, opts...))
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, coord: coord, jwt: jwtm}
}

func (ts *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := ts.jwt.GenerateToken(userID)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	waitFor(t, func() bool { return ts.coord.Registry().IsOnline(userID) })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return ev
}

func TestHandshakeRequiresValidToken(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.srv.URL + "/ws")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.srv.URL + "/ws?token=not-a-jwt")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestTypingIsRelayed(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")
	bob := ts.dial(t, "bob")

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{"conversationId":"c1","receiverId":"bob"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	ev := readEvent(t, bob)
	if ev.Event != chat.EventTyping {
		t.Fatalf("expected typing, got %s", ev.Event)
	}
	var p chat.TypingPayload
	if err := json.Unmarshal(ev.Data, &p); err != nil {
		t.Fatalf("bad payload: %v", err)
	}
	if p.SenderID != "alice" || p.ConversationID != "c1" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestMalformedFrameGetsErrorEvent(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"dance"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if ev := readEvent(t, alice); ev.Event != chat.EventError {
		t.Fatalf("expected error event, got %s", ev.Event)
	}
	// the connection survives
	if !ts.coord.Registry().IsOnline("alice") {
		t.Fatal("alice should still be connected")
	}
}

func TestEventsAreRateLimited(t *testing.T) {
	limiter := middleware.NewLimiterStorePerSecond(0.01, 1, time.Minute)
	t.Cleanup(limiter.Stop)
	ts := newTestServer(t, WithLimiter(limiter))
	alice := ts.dial(t, "alice")

	frame := []byte(`{"event":"typing","data":{"conversationId":"c1","receiverId":"bob"}}`)
	for i := 0; i < 2; i++ {
		if err := alice.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	ev := readEvent(t, alice)
	if ev.Event != chat.EventError || !strings.Contains(string(ev.Data), "rate limit") {
		t.Fatalf("expected rate limit error, got %s %s", ev.Event, ev.Data)
	}
}

func TestLogoutClosesConnection(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"logout"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := alice.ReadMessage(); err == nil {
		t.Fatal("expected the server to close the connection")
	}
	if ts.coord.Registry().IsOnline("alice") {
		t.Fatal("alice should be offline after logout")
	}
}

func TestReconnectSupersedesOldSocket(t *testing.T) {
	ts := newTestServer(t)
	first := ts.dial(t, "alice")
	old, _ := ts.coord.Registry().Lookup("alice")

	ts.dial(t, "alice")
	waitFor(t, func() bool {
		cur, ok := ts.coord.Registry().Lookup("alice")
		return ok && cur != old
	})

	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("expected superseded socket to be closed")
	}
	if !ts.coord.Registry().IsOnline("alice") {
		t.Fatal("the newer connection must stay registered")
	}
}
