package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/auth"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/hub"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/leaderboard"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/metrics"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/presence"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/stats"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/internal/store"
	"github.com/CDeX-Labs/TypeSprint-Socket-Service/pkg/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "handlers-secret"

type stack struct {
	store    *store.Memory
	hub      *hub.Hub
	presence *presence.Service
	router   *gin.Engine
}

func newStack(t *testing.T, checks map[string]Check) *stack {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mem := store.NewMemory()
	h := hub.NewHub(m, zerolog.Nop())
	board := leaderboard.NewAggregator(mem, zerolog.Nop(), leaderboard.WithMetrics(m))
	svc := presence.NewService(h, stats.NewRecorder(mem, zerolog.Nop()), board, zerolog.Nop(), presence.WithMetrics(m))
	verifier := auth.NewVerifier(auth.NewJWTValidator(testSecret), mem)
	ws := auth.AuthMiddleware(verifier, m)(NewWebSocketHandler(h, svc, "*", zerolog.Nop()))

	router := NewRouter(RouterDeps{
		Hub:          h,
		Board:        board,
		Presence:     svc,
		WebSocket:    ws,
		Gatherer:     reg,
		Checks:       checks,
		DefaultLimit: leaderboard.DefaultLimit,
	}, zerolog.Nop())
	return &stack{store: mem, hub: h, presence: svc, router: router}
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func seedResult(t *testing.T, s *stack, userID string, wpm float64) {
	t.Helper()
	ctx := context.Background()
	if err := s.store.UpsertUser(ctx, store.User{ID: userID, Username: userID}); err != nil {
		t.Fatal(err)
	}
	uid := userID
	if _, err := stats.NewRecorder(s.store, zerolog.Nop()).Record(ctx, store.TestSession{UserID: &uid, WPM: wpm, Accuracy: 95}); err != nil {
		t.Fatal(err)
	}
}

func TestHealthAndReady(t *testing.T) {
	s := newStack(t, map[string]Check{"redis": func(context.Context) error { return nil }})
	if rec := s.get(t, "/health"); rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	rec := s.get(t, "/ready")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ready"`) {
		t.Fatalf("ready = %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"typingRooms":{}`) {
		t.Fatalf("ready should report typing rooms: %s", rec.Body.String())
	}

	down := newStack(t, map[string]Check{"redis": func(context.Context) error { return errors.New("connection refused") }})
	rec = down.get(t, "/ready")
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("ready with failing check = %d %s", rec.Code, rec.Body.String())
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	s := newStack(t, nil)
	seedResult(t, s, "alice", 80)
	seedResult(t, s, "bob", 95)
	seedResult(t, s, "carol", 60)

	rec := s.get(t, "/api/leaderboard?filter=week&limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") == "" {
		t.Fatal("expected a Cache-Control header")
	}
	var rows []protocol.LeaderboardEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != "bob" || rows[0].Rank != 1 || rows[1].ID != "alice" {
		t.Fatalf("rows = %+v", rows)
	}

	if rec := s.get(t, "/api/leaderboard?filter=year"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", rec.Code)
	}
	if rec := s.get(t, "/api/leaderboard?limit=ten"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newStack(t, nil)
	rec := s.get(t, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ws_connections_total") {
		t.Fatalf("metrics = %d", rec.Code)
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	s := newStack(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v", resp)
	}
	if s.hub.ClientCount() != 0 {
		t.Fatal("rejected connection must not be registered")
	}
}

// frameReader splits batched frames and keeps the ones not yet consumed.
type frameReader struct {
	conn    *websocket.Conn
	pending []*protocol.Message
}

func (r *frameReader) until(t *testing.T, typ protocol.MessageType) *protocol.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		for len(r.pending) > 0 {
			msg := r.pending[0]
			r.pending = r.pending[1:]
			if msg.Type == typ {
				return msg
			}
		}
		r.conn.SetReadDeadline(deadline)
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		for _, frame := range strings.Split(string(data), "\n") {
			msg, err := protocol.ParseMessage([]byte(frame))
			if err != nil {
				t.Fatalf("bad frame %q: %v", frame, err)
			}
			r.pending = append(r.pending, msg)
		}
	}
}

func TestWebSocketTypingEndRoundTrip(t *testing.T) {
	s := newStack(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	token, err := auth.IssueToken(testSecret, "u1", "alice", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	frames := &frameReader{conn: conn}

	connected := frames.until(t, protocol.MsgConnected)
	var hello protocol.ConnectedPayload
	_ = connected.DecodePayload(&hello)
	if hello.UserID != "u1" || hello.Username != "alice" {
		t.Fatalf("connected = %+v", hello)
	}

	join, _ := protocol.NewMessageWithRequestID(protocol.MsgJoinLeaderboard, nil, "j1")
	data, _ := join.ToBytes()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}
	frames.until(t, protocol.MsgLeaderboardUpdate)

	end, _ := protocol.NewMessageWithRequestID(protocol.MsgTypingEnd, protocol.TestResultPayload{
		WPM: 77, Accuracy: 97, Errors: 2, Consistency: 90, WordsTyped: 77, TimeSpent: 60,
	}, "e1")
	data, _ = end.ToBytes()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}

	saved := frames.until(t, protocol.MsgTypingSaved)
	var ack protocol.TypingSavedPayload
	_ = saved.DecodePayload(&ack)
	if !ack.Success || saved.RequestID != "e1" {
		t.Fatalf("ack = %+v", ack)
	}

	update := frames.until(t, protocol.MsgLeaderboardUpdate)
	var rows []protocol.LeaderboardEntry
	_ = update.DecodePayload(&rows)
	if len(rows) != 1 || rows[0].ID != "u1" || rows[0].BestWPM != 77 {
		t.Fatalf("rows = %+v", rows)
	}

	rec := s.get(t, "/api/presence")
	var online protocol.OnlineUsersPayload
	_ = json.Unmarshal(rec.Body.Bytes(), &online)
	if online.Count != 1 || online.Users[0].CurrentWPM != 77 {
		t.Fatalf("presence = %+v", online)
	}

	rec = s.get(t, "/api/presence/u1")
	if !strings.Contains(rec.Body.String(), `"online":true`) {
		t.Fatalf("user presence = %s", rec.Body.String())
	}
}
