package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/internal/models"
	apperrors "loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

type echoChatter struct {
	mu         sync.Mutex
	identities []string
	panicOn    string
}

func (e *echoChatter) Chat(_ context.Context, identity string, req assistant.ChatRequest) (assistant.ChatResponse, error) {
	e.mu.Lock()
	e.identities = append(e.identities, identity)
	e.mu.Unlock()

	if len(req.Messages) == 0 {
		return assistant.ChatResponse{}, apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Messages array is required")
	}
	last := req.Messages[len(req.Messages)-1].Content
	if e.panicOn != "" && last == e.panicOn {
		panic("boom")
	}
	return assistant.ChatResponse{
		Message:  "echo: " + last,
		Metadata: assistant.ResponseMetadata{Confidence: 0.6, Mock: true},
	}, nil
}

// blockingChatter holds every turn until its context ends
type blockingChatter struct {
	started   chan struct{}
	cancelled chan struct{}
}

func (b *blockingChatter) Chat(ctx context.Context, _ string, _ assistant.ChatRequest) (assistant.ChatResponse, error) {
	close(b.started)
	<-ctx.Done()
	close(b.cancelled)
	return assistant.ChatResponse{}, ctx.Err()
}

func newServer(t *testing.T, chat Chatter) (*Hub, string) {
	t.Helper()
	hub := NewHub(chat, logger.Nop(), Options{})

	r := gin.New()
	r.Use(middleware.IdentityMiddleware())
	r.GET("/ws/coro", hub.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/coro"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame any) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteJSON(frame))
	var out map[string]any
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func chatFrame(text string) assistant.ChatRequest {
	return assistant.ChatRequest{Messages: []models.ChatMessage{{Role: models.RoleUser, Content: text}}}
}

func TestChatFramesAnsweredInOrder(t *testing.T) {
	chat := &echoChatter{}
	_, url := newServer(t, chat)
	conn := dial(t, url)

	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, conn.WriteJSON(chatFrame(text)))
	}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for _, text := range []string{"first", "second", "third"} {
		var resp assistant.ChatResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.Equal(t, "echo: "+text, resp.Message)
		assert.True(t, resp.Metadata.Mock)
	}

	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.identities, 3)
	assert.Equal(t, "127.0.0.1", chat.identities[0])
}

func TestInvalidFrames(t *testing.T) {
	_, url := newServer(t, &echoChatter{})
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var out map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&out))
	assert.Equal(t, "Invalid message format", out["error"])

	out = roundTrip(t, conn, map[string]any{"type": "chat", "messages": []any{}})
	assert.Equal(t, "Messages array is required", out["error"])

	out = roundTrip(t, conn, map[string]any{"type": "subscribe"})
	assert.Contains(t, out["error"], "Unknown message type")

	out = roundTrip(t, conn, map[string]any{"type": "ping"})
	assert.Equal(t, "pong", out["type"])
}

func TestPanicBecomesErrorResponse(t *testing.T) {
	_, url := newServer(t, &echoChatter{panicOn: "explode"})
	conn := dial(t, url)

	out := roundTrip(t, conn, chatFrame("explode"))
	assert.Equal(t, assistant.ErrorMessage, out["message"])
	meta := out["metadata"].(map[string]any)
	assert.Equal(t, true, meta["error"])
	assert.Equal(t, float64(0), meta["confidence"])

	out = roundTrip(t, conn, chatFrame("still alive"))
	assert.Equal(t, "echo: still alive", out["message"])
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub, url := newServer(t, &echoChatter{})
	conn := dial(t, url)
	roundTrip(t, conn, chatFrame("hello"))
	assert.Equal(t, 1, hub.Count())

	hub.Close()
	assert.Equal(t, 0, hub.Count())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, hub.Count())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.loopsync.io"})

	req := httptest.NewRequest("GET", "/ws/coro", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://app.loopsync.io")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}

func TestPeerDisconnectCancelsTurn(t *testing.T) {
	chat := &blockingChatter{started: make(chan struct{}), cancelled: make(chan struct{})}
	hub, url := newServer(t, chat)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(chatFrame("slow question")))

	select {
	case <-chat.started:
	case <-time.After(5 * time.Second):
		t.Fatal("turn never started")
	}
	require.NoError(t, conn.Close())

	select {
	case <-chat.cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("turn was not cancelled after the peer went away")
	}
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}
