package relay

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/connections"
	"github.com/deepgram/chatrelay/internal/infrastructure/upstream"
	"github.com/deepgram/chatrelay/internal/services/relay"
	"github.com/deepgram/chatrelay/pkg/httpext"
)

func newWebSocketServer(t *testing.T, upstreamHandler http.Handler, allowedOrigins []string) string {
	t.Helper()
	up := httptest.NewServer(upstreamHandler)
	t.Cleanup(up.Close)

	return serveWebSocket(t, newRelayService(up.URL), allowedOrigins)
}

func serveWebSocket(t *testing.T, svc *relay.Service, allowedOrigins []string) string {
	t.Helper()
	upgrader := NewUpgrader(allowedOrigins)
	manager := connections.NewManager(connections.DefaultTimeouts)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleChatWebSocket(svc, upgrader, manager, w, r)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	messageType, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)
	return string(msg)
}

func TestHandleChatWebSocketRelaysTurns(t *testing.T) {
	url := newWebSocketServer(t, chunkedUpstream(
		"{\"token\":\"Hel\"}\ndata: {\"tok",
		"en\":\"lo\"}\n{\"status\":\"complete\"}\n",
	), nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	for turn := 0; turn < 2; turn++ {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"question":"hi","collection_name":"39"}`)))

		assert.Equal(t, `{"token":"Hel"}`, readText(t, ws))
		assert.Equal(t, `{"token":"lo"}`, readText(t, ws))
		assert.Equal(t, `{"status":"complete"}`, readText(t, ws))
	}
}

func TestHandleChatWebSocketReportsErrors(t *testing.T) {
	url := newWebSocketServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"question":""}`)))
	var resp httpext.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(readText(t, ws)), &resp))
	assert.Equal(t, "Invalid request", resp.Error)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"question":"hi","collection_name":"39"}`)))
	require.NoError(t, json.Unmarshal([]byte(readText(t, ws)), &resp))
	assert.Equal(t, "Failed to process chat request", resp.Error)
	assert.Equal(t, "upstream responded with status: 503", resp.Details)
}

func TestHandleChatWebSocketClosesOnMidStreamFailure(t *testing.T) {
	url := newWebSocketServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"token\":\"A\"}\n")
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}), nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"question":"hi","collection_name":"39"}`)))
	assert.Equal(t, `{"token":"A"}`, readText(t, ws))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseInternalServerErr), "got %v", err)
}

func TestHandleChatWebSocketCancelsUpstreamWhenClientLeaves(t *testing.T) {
	cancelled := make(chan struct{})
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{\"token\":\"A\"}\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		close(cancelled)
	}))
	t.Cleanup(up.Close)

	// Timeouts far longer than the test, so only the client leaving can end the turn
	svc := relay.NewService(upstream.NewService(config.UpstreamConfig{
		URL:            up.URL,
		Token:          "test-token",
		ReadTimeout:    time.Minute,
		ConnectTimeout: time.Minute,
	}), time.Minute)
	url := serveWebSocket(t, svc, nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"question":"hi","collection_name":"39"}`)))
	assert.Equal(t, `{"token":"A"}`, readText(t, ws))
	require.NoError(t, ws.Close())

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request still running after the client left")
	}
}

func TestHandleChatWebSocketRejectsOversizedMessage(t *testing.T) {
	url := newWebSocketServer(t, chunkedUpstream("{\"status\":\"complete\"}\n"), nil)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	body := `{"question":"` + strings.Repeat("a", MaxRequestSize) + `","collection_name":"39"}`
	_ = ws.WriteMessage(websocket.TextMessage, []byte(body))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err, "oversized turns end the socket instead of being relayed")
	// The close frame can be lost to a reset when the unread payload is dropped
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}
}

func TestNewUpgraderOrigins(t *testing.T) {
	u := NewUpgrader([]string{"https://chat.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/ws", nil)
	assert.True(t, u.CheckOrigin(req), "requests without an Origin are allowed")

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, u.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, u.CheckOrigin(req))

	assert.Nil(t, NewUpgrader(nil).CheckOrigin, "default same-origin check")
}
