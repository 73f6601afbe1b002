package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/chatrelay/internal/api/v1/middleware"
	"github.com/deepgram/chatrelay/internal/connections"
	"github.com/deepgram/chatrelay/internal/services/relay"
	"github.com/deepgram/chatrelay/pkg/httpext"
)

// NewUpgrader accepts same-origin upgrades, plus any origin listed in
// allowedOrigins
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	u := &websocket.Upgrader{}
	if len(allowedOrigins) == 0 {
		return u
	}

	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = struct{}{}
	}
	u.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
	return u
}

// errClientGone cancels a socket's turns once its client stops reading
var errClientGone = errors.New("websocket client went away")

type inboundMessage struct {
	messageType int
	data        []byte
}

// HandleChatWebSocket serves turns over one WebSocket. Each text message from
// the client is a turn request; every upstream record is sent back as its own
// text message. Turns on one socket run strictly one after another. The
// socket is kept alive by manager while it is open, and a turn in flight is
// cancelled as soon as the client goes away.
func HandleChatWebSocket(relayService *relay.Service, upgrader *websocket.Upgrader, manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("request_id", middleware.GetRequestID(r)).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(MaxRequestSize)

	stop := manager.Track(conn)
	defer stop()

	logger.Info().Str("client_ip", r.RemoteAddr).Int("connections", manager.GetConnectionCount()).Msg("WebSocket connected")

	// The hijacked request context outlives the client, so the reader cancels
	// this one when the socket fails
	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	// Reading never pauses, so pongs and closes are seen during a turn too
	inbound := make(chan inboundMessage, 1)
	readErr := make(chan error, 1)
	go func() {
		defer close(inbound)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				cancel(errClientGone)
				return
			}
			select {
			case inbound <- inboundMessage{messageType: messageType, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for msg := range inbound {
		if msg.messageType != websocket.TextMessage {
			sendError(conn, "Invalid request format", "expected a text message")
			continue
		}

		req, err := decodeQuery(msg.data)
		if err != nil {
			logger.Warn().Err(err).Msg("Request validation failed")
			sendError(conn, "Invalid request", err.Error())
			continue
		}

		st, err := relayService.Open(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Err(err).Msg("Client went away before stream started")
				break
			}
			logger.Error().Err(err).Msg("Failed to open upstream stream")
			sendError(conn, "Failed to process chat request", httpext.ErrorDetails(err))
			continue
		}

		stats, err := st.Relay(func(record json.RawMessage) error {
			return conn.WriteMessage(websocket.TextMessage, record)
		})
		st.Close()

		if err != nil {
			if ctx.Err() != nil {
				logger.Info().Err(err).Int("emitted", stats.Emitted).Msg("Client went away before stream ended")
				break
			}
			logger.Error().Err(err).Int("emitted", stats.Emitted).Msg("Stream interrupted")
			closeMsg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream interrupted")
			_ = conn.WriteMessage(websocket.CloseMessage, closeMsg)
			return
		}

		logger.Info().Int("emitted", stats.Emitted).Int("dropped", stats.Dropped).Msg("Chat stream relayed successfully")
	}

	select {
	case err := <-readErr:
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			logger.Warn().Err(err).Msg("Unexpected WebSocket closure")
		} else {
			logger.Info().Msg("WebSocket closed")
		}
	default:
	}
}

func sendError(conn *websocket.Conn, message, details string) {
	data, err := json.Marshal(httpext.ErrorResponse{Error: message, Details: details})
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Msg("Failed to send WebSocket error message")
	}
}
