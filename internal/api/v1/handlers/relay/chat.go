package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/chatrelay/internal/api/v1/middleware"
	"github.com/deepgram/chatrelay/internal/domain/chat/models"
	"github.com/deepgram/chatrelay/internal/services/relay"
	"github.com/deepgram/chatrelay/pkg/httpext"
)

// NDJSONContentType is the content type of a relayed stream
const NDJSONContentType = "application/x-ndjson"

// MaxRequestSize caps one inbound turn, over HTTP or as a WebSocket message
const MaxRequestSize = 64 * 1024

// use a single instance of Validate, it caches struct info
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeQuery reads and validates one inbound turn
func decodeQuery(data []byte) (models.QueryRequest, error) {
	var req models.QueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("invalid request format: %w", err)
	}
	if err := validate.Struct(req); err != nil {
		return req, fmt.Errorf("invalid request: %w", err)
	}
	if strings.TrimSpace(req.Question) == "" {
		return req, fmt.Errorf("invalid request: question is blank")
	}
	return req, nil
}

// HandleChat relays one question upstream and streams the reply back as
// newline-delimited JSON, one record per chunk.
func HandleChat(relayService *relay.Service, w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)
	logger := log.With().Str("request_id", requestID).Logger()
	started := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestSize)

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("Client sent oversized request")
			httpext.JsonErrorWithDetails(w, http.StatusRequestEntityTooLarge, httpext.ErrorResponse{
				Error:   "Request too large",
				Details: err.Error(),
			})
			return
		}
		logger.Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{
			Error:   "Invalid request format",
			Details: err.Error(),
		})
		return
	}

	req, err := decodeQuery(raw)
	if err != nil {
		logger.Warn().Err(err).Msg("Request validation failed")
		httpext.JsonErrorWithDetails(w, http.StatusBadRequest, httpext.ErrorResponse{
			Error:   "Invalid request",
			Details: err.Error(),
		})
		return
	}

	logger.Info().
		Str("collection_name", req.CollectionName).
		Bool("has_session", req.SessionID != "").
		Str("client_ip", r.RemoteAddr).
		Msg("Received chat request")

	st, err := relayService.Open(r.Context(), req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open upstream stream")
		httpext.JsonErrorWithDetails(w, http.StatusInternalServerError, httpext.ErrorResponse{
			Error:   "Failed to process chat request",
			Details: httpext.ErrorDetails(err),
		})
		return
	}
	defer st.Close()

	flusher, _ := w.(http.Flusher)

	w.Header().Set("Content-Type", NDJSONContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	stats, err := st.Relay(func(record json.RawMessage) error {
		line := make([]byte, 0, len(record)+1)
		line = append(append(line, record...), '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})

	if err != nil {
		if r.Context().Err() != nil {
			logger.Info().Err(err).Int("emitted", stats.Emitted).Msg("Client went away before stream ended")
			return
		}
		logger.Error().Err(err).Int("emitted", stats.Emitted).Msg("Stream interrupted")
		// Headers are already sent; aborting marks the body as truncated
		panic(http.ErrAbortHandler)
	}

	logger.Info().
		Int("emitted", stats.Emitted).
		Int("dropped", stats.Dropped).
		Dur("duration", time.Since(started)).
		Msg("Chat stream relayed successfully")
}
