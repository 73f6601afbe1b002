package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/domain/chat/models"
	"github.com/deepgram/chatrelay/pkg/logger"
)

// errorBodyLimit caps how much of an upstream error body is kept
const errorBodyLimit = 4 * 1024

// ErrNoBody is returned when the upstream accepts a query but sends nothing back
var ErrNoBody = errors.New("no response body received from upstream")

// StatusError reports a non-success upstream response
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status: %d", e.Code)
}

// Service posts conversational queries to the configured upstream endpoint
type Service struct {
	client *http.Client
	url    string
	token  string
	log    zerolog.Logger
}

// NewService builds a Service from the upstream configuration. Only the wait
// for response headers is bounded here; body reads are bounded by the caller.
func NewService(cfg config.UpstreamConfig) *Service {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ConnectTimeout

	return &Service{
		client: &http.Client{Transport: transport},
		url:    cfg.URL,
		token:  cfg.Token,
		log:    logger.For(logger.UPSTREAM),
	}
}

// Query sends req upstream and returns the streaming response body. The
// caller must close it. Cancelling ctx aborts the request and any pending
// body read.
func (s *Service) Query(ctx context.Context, req models.QueryRequest) (io.ReadCloser, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson, text/event-stream, application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.token))

	s.log.Debug().
		Str("collection_name", req.CollectionName).
		Bool("has_session", req.SessionID != "").
		Msg("Sending query upstream")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	s.log.Debug().Int("status", resp.StatusCode).Str("content_type", resp.Header.Get("Content-Type")).Msg("Upstream responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		s.log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Upstream returned error status")
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, ErrNoBody
	}

	return resp.Body, nil
}
