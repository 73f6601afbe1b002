// Package client talks to a chat relay and folds each streamed reply into a
// conversation store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/deepgram/chatrelay/internal/chunk"
	"github.com/deepgram/chatrelay/internal/conversation"
	"github.com/deepgram/chatrelay/internal/stream"
	"github.com/deepgram/chatrelay/pkg/httpext"
	"github.com/deepgram/chatrelay/pkg/logger"
)

// Observer is called with the assistant message after every change
type Observer func(msg conversation.Message)

// RelayError is a non-200 reply from the relay
type RelayError struct {
	Status  int
	Message string
	Details string
}

func (e *RelayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("relay responded with status %d: %s: %s", e.Status, e.Message, e.Details)
	}
	return fmt.Sprintf("relay responded with status %d: %s", e.Status, e.Message)
}

type Client struct {
	relayURL   string
	collection string
	store      *conversation.Store
	httpClient *http.Client
	log        zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New returns a client posting to relayURL and asking against collection
func New(relayURL, collection string, store *conversation.Store, opts ...Option) *Client {
	c := &Client{
		relayURL:   relayURL,
		collection: collection,
		store:      store,
		httpClient: http.DefaultClient,
		log:        logger.For(logger.CLIENT),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the store the client writes to
func (c *Client) Store() *conversation.Store {
	return c.store
}

// Ask runs one turn of convID: it records the question, posts it to the relay
// and applies every streamed record to the new assistant message. On any
// failure the message is replaced by the apology text and the error is
// returned alongside it. observe may be nil.
func (c *Client) Ask(ctx context.Context, convID, question string, observe Observer) (conversation.Message, error) {
	turn, err := c.store.StartTurn(convID, question, c.collection)
	if err != nil {
		return conversation.Message{}, err
	}

	notify := func(msg conversation.Message) {
		if observe != nil {
			observe(msg)
		}
	}

	fail := func(cause error) (conversation.Message, error) {
		c.log.Error().Err(cause).Str("conversation_id", convID).Msg("Turn failed")
		msg, err := c.store.Fail(convID, turn.AssistantMessageID)
		if err != nil {
			return msg, fmt.Errorf("%w (and failed to record failure: %v)", cause, err)
		}
		notify(msg)
		return msg, cause
	}

	body, err := c.post(ctx, turn)
	if err != nil {
		return fail(err)
	}
	defer body.Close()

	_, err = stream.Decode(ctx, body, func(record json.RawMessage) error {
		ch := chunk.Decode(record)
		if _, ok := ch.(chunk.Unrecognized); ok {
			c.log.Debug().RawJSON("record", record).Msg("Ignoring unrecognized record")
			return nil
		}

		msg, err := c.store.Apply(convID, turn.AssistantMessageID, ch)
		if err != nil {
			return err
		}
		notify(msg)
		return nil
	}, stream.WithLogger(c.log))
	if err != nil {
		return fail(err)
	}

	msg, err := c.store.Finish(convID, turn.AssistantMessageID)
	if err != nil {
		return msg, err
	}
	notify(msg)
	return msg, nil
}

func (c *Client) post(ctx context.Context, turn conversation.Turn) (io.ReadCloser, error) {
	payload, err := json.Marshal(turn.Request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		relayErr := &RelayError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

		var body httpext.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil && body.Error != "" {
			relayErr.Message = body.Error
			relayErr.Details = body.Details
		}
		return nil, relayErr
	}

	return resp.Body, nil
}
