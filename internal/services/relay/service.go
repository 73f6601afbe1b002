package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/deepgram/chatrelay/internal/domain/chat/models"
	"github.com/deepgram/chatrelay/internal/stream"
	"github.com/deepgram/chatrelay/pkg/logger"
)

// ErrReadTimeout ends a relayed stream whose upstream went quiet for longer
// than the configured read timeout
var ErrReadTimeout = errors.New("upstream read timed out")

// Querier opens an upstream conversational stream
type Querier interface {
	Query(ctx context.Context, req models.QueryRequest) (io.ReadCloser, error)
}

// Service relays one upstream stream per inbound request
type Service struct {
	upstream    Querier
	readTimeout time.Duration
	log         zerolog.Logger
}

func NewService(upstream Querier, readTimeout time.Duration) *Service {
	return &Service{
		upstream:    upstream,
		readTimeout: readTimeout,
		log:         logger.For(logger.RELAY),
	}
}

// Stream is an open upstream response waiting to be relayed. It must be
// closed by the caller.
type Stream struct {
	ctx         context.Context
	cancel      context.CancelCauseFunc
	body        io.ReadCloser
	readTimeout time.Duration
	log         zerolog.Logger
	closeOnce   sync.Once
}

// Open makes the single upstream call for req. Any failure here happens
// before a byte has been relayed, so callers can still answer with an error
// status. Cancelling ctx aborts the upstream request and the relay.
func (s *Service) Open(ctx context.Context, req models.QueryRequest) (*Stream, error) {
	streamCtx, cancel := context.WithCancelCause(ctx)

	body, err := s.upstream.Query(streamCtx, req)
	if err != nil {
		cancel(err)
		return nil, err
	}

	return &Stream{
		ctx:         streamCtx,
		cancel:      cancel,
		body:        body,
		readTimeout: s.readTimeout,
		log:         s.log,
	}, nil
}

// Relay parses the upstream body and hands every record to emit in order,
// as soon as it is complete. It returns when upstream ends the stream, when
// emit fails, or when a read fails or times out. Records emitted before an
// error stand.
func (st *Stream) Relay(emit stream.EmitFunc) (stream.Stats, error) {
	body := io.Reader(st.body)
	if st.readTimeout > 0 {
		body = &idleReader{r: st.body, timeout: st.readTimeout, cancel: st.cancel}
	}

	var emitErr error
	stats, err := stream.Decode(st.ctx, body, func(record json.RawMessage) error {
		if emitErr = emit(record); emitErr != nil {
			return emitErr
		}
		return nil
	}, stream.WithLogger(st.log))

	switch {
	case err == nil:
		return stats, nil
	case emitErr != nil:
		return stats, fmt.Errorf("relay record: %w", emitErr)
	case context.Cause(st.ctx) != nil:
		return stats, fmt.Errorf("relay interrupted: %w", context.Cause(st.ctx))
	default:
		return stats, err
	}
}

// Close releases the upstream response
func (st *Stream) Close() error {
	var err error
	st.closeOnce.Do(func() {
		st.cancel(context.Canceled)
		err = st.body.Close()
	})
	return err
}

// idleReader cancels the stream when a single Read blocks for longer than
// timeout. Cancelling the request context unblocks the pending body read.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	cancel  context.CancelCauseFunc
}

func (ir *idleReader) Read(p []byte) (int, error) {
	timer := time.AfterFunc(ir.timeout, func() {
		ir.cancel(ErrReadTimeout)
	})
	n, err := ir.r.Read(p)
	timer.Stop()
	return n, err
}
