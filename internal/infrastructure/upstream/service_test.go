package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/chatrelay/internal/config"
	"github.com/deepgram/chatrelay/internal/domain/chat/models"
)

func newTestService(url string) *Service {
	return NewService(config.UpstreamConfig{
		URL:            url,
		Token:          "test-token",
		ReadTimeout:    time.Second,
		ConnectTimeout: time.Second,
	})
}

func TestQueryForwardsRequest(t *testing.T) {
	received := make(chan models.QueryRequest, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var got models.QueryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received <- got

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, "{\"token\":\"hi\"}\n")
	}))
	defer server.Close()

	body, err := newTestService(server.URL).Query(context.Background(), models.QueryRequest{
		Question:       "hello",
		CollectionName: "39",
		SessionID:      "abc",
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "{\"token\":\"hi\"}\n", string(data))
	assert.Equal(t, models.QueryRequest{Question: "hello", CollectionName: "39", SessionID: "abc"}, <-received)
}

func TestQueryOmitsEmptySession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, present := raw["session_id"]
		assert.False(t, present)
		_, _ = io.WriteString(w, "{}\n")
	}))
	defer server.Close()

	body, err := newTestService(server.URL).Query(context.Background(), models.QueryRequest{Question: "q", CollectionName: "39"})
	require.NoError(t, err)
	body.Close()
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = io.WriteString(w, `{"detail":"token expired"}`)
			},
			check: func(t *testing.T, err error) {
				var statusErr *StatusError
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, http.StatusUnauthorized, statusErr.Code)
				assert.Contains(t, statusErr.Body, "token expired")
				assert.Equal(t, "upstream responded with status: 401", err.Error())
			},
		},
		{
			name: "no body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoBody)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			body, err := newTestService(server.URL).Query(context.Background(), models.QueryRequest{Question: "q", CollectionName: "39"})
			assert.Nil(t, body)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestQueryConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newTestService(url).Query(context.Background(), models.QueryRequest{Question: "q", CollectionName: "39"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to make request")
}
