package elevenlabs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	opts = append([]Option{WithBaseURL(srv.URL), WithLogger(logger)}, opts...)
	return New("test-key", opts...)
}

func TestGetConversation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convai/conversations/conv_123", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("xi-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"agent_id": "agent_1",
			"conversation_id": "conv_123",
			"status": "done",
			"transcript": [
				{"role": "agent", "message": "Hi!", "time_in_call_secs": 0},
				{"role": "user", "message": "Hello", "time_in_call_secs": 2},
				{"role": "agent", "message": null, "time_in_call_secs": 8}
			],
			"metadata": {"start_time_unix_secs": 1718000000, "call_duration_secs": 12}
		}`))
	})

	conv, err := c.GetConversation(context.Background(), "conv_123")
	require.NoError(t, err)
	assert.Equal(t, "done", conv.Status)
	assert.Equal(t, 12.0, conv.Metadata.CallDurationSecs)
	require.Len(t, conv.Transcript, 3)
	assert.Equal(t, segments.TranscriptEntry{Role: "user", Message: "Hello", TimeInCallSecs: 2}, conv.Transcript[1])
	assert.Empty(t, conv.Transcript[2].Message)
}

func TestGetConversationEntryWithoutTimestampFailsDerivation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"conversation_id": "conv_123", "status": "done", "transcript": [
			{"role": "agent", "message": "Hi!", "time_in_call_secs": 0},
			{"role": "user", "message": "Hello"},
			{"role": "agent", "message": "Bye", "time_in_call_secs": 8}
		]}`))
	})

	conv, err := c.GetConversation(context.Background(), "conv_123")
	require.NoError(t, err)
	_, err = segments.DeriveUserSegments(conv.Transcript, segments.DefaultOptions())
	assert.True(t, errors.Is(err, segments.ErrTranscriptUnavailable))
}

func TestGetConversationWithoutTranscript(t *testing.T) {
	for name, body := range map[string]string{
		"missing": `{"conversation_id": "conv_123", "status": "processing"}`,
		"null":    `{"conversation_id": "conv_123", "transcript": null}`,
		"garbage": `{"conversation_id": "conv_123", "transcript": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := c.GetConversation(context.Background(), "conv_123")
			require.Error(t, err)
			assert.True(t, errors.Is(err, segments.ErrTranscriptUnavailable))
		})
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
	})

	_, err := c.GetConversation(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, `{"detail":"not found"}`, apiErr.Body)
	assert.True(t, IsNotFound(err))
}

func TestGetSignedURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convai/conversation/get_signed_url", r.URL.Path)
		assert.Equal(t, "agent_1", r.URL.Query().Get("agent_id"))
		_, _ = w.Write([]byte(`{"signed_url":"wss://example.test/session?token=abc"}`))
	})

	u, err := c.GetSignedURL(context.Background(), "agent_1")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/session?token=abc", u)
}

func TestFetchAudioWithRetry(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/convai/conversations/conv_123/audio", r.URL.Path)
		if calls.Add(1) < 3 {
			http.Error(w, "audio not ready", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}, WithAudioRetry(3, time.Millisecond))

	audio, err := c.FetchAudioWithRetry(context.Background(), "conv_123")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3audio"), audio)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchAudioWithRetryGivesUp(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "audio not ready", http.StatusNotFound)
	}, WithAudioRetry(2, time.Millisecond))

	_, err := c.FetchAudioWithRetry(context.Background(), "conv_123")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchAudioWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		http.Error(w, "audio not ready", http.StatusNotFound)
	}, WithAudioRetry(5, time.Hour))

	_, err := c.FetchAudioWithRetry(ctx, "conv_123")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}
