// Package elevenlabs talks to the conversational agent provider: signed
// session URLs, conversation transcripts and the recorded call audio.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tomaspozo/elevenvoice/internal/segments"
)

const DefaultBaseURL = "https://api.elevenlabs.io/v1"

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("elevenlabs %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the provider.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Conversation is the provider's view of a finished conversation.
type Conversation struct {
	AgentID        string                     `json:"agent_id"`
	ConversationID string                     `json:"conversation_id"`
	Status         string                     `json:"status"`
	Transcript     []segments.TranscriptEntry `json:"transcript"`
	Metadata       struct {
		StartTimeUnixSecs int64   `json:"start_time_unix_secs"`
		CallDurationSecs  float64 `json:"call_duration_secs"`
	} `json:"metadata"`
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger

	audioAttempts int
	audioDelay    time.Duration
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithAudioRetry sets how many times FetchAudioWithRetry asks for the audio
// and how long it waits between attempts.
func WithAudioRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.audioAttempts = attempts
		}
		c.audioDelay = delay
	}
}

func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       DefaultBaseURL,
		httpClient:    &http.Client{Timeout: 60 * time.Second},
		log:           logrus.StandardLogger(),
		audioAttempts: 3,
		audioDelay:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSignedURL returns a signed websocket URL for starting a session with
// the agent.
func (c *Client) GetSignedURL(ctx context.Context, agentID string) (string, error) {
	q := url.Values{}
	q.Set("agent_id", agentID)

	body, err := c.get(ctx, "get signed url", "/convai/conversation/get_signed_url?"+q.Encode())
	if err != nil {
		return "", err
	}

	var resp struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding signed url response: %w", err)
	}
	if resp.SignedURL == "" {
		return "", errors.New("elevenlabs returned an empty signed url")
	}
	return resp.SignedURL, nil
}

// GetConversation fetches the conversation details including the transcript.
// A response without a transcript array is rejected with
// segments.ErrTranscriptUnavailable.
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	body, err := c.get(ctx, "get conversation", "/convai/conversations/"+url.PathEscape(conversationID))
	if err != nil {
		return nil, err
	}

	var raw struct {
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding conversation %s: %v", segments.ErrTranscriptUnavailable, conversationID, err)
	}
	if len(raw.Transcript) == 0 || string(raw.Transcript) == "null" {
		return nil, fmt.Errorf("%w: conversation %s has no transcript", segments.ErrTranscriptUnavailable, conversationID)
	}

	var conv Conversation
	if err := json.Unmarshal(body, &conv); err != nil {
		return nil, fmt.Errorf("%w: decoding conversation %s: %v", segments.ErrTranscriptUnavailable, conversationID, err)
	}

	c.log.WithFields(logrus.Fields{
		"elevenlabs_id": conversationID,
		"entries":       len(conv.Transcript),
		"status":        conv.Status,
	}).Debug("Fetched conversation transcript")
	return &conv, nil
}

// GetAudio downloads the recorded call audio (MP3).
func (c *Client) GetAudio(ctx context.Context, conversationID string) ([]byte, error) {
	return c.get(ctx, "get audio", "/convai/conversations/"+url.PathEscape(conversationID)+"/audio")
}

// FetchAudioWithRetry calls GetAudio until it succeeds or the attempts run
// out. The provider takes a while to make audio available after a call ends.
func (c *Client) FetchAudioWithRetry(ctx context.Context, conversationID string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.audioAttempts; attempt++ {
		audio, err := c.GetAudio(ctx, conversationID)
		if err == nil {
			return audio, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt == c.audioAttempts {
			break
		}
		c.log.WithFields(logrus.Fields{
			"elevenlabs_id": conversationID,
			"attempt":       attempt,
			"error":         err.Error(),
		}).Warn("Audio not available yet, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.audioDelay):
		}
	}
	return nil, fmt.Errorf("failed to fetch audio after %d attempts: %w", c.audioAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs %s: creating request: %w", op, err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs %s: reading body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
