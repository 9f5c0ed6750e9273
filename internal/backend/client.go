package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"StreamChat/internal/session"
	"StreamChat/internal/stream"
)

// Stream is an open chat-stream response
type Stream struct {
	*stream.Decoder
	body io.Closer
}

// NewStream wraps an already validated response body
func NewStream(body io.ReadCloser) *Stream {
	return &Stream{Decoder: stream.NewDecoder(body), body: body}
}

// Close releases the underlying response body
func (s *Stream) Close() error {
	return s.body.Close()
}

// Client talks to the chat backend over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a backend client. connectTimeout bounds dialing and the
// wait for response headers; streamed bodies are not subject to a timeout.
func NewClient(baseURL string, connectTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = connectTimeout
	transport.TLSHandshakeTimeout = connectTimeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   0, // No timeout for streams
		},
		logger: logger,
	}
}

// ListModels fetches the model catalog
func (c *Client) ListModels(ctx context.Context) ([]session.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var infos []ModelInfo
	if err := json.Unmarshal(body, &infos); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	c.logger.Debug("fetched model catalog", "count", len(infos))
	return ToModels(infos), nil
}

// OpenStream posts a chat request and returns the frame stream. A failed
// request yields *stream.TransportError; a bad status or missing body yields
// *stream.HTTPError. The caller must Close the returned stream.
func (c *Client) OpenStream(ctx context.Context, reqBody StreamRequest) (*Stream, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &stream.TransportError{Err: err}
	}

	dec, err := stream.Open(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("chat stream opened", "model", reqBody.Model, "status", resp.StatusCode)
	return &Stream{Decoder: dec, body: resp.Body}, nil
}

// CloseIdleConnections drops pooled keep-alive connections
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
