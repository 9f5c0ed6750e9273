package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// MockModelID is the model served when a request names an unknown model
	MockModelID = "mock-1"
	// MockModelName is its display name
	MockModelName = "Mock Stream"

	providerMock = "mock"
)

// Provider produces the text of a reply, one fragment at a time
type Provider interface {
	StreamChat(ctx context.Context, model string, messages []WireMessage, emit func(string) error) error
}

// MockProvider echoes the last user message back, one rune per fragment
type MockProvider struct {
	Delay time.Duration
}

// StreamChat implements Provider
func (p MockProvider) StreamChat(ctx context.Context, model string, messages []WireMessage, emit func(string) error) error {
	var lastUser string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			lastUser = messages[i].Content
			break
		}
	}

	text := fmt.Sprintf("(mock stream) You picked model %s.\nYou said: %s\n\nConnect a real model to replace this output.", model, lastUser)
	for _, r := range text {
		if p.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay):
			}
		}
		if err := emit(string(r)); err != nil {
			return err
		}
	}
	return nil
}

// MockServer is a local chat backend speaking the same protocol as the real
// one: GET /models, POST /chat/stream and GET /health.
type MockServer struct {
	models    []ModelInfo
	providers map[string]Provider
	logger    *slog.Logger
}

// MockOption configures a MockServer
type MockOption func(*MockServer)

// WithModel adds a catalog entry served by the named provider
func WithModel(m ModelInfo) MockOption {
	return func(s *MockServer) { s.models = append(s.models, m) }
}

// WithProvider registers a provider under a name
func WithProvider(name string, p Provider) MockOption {
	return func(s *MockServer) { s.providers[name] = p }
}

// NewMockServer creates a mock backend whose catalog starts with the mock model
func NewMockServer(logger *slog.Logger, delay time.Duration, opts ...MockOption) *MockServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MockServer{
		models: []ModelInfo{{
			ID:          MockModelID,
			Name:        MockModelName,
			Provider:    providerMock,
			Description: "local fake streaming output",
		}},
		providers: map[string]Provider{providerMock: MockProvider{Delay: delay}},
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes of the mock backend
func (s *MockServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"ok": true})
	})
	return mux
}

func (s *MockServer) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.models)
}

func (s *MockServer) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Unknown models fall back to the mock model
	providerName, model := providerMock, MockModelID
	for _, m := range s.models {
		if m.ID == req.Model {
			providerName, model = m.Provider, m.ID
			break
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// The first failed write means the client is gone; nothing more is sent
	var writeErr error
	send := func(event string, data any) error {
		if writeErr != nil {
			return writeErr
		}
		if err := writeEvent(w, event, data); err != nil {
			writeErr = err
			s.logger.Debug("mock client went away", "model", model, "event", event, "error", err)
			return err
		}
		flusher.Flush()
		return nil
	}

	s.logger.Info("mock stream started", "model", model, "provider", providerName, "messages", len(req.Messages))
	if send("meta", MetaPayload{Model: model, Provider: providerName}) != nil {
		return
	}
	defer func() {
		if writeErr == nil {
			send("done", struct{}{})
		}
	}()

	provider, ok := s.providers[providerName]
	if !ok {
		send("error", ErrorPayload{Message: "Provider not available: " + providerName})
		return
	}

	err := provider.StreamChat(r.Context(), model, req.Messages, func(chunk string) error {
		return send("delta", DeltaPayload{Text: chunk})
	})
	if err != nil && writeErr == nil {
		s.logger.Warn("mock stream failed", "model", model, "error", err)
		send("error", ErrorPayload{Message: err.Error()})
	}
}

// writeEvent writes one frame: an event line, a data line and a blank line
func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
