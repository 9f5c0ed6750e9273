package backend

import "StreamChat/internal/session"

// WireMessage represents one history entry in a chat-stream request
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamRequest represents the request body for POST /chat/stream
type StreamRequest struct {
	Model    string        `json:"model"`
	Messages []WireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ModelInfo represents a single entry of the GET /models response
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Provider    string `json:"provider,omitempty"`
	Description string `json:"description,omitempty"`
}

// DeltaPayload is the data of a "delta" event
type DeltaPayload struct {
	Text string `json:"text"`
}

// ErrorPayload is the data of an "error" event
type ErrorPayload struct {
	Message string `json:"message"`
}

// MetaPayload is the data of the "meta" event opening every stream
type MetaPayload struct {
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// ToModels converts catalog entries to the session model type
func ToModels(infos []ModelInfo) []session.Model {
	models := make([]session.Model, len(infos))
	for i, m := range infos {
		models[i] = session.Model{ID: m.ID, Name: m.Name}
	}
	return models
}
