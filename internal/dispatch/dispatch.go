// Package dispatch parses stream frames into typed events and maps each event
// kind to the action the chat controller should take.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event kinds sent by the chat backend.
const (
	KindMessage = "message" // default when a frame carries no event line
	KindMeta    = "meta"
	KindDelta   = "delta"
	KindError   = "error"
	KindDone    = "done"
)

// Action is the semantic effect of an event on the transcript.
type Action int

const (
	ActionIgnore Action = iota
	ActionMeta
	ActionDelta
	ActionError
	ActionEnd
)

func (a Action) String() string {
	switch a {
	case ActionMeta:
		return "meta"
	case ActionDelta:
		return "delta"
	case ActionError:
		return "error"
	case ActionEnd:
		return "end"
	default:
		return "ignore"
	}
}

// PayloadDecodeError records that a payload was not valid JSON. It never
// aborts a stream: the event carries the raw text instead.
type PayloadDecodeError struct {
	Raw string
	Err error
}

// Error implements the error interface.
func (e *PayloadDecodeError) Error() string {
	return fmt.Sprintf("decode payload %q: %v", e.Raw, e.Err)
}

// Unwrap returns the underlying error.
func (e *PayloadDecodeError) Unwrap() error {
	return e.Err
}

// Event is one decoded frame.
type Event struct {
	Kind string
	// Payload is the parsed JSON value, or {"raw": <text>} if parsing failed.
	Payload any
	// DecodeErr is set when Payload holds the raw fallback.
	DecodeErr *PayloadDecodeError
}

// Parse turns one frame into an event. Frames without any data line yield
// no event, which covers keepalives and empty frames.
func Parse(frame string) (Event, bool) {
	kind := KindMessage
	var data strings.Builder
	var hasData bool

	for _, line := range strings.Split(strings.TrimSpace(frame), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			kind = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			// Continuation lines are joined without a separator.
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
			hasData = true
		}
	}

	raw := data.String()
	if !hasData || raw == "" {
		return Event{}, false
	}

	ev := Event{Kind: kind}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		ev.Payload = map[string]any{"raw": raw}
		ev.DecodeErr = &PayloadDecodeError{Raw: raw, Err: err}
		return ev, true
	}
	ev.Payload = v
	return ev, true
}

// Classify maps an event kind to its action.
func Classify(ev Event) Action {
	switch ev.Kind {
	case KindDelta:
		return ActionDelta
	case KindError:
		return ActionError
	case KindDone:
		return ActionEnd
	case KindMeta:
		return ActionMeta
	default:
		return ActionIgnore
	}
}

// Field returns a string field of an object payload, or "" if the payload is
// not an object or the field is missing or not a string.
func (e Event) Field(name string) string {
	obj, ok := e.Payload.(map[string]any)
	if !ok {
		return ""
	}
	s, _ := obj[name].(string)
	return s
}

// Text returns the fragment carried by a delta event.
func (e Event) Text() string {
	return e.Field("text")
}

// Message returns the human-readable text of an error event.
func (e Event) Message() string {
	return e.Field("message")
}
