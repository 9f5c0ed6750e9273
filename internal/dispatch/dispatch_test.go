package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantOK  bool
		kind    string
		payload any
		decErr  bool
	}{
		{
			name:    "delta",
			frame:   "event: delta\ndata: {\"text\":\"Hi\"}",
			wantOK:  true,
			kind:    KindDelta,
			payload: map[string]any{"text": "Hi"},
		},
		{
			name:    "error",
			frame:   "event: error\ndata: {\"message\":\"rate limited\"}",
			wantOK:  true,
			kind:    KindError,
			payload: map[string]any{"message": "rate limited"},
		},
		{
			name:    "default kind",
			frame:   "data: {\"a\":1}",
			wantOK:  true,
			kind:    KindMessage,
			payload: map[string]any{"a": float64(1)},
		},
		{
			name:    "multiple data lines concatenate",
			frame:   "event: delta\ndata: {\"text\":\ndata: \"joined\"}",
			wantOK:  true,
			kind:    KindDelta,
			payload: map[string]any{"text": "joined"},
		},
		{
			name:    "invalid json degrades to raw",
			frame:   "event: delta\ndata: not json",
			wantOK:  true,
			kind:    KindDelta,
			payload: map[string]any{"raw": "not json"},
			decErr:  true,
		},
		{
			name:    "non-object json is kept as is",
			frame:   "event: meta\ndata: [1,2]",
			wantOK:  true,
			kind:    KindMeta,
			payload: []any{float64(1), float64(2)},
		},
		{
			name:    "kind is trimmed",
			frame:   "event:   done  \ndata: {}",
			wantOK:  true,
			kind:    KindDone,
			payload: map[string]any{},
		},
		{
			name:    "crlf line endings",
			frame:   "event: delta\r\ndata: {\"text\":\"x\"}\r",
			wantOK:  true,
			kind:    KindDelta,
			payload: map[string]any{"text": "x"},
		},
		{name: "event only", frame: "event: ping"},
		{name: "empty frame", frame: ""},
		{name: "empty data", frame: "event: delta\ndata:   "},
		{name: "comment only", frame: ": keepalive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := Parse(tt.frame)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.kind, ev.Kind)
			assert.Equal(t, tt.payload, ev.Payload)
			if tt.decErr {
				require.NotNil(t, ev.DecodeErr)
				assert.Equal(t, "not json", ev.DecodeErr.Raw)
			} else {
				assert.Nil(t, ev.DecodeErr)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Action{
		KindDelta:   ActionDelta,
		KindError:   ActionError,
		KindDone:    ActionEnd,
		KindMeta:    ActionMeta,
		KindMessage: ActionIgnore,
		"progress":  ActionIgnore,
	}
	for kind, want := range cases {
		assert.Equal(t, want, Classify(Event{Kind: kind}), kind)
	}
}

func TestEventFields(t *testing.T) {
	ev, ok := Parse("event: delta\ndata: {\"text\":\"frag\",\"n\":3}")
	require.True(t, ok)
	assert.Equal(t, "frag", ev.Text())
	assert.Equal(t, "", ev.Message())
	assert.Equal(t, "", ev.Field("n"))

	raw, ok := Parse("event: delta\ndata: [\"x\"]")
	require.True(t, ok)
	assert.Equal(t, "", raw.Text())
}
