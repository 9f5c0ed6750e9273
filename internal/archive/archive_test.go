package archive

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/session"
)

func TestRecordTurnUpserts(t *testing.T) {
	a, err := Open(filepath.Join(t.TempDir(), "chats.db"), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := session.Session{
		ID:        "s-1",
		Title:     "Hello",
		ModelID:   "mock-1",
		UpdatedAt: ts,
		Messages: []session.Message{
			{ID: "m-1", Role: session.RoleUser, Text: "Hello", CreatedAt: ts},
			{ID: "m-2", Role: session.RoleAssistant, Text: "Hi", CreatedAt: ts},
		},
	}
	require.NoError(t, a.RecordTurn(ctx, sess))

	// A later turn rewrites the streamed message and adds new ones.
	sess.Messages[1].Text = "Hi there"
	sess.Messages = append(sess.Messages,
		session.Message{ID: "m-3", Role: session.RoleUser, Text: "again", CreatedAt: ts},
	)
	require.NoError(t, a.RecordTurn(ctx, sess))

	got, err := a.Transcript(ctx, "s-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Hi there", got[1].Text)
	assert.Equal(t, session.RoleAssistant, got[1].Role)
	assert.Equal(t, "m-3", got[2].ID)
	assert.True(t, got[0].CreatedAt.Equal(ts))

	title, err := a.Title(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "Hello", title)
}

func TestTranscriptUnknownSession(t *testing.T) {
	a, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.Transcript(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = a.Title(context.Background(), "missing")
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	a, err := Open(":memory:", nil)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, a.RecordTurn(ctx, session.Session{
		ID:        "s-1",
		Title:     "Greeting",
		UpdatedAt: ts,
		Messages: []session.Message{
			{ID: "m-1", Role: session.RoleUser, Text: "Hello", CreatedAt: ts},
			{ID: "m-2", Role: session.RoleAssistant, Text: "[error] rate limited", CreatedAt: ts},
		},
	}))

	var out bytes.Buffer
	require.NoError(t, a.Print(ctx, "s-1", &out))
	assert.Equal(t, "=== Greeting ===\n"+
		"[2026-03-01 12:00] You: Hello\n"+
		"[2026-03-01 12:00] Bot: [error] rate limited\n", out.String())

	assert.Error(t, a.Print(ctx, "missing", &out))
}
