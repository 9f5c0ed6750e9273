package chatbot

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/session"
)

func runConsole(t *testing.T, c *Controller, lister fakeLister, input string) string {
	t.Helper()
	var out bytes.Buffer
	console := NewConsole(c, lister, &out)
	require.NoError(t, console.Run(context.Background(), strings.NewReader(input)))
	return out.String()
}

func TestConsoleStreamsReply(t *testing.T) {
	fs := &fakeStreamer{body: "event: delta\ndata: {\"text\":\"Hi\"}\n\n" +
		"event: delta\ndata: {\"text\":\" there\"}\n\n" +
		"event: done\ndata: {}\n\n"}
	c := newTestController(t, fs)

	out := runConsole(t, c, fakeLister{}, "Hello\n/quit\n")
	assert.Contains(t, out, "Bot: Hi there\n")
	assert.Contains(t, out, "Goodbye!")
}

func TestConsolePrintsErrorMarker(t *testing.T) {
	fs := &fakeStreamer{body: "event: delta\ndata: {\"text\":\"partial\"}\n\n" +
		"event: error\ndata: {\"message\":\"rate limited\"}\n\n"}
	c := newTestController(t, fs)

	out := runConsole(t, c, fakeLister{}, "Hello\n")
	assert.Contains(t, out, "Bot: partial\n[error] rate limited")
}

func TestConsoleCommands(t *testing.T) {
	c := newTestController(t, &fakeStreamer{body: "event: delta\ndata: {\"text\":\"ok\"}\n\n"})
	lister := fakeLister{models: []session.Model{{ID: "gpt-x", Name: "GPT X"}}}

	out := runConsole(t, c, lister, strings.Join([]string{
		"first chat",
		"/new",
		"/sessions",
		"/switch 2",
		"/history",
		"/model gpt-x",
		"/reload",
		"/model gpt-x",
		"/models",
		"/bogus",
		"/exit",
		"never sent",
	}, "\n"))

	assert.Contains(t, out, "Started new chat:")
	assert.Contains(t, out, "* 1. New chat [mock-1]")
	assert.Contains(t, out, "  2. first chat [mock-1]")
	assert.Contains(t, out, `Switched to "first chat"`)
	assert.Contains(t, out, "You: first chat\nBot: ok\n")
	assert.Contains(t, out, "Error: unknown model: gpt-x")
	assert.Contains(t, out, "Loaded 1 models")
	assert.Contains(t, out, "Model set to: GPT X")
	assert.Contains(t, out, "1. gpt-x - GPT X (current)")
	assert.Contains(t, out, "Error: unknown command: /bogus")
	assert.NotContains(t, out, "never sent")

	sess, _ := c.Store().Active()
	assert.Equal(t, "first chat", sess.Title)
	assert.Equal(t, "gpt-x", sess.ModelID)
}
