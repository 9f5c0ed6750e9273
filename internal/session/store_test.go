package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore returns a store with deterministic ids and a manual clock
func newTestStore() (*Store, *time.Time) {
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	s := NewStore(
		WithClock(func() time.Time { return clock }),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
	)
	return s, &clock
}

func TestCreateSession(t *testing.T) {
	s, clock := newTestStore()

	sess := s.CreateSession("mock-1")
	assert.Equal(t, "id-1", sess.ID)
	assert.Equal(t, DefaultTitle, sess.Title)
	assert.Equal(t, "mock-1", sess.ModelID)
	assert.Equal(t, *clock, sess.UpdatedAt)
	assert.Empty(t, sess.Messages)
	assert.Equal(t, sess.ID, s.ActiveID())

	second := s.CreateSession("mock-1")
	assert.Equal(t, second.ID, s.ActiveID(), "new session becomes active")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
}

func TestAppendAndPatchMessage(t *testing.T) {
	s, clock := newTestStore()
	sess := s.CreateSession("m")

	*clock = clock.Add(time.Minute)
	userID, err := s.AppendMessage(sess.ID, RoleUser, "Hello")
	require.NoError(t, err)
	asstID, err := s.AppendMessage(sess.ID, RoleAssistant, "")
	require.NoError(t, err)

	assert.True(t, s.PatchMessage(sess.ID, asstID, AppendText("Hi")))
	assert.True(t, s.PatchMessage(sess.ID, asstID, AppendText(" there")))

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, userID, got.Messages[0].ID)
	assert.Equal(t, "Hello", got.Messages[0].Text)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, "Hi there", got.Messages[1].Text)
	assert.Equal(t, *clock, got.UpdatedAt)

	assert.True(t, s.PatchMessage(sess.ID, asstID, ReplaceText("[error] boom")))
	got, _ = s.Get(sess.ID)
	assert.Equal(t, "[error] boom", got.Messages[1].Text)
}

func TestAppendMessageUnknownSession(t *testing.T) {
	s, _ := newTestStore()
	_, err := s.AppendMessage("missing", RoleUser, "x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestPatchMessageIsNoopForMissingTargets(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("m")

	assert.False(t, s.PatchMessage("missing", "id-x", AppendText("x")))
	assert.False(t, s.PatchMessage(sess.ID, "missing", AppendText("x")))

	id, err := s.AppendMessage(sess.ID, RoleAssistant, "")
	require.NoError(t, err)
	require.True(t, s.Remove(sess.ID))
	assert.False(t, s.PatchMessage(sess.ID, id, AppendText("late")))
}

func TestPatchTargetsOnlyOneMessageAcrossSessions(t *testing.T) {
	s, _ := newTestStore()
	a := s.CreateSession("m")
	b := s.CreateSession("m")

	idA, err := s.AppendMessage(a.ID, RoleAssistant, "same")
	require.NoError(t, err)
	idB, err := s.AppendMessage(b.ID, RoleAssistant, "same")
	require.NoError(t, err)
	require.NotEqual(t, idA, idB)

	require.True(t, s.PatchMessage(b.ID, idB, AppendText("!")))

	gotA, _ := s.Get(a.ID)
	gotB, _ := s.Get(b.ID)
	assert.Equal(t, "same", gotA.Messages[0].Text)
	assert.Equal(t, "same!", gotB.Messages[0].Text)

	// Patching with the right id but the wrong session does nothing.
	assert.False(t, s.PatchMessage(a.ID, idB, AppendText("?")))
}

func TestSnapshotsAreNotMutated(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("m")
	id, err := s.AppendMessage(sess.ID, RoleAssistant, "a")
	require.NoError(t, err)

	before, _ := s.Get(sess.ID)
	s.PatchMessage(sess.ID, id, AppendText("b"))
	_, err = s.AppendMessage(sess.ID, RoleUser, "c")
	require.NoError(t, err)

	assert.Equal(t, "a", before.Messages[0].Text)
	assert.Len(t, before.Messages, 1)
}

func TestRenameIfDefault(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("m")

	assert.True(t, s.RenameIfDefault(sess.ID, "  What is the capital of France?  "))
	got, _ := s.Get(sess.ID)
	assert.Equal(t, "What is the capi", got.Title)

	assert.False(t, s.RenameIfDefault(sess.ID, "something else"))
	got, _ = s.Get(sess.ID)
	assert.Equal(t, "What is the capi", got.Title)
}

func TestRenameIfDefaultCountsRunes(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("m")

	s.RenameIfDefault(sess.ID, "你好世界你好世界你好世界你好世界你好世界")
	got, _ := s.Get(sess.ID)
	assert.Equal(t, "你好世界你好世界你好世界你好世界", got.Title)
}

func TestRenameIfDefaultBlankKeepsPlaceholder(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("m")

	assert.False(t, s.RenameIfDefault(sess.ID, "   "))
	got, _ := s.Get(sess.ID)
	assert.Equal(t, DefaultTitle, got.Title)

	assert.True(t, s.RenameIfDefault(sess.ID, "real title"))
}

func TestRealignModel(t *testing.T) {
	s, _ := newTestStore()
	stale := s.CreateSession("mock-1")
	valid := s.CreateSession("gpt-4o")

	assert.Equal(t, 0, s.RealignModel(nil))

	catalog := []Model{{ID: "gpt-4o", Name: "GPT-4o"}, {ID: "qwen-max", Name: "Qwen Max"}}
	assert.Equal(t, 1, s.RealignModel(catalog))

	got, _ := s.Get(stale.ID)
	assert.Equal(t, "gpt-4o", got.ModelID)
	got, _ = s.Get(valid.ID)
	assert.Equal(t, "gpt-4o", got.ModelID)

	assert.Equal(t, 0, s.RealignModel(catalog), "already aligned")
}

func TestSetModel(t *testing.T) {
	s, _ := newTestStore()
	sess := s.CreateSession("a")

	require.NoError(t, s.SetModel(sess.ID, "b"))
	got, _ := s.Get(sess.ID)
	assert.Equal(t, "b", got.ModelID)

	assert.ErrorIs(t, s.SetModel("missing", "b"), ErrSessionNotFound)
}

func TestActiveFallsBackToFirstSession(t *testing.T) {
	s, _ := newTestStore()
	assert.Equal(t, "", s.ActiveID())
	_, ok := s.Active()
	assert.False(t, ok)

	a := s.CreateSession("m")
	b := s.CreateSession("m")
	require.NoError(t, s.SetActive(a.ID))
	assert.ErrorIs(t, s.SetActive("missing"), ErrSessionNotFound)
	assert.Equal(t, a.ID, s.ActiveID())

	require.True(t, s.Remove(a.ID))
	assert.Equal(t, b.ID, s.ActiveID())
	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, b.ID, active.ID)

	assert.False(t, s.Remove(a.ID))
	assert.Equal(t, 1, s.Len())
}

func TestSubscribe(t *testing.T) {
	s, _ := newTestStore()

	var changes []Change
	cancel := s.Subscribe(func(c Change) { changes = append(changes, c) })

	sess := s.CreateSession("m")
	id, err := s.AppendMessage(sess.ID, RoleUser, "x")
	require.NoError(t, err)
	s.PatchMessage(sess.ID, id, AppendText("y"))
	s.PatchMessage(sess.ID, "missing", AppendText("y"))

	assert.Equal(t, []Change{
		{Kind: ChangeSessionCreated, SessionID: sess.ID},
		{Kind: ChangeActive, SessionID: sess.ID},
		{Kind: ChangeMessageAppended, SessionID: sess.ID, MessageID: id},
		{Kind: ChangeMessagePatched, SessionID: sess.ID, MessageID: id},
	}, changes)

	cancel()
	s.CreateSession("m")
	assert.Len(t, changes, 4)
}

func TestConcurrentPatchesAcrossSessions(t *testing.T) {
	s := NewStore()
	const sessions, fragments = 4, 200

	type target struct{ sessionID, messageID string }
	targets := make([]target, sessions)
	for i := range targets {
		sess := s.CreateSession("m")
		id, err := s.AppendMessage(sess.ID, RoleAssistant, "")
		require.NoError(t, err)
		targets[i] = target{sess.ID, id}
	}

	var wg sync.WaitGroup
	for _, tg := range targets {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range fragments {
					s.PatchMessage(tg.sessionID, tg.messageID, AppendText("x"))
					s.List()
				}
			}()
		}
	}
	wg.Wait()

	for _, tg := range targets {
		got, ok := s.Get(tg.sessionID)
		require.True(t, ok)
		assert.Len(t, got.Messages[0].Text, 2*fragments)
	}
}
