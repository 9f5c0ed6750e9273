package session

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a store mutation
type ChangeKind int

const (
	ChangeSessionCreated ChangeKind = iota
	ChangeSessionUpdated
	ChangeSessionRemoved
	ChangeMessageAppended
	ChangeMessagePatched
	ChangeActive
)

// Change is delivered to subscribers after a mutation has been published
type Change struct {
	Kind      ChangeKind
	SessionID string
	MessageID string
}

// entry holds the current published value of one session. Writers of the
// same session are serialized by mu; readers only load the pointer.
type entry struct {
	mu  sync.Mutex
	cur atomic.Pointer[Session]
}

type subscriber struct {
	id int
	fn func(Change)
}

// Store maps session ids to sessions. Every mutation builds a new Session
// value and swaps it in, so readers see either the old or the new state.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // newest first
	active  string

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int

	now   func() time.Time
	newID func() string
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides the generator used for session and message ids
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a session with the placeholder title and makes it active
func (s *Store) CreateSession(modelID string) Session {
	sess := &Session{
		ID:        s.newID(),
		Title:     DefaultTitle,
		ModelID:   modelID,
		UpdatedAt: s.now(),
		Messages:  []Message{},
	}
	e := &entry{}
	e.cur.Store(sess)

	s.mu.Lock()
	s.entries[sess.ID] = e
	s.order = append([]string{sess.ID}, s.order...)
	s.active = sess.ID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSessionCreated, SessionID: sess.ID})
	s.notify(Change{Kind: ChangeActive, SessionID: sess.ID})
	return *sess
}

// AppendMessage appends a message to the session and returns its id
func (s *Store) AppendMessage(sessionID string, role Role, text string) (string, error) {
	now := s.now()
	msg := Message{ID: s.newID(), Role: role, Text: text, CreatedAt: now}

	_, err := s.update(sessionID, func(sess *Session) bool {
		sess.Messages = append(sess.Messages, msg)
		sess.UpdatedAt = now
		return true
	})
	if err != nil {
		return "", err
	}

	s.notify(Change{Kind: ChangeMessageAppended, SessionID: sessionID, MessageID: msg.ID})
	return msg.ID, nil
}

// PatchMessage applies a patch to one message. It is a no-op when the session
// or the message no longer exists and reports whether anything changed.
func (s *Store) PatchMessage(sessionID, messageID string, patch MessagePatch) bool {
	now := s.now()
	changed, err := s.update(sessionID, func(sess *Session) bool {
		i := slices.IndexFunc(sess.Messages, func(m Message) bool { return m.ID == messageID })
		if i < 0 {
			return false
		}
		patch.apply(&sess.Messages[i])
		sess.UpdatedAt = now
		return true
	})
	if err != nil || !changed {
		return false
	}

	s.notify(Change{Kind: ChangeMessagePatched, SessionID: sessionID, MessageID: messageID})
	return true
}

// RenameIfDefault names the session after candidate, but only while the title
// is still the placeholder. Blank candidates keep the placeholder.
func (s *Store) RenameIfDefault(sessionID, candidate string) bool {
	title := truncate(strings.TrimSpace(candidate), titleLimit)
	if title == "" {
		title = DefaultTitle
	}

	now := s.now()
	changed, err := s.update(sessionID, func(sess *Session) bool {
		if sess.Title != DefaultTitle || title == sess.Title {
			return false
		}
		sess.Title = title
		sess.UpdatedAt = now
		return true
	})
	if err != nil || !changed {
		return false
	}

	s.notify(Change{Kind: ChangeSessionUpdated, SessionID: sessionID})
	return true
}

// RealignModel moves every session whose model is missing from a non-empty
// catalog onto the catalog's first entry. It returns the number of sessions changed.
func (s *Store) RealignModel(catalog []Model) int {
	if len(catalog) == 0 {
		return 0
	}
	known := make(map[string]struct{}, len(catalog))
	for _, m := range catalog {
		known[m.ID] = struct{}{}
	}

	now := s.now()
	var changed []string
	for _, id := range s.ids() {
		ok, err := s.update(id, func(sess *Session) bool {
			if _, exists := known[sess.ModelID]; exists {
				return false
			}
			sess.ModelID = catalog[0].ID
			sess.UpdatedAt = now
			return true
		})
		if err == nil && ok {
			changed = append(changed, id)
		}
	}

	for _, id := range changed {
		s.notify(Change{Kind: ChangeSessionUpdated, SessionID: id})
	}
	return len(changed)
}

// SetModel changes the model selected for a session
func (s *Store) SetModel(sessionID, modelID string) error {
	now := s.now()
	changed, err := s.update(sessionID, func(sess *Session) bool {
		if sess.ModelID == modelID {
			return false
		}
		sess.ModelID = modelID
		sess.UpdatedAt = now
		return true
	})
	if err != nil {
		return err
	}
	if changed {
		s.notify(Change{Kind: ChangeSessionUpdated, SessionID: sessionID})
	}
	return nil
}

// SetActive marks a session as the active one
func (s *Store) SetActive(sessionID string) error {
	s.mu.Lock()
	if _, ok := s.entries[sessionID]; !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	s.active = sessionID
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeActive, SessionID: sessionID})
	return nil
}

// ActiveID returns the active session id, falling back to the first session
// when the active one no longer exists. It is empty only for an empty store.
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

func (s *Store) activeLocked() string {
	if _, ok := s.entries[s.active]; ok {
		return s.active
	}
	if len(s.order) > 0 {
		return s.order[0]
	}
	return ""
}

// Active returns a snapshot of the active session
func (s *Store) Active() (Session, bool) {
	return s.Get(s.ActiveID())
}

// Get returns a snapshot of one session
func (s *Store) Get(sessionID string) (Session, bool) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return Session{}, false
	}
	cur := e.cur.Load()
	if cur == nil {
		return Session{}, false
	}
	return *cur, true
}

// List returns snapshots of all sessions, newest first
func (s *Store) List() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		if cur := s.entries[id].cur.Load(); cur != nil {
			out = append(out, *cur)
		}
	}
	return out
}

// Len returns the number of sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Remove deletes a session. The active session falls back to the first
// remaining one and patches still targeting the session become no-ops.
func (s *Store) Remove(sessionID string) bool {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	e.mu.Lock()
	e.cur.Store(nil)
	e.mu.Unlock()

	delete(s.entries, sessionID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == sessionID })
	wasActive := s.active == sessionID
	if wasActive {
		s.active = s.activeLocked()
	}
	active := s.active
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeSessionRemoved, SessionID: sessionID})
	if wasActive && active != "" {
		s.notify(Change{Kind: ChangeActive, SessionID: active})
	}
	return true
}

// Subscribe registers fn to be called after every mutation. Callbacks run on
// the mutating goroutine and must not block. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(c)
	}
}

func (s *Store) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// update clones the session, lets fn mutate the clone and publishes it if fn
// reports a change.
func (s *Store) update(sessionID string, fn func(*Session) bool) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[sessionID]
	s.mu.RUnlock()
	if !ok {
		return false, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.cur.Load()
	if cur == nil {
		return false, ErrSessionNotFound
	}
	next := cur.clone()
	if !fn(next) {
		return false, nil
	}
	e.cur.Store(next)
	return true, nil
}

// truncate keeps the first n runes of s
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
