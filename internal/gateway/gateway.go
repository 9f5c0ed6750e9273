// Package gateway exposes the chat controller to browsers over WebSocket.
// Each connection receives a full snapshot on connect and after every change;
// bursts of changes are coalesced into a single snapshot.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"StreamChat/internal/chatbot"
	"StreamChat/internal/session"
)

const writeTimeout = 10 * time.Second

// Operations accepted from clients
const (
	OpSend   = "send"
	OpNew    = "new"
	OpSelect = "select"
	OpModel  = "model"
	OpInput  = "input"
)

// Command is an inbound client message
type Command struct {
	Op      string `json:"op"`
	Text    string `json:"text,omitempty"`
	ID      string `json:"id,omitempty"`
	ModelID string `json:"model_id,omitempty"`
}

// Snapshot is the full view state pushed to clients
type Snapshot struct {
	Type               string            `json:"type"`
	ActiveID           string            `json:"active_id"`
	Sending            bool              `json:"sending"`
	StreamingMessageID string            `json:"streaming_message_id,omitempty"`
	Input              string            `json:"input"`
	Sessions           []session.Session `json:"sessions"`
	Models             []session.Model   `json:"models"`
	ModelsLoaded       bool              `json:"models_loaded"`
	ModelsError        string            `json:"models_error,omitempty"`
}

// Reply reports a rejected command to the client that sent it
type Reply struct {
	Type  string `json:"type"`
	Op    string `json:"op"`
	Error string `json:"error"`
}

// Server serves the WebSocket gateway
type Server struct {
	ctrl     *chatbot.Controller
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	sends  sync.WaitGroup
}

// ErrClosed is returned for sends arriving after Close
var ErrClosed = errors.New("gateway is shutting down")

// New creates a gateway for ctrl
func New(ctrl *chatbot.Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctrl:   ctrl,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the HTTP routes of the gateway
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Close cancels in-flight sends started by clients and waits for them.
// Connections that outlive Close can no longer start sends.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.sends.Wait()
}

// snapshot captures the current view state
func (s *Server) snapshot() Snapshot {
	snap := Snapshot{
		Type:               "snapshot",
		ActiveID:           s.ctrl.Store().ActiveID(),
		Sending:            s.ctrl.Sending(),
		StreamingMessageID: s.ctrl.Target(),
		Input:              s.ctrl.Input(),
		Sessions:           s.ctrl.Store().List(),
		Models:             s.ctrl.Catalog().Options(),
		ModelsLoaded:       s.ctrl.Catalog().Loaded(),
	}
	if err := s.ctrl.Catalog().Err(); err != nil {
		snap.ModelsError = err.Error()
	}
	return snap
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("gateway client connected", "remote", r.RemoteAddr)

	dirty := make(chan struct{}, 1)
	mark := func() {
		select {
		case dirty <- struct{}{}:
		default:
		}
	}
	unsubStore := s.ctrl.Store().Subscribe(func(session.Change) { mark() })
	defer unsubStore()
	unsubCtrl := s.ctrl.Subscribe(mark)
	defer unsubCtrl()
	mark()

	replies := make(chan Reply, 8)
	done := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-done:
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-dirty:
				msg = s.snapshot()
			case reply := <-replies:
				msg = reply
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("gateway write failed", "error", err)
				// Unblock the reader
				conn.Close()
				return
			}
		}
	}()

	for {
		var cmd Command
		if err := conn.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("gateway read ended", "error", err)
			}
			break
		}
		reject := func(err error) {
			s.logger.Info("gateway command rejected", "op", cmd.Op, "error", err)
			select {
			case replies <- Reply{Type: "error", Op: cmd.Op, Error: err.Error()}:
			default:
			}
		}
		if err := s.apply(cmd, reject); err != nil {
			reject(err)
		}
	}

	close(done)
	<-writerDone
	s.logger.Info("gateway client disconnected", "remote", r.RemoteAddr)
}

// apply executes a client command. Sends run in the background; their
// progress reaches clients through snapshots, and a send rejected once
// running is reported through reject.
func (s *Server) apply(cmd Command, reject func(error)) error {
	switch cmd.Op {
	case OpSend:
		text := cmd.Text
		if text == "" {
			text = s.ctrl.Input()
		}
		if strings.TrimSpace(text) == "" {
			return chatbot.ErrEmptyInput
		}
		if s.ctrl.Sending() {
			return chatbot.ErrSendInFlight
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		s.sends.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.sends.Done()
			// Another client may have started a send after the check above
			if _, err := s.ctrl.Send(s.ctx, text); err != nil {
				reject(err)
			}
		}()
		return nil
	case OpNew:
		s.ctrl.NewChat()
		return nil
	case OpSelect:
		return s.ctrl.SelectSession(cmd.ID)
	case OpModel:
		return s.ctrl.SelectModel(cmd.ModelID)
	case OpInput:
		s.ctrl.SetInput(cmd.Text)
		return nil
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}
