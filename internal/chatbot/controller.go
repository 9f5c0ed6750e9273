package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"StreamChat/internal/backend"
	"StreamChat/internal/catalog"
	"StreamChat/internal/dispatch"
	"StreamChat/internal/session"
)

var (
	// ErrSendInFlight is returned when a send is attempted while another is streaming
	ErrSendInFlight = errors.New("a message is already being sent")
	// ErrEmptyInput is returned for blank input
	ErrEmptyInput = errors.New("input is empty")
	// ErrUnknownModel is returned when selecting a model the catalog does not offer
	ErrUnknownModel = errors.New("unknown model")
)

const (
	errorMarker   = "[error] "
	failureMarker = "[request failed] "
	unknownError  = "unknown error"
)

// Streamer opens chat streams against the backend
type Streamer interface {
	OpenStream(ctx context.Context, req backend.StreamRequest) (*backend.Stream, error)
}

// TurnRecorder receives the session after every finished send
type TurnRecorder interface {
	RecordTurn(ctx context.Context, sess session.Session) error
}

// Turn describes one finished send
type Turn struct {
	SessionID          string
	UserMessageID      string
	AssistantMessageID string
	// Err is the pipeline failure rendered into the assistant message, if any
	Err error
}

// Controller drives sends against the active session
type Controller struct {
	store    *session.Store
	catalog  *catalog.Catalog
	streamer Streamer
	recorder TurnRecorder
	logger   *slog.Logger
	tracer   trace.Tracer

	frames   metric.Int64Counter
	deltas   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram

	mu        sync.Mutex
	input     string
	sending   bool
	target    string
	listeners map[int]func()
	nextID    int
}

// Option configures a Controller
type Option func(*controllerOptions)

type controllerOptions struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	recorder TurnRecorder
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *controllerOptions) { o.logger = l }
}

// WithTelemetry sets the tracer and meter used for sends
func WithTelemetry(t trace.Tracer, m metric.Meter) Option {
	return func(o *controllerOptions) {
		o.tracer = t
		o.meter = m
	}
}

// WithRecorder archives every finished turn
func WithRecorder(r TurnRecorder) Option {
	return func(o *controllerOptions) { o.recorder = r }
}

// NewController creates a controller. If the store is empty a first session
// is created so that an active session always exists.
func NewController(store *session.Store, cat *catalog.Catalog, streamer Streamer, opts ...Option) (*Controller, error) {
	o := controllerOptions{
		logger: slog.Default(),
		tracer: tracenoop.NewTracerProvider().Tracer("streamchat"),
		meter:  metricnoop.NewMeterProvider().Meter("streamchat"),
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Controller{
		store:     store,
		catalog:   cat,
		streamer:  streamer,
		recorder:  o.recorder,
		logger:    o.logger,
		tracer:    o.tracer,
		listeners: make(map[int]func()),
	}

	var err error
	if c.frames, err = o.meter.Int64Counter("chat.frames",
		metric.WithDescription("Frames decoded from chat streams")); err != nil {
		return nil, fmt.Errorf("failed to create frames counter: %w", err)
	}
	if c.deltas, err = o.meter.Int64Counter("chat.deltas",
		metric.WithDescription("Delta events applied to assistant messages")); err != nil {
		return nil, fmt.Errorf("failed to create deltas counter: %w", err)
	}
	if c.failures, err = o.meter.Int64Counter("chat.failures",
		metric.WithDescription("Sends that ended in a request failure")); err != nil {
		return nil, fmt.Errorf("failed to create failures counter: %w", err)
	}
	if c.duration, err = o.meter.Float64Histogram("chat.stream.duration",
		metric.WithDescription("Duration of chat streams"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	if store.Len() == 0 {
		store.CreateSession(cat.DefaultModelID())
	}
	return c, nil
}

// Store returns the session store
func (c *Controller) Store() *session.Store { return c.store }

// Catalog returns the model catalog
func (c *Controller) Catalog() *catalog.Catalog { return c.catalog }

// Subscribe registers fn for changes to controller state (input, sending).
// Store changes are observed through Store().Subscribe.
func (c *Controller) Subscribe(fn func()) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// SetInput replaces the composer text
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	c.input = text
	c.mu.Unlock()
	c.notify()
}

// Input returns the composer text
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Sending reports whether a send is in flight
func (c *Controller) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Target returns the id of the assistant message currently being streamed,
// or "" when idle.
func (c *Controller) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Submit sends the current composer text
func (c *Controller) Submit(ctx context.Context) (Turn, error) {
	return c.Send(ctx, c.Input())
}

// NewChat starts a fresh session bound to the default model and makes it active
func (c *Controller) NewChat() session.Session {
	sess := c.store.CreateSession(c.catalog.DefaultModelID())
	c.SetInput("")
	c.logger.Info("new chat", "session_id", sess.ID, "model", sess.ModelID)
	return sess
}

// SelectSession makes the given session active
func (c *Controller) SelectSession(id string) error {
	return c.store.SetActive(id)
}

// SelectModel binds the active session to modelID, which must be one of the
// catalog options.
func (c *Controller) SelectModel(modelID string) error {
	// While the catalog is empty only the fallback entry is offered
	if !c.catalog.Contains(modelID) && modelID != c.catalog.DefaultModelID() {
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return c.store.SetModel(c.store.ActiveID(), modelID)
}

// LoadCatalog fetches the model list. When the catalog goes from empty to
// populated, every session is realigned onto it.
func (c *Controller) LoadCatalog(ctx context.Context, l catalog.Lister) error {
	populated, err := c.catalog.Load(ctx, l)
	if err != nil {
		c.logger.Warn("failed to load model catalog", "error", err)
		return fmt.Errorf("failed to load models: %w", err)
	}
	if populated {
		n := c.store.RealignModel(c.catalog.Models())
		c.logger.Info("model catalog loaded", "models", len(c.catalog.Models()), "realigned", n)
	}
	return nil
}

// Send appends text to the active session as a user message and streams the
// assistant reply into a new assistant message. Rejections (in flight, empty
// input) return an error and leave the store untouched. Pipeline failures are
// rendered into the assistant message and reported in Turn.Err.
func (c *Controller) Send(ctx context.Context, input string) (Turn, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Turn{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return Turn{}, ErrSendInFlight
	}
	c.sending = true
	c.mu.Unlock()
	c.notify()

	sess, ok := c.store.Active()
	if !ok {
		sess = c.store.CreateSession(c.catalog.DefaultModelID())
	}
	// History is captured before the new user message is appended
	history := sess.Messages

	c.store.RenameIfDefault(sess.ID, text)
	userID, err := c.store.AppendMessage(sess.ID, session.RoleUser, text)
	if err != nil {
		c.finish()
		return Turn{}, fmt.Errorf("failed to append user message: %w", err)
	}
	c.SetInput("")

	targetID, err := c.store.AppendMessage(sess.ID, session.RoleAssistant, "")
	if err != nil {
		c.finish()
		return Turn{}, fmt.Errorf("failed to append assistant message: %w", err)
	}
	c.mu.Lock()
	c.target = targetID
	c.mu.Unlock()

	turn := Turn{SessionID: sess.ID, UserMessageID: userID, AssistantMessageID: targetID}
	defer func() {
		c.finish()
		c.record(ctx, sess.ID)
	}()

	req := c.buildRequest(sess.ModelID, history, text)
	if err := c.stream(ctx, sess.ID, targetID, req); err != nil {
		turn.Err = err
		c.store.PatchMessage(sess.ID, targetID, session.ReplaceText(failureMarker+err.Error()))
	}
	return turn, nil
}

// buildRequest assembles the backend payload from the history preceding the
// new user message.
func (c *Controller) buildRequest(modelID string, history []session.Message, text string) backend.StreamRequest {
	if modelID == "" {
		modelID = c.catalog.DefaultModelID()
	}
	messages := make([]backend.WireMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, backend.WireMessage{Role: string(m.Role), Content: m.Text})
	}
	messages = append(messages, backend.WireMessage{Role: string(session.RoleUser), Content: text})

	return backend.StreamRequest{
		Model:    modelID,
		Messages: messages,
		Stream:   true,
	}
}

// stream opens the chat stream and applies its events to the target message.
// A returned error means the request failed before or during streaming.
func (c *Controller) stream(ctx context.Context, sessionID, targetID string, req backend.StreamRequest) error {
	ctx, span := c.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("chat.model", req.Model),
		attribute.Int("chat.history", len(req.Messages)-1),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		c.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("chat.model", req.Model)))
	}()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failures.Add(ctx, 1)
		c.logger.Error("chat request failed", "session_id", sessionID, "model", req.Model, "error", err)
		return err
	}

	st, err := c.streamer.OpenStream(ctx, req)
	if err != nil {
		return fail(err)
	}
	defer st.Close()

	c.logger.Info("chat stream started", "session_id", sessionID, "model", req.Model)

	errored := false
	for frame, err := range st.Frames() {
		if err != nil {
			return fail(err)
		}
		c.frames.Add(ctx, 1)

		ev, ok := dispatch.Parse(frame)
		if !ok {
			continue
		}
		if ev.DecodeErr != nil {
			c.logger.Debug("non-JSON event payload", "event", ev.Kind, "error", ev.DecodeErr)
		}

		switch dispatch.Classify(ev) {
		case dispatch.ActionMeta:
			span.AddEvent("meta", trace.WithAttributes(attribute.String("chat.meta.model", ev.Field("model"))))
		case dispatch.ActionDelta:
			chunk := ev.Text()
			if chunk == "" || errored {
				continue
			}
			if c.store.PatchMessage(sessionID, targetID, session.AppendText(chunk)) {
				c.deltas.Add(ctx, 1)
			}
		case dispatch.ActionError:
			msg := ev.Message()
			if msg == "" {
				msg = unknownError
			}
			errored = true
			span.SetStatus(codes.Error, msg)
			c.store.PatchMessage(sessionID, targetID, session.ReplaceText(errorMarker+msg))
			c.logger.Warn("backend reported error", "session_id", sessionID, "message", msg)
		case dispatch.ActionEnd:
			span.AddEvent("done")
		}
	}

	c.logger.Info("chat stream finished", "session_id", sessionID, "duration", time.Since(start))
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.sending = false
	c.target = ""
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) record(ctx context.Context, sessionID string) {
	if c.recorder == nil {
		return
	}
	sess, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	if err := c.recorder.RecordTurn(context.WithoutCancel(ctx), sess); err != nil {
		c.logger.Warn("failed to archive turn", "session_id", sessionID, "error", err)
	}
}
