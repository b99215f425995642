// Package session drives one realtime voice conversation: it connects to the
// realtime service, pushes the agent configuration, turns server events into
// transcript entries and routes tool calls to the dispatcher.
//
// All session state is owned by the goroutine running [Orchestrator.Run].
// Connect, Disconnect and SendText are commands executed on that goroutine in
// submission order, and data-channel events are consumed there in arrival
// order, so no two steps ever interleave. Network-bound steps (profile
// refresh, credential read, negotiation, tool handlers) are awaited inline.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/finvoice/internal/credential"
	"github.com/MrWong99/finvoice/internal/glossary"
	"github.com/MrWong99/finvoice/internal/observe"
	"github.com/MrWong99/finvoice/internal/profile"
	"github.com/MrWong99/finvoice/internal/tools"
	"github.com/MrWong99/finvoice/internal/transcriptsink"
	"github.com/MrWong99/finvoice/pkg/agent"
	"github.com/MrWong99/finvoice/pkg/realtime"
	"github.com/MrWong99/finvoice/pkg/transcript"
)

// ErrNotRunning is returned by commands issued while no [Orchestrator.Run]
// loop is active.
var ErrNotRunning = errors.New("session: orchestrator is not running")

// ErrAlreadyRunning is returned by a second concurrent [Orchestrator.Run].
var ErrAlreadyRunning = errors.New("session: orchestrator is already running")

// defaultFlushTimeout bounds the transcript submission on disconnect.
const defaultFlushTimeout = 10 * time.Second

// ProfileService refreshes and serves the cached user profile.
type ProfileService interface {
	Refresh(ctx context.Context) (profile.Snapshot, error)
	Cached(ctx context.Context) profile.Snapshot
}

// Dispatcher executes tool calls. [*tools.Dispatcher] implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, call tools.Call, script agent.Materialized, out tools.Sender) error
}

// Config holds the collaborators of an [Orchestrator]. Script, Negotiator,
// Credentials, Transcript and Tools are required.
type Config struct {
	Script      *agent.Script
	Negotiator  realtime.Negotiator
	Credentials credential.Source
	Transcript  *transcript.Store
	Tools       Dispatcher

	// DegradedNegotiator is used for the single retry after the negotiator
	// reports a *realtime.MediaAccessError. It should not touch the
	// microphone. Defaults to Negotiator.
	DegradedNegotiator realtime.Negotiator

	// Endpoint is the signaling URL, checked for a secure context before
	// every connect.
	Endpoint string

	// Profile is optional. Without it the persona placeholder stays as written.
	Profile ProfileService

	// Sink receives the MESSAGE entries on disconnect. Defaults to
	// [transcriptsink.Discard].
	Sink         transcriptsink.Sink
	FlushTimeout time.Duration

	// ExtraTools are declared to the service in addition to the script's
	// own tools, e.g. tools discovered on MCP servers.
	ExtraTools func() []agent.Tool

	// Corrector rewrites completed user transcriptions. Optional.
	Corrector TranscriptCorrector

	Settings Settings
	Logger   *slog.Logger
	Metrics  *observe.Metrics
}

// TranscriptCorrector fixes misheard terms in a user transcription.
// *glossary.Corrector implements it.
type TranscriptCorrector interface {
	Correct(text string) (string, []glossary.Correction)
}

type cmdKind int

const (
	cmdConnect cmdKind = iota
	cmdDisconnect
	cmdSendText
)

type command struct {
	ctx  context.Context
	kind cmdKind
	text string
	done chan error
}

// Orchestrator is the session state machine. Create it with [New] and start
// [Orchestrator.Run] before issuing commands.
type Orchestrator struct {
	cfg      Config
	log      *slog.Logger
	metrics  *observe.Metrics
	settings Settings

	cmds chan command

	runMu sync.Mutex
	done  chan struct{} // non-nil while Run is active

	// Cancel funcs of the step currently blocking the loop, so Disconnect
	// does not queue behind a negotiation or a slow tool handler.
	pendingMu     sync.Mutex
	cancelConnect context.CancelFunc
	cancelTools   context.CancelFunc

	status   atomic.Int32
	degraded atomic.Bool
	feed     statusFeed

	// Owned by the Run goroutine.
	conn     realtime.Connection
	data     realtime.DataChannel
	events   <-chan realtime.ChannelEvent
	remoteID string // from session.created
}

// New validates cfg and returns a disconnected Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Script == nil {
		errs = append(errs, errors.New("session: Script is required"))
	}
	if cfg.Negotiator == nil {
		errs = append(errs, errors.New("session: Negotiator is required"))
	}
	if cfg.Credentials == nil {
		errs = append(errs, errors.New("session: Credentials is required"))
	}
	if cfg.Transcript == nil {
		errs = append(errs, errors.New("session: Transcript is required"))
	}
	if cfg.Tools == nil {
		errs = append(errs, errors.New("session: Tools is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.DegradedNegotiator == nil {
		cfg.DegradedNegotiator = cfg.Negotiator
	}
	if cfg.Sink == nil {
		cfg.Sink = transcriptsink.Discard
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Settings.Modalities == nil {
		cfg.Settings = DefaultSettings()
	}
	o := &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		settings: cfg.Settings,
		cmds:     make(chan command),
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o, nil
}

// Status returns the current state. Safe from any goroutine.
func (o *Orchestrator) Status() Status { return Status(o.status.Load()) }

// AudioDegraded reports whether the live session has no microphone attached.
func (o *Orchestrator) AudioDegraded() bool { return o.degraded.Load() }

// Subscribe returns a channel receiving the current status immediately and
// every later change. Call the returned function to unsubscribe.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	return o.feed.subscribe(o.Status())
}

// Run executes commands and channel events until ctx is done, then tears
// down any live session. It returns nil on cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runMu.Lock()
	if o.done != nil {
		o.runMu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	o.done = done
	o.runMu.Unlock()

	defer func() {
		teardown, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlushTimeout)
		o.disconnect(teardown)
		cancel()

		o.runMu.Lock()
		o.done = nil
		close(done)
		o.runMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-o.cmds:
			cmd.done <- o.exec(ctx, cmd)
		case ev, ok := <-o.events:
			if !ok {
				o.events = nil
				continue
			}
			o.onChannelEvent(ctx, ev)
		}
	}
}

// Connect starts a connection attempt and waits until negotiation has
// finished. Failures are reported as transcript EVENTs, not as errors; the
// error is only non-nil when the command could not run at all.
func (o *Orchestrator) Connect(ctx context.Context) error {
	return o.submit(ctx, command{kind: cmdConnect})
}

// Disconnect flushes the transcript and tears the session down. It cancels a
// connection attempt that is still negotiating and any tool calls still
// running.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.pendingMu.Lock()
	if o.cancelConnect != nil {
		o.cancelConnect()
	}
	if o.cancelTools != nil {
		o.cancelTools()
	}
	o.pendingMu.Unlock()
	return o.submit(ctx, command{kind: cmdDisconnect})
}

// SendText sends a typed user turn and requests a response.
func (o *Orchestrator) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("session: empty text")
	}
	return o.submit(ctx, command{kind: cmdSendText, text: text})
}

func (o *Orchestrator) submit(ctx context.Context, cmd command) error {
	o.runMu.Lock()
	done := o.done
	o.runMu.Unlock()
	if done == nil {
		return ErrNotRunning
	}

	cmd.ctx = ctx
	cmd.done = make(chan error, 1)
	select {
	case o.cmds <- cmd:
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exec runs cmd bounded by both the caller's context and the loop's.
func (o *Orchestrator) exec(loopCtx context.Context, cmd command) error {
	ctx, cancel := context.WithCancel(cmd.ctx)
	defer cancel()
	stop := context.AfterFunc(loopCtx, cancel)
	defer stop()

	switch cmd.kind {
	case cmdConnect:
		o.connect(ctx)
		return nil
	case cmdDisconnect:
		o.disconnect(ctx)
		return nil
	case cmdSendText:
		if o.data == nil {
			return realtime.ErrChannelNotOpen
		}
		return o.sendUserText(ctx, cmd.text)
	default:
		return fmt.Errorf("session: unknown command %d", cmd.kind)
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, s Status) {
	prev := Status(o.status.Swap(int32(s)))
	if prev == s {
		return
	}
	switch {
	case s == StatusConnected:
		o.metrics.ActiveSessions.Add(ctx, 1)
	case prev == StatusConnected:
		o.metrics.ActiveSessions.Add(ctx, -1)
	}
	o.log.Info("session: status changed", "from", prev.String(), "to", s.String())
	o.feed.publish(s)
}

func (o *Orchestrator) setConnectCancel(cancel context.CancelFunc) {
	o.pendingMu.Lock()
	o.cancelConnect = cancel
	o.pendingMu.Unlock()
}

func (o *Orchestrator) setToolsCancel(cancel context.CancelFunc) {
	o.pendingMu.Lock()
	o.cancelTools = cancel
	o.pendingMu.Unlock()
}

func (o *Orchestrator) event(title string, err error) {
	var data map[string]any
	if err != nil {
		data = map[string]any{"error": err.Error()}
	}
	o.cfg.Transcript.AddEvent(title, data)
}

// connect runs one connection attempt. It is a no-op unless disconnected.
func (o *Orchestrator) connect(ctx context.Context) {
	if o.Status() != StatusDisconnected {
		o.log.Debug("session: connect ignored", "status", o.Status().String())
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	o.setConnectCancel(cancel)
	defer func() {
		o.setConnectCancel(nil)
		cancel()
	}()

	ctx, span := observe.StartSpan(ctx, "session.connect",
		trace.WithAttributes(attribute.String("agent", o.cfg.Script.Name)))
	defer span.End()

	start := time.Now()
	o.setStatus(ctx, StatusConnecting)

	fail := func(title string, err error) {
		o.event(title, err)
		o.setStatus(ctx, StatusDisconnected)
		o.metrics.RecordConnect(ctx, "error", time.Since(start).Seconds())
		span.SetStatus(codes.Error, err.Error())
		o.log.Warn("session: connect failed", "err", err)
	}

	if o.cfg.Profile != nil {
		if _, err := o.cfg.Profile.Refresh(ctx); err != nil {
			o.metrics.RecordCollaboratorError(ctx, "profile", "refresh")
			o.log.Warn("session: profile refresh failed", "err", err)
			o.event("Warning: Could not refresh user profile. Continuing with cached profile data.", err)
		}
	}

	if o.cfg.Endpoint != "" && !realtime.IsSecureEndpoint(o.cfg.Endpoint) {
		o.event("Security Warning: The realtime endpoint is not a secure context (HTTPS). "+
			"Microphone access is disabled and the session will continue in text-only mode.", nil)
	}

	token, err := o.cfg.Credentials.ShortLivedToken(ctx)
	if err != nil {
		o.metrics.RecordCollaboratorError(ctx, "credential", kindOf(err))
		fail("Error: Could not obtain authentication token.", err)
		return
	}

	o.event("Connecting to realtime service...", nil)
	est, err := o.establish(ctx, o.cfg.Negotiator, token)

	var mae *realtime.MediaAccessError
	if errors.As(err, &mae) {
		o.event(mediaWarning(mae), mae)
		est, err = o.establish(ctx, o.cfg.DegradedNegotiator, token)
		if err == nil {
			est.AudioDegraded = true
		}
	}
	if err != nil {
		fail("Error connecting: "+err.Error(), err)
		return
	}
	if ctx.Err() != nil {
		// Disconnect arrived while the answer was being applied.
		est.Conn.StopTracks()
		_ = est.Conn.Close()
		fail("Error connecting: "+ctx.Err().Error(), ctx.Err())
		return
	}

	o.conn = est.Conn
	o.data = est.Data
	o.events = est.Data.Events()
	o.degraded.Store(est.AudioDegraded)
	for _, w := range est.Warnings {
		var wmae *realtime.MediaAccessError
		if errors.As(w, &wmae) {
			o.event(mediaWarning(wmae), w)
		} else {
			o.event("Warning: "+w.Error(), w)
		}
	}

	outcome := "ok"
	if est.AudioDegraded {
		outcome = "degraded"
	}
	o.metrics.RecordConnect(ctx, outcome, time.Since(start).Seconds())
	o.log.Info("session: negotiated", "agent", o.cfg.Script.Name, "audio_degraded", est.AudioDegraded)
}

func (o *Orchestrator) establish(ctx context.Context, n realtime.Negotiator, token string) (*realtime.Established, error) {
	est, err := n.Establish(ctx, token)
	if err != nil {
		return nil, err
	}
	if est == nil || est.Conn == nil || est.Data == nil {
		if est != nil && est.Conn != nil {
			_ = est.Conn.Close()
		}
		return nil, errors.New("session: negotiator returned an incomplete session")
	}
	return est, nil
}

// disconnect tears down the live session. With no session and no status to
// reset it does nothing at all.
func (o *Orchestrator) disconnect(ctx context.Context) {
	if o.conn == nil && o.data == nil && o.Status() == StatusDisconnected {
		return
	}

	o.flush(ctx)

	if o.conn != nil {
		o.conn.StopTracks()
		if err := o.conn.Close(); err != nil {
			o.log.Warn("session: close connection", "err", err)
		}
	}
	o.conn = nil
	o.data = nil
	o.events = nil
	o.remoteID = ""
	o.degraded.Store(false)
	o.setStatus(ctx, StatusDisconnected)
	o.log.Info("session: disconnected")
}

// flush submits the MESSAGE entries. Failures are logged only.
func (o *Orchestrator) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FlushTimeout)
	defer cancel()
	if err := transcriptsink.Submit(ctx, o.cfg.Sink, o.cfg.Transcript.Messages()); err != nil {
		o.metrics.RecordCollaboratorError(ctx, "transcript_sink", "submit")
		o.log.Warn("session: transcript submission failed", "err", err)
	}
}

// materialize composes the agent for the current profile snapshot.
func (o *Orchestrator) materialize(ctx context.Context) agent.Materialized {
	var snap profile.Snapshot
	if o.cfg.Profile != nil {
		snap = o.cfg.Profile.Cached(ctx)
	}
	m := agent.Materialize(o.cfg.Script, snap.Raw())
	if o.cfg.ExtraTools != nil {
		for _, t := range o.cfg.ExtraTools() {
			if _, dup := m.Tool(t.Name); dup {
				continue
			}
			if t.Type == "" {
				t.Type = "function"
			}
			m.Tools = append(m.Tools, t)
		}
	}
	return m
}

func (o *Orchestrator) onChannelEvent(ctx context.Context, ev realtime.ChannelEvent) {
	switch ev.Kind {
	case realtime.ChannelOpen:
		o.log.Debug("session: data channel open")
		o.configure(ctx)
	case realtime.ChannelClose:
		o.event("Connection closed", nil)
	case realtime.ChannelError:
		msg := "Unknown error"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		o.event("Connection error: "+msg, nil)
	case realtime.ChannelMessage:
		o.handleMessage(ctx, ev.Data)
	}
}

// configure pushes the session configuration after the channel opens.
func (o *Orchestrator) configure(ctx context.Context) {
	m := o.materialize(ctx)
	_ = o.sendEvent(ctx, realtime.InputAudioBufferClear())
	_ = o.sendEvent(ctx, o.settings.sessionUpdate(m))
}

// sendUserText records a user MESSAGE and sends it as a new turn.
func (o *Orchestrator) sendUserText(ctx context.Context, text string) error {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	o.cfg.Transcript.AddMessage(id, transcript.RoleUser, text)
	errItem := o.sendEvent(ctx, realtime.UserTextItem(id, text))
	errResp := o.sendEvent(ctx, realtime.ResponseCreate())
	return errors.Join(errItem, errResp)
}

// channelSender hands the live data channel to the tool dispatcher for the
// duration of one dispatch.
type channelSender struct{ o *Orchestrator }

func (s channelSender) SendEvent(ctx context.Context, event any) error {
	return s.o.sendEvent(ctx, event)
}

// sendEvent serialises event onto the live data channel. Run goroutine only.
func (o *Orchestrator) sendEvent(_ context.Context, event any) error {
	if o.data == nil {
		o.log.Error("session: no data channel, dropping client event", "event", eventType(event))
		return realtime.ErrChannelNotOpen
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("session: encode client event: %w", err)
	}
	if err := o.data.Send(raw); err != nil {
		o.log.Error("session: send client event", "event", eventType(event), "err", err)
		return err
	}
	o.log.Debug("session: client event", "type", eventType(event))
	return nil
}

func eventType(event any) string {
	switch e := event.(type) {
	case realtime.ControlEvent:
		return e.Type
	case realtime.ConversationItemCreateEvent:
		return e.Type
	case realtime.SessionUpdateEvent:
		return e.Type
	default:
		return fmt.Sprintf("%T", event)
	}
}

// mediaWarning renders a capture failure for the transcript.
func mediaWarning(err *realtime.MediaAccessError) string {
	switch err.Reason {
	case realtime.ReasonInsecureContext:
		return "Warning: Microphone access requires a secure connection. The session will continue in text-only mode."
	case realtime.ReasonPermissionDenied:
		return "Warning: Microphone permission denied. To use voice, allow microphone access and reconnect."
	default:
		return "Warning: No microphone is available. The session will continue in text-only mode."
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, credential.ErrNoCredential):
		return "missing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
