package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentwire/agentwire/internal/adapter/otel"
	"github.com/agentwire/agentwire/internal/adapter/sse"
	"github.com/agentwire/agentwire/internal/adapter/ws"
	"github.com/agentwire/agentwire/internal/domain"
	"github.com/agentwire/agentwire/internal/domain/chat"
	"github.com/agentwire/agentwire/internal/domain/run"
	"github.com/agentwire/agentwire/internal/domain/session"
	"github.com/agentwire/agentwire/internal/port/backend"
	"github.com/agentwire/agentwire/internal/port/broadcast"
)

// StartOptions tunes one turn. Zero values fall back to the registry
// binding and the configured default agent.
type StartOptions struct {
	AgentID      string
	SessionID    string
	AutoApproval bool
	LLMSettings  *backend.LLMSettings
}

// Snapshot is a stable copy of the runner's externally visible state.
type Snapshot struct {
	ProjectPath  string         `json:"project_path,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	State        run.State      `json:"state"`
	Pause        *run.PauseInfo `json:"pause,omitempty"`
	ShadowRunID  string         `json:"shadow_run_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Conversation []chat.Message `json:"conversation"`
}

// Runner drives one conversation at a time through the backend chat
// stream. It owns the run state machine, folds decoded events into the
// active assistant message, and mirrors every transition onto the
// broadcast port.
//
// Each Start and Continue opens a new generation. The read loop stamps
// every mutation with its generation, so a loop outlived by Cancel or a
// newer Start can never write into the successor's state, no matter how
// late its events arrive.
type Runner struct {
	backend      backend.Client
	sessions     *Sessions
	bus          broadcast.Broadcaster
	metrics      *otel.Metrics
	defaultAgent string

	mu           sync.Mutex
	generation   uint64
	state        run.State
	active       run.Run
	pause        *run.PauseInfo
	lastErr      string
	projectPath  string
	cancelStream context.CancelFunc
	conversation []chat.Message
	nextMsgID    int64
	startedAt    time.Time
}

// NewRunner creates a Runner. All dependencies are required; pass
// broadcast.Nop{} and a fresh otel.NewMetrics() where no hub or meter
// is wired.
func NewRunner(client backend.Client, sessions *Sessions, bus broadcast.Broadcaster, metrics *otel.Metrics, defaultAgent string) *Runner {
	return &Runner{
		backend:      client,
		sessions:     sessions,
		bus:          bus,
		metrics:      metrics,
		defaultAgent: defaultAgent,
		state:        run.StateIdle,
		nextMsgID:    1,
	}
}

// Start begins a new turn for projectPath, cancelling any run already in
// flight. Switching to a different project resets the conversation. It
// returns once the stream is open; events are applied by a background
// read loop.
func (r *Runner) Start(ctx context.Context, projectPath, message string, opts StartOptions) error {
	norm := session.NormalizePath(projectPath)
	if norm == "" {
		return fmt.Errorf("%w: empty project path", domain.ErrValidation)
	}
	if message == "" {
		return fmt.Errorf("%w: empty message", domain.ErrValidation)
	}

	agentID := opts.AgentID
	if agentID == "" {
		agentID = r.defaultAgent
	}

	sessionID := opts.SessionID
	if sessionID == "" {
		var err error
		if sessionID, err = r.sessions.GetOrCreate(ctx, norm); err != nil {
			return err
		}
	}

	settings := opts.LLMSettings
	if settings != nil {
		if err := r.sessions.SaveSettings(ctx, norm, *settings); err != nil {
			slog.Warn("persist llm settings", "error", err)
		}
	} else {
		stored, err := r.sessions.Settings(ctx, norm)
		if err != nil {
			slog.Warn("load stored llm settings", "error", err)
		} else {
			settings = stored
		}
	}

	r.mu.Lock()
	r.teardownLocked()
	if r.projectPath != norm {
		r.conversation = nil
		r.nextMsgID = 1
	}
	r.projectPath = norm
	r.active = run.Run{SessionID: sessionID, AgentID: agentID}
	r.pause = nil
	r.lastErr = ""
	r.state = run.StateStreaming
	r.startedAt = time.Now()
	r.appendMessageLocked(chat.Message{Role: chat.RoleUser, Content: message})
	r.appendMessageLocked(chat.Message{Role: chat.RoleAssistant, Timeline: []chat.TimelineItem{}})
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancelStream = cancel
	gen := r.generation
	r.mu.Unlock()

	r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
		SessionID: sessionID,
		State:     string(run.StateStreaming),
	})
	r.metrics.RunsStarted.Add(ctx, 1)

	spanCtx, span := otel.StartTurnSpan(streamCtx, sessionID, agentID)

	body, err := r.backend.StartChat(spanCtx, backend.StartRequest{
		Message:      message,
		ProjectPath:  norm,
		AgentID:      agentID,
		SessionID:    sessionID,
		AutoApproval: opts.AutoApproval,
		LLMSettings:  settings,
	})
	if err != nil {
		span.End()
		wrapped := fmt.Errorf("start chat: %w", err)
		r.fail(ctx, gen, wrapped)
		return wrapped
	}

	go r.consume(spanCtx, gen, body, span)

	slog.Info("turn started", "session_id", sessionID, "agent_id", agentID)
	return nil
}

// Continue resumes a paused run with a decision. Only the four closed
// decisions are accepted, and only while a pause is captured; anything
// else is rejected before a request is made.
func (r *Runner) Continue(ctx context.Context, decision run.Decision, feedback string) error {
	if !decision.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDecision, decision)
	}

	r.mu.Lock()
	if r.state != run.StatePaused || r.pause == nil {
		r.mu.Unlock()
		return domain.ErrNoPausedRun
	}
	req := backend.ContinueRequest{
		RunID:       r.pause.RunID,
		SessionID:   r.active.SessionID,
		ProjectPath: r.projectPath,
		Decision:    decision,
		Feedback:    feedback,
	}
	r.teardownLocked()
	r.pause = nil
	r.state = run.StateStreaming
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancelStream = cancel
	gen := r.generation
	projectPath := r.projectPath
	r.mu.Unlock()

	if err := r.sessions.ClearPaused(ctx, projectPath); err != nil {
		slog.Warn("clear pause cache", "error", err)
	}
	r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
		SessionID: req.SessionID,
		RunID:     req.RunID,
		State:     string(run.StateStreaming),
	})

	spanCtx, span := otel.StartContinueSpan(streamCtx, req.RunID, string(decision))

	body, err := r.backend.ContinueChat(spanCtx, req)
	if err != nil {
		span.End()
		wrapped := fmt.Errorf("continue chat: %w", err)
		r.fail(ctx, gen, wrapped)
		return wrapped
	}

	go r.consume(spanCtx, gen, body, span)

	slog.Info("run resumed", "run_id", req.RunID, "decision", decision)
	return nil
}

// Cancel aborts the active run, paused or streaming. Cancelling an idle
// or settled runner is a no-op; cancellation is never an error.
func (r *Runner) Cancel(ctx context.Context) {
	r.mu.Lock()
	if r.state != run.StateStreaming && r.state != run.StatePaused {
		r.mu.Unlock()
		return
	}
	hadPause := r.pause != nil
	r.teardownLocked()
	r.state = run.StateCancelled
	r.pause = nil
	sessionID := r.active.SessionID
	runID := r.active.RunID
	projectPath := r.projectPath
	r.mu.Unlock()

	if hadPause {
		if err := r.sessions.ClearPaused(ctx, projectPath); err != nil {
			slog.Warn("clear pause cache", "error", err)
		}
	}
	r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
		SessionID: sessionID,
		RunID:     runID,
		State:     string(run.StateCancelled),
	})
	r.metrics.RunsCancelled.Add(ctx, 1)
	slog.Info("run cancelled", "session_id", sessionID)
}

// Snapshot returns a copy of the current state, safe to hold and
// serialize while the runner keeps moving.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := make([]chat.Message, len(r.conversation))
	for i, m := range r.conversation {
		msgs[i] = m.Clone()
	}
	var pause *run.PauseInfo
	if r.pause != nil {
		p := *r.pause
		pause = &p
	}
	return Snapshot{
		ProjectPath:  r.projectPath,
		SessionID:    r.active.SessionID,
		State:        r.state,
		Pause:        pause,
		ShadowRunID:  r.active.ShadowRunID,
		Error:        r.lastErr,
		Conversation: msgs,
	}
}

// teardownLocked invalidates the in-flight read loop, if any. Events the
// loop has already parsed are discarded by the generation check.
func (r *Runner) teardownLocked() {
	r.generation++
	if r.cancelStream != nil {
		r.cancelStream()
		r.cancelStream = nil
	}
}

func (r *Runner) appendMessageLocked(m chat.Message) {
	m.ID = r.nextMsgID
	r.nextMsgID++
	r.conversation = append(r.conversation, m)
}

// activeAssistantLocked returns the assistant message events fold into,
// appending one when the conversation ends without it.
func (r *Runner) activeAssistantLocked() *chat.Message {
	for i := len(r.conversation) - 1; i >= 0; i-- {
		if r.conversation[i].Role == chat.RoleAssistant {
			return &r.conversation[i]
		}
	}
	r.appendMessageLocked(chat.Message{Role: chat.RoleAssistant, Timeline: []chat.TimelineItem{}})
	return &r.conversation[len(r.conversation)-1]
}

// consume is the read loop, exactly one per generation. It owns all
// event application for its generation and settles the run when the
// stream ends.
func (r *Runner) consume(ctx context.Context, gen uint64, body io.ReadCloser, span trace.Span) {
	defer span.End()
	defer body.Close()

	dec := sse.NewDecoder(body)
	for {
		ev, err := dec.Next()
		if err != nil {
			switch {
			case errors.Is(err, sse.ErrDone), errors.Is(err, io.EOF):
				r.finish(ctx, gen)
			case errors.Is(err, context.Canceled):
				// Torn down by Cancel or a newer Start; they own the state.
			default:
				span.RecordError(err)
				r.fail(ctx, gen, fmt.Errorf("read stream: %w", err))
			}
			return
		}
		r.apply(ctx, gen, ev)
	}
}

// apply folds one event into the runner. A generation mismatch means the
// run was torn down after this event was parsed; the event is dropped
// without touching state.
func (r *Runner) apply(ctx context.Context, gen uint64, ev chat.Event) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}

	switch e := ev.(type) {
	case chat.PausedEvent:
		info := run.PauseInfo{RunID: e.RunID, AgentName: e.AgentName, Tool: e.Tool}
		r.pause = &info
		r.active.RunID = e.RunID
		r.state = run.StatePaused
		sessionID := r.active.SessionID
		projectPath := r.projectPath
		r.mu.Unlock()

		if err := r.sessions.SetPaused(ctx, projectPath, info); err != nil {
			slog.Warn("cache pause state", "error", err)
		}
		r.bus.BroadcastEvent(ctx, ws.EventRunPaused, ws.RunPausedEvent{
			SessionID: sessionID,
			RunID:     info.RunID,
			AgentName: info.AgentName,
			Tool:      info.Tool,
		})
		r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
			SessionID: sessionID,
			RunID:     info.RunID,
			State:     string(run.StatePaused),
		})
		r.metrics.RunsPaused.Add(ctx, 1)
		slog.Info("run paused", "run_id", info.RunID, "agent", info.AgentName, "tool", info.Tool)

	case chat.MetaEvent:
		r.active.ShadowRunID = e.ShadowRunID
		sessionID := r.active.SessionID
		r.mu.Unlock()

		r.bus.BroadcastEvent(ctx, ws.EventRunMeta, ws.RunMetaEvent{
			SessionID:   sessionID,
			ShadowRunID: e.ShadowRunID,
			Agent:       e.Agent,
		})

	default:
		msg := r.activeAssistantLocked()
		msg.Timeline = chat.Reduce(msg.Timeline, ev)
		sessionID := r.active.SessionID
		messageID := msg.ID
		timeline := msg.Timeline
		r.mu.Unlock()

		r.metrics.EventsProcessed.Add(ctx, 1)
		if sse.IsDecodeDiagnostic(ev) {
			r.metrics.ParseFailures.Add(ctx, 1)
		}
		r.bus.BroadcastEvent(ctx, ws.EventTimeline, ws.TimelineEvent{
			SessionID: sessionID,
			MessageID: messageID,
			Timeline:  timeline,
		})
	}
}

// finish settles a stream that ended cleanly. With a pause captured the
// run stays Paused and the close is expected; otherwise the turn is Done.
func (r *Runner) finish(ctx context.Context, gen uint64) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	if r.pause != nil {
		r.cancelStream = nil
		r.mu.Unlock()
		return
	}
	r.state = run.StateDone
	r.cancelStream = nil
	sessionID := r.active.SessionID
	runID := r.active.RunID
	elapsed := time.Since(r.startedAt)
	r.mu.Unlock()

	r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
		SessionID: sessionID,
		RunID:     runID,
		State:     string(run.StateDone),
	})
	r.metrics.RunsCompleted.Add(ctx, 1)
	r.metrics.RunDuration.Record(ctx, elapsed.Seconds())
	slog.Info("turn done", "session_id", sessionID, "elapsed", elapsed)
}

// fail settles a stream torn by a transport error. The timeline keeps
// whatever was applied before the failure.
func (r *Runner) fail(ctx context.Context, gen uint64, err error) {
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		return
	}
	r.state = run.StateError
	r.lastErr = err.Error()
	r.pause = nil
	r.cancelStream = nil
	sessionID := r.active.SessionID
	runID := r.active.RunID
	r.mu.Unlock()

	r.bus.BroadcastEvent(ctx, ws.EventRunState, ws.RunStateEvent{
		SessionID: sessionID,
		RunID:     runID,
		State:     string(run.StateError),
		Error:     err.Error(),
	})
	r.metrics.RunsFailed.Add(ctx, 1)
	slog.Error("turn failed", "session_id", sessionID, "error", err)
}
