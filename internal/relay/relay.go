// Package relay drives one chat exchange end to end: parse the inbound
// payload, assemble context, build the prompt, stream model output to the
// client, and persist the completed exchange.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aiy-labs/aiy/internal/assembler"
	"github.com/aiy-labs/aiy/internal/llm"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/protocol"
)

// finalizeTimeout bounds the write-back of a completed exchange. Finalize
// runs on a background context so a client disconnect mid-stream cannot
// cancel it.
const finalizeTimeout = 2 * time.Second

// state labels the relay's position in the request lifecycle. One relay
// serves one connection, and the transport feeds it one payload at a time,
// so the state only moves forward within a single Handle call.
type state string

const (
	stateIdle       state = "idle"
	stateAssembling state = "assembling"
	statePrompting  state = "prompting"
	stateStreaming  state = "streaming"
	stateFinalizing state = "finalizing"
)

// errClientGone marks a failed Send to the outbound channel. It aborts
// forwarding without producing an error frame: there is nobody left to
// read it.
var errClientGone = errors.New("outbound channel closed")

// Sender is the outbound half of a client connection. The relay never opens
// or closes the underlying channel.
type Sender interface {
	Send(text string) error
}

type Config struct {
	Assembler *assembler.Assembler
	Window    *memory.WindowStore
	Adapter   llm.Adapter
	Metrics   *observability.Metrics

	// Pacing is the inter-fragment delay, a soft backpressure substitute
	// in the absence of transport-level flow control.
	Pacing time.Duration
}

type Relay struct {
	cfg    Config
	state  state
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) (*Relay, error) {
	switch {
	case cfg.Assembler == nil:
		return nil, errors.New("relay: assembler is required")
	case cfg.Window == nil:
		return nil, errors.New("relay: window store is required")
	case cfg.Adapter == nil:
		return nil, errors.New("relay: model adapter is required")
	case cfg.Metrics == nil:
		return nil, errors.New("relay: metrics are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{cfg: cfg, state: stateIdle, logger: logger}, nil
}

// Handle processes one inbound chat payload. Fatal failures emit exactly one
// error frame on out and return the cause; the relay never retries. A Send
// failure mid-stream stops forwarding but the completed portion of the
// exchange is still persisted so the next connection sees consistent
// history.
func (r *Relay) Handle(ctx context.Context, raw []byte, out Sender) error {
	defer func() { r.state = stateIdle }()

	r.state = stateAssembling
	req, err := protocol.ParseChatRequest(raw)
	if err != nil {
		return r.fail(out, "invalid_payload", err)
	}
	userMsg, ok := protocol.LastUserMessage(req.Messages)
	if !ok {
		return r.fail(out, "no_user_message", assembler.ErrNoUserMessage)
	}

	ctxObj, err := r.cfg.Assembler.Build(ctx, req.Messages)
	if err != nil {
		return r.fail(out, "assembly_failed", err)
	}

	r.state = statePrompting
	prompt, err := assembler.BuildPrompt(req.Messages, ctxObj)
	if err != nil {
		return r.fail(out, "prompt_failed", err)
	}

	r.state = stateStreaming
	clientGone := false
	assistantText, err := r.cfg.Adapter.StreamCompletion(ctx, prompt, func(fragment string) error {
		if sendErr := out.Send(fragment); sendErr != nil {
			clientGone = true
			return errClientGone
		}
		r.cfg.Metrics.StreamedFragments.Inc()
		return r.pace(ctx)
	})
	switch {
	case clientGone:
		r.logger.Warn("client disconnected mid-stream, persisting partial exchange",
			"session_id", ctxObj.SessionID)
	case err != nil:
		return r.fail(out, "model_failed", fmt.Errorf("model stream: %w", err))
	default:
		if sendErr := out.Send(protocol.EndOfStreamMarker); sendErr != nil {
			r.logger.Warn("end-of-stream marker not delivered", "error", sendErr)
		}
	}

	r.state = stateFinalizing
	r.finalize(ctxObj.SessionID, userMsg.Content, assistantText)

	r.cfg.Metrics.RequestsTotal.WithLabelValues("completed").Inc()
	return nil
}

// finalize appends the user turn and the full assistant turn, in that order.
// Persistence failure is logged and counted, never surfaced: the client has
// already received the streamed content.
func (r *Relay) finalize(sessionID, userContent, assistantContent string) {
	saveCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if _, err := r.cfg.Window.Append(saveCtx, protocol.RoleUser, userContent); err != nil {
		r.recordPersistenceFailure(sessionID, err)
		return
	}
	if assistantContent == "" {
		return
	}
	if _, err := r.cfg.Window.Append(saveCtx, protocol.RoleAssistant, assistantContent); err != nil {
		r.recordPersistenceFailure(sessionID, err)
	}
}

func (r *Relay) recordPersistenceFailure(sessionID string, err error) {
	op := "append"
	var perr *memory.PersistenceError
	if errors.As(err, &perr) {
		op = perr.Op
	}
	r.cfg.Metrics.PersistenceFailures.WithLabelValues(op).Inc()
	r.logger.Error("finalize persistence failed",
		"session_id", sessionID, "op", op, "error", err)
}

func (r *Relay) pace(ctx context.Context) error {
	if r.cfg.Pacing <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(r.cfg.Pacing):
		return nil
	}
}

// fail emits the single user-visible error frame and records the outcome.
func (r *Relay) fail(out Sender, outcome string, err error) error {
	r.cfg.Metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	r.logger.Warn("chat request failed", "state", string(r.state), "outcome", outcome, "error", err)
	if sendErr := out.Send(protocol.ErrorFrame(err.Error())); sendErr != nil {
		r.logger.Warn("error frame not delivered", "error", sendErr)
	}
	return err
}
