// Package assembler gathers instructions, rolling history and retrieved
// context into one immutable per-request context object and turns it into a
// model prompt.
package assembler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiy-labs/aiy/internal/instructions"
	"github.com/aiy-labs/aiy/internal/logging"
	"github.com/aiy-labs/aiy/internal/memory"
	"github.com/aiy-labs/aiy/internal/observability"
	"github.com/aiy-labs/aiy/internal/protocol"
	"github.com/aiy-labs/aiy/internal/retrieval"
)

var (
	// ErrNoUserMessage means the history holds nothing to ground retrieval
	// or completion on. Fatal, user-visible.
	ErrNoUserMessage = errors.New("no user message found in history")

	// ErrMissingInstructions means a required instruction document resolved
	// to unavailable or empty. Fatal; indicates misconfigured backing
	// collaborators, never retried here.
	ErrMissingInstructions = errors.New("required instruction documents unavailable")
)

// ContextObject is the per-request bundle fed to the prompt builder.
// Assembled fresh for every request and never reused, even within one
// connection.
type ContextObject struct {
	SessionID          string            `json:"session_id"`
	UserID             string            `json:"user_id"`
	SegmentID          string            `json:"segment_id"`
	Timestamp          time.Time         `json:"timestamp"`
	SystemInstructions string            `json:"system_instructions"`
	UsageInstructions  string            `json:"context_usage_instructions"`
	RollingWindow      []memory.Turn     `json:"rolling_window"`
	RetrievedItems     []retrieval.Match `json:"retrieved_context"`
	UserContext        map[string]string `json:"user_context"`
}

// Config carries the assembler's collaborators and settings, validated once
// at construction.
type Config struct {
	Instructions *instructions.Cache
	Window       *memory.WindowStore
	Retrieval    *retrieval.Service
	Metrics      *observability.Metrics

	UserID                string
	SegmentID             string
	SystemInstructionsKey string
	UsageInstructionsKey  string
	TopK                  int
}

type Assembler struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Assembler, error) {
	switch {
	case cfg.Instructions == nil:
		return nil, errors.New("assembler: instruction cache is required")
	case cfg.Window == nil:
		return nil, errors.New("assembler: window store is required")
	case cfg.Retrieval == nil:
		return nil, errors.New("assembler: retrieval service is required")
	case cfg.Metrics == nil:
		return nil, errors.New("assembler: metrics are required")
	case cfg.SystemInstructionsKey == "" || cfg.UsageInstructionsKey == "":
		return nil, errors.New("assembler: instruction keys are required")
	case cfg.TopK <= 0:
		return nil, errors.New("assembler: topK must be positive")
	}
	return &Assembler{
		cfg:    cfg,
		logger: logging.NewModuleLogger("assembler", "build"),
	}, nil
}

// Build extracts the latest user message and concurrently gathers the three
// context sources. Missing instructions abort the build; window and
// retrieval failures degrade gracefully.
func (a *Assembler) Build(ctx context.Context, history []protocol.Message) (*ContextObject, error) {
	lastUser, ok := protocol.LastUserMessage(history)
	if !ok {
		return nil, ErrNoUserMessage
	}

	started := time.Now()

	var (
		wg sync.WaitGroup

		sysContent   string
		sysOK        bool
		usageContent string
		usageOK      bool

		retrieved []retrieval.Match
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		sysContent, sysOK = a.cfg.Instructions.Fetch(ctx, a.cfg.SystemInstructionsKey)
		usageContent, usageOK = a.cfg.Instructions.Fetch(ctx, a.cfg.UsageInstructionsKey)
	}()
	go func() {
		defer wg.Done()
		// Preload failure keeps the prior in-memory window; not fatal.
		a.cfg.Window.Preload(ctx)
	}()
	go func() {
		defer wg.Done()
		matches, err := a.cfg.Retrieval.Query(ctx, lastUser.Content, a.cfg.TopK)
		if err != nil {
			// Soft failure: degrade to an empty result set.
			a.cfg.Metrics.RetrievalSoftFails.Inc()
			a.logger.Warn("retrieval query failed, continuing without retrieved context", "error", err)
			return
		}
		retrieved = matches
	}()
	wg.Wait()

	a.cfg.Metrics.ObserveContextBuildLatency(time.Since(started))

	if !sysOK || !usageOK ||
		strings.TrimSpace(sysContent) == "" || strings.TrimSpace(usageContent) == "" {
		return nil, ErrMissingInstructions
	}

	if retrieved == nil {
		retrieved = []retrieval.Match{}
	}

	return &ContextObject{
		SessionID:          uuid.NewString(),
		UserID:             a.cfg.UserID,
		SegmentID:          a.cfg.SegmentID,
		Timestamp:          time.Now().UTC(),
		SystemInstructions: sysContent,
		UsageInstructions:  usageContent,
		RollingWindow:      a.cfg.Window.Window(),
		RetrievedItems:     retrieved,
		UserContext:        map[string]string{},
	}, nil
}
