// Package bot drives one conversation turn per activating message: it asks
// the activation gate whether to speak, posts a placeholder, assembles
// context, calls the model and replaces the placeholder with the reply.
//
// Per-message failures never escape: a turn that cannot produce a reply
// removes its placeholder and posts a fallback text instead.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TymurD/miquella/common/trace"
	"github.com/TymurD/miquella/internal/miquella/activation"
	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/llm"
	"github.com/TymurD/miquella/internal/miquella/memory"
)

var (
	// ErrGenerationFailed marks a turn whose completion (or the context it
	// needed) could not be produced.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrPlaceholderGone marks a turn whose placeholder vanished before it
	// could be replaced. It wraps chat.ErrNotFound.
	ErrPlaceholderGone = fmt.Errorf("placeholder gone: %w", chat.ErrNotFound)
)

// Placeholder modes.
const (
	// PlaceholderReplace deletes the placeholder and posts the reply as a
	// new message.
	PlaceholderReplace = "replace"
	// PlaceholderEdit edits the placeholder in place.
	PlaceholderEdit = "edit"
)

// Record policies.
const (
	RecordAll       = "all"
	RecordActivated = "activated"
)

// ContextBuilder assembles the prompt context of a turn.
type ContextBuilder interface {
	Assemble(ctx context.Context, req memory.Request) (memory.Window, error)
}

// MemoryWriter stores messages in long-term memory without blocking.
type MemoryWriter interface {
	Enqueue(job memory.Job) bool
}

// SystemPrompter supplies the system content of each completion.
type SystemPrompter interface {
	SystemPrompt() string
}

// Options tunes the orchestrator.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int

	HistoryLimit int
	MemoryK      int

	Placeholder     string
	Fallback        string
	PlaceholderMode string

	// RecordPolicy decides which inbound messages are written to memory.
	// The bot's own replies are always written.
	RecordPolicy string
	// SingleFlight drops an activation while another turn is running in
	// the same channel.
	SingleFlight bool
}

func (o *Options) setDefaults() {
	if o.Placeholder == "" {
		o.Placeholder = "..."
	}
	if o.Fallback == "" {
		o.Fallback = "Error occured"
	}
	if o.PlaceholderMode == "" {
		o.PlaceholderMode = PlaceholderReplace
	}
	if o.RecordPolicy == "" {
		o.RecordPolicy = RecordAll
	}
}

// Deps are the collaborators of an Orchestrator. Writer and Router may be
// nil.
type Deps struct {
	Platform  chat.Platform
	Gate      activation.Gate
	Persona   SystemPrompter
	Assembler ContextBuilder
	Provider  llm.Provider
	Writer    MemoryWriter
	Router    *Router
	Logger    *slog.Logger
}

// Orchestrator owns the per-message state machine.
type Orchestrator struct {
	Deps
	opts Options

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New builds an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	opts.setDefaults()
	return &Orchestrator{Deps: deps, opts: opts, inflight: make(map[string]struct{})}
}

// Observe handles the synchronous part of an inbound message: commands, the
// activation decision and memory recording. It returns the turn to run, or
// nil when the bot stays silent. Call it in arrival order.
func (o *Orchestrator) Observe(ctx context.Context, msg chat.Message) *Turn {
	if msg.FromSelf {
		return nil
	}

	if o.Router != nil {
		reply, handled, err := o.Router.Handle(ctx, msg)
		if handled {
			o.replyToCommand(ctx, msg, reply, err)
			return nil
		}
	}

	d := o.Gate.Decide(msg.ChannelID, msg.Content, false)

	if o.opts.RecordPolicy == RecordAll || d.Activate {
		o.record(msg)
	}

	if !d.Activate {
		o.Logger.Debug("silent", "channel", msg.ChannelID, "counter", d.Counter)
		return nil
	}

	if o.opts.SingleFlight && !o.acquire(msg.ChannelID) {
		o.Logger.Info("activation dropped, turn already in flight", "channel", msg.ChannelID)
		return nil
	}

	id := trace.GenerateID()
	o.Logger.Info("bot activated", "channel", msg.ChannelID, "by_word", d.Triggered, "trace_id", id)
	return &Turn{o: o, msg: msg, traceID: id, state: StateActivating}
}

// HandleMessage runs Observe and, if a turn starts, runs it to completion.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg chat.Message) Outcome {
	t := o.Observe(ctx, msg)
	if t == nil {
		return Outcome{State: StateSilent}
	}
	return t.Run(ctx)
}

func (o *Orchestrator) record(msg chat.Message) {
	if o.Writer == nil || msg.Content == "" {
		return
	}
	o.Writer.Enqueue(memory.Job{
		ID:      msg.ID,
		Content: msg.Content,
		Meta: memory.Metadata{
			Author:    msg.Author,
			Timestamp: msg.Timestamp,
			ChannelID: msg.ChannelID,
		},
	})
}

func (o *Orchestrator) replyToCommand(ctx context.Context, msg chat.Message, reply string, err error) {
	if err != nil {
		o.Logger.Warn("command failed", "channel", msg.ChannelID, "author", msg.Author, "err", err)
		reply = "Command failed: " + err.Error()
		if errors.Is(err, ErrNotPermitted) {
			reply = "You are not allowed to do that."
		}
	}
	if reply == "" {
		return
	}
	if _, err := o.Platform.Send(ctx, msg.ChannelID, reply); err != nil {
		o.Logger.Error("send command reply", "channel", msg.ChannelID, "err", err)
	}
}

func (o *Orchestrator) acquire(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[channelID]; busy {
		return false
	}
	o.inflight[channelID] = struct{}{}
	return true
}

func (o *Orchestrator) release(channelID string) {
	if !o.opts.SingleFlight {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, channelID)
}
