package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/TymurD/miquella/common/trace"
	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/llm"
	"github.com/TymurD/miquella/internal/miquella/memory"
	"github.com/TymurD/miquella/internal/miquella/observability"
)

// TurnState is a step of the per-message state machine.
type TurnState int

const (
	StateReceived TurnState = iota
	StateSilent
	StateActivating
	StatePlaceholderSent
	StateGenerating
	StateReplied
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateSilent:
		return "silent"
	case StateActivating:
		return "activating"
	case StatePlaceholderSent:
		return "placeholder_sent"
	case StateGenerating:
		return "generating"
	case StateReplied:
		return "replied"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// Outcome is the terminal result of a turn.
type Outcome struct {
	State TurnState
	// Reply is the posted reply (Replied) or fallback (Failed), when one
	// could be sent.
	Reply chat.Message
	// Err explains a Failed turn, or is ErrPlaceholderGone for a Replied
	// turn whose placeholder had disappeared.
	Err error
}

// Turn is one activation in flight.
type Turn struct {
	o       *Orchestrator
	msg     chat.Message
	traceID string
	state   TurnState
	log     *slog.Logger
}

// Message returns the message that activated the turn.
func (t *Turn) Message() chat.Message { return t.msg }

// TraceID identifies the turn in logs.
func (t *Turn) TraceID() string { return t.traceID }

// Run drives the turn to Replied or Failed. It never panics and always
// leaves the channel with either the reply or the fallback text.
func (t *Turn) Run(ctx context.Context) (out Outcome) {
	ctx = trace.WithTraceID(ctx, t.traceID)
	t.log = observability.TraceLogger(ctx, t.o.Logger).With("channel", t.msg.ChannelID)
	defer t.o.release(t.msg.ChannelID)

	var placeholder chat.Message
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("turn panicked", "panic", r)
			out = t.fail(ctx, placeholder, fmt.Errorf("%w: panic: %v", ErrGenerationFailed, r))
		}
	}()

	// The placeholder goes out while history and recall are fetched.
	var (
		g      errgroup.Group
		window memory.Window
	)
	g.Go(func() error {
		m, err := t.o.Platform.Send(ctx, t.msg.ChannelID, t.o.opts.Placeholder)
		if err != nil {
			return fmt.Errorf("send placeholder: %w", err)
		}
		placeholder = m
		return nil
	})
	g.Go(func() error {
		w, err := t.o.Assembler.Assemble(ctx, memory.Request{
			ChannelID:    t.msg.ChannelID,
			Query:        t.msg.Content,
			RecencyLimit: t.o.opts.HistoryLimit,
			MemoryK:      t.o.opts.MemoryK,
		})
		if err != nil {
			return fmt.Errorf("assemble context: %w", err)
		}
		window = w
		return nil
	})
	if err := g.Wait(); err != nil {
		return t.fail(ctx, placeholder, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}
	t.state = StatePlaceholderSent
	window.Exclude(placeholder.ID)

	t.state = StateGenerating
	text, err := t.o.Provider.Complete(ctx, llm.Request{
		Model:       t.o.opts.Model,
		Temperature: t.o.opts.Temperature,
		MaxTokens:   t.o.opts.MaxTokens,
		System:      t.o.Persona.SystemPrompt(),
		User:        window.Text(),
	})
	if err != nil {
		return t.fail(ctx, placeholder, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}

	t.log.Debug("completion received", "context_lines", len(window.LongTerm)+len(window.Recent), "reply_len", len(text))
	return t.deliver(ctx, placeholder, text)
}

// deliver swaps the placeholder for the reply and stores the reply.
func (t *Turn) deliver(ctx context.Context, placeholder chat.Message, text string) Outcome {
	reply, gone, err := t.swap(ctx, placeholder, text)
	if err != nil {
		t.log.Error("post reply", "err", err)
		return t.fail(ctx, placeholder, fmt.Errorf("%w: post reply: %w", ErrGenerationFailed, err))
	}

	t.state = StateReplied
	t.o.record(reply)
	t.log.Info("replied", "reply_id", reply.ID, "placeholder_gone", gone)

	out := Outcome{State: StateReplied, Reply: reply}
	if gone {
		out.Err = ErrPlaceholderGone
	}
	return out
}

// fail removes the placeholder (if any) and posts the fallback text.
func (t *Turn) fail(ctx context.Context, placeholder chat.Message, cause error) Outcome {
	t.state = StateFailed
	t.log.Error("turn failed", "err", cause)

	out := Outcome{State: StateFailed, Err: cause}
	if placeholder.ID == "" {
		// Nothing visible yet; still tell the channel something went wrong.
		m, err := t.o.Platform.Send(ctx, t.msg.ChannelID, t.o.opts.Fallback)
		if err != nil {
			t.log.Error("post fallback", "err", err)
			return out
		}
		out.Reply = m
		return out
	}

	m, _, err := t.swap(ctx, placeholder, t.o.opts.Fallback)
	if err != nil {
		t.log.Error("post fallback", "err", err)
		return out
	}
	out.Reply = m
	return out
}

// swap replaces placeholder with text according to the placeholder mode.
// gone reports that the placeholder no longer existed and text was posted
// as a substitute message.
func (t *Turn) swap(ctx context.Context, placeholder chat.Message, text string) (msg chat.Message, gone bool, err error) {
	if t.o.opts.PlaceholderMode == PlaceholderEdit {
		err := t.o.Platform.Edit(ctx, placeholder, text)
		if err == nil {
			placeholder.Content = text
			return placeholder, false, nil
		}
		if !errors.Is(err, chat.ErrNotFound) {
			return chat.Message{}, false, fmt.Errorf("edit placeholder: %w", err)
		}
		t.log.Warn("placeholder gone, posting substitute", "placeholder_id", placeholder.ID)
		msg, err = t.o.Platform.Send(ctx, t.msg.ChannelID, text)
		return msg, true, err
	}

	err = t.o.Platform.Delete(ctx, placeholder)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotFound):
		gone = true
		t.log.Warn("placeholder gone, posting substitute", "placeholder_id", placeholder.ID)
	default:
		// Could not remove it, so overwrite it instead.
		t.log.Warn("delete placeholder, editing instead", "placeholder_id", placeholder.ID, "err", err)
		editErr := t.o.Platform.Edit(ctx, placeholder, text)
		if editErr == nil {
			placeholder.Content = text
			return placeholder, false, nil
		}
		t.log.Error("edit placeholder", "placeholder_id", placeholder.ID, "err", editErr)
		if errors.Is(editErr, chat.ErrNotFound) {
			gone = true
		}
	}
	msg, err = t.o.Platform.Send(ctx, t.msg.ChannelID, text)
	return msg, gone, err
}
