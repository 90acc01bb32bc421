package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/TymurD/miquella/internal/miquella/chat"
)

// HistorySource is the part of chat.Platform the assembler reads.
type HistorySource interface {
	FetchHistory(ctx context.Context, channelID string, limit int) ([]chat.Message, error)
}

// Searcher is the read side of Index.
type Searcher interface {
	Query(ctx context.Context, text string, k int, opts ...QueryOption) ([]Record, error)
}

// Request describes one context assembly.
type Request struct {
	ChannelID    string
	Query        string
	RecencyLimit int
	MemoryK      int
	// Exclude lists message ids that must never appear in the window,
	// typically the in-flight placeholder.
	Exclude []string
}

// Window is the assembled context: recalled records first, then the live
// channel history oldest to newest.
type Window struct {
	LongTerm []Record
	Recent   []chat.Message
	// Degraded is set when long-term recall failed and was skipped.
	Degraded bool
}

// Exclude drops the given message ids from both sections. Used when the
// placeholder id only becomes known after the history was fetched.
func (w *Window) Exclude(ids ...string) {
	if len(ids) == 0 {
		return
	}
	w.Recent = slices.DeleteFunc(w.Recent, func(m chat.Message) bool { return slices.Contains(ids, m.ID) })
	w.LongTerm = slices.DeleteFunc(w.LongTerm, func(r Record) bool { return slices.Contains(ids, r.ID) })
}

// Lines renders every entry in prompt order.
func (w Window) Lines() []string {
	out := make([]string, 0, len(w.LongTerm)+len(w.Recent))
	for _, r := range w.LongTerm {
		out = append(out, r.String())
	}
	for _, m := range w.Recent {
		out = append(out, fmt.Sprintf("%s: %s", m.Author, m.Content))
	}
	return out
}

// Text is the user content of the completion request.
func (w Window) Text() string {
	return "Messages:\n" + strings.Join(w.Lines(), "\n")
}

// Assembler merges recent channel history with long-term recall.
type Assembler struct {
	history    HistorySource
	index      Searcher
	perChannel bool
	logger     *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithPerChannelRecall limits recall to the channel being answered.
func WithPerChannelRecall(on bool) AssemblerOption {
	return func(a *Assembler) { a.perChannel = on }
}

// WithAssemblerLogger sets the logger.
func WithAssemblerLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler builds an assembler. A nil index disables long-term recall.
func NewAssembler(history HistorySource, index Searcher, opts ...AssemblerOption) *Assembler {
	a := &Assembler{history: history, index: index, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Assemble builds the context window for req. Only a history fetch failure
// is returned as an error; recall failures degrade to an empty long-term
// section.
func (a *Assembler) Assemble(ctx context.Context, req Request) (Window, error) {
	var w Window

	if req.RecencyLimit > 0 {
		msgs, err := a.history.FetchHistory(ctx, req.ChannelID, req.RecencyLimit)
		if err != nil {
			return Window{}, fmt.Errorf("fetch history of %s: %w", req.ChannelID, err)
		}
		// Platforms return newest first.
		slices.Reverse(msgs)
		w.Recent = msgs
	}

	if a.index != nil && req.MemoryK > 0 && req.Query != "" {
		var opts []QueryOption
		if a.perChannel {
			opts = append(opts, InChannel(req.ChannelID))
		}
		recs, err := a.index.Query(ctx, req.Query, req.MemoryK, opts...)
		switch {
		case err == nil:
			w.LongTerm = recs
		case errors.Is(err, ErrRetrievalUnavailable):
			a.logger.Debug("long-term recall unavailable", "channel", req.ChannelID, "err", err)
			w.Degraded = true
		default:
			a.logger.Warn("long-term recall failed", "channel", req.ChannelID, "err", err)
			w.Degraded = true
		}
	}

	// A recalled message already visible in the recent window adds nothing.
	if len(w.LongTerm) > 0 {
		recent := make(map[string]struct{}, len(w.Recent))
		for _, m := range w.Recent {
			recent[m.ID] = struct{}{}
		}
		w.LongTerm = slices.DeleteFunc(w.LongTerm, func(r Record) bool {
			_, dup := recent[r.ID]
			return dup
		})
	}

	w.Exclude(req.Exclude...)
	return w, nil
}
