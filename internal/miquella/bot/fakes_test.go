package bot_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/llm"
	"github.com/TymurD/miquella/internal/miquella/memory"
	"github.com/TymurD/miquella/internal/miquella/persona"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePlatform keeps one log of messages across channels.
type fakePlatform struct {
	mu      sync.Mutex
	seq     int
	log     []chat.Message
	deleted map[string]bool

	sends   []string
	edits   []string
	removed []string

	sendErr error
	// deleteErr, when set, is returned by Delete for existing messages.
	deleteErr error
	// vanish makes every Edit/Delete report the message as gone.
	vanish bool
	// onSend runs after each Send with the lock released.
	onSend func(text string)
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{deleted: make(map[string]bool)}
}

// post appends an inbound user message and returns it.
func (p *fakePlatform) post(channel, author, text string) chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.appendLocked(channel, author, text, false)
}

func (p *fakePlatform) appendLocked(channel, author, text string, self bool) chat.Message {
	p.seq++
	m := chat.Message{
		ID:        fmt.Sprintf("m%03d", p.seq),
		Author:    author,
		SenderID:  author,
		Content:   text,
		Timestamp: time.Date(2024, 5, 1, 12, 0, p.seq, 0, time.UTC),
		ChannelID: channel,
		FromSelf:  self,
	}
	p.log = append(p.log, m)
	return m
}

func (p *fakePlatform) FetchHistory(_ context.Context, channelID string, limit int) ([]chat.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []chat.Message
	for i := len(p.log) - 1; i >= 0 && len(out) < limit; i-- {
		m := p.log[i]
		if m.ChannelID == channelID && !p.deleted[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (p *fakePlatform) Send(_ context.Context, channelID, text string) (chat.Message, error) {
	p.mu.Lock()
	if p.sendErr != nil {
		p.mu.Unlock()
		return chat.Message{}, p.sendErr
	}
	m := p.appendLocked(channelID, "bot", text, true)
	p.sends = append(p.sends, text)
	hook := p.onSend
	p.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return m, nil
}

func (p *fakePlatform) Edit(_ context.Context, msg chat.Message, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vanish || p.deleted[msg.ID] {
		return chat.ErrNotFound
	}
	for i := range p.log {
		if p.log[i].ID == msg.ID {
			p.log[i].Content = text
			p.edits = append(p.edits, text)
			return nil
		}
	}
	return chat.ErrNotFound
}

func (p *fakePlatform) Delete(_ context.Context, msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vanish || p.deleted[msg.ID] {
		return chat.ErrNotFound
	}
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deleted[msg.ID] = true
	p.removed = append(p.removed, msg.ID)
	return nil
}

// visible returns the live contents of channel, oldest first.
func (p *fakePlatform) visible(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.log {
		if m.ChannelID == channel && !p.deleted[m.ID] {
			out = append(out, m.Content)
		}
	}
	return out
}

func (p *fakePlatform) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sends)
}

type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	panic bool
	// block, when set, is waited on before answering.
	block chan struct{}
	reqs  []llm.Request
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.panic {
		panic("provider exploded")
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeProvider) requests() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reqs)
}

type fakeWriter struct {
	mu   sync.Mutex
	jobs []memory.Job
}

func (w *fakeWriter) Enqueue(job memory.Job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	return true
}

func (w *fakeWriter) ids() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.jobs))
	for _, j := range w.jobs {
		out = append(out, j.ID)
	}
	return out
}

func (w *fakeWriter) job(id string) (memory.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, j := range w.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return memory.Job{}, false
}

type fakeSearcher struct {
	recs []memory.Record
	err  error
}

func (s fakeSearcher) Query(context.Context, string, int, ...memory.QueryOption) ([]memory.Record, error) {
	return s.recs, s.err
}

type memPort struct {
	mu  sync.Mutex
	cfg persona.Config
	err error
}

func (p *memPort) Load(context.Context) (persona.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg, nil
}

func (p *memPort) Save(_ context.Context, cfg persona.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.cfg = cfg
	return nil
}

var errBoom = errors.New("boom")
