// Package persona holds the bot's mutable behavioural instruction.
//
// The Store is the only owner of the persona text: every mutation is cleaned,
// saved through a Port and only then made visible to readers. A failed save
// leaves the previous value in place.
package persona

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DisplayLimit is the longest persona, in characters, that a chat platform
// can show in a single message.
const DisplayLimit = 1900

// Config is the durable persona state.
type Config struct {
	// DefaultInstruction is operator-owned and never changed at runtime.
	DefaultInstruction string
	// PersonaInstruction is the mutable part edited by chat commands.
	PersonaInstruction string
}

// Port loads and saves a Config. Implementations decide the storage format.
type Port interface {
	Load(ctx context.Context) (Config, error)
	Save(ctx context.Context, cfg Config) error
}

// DisplayState tells the caller how a persona should be presented.
type DisplayState int

const (
	DisplayOK DisplayState = iota
	DisplayEmpty
	DisplayTooLong
)

func (d DisplayState) String() string {
	switch d {
	case DisplayEmpty:
		return "empty"
	case DisplayTooLong:
		return "too_long"
	default:
		return "ok"
	}
}

// Store guards the persona behind a mutex and writes through to a Port.
type Store struct {
	port   Port
	logger *slog.Logger

	mu  sync.RWMutex
	cfg Config
}

// New loads the initial Config from port.
func New(ctx context.Context, port Port, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := port.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	return &Store{port: port, logger: logger, cfg: cfg}, nil
}

// Get returns the current persona text, which may be empty.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.PersonaInstruction
}

// Config returns a copy of the full persona state.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SystemPrompt is the system content of every completion request.
func (s *Store) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.DefaultInstruction + s.cfg.PersonaInstruction
}

// Set replaces the persona with the cleaned text.
func (s *Store) Set(ctx context.Context, text string) error {
	return s.update(ctx, "set", func(string) string { return CleanString(text) })
}

// Reset clears the persona.
func (s *Store) Reset(ctx context.Context) error {
	return s.update(ctx, "reset", func(string) string { return "" })
}

// Append adds the cleaned text after the existing persona, space-joined.
func (s *Store) Append(ctx context.Context, text string) error {
	return s.update(ctx, "append", func(cur string) string {
		add := CleanString(text)
		if add == "" {
			return cur
		}
		if cur != "" && !strings.HasSuffix(cur, " ") {
			cur += " "
		}
		return cur + add
	})
}

// Show returns the persona together with how it should be displayed.
func (s *Store) Show() (string, DisplayState) {
	text := s.Get()
	switch {
	case text == "":
		return "", DisplayEmpty
	case utf8.RuneCountInString(text) > DisplayLimit:
		return text, DisplayTooLong
	default:
		return text, DisplayOK
	}
}

// Reload replaces the in-memory state with whatever the port holds now.
func (s *Store) Reload(ctx context.Context) error {
	cfg, err := s.port.Load(ctx)
	if err != nil {
		return fmt.Errorf("reload persona: %w", err)
	}

	s.mu.Lock()
	changed := cfg != s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if changed {
		s.logger.Info("persona reloaded", "length", utf8.RuneCountInString(cfg.PersonaInstruction))
	}
	return nil
}

// update holds the write lock across the save so concurrent mutations are
// applied in order and never interleave with a stale read.
func (s *Store) update(ctx context.Context, op string, fn func(cur string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	next.PersonaInstruction = fn(s.cfg.PersonaInstruction)
	if err := s.port.Save(ctx, next); err != nil {
		return fmt.Errorf("persona %s: %w", op, err)
	}
	s.cfg = next

	s.logger.Info("persona updated", "op", op, "length", utf8.RuneCountInString(next.PersonaInstruction))
	return nil
}

// CleanString normalises user-supplied persona text: surrounding whitespace
// is trimmed, the first character is upper-cased, the text ends in exactly
// one period and one trailing space. Blank input yields "".
func CleanString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	r, size := utf8.DecodeRuneInString(s)
	s = string(unicode.ToUpper(r)) + s[size:]
	s = strings.TrimRight(s, ".")
	return s + ". "
}
