package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/TymurD/miquella/internal/miquella/chat"
	"github.com/TymurD/miquella/internal/miquella/persona"
)

// ErrNotACommand is returned by Parse when the text does not start with the
// command prefix. Callers should use errors.Is to tell it from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrNotPermitted is returned when a restricted command is sent by someone
// outside the admin list.
var ErrNotPermitted = errors.New("command not permitted")

// Command is a parsed control command.
type Command struct {
	Name string
	// Text is everything after the name with inner whitespace preserved.
	Text string
}

// CommandHandler runs a command and returns the text to post back.
type CommandHandler func(ctx context.Context, cmd *Command, msg chat.Message) (string, error)

// Router maps command names to handlers.
type Router struct {
	prefix   string
	handlers map[string]CommandHandler
	admins   []string
}

// NewRouter creates a router for commands starting with prefix. A non-empty
// admins list restricts every command to those sender ids.
func NewRouter(prefix string, admins []string) *Router {
	return &Router{
		prefix:   prefix,
		handlers: make(map[string]CommandHandler),
		admins:   admins,
	}
}

// Register adds a handler.
func (r *Router) Register(name string, h CommandHandler) {
	r.handlers[name] = h
}

// Parse splits text into a command name and its argument text.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if r.prefix != "" && !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	if text == "" {
		return nil, ErrNotACommand
	}

	name, rest := text, ""
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		name, rest = text[:i], text[i:]
	}
	return &Command{Name: name, Text: strings.TrimSpace(rest)}, nil
}

// Handle runs msg as a command. handled is false when msg is not a command
// this router knows, in which case msg is ordinary conversation.
func (r *Router) Handle(ctx context.Context, msg chat.Message) (reply string, handled bool, err error) {
	cmd, err := r.Parse(msg.Content)
	if err != nil {
		return "", false, nil
	}
	h, ok := r.handlers[cmd.Name]
	if !ok {
		return "", false, nil
	}
	if len(r.admins) > 0 && !slices.Contains(r.admins, msg.SenderID) {
		return "", true, fmt.Errorf("%s: %w", cmd.Name, ErrNotPermitted)
	}
	reply, err = h(ctx, cmd, msg)
	return reply, true, err
}

// Persona command names.
const (
	CmdBehavior       = "behavior"
	CmdBehaviorAppend = "behavior_append"
	CmdBehaviorShow   = "behavior_show"
)

// RegisterPersonaCommands wires behavior, behavior_append and behavior_show
// to store.
func RegisterPersonaCommands(r *Router, store *persona.Store) {
	r.Register(CmdBehavior, func(ctx context.Context, cmd *Command, _ chat.Message) (string, error) {
		if cmd.Text == "" {
			if err := store.Reset(ctx); err != nil {
				return "", err
			}
			return "Behavior reset to default.", nil
		}
		if err := store.Set(ctx, cmd.Text); err != nil {
			return "", err
		}
		return "Behavior updated.", nil
	})

	r.Register(CmdBehaviorAppend, func(ctx context.Context, cmd *Command, _ chat.Message) (string, error) {
		if cmd.Text == "" {
			return fmt.Sprintf("Usage: %s%s <text>", r.prefix, CmdBehaviorAppend), nil
		}
		if err := store.Append(ctx, cmd.Text); err != nil {
			return "", err
		}
		return "Behavior appended.", nil
	})

	r.Register(CmdBehaviorShow, func(_ context.Context, _ *Command, _ chat.Message) (string, error) {
		text, state := store.Show()
		switch state {
		case persona.DisplayEmpty:
			return "Behavior is empty.", nil
		case persona.DisplayTooLong:
			return fmt.Sprintf("Behavior is too long to display (%d characters, limit %d).",
				utf8.RuneCountInString(text), persona.DisplayLimit), nil
		default:
			return text, nil
		}
	})
}
