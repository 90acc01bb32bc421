package chat

import (
	"bufio"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/term"
)

// ConsoleChannel is the single channel of a console session.
const ConsoleChannel = "console"

// Console is a one-channel platform over a reader and a writer. Each input
// line is a message from the local user; bot output is printed prefixed with
// the bot's name. History is kept in memory.
type Console struct {
	in      io.Reader
	out     io.Writer
	user    string
	botName string
	prompt  bool

	mu      sync.Mutex
	session string
	log     []Message
	index   map[string]int
	entropy io.Reader
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithConsoleUser sets the author name of typed lines.
func WithConsoleUser(name string) ConsoleOption {
	return func(c *Console) { c.user = name }
}

// WithConsoleBotName sets the author name of bot messages.
func WithConsoleBotName(name string) ConsoleOption {
	return func(c *Console) { c.botName = name }
}

// NewConsole wires a console to in and out. A "> " prompt is printed only
// when in is a terminal.
func NewConsole(in io.Reader, out io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{
		in:      in,
		out:     out,
		user:    "you",
		botName: "miquella",
		session: uuid.NewString(),
		index:   make(map[string]int),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.prompt = true
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Session identifies this console run in logs.
func (c *Console) Session() string { return c.session }

// Listen reads lines until EOF or cancellation and hands each one to h.
func (c *Console) Listen(ctx context.Context, h Handler) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	// The reader cannot be interrupted: after cancellation it stays blocked
	// in Scan until the next line or EOF, then exits. For stdin that is
	// process exit.
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		c.printPrompt()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			msg := c.append(c.user, line, false)
			h(ctx, msg)
		}
	}
}

func (c *Console) printPrompt() {
	if c.prompt {
		fmt.Fprint(c.out, "> ")
	}
}

func (c *Console) FetchHistory(_ context.Context, channelID string, limit int) ([]Message, error) {
	if channelID != ConsoleChannel {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, 0, limit)
	for i := len(c.log) - 1; i >= 0 && len(out) < limit; i-- {
		if c.log[i].ID == "" {
			continue
		}
		out = append(out, c.log[i])
	}
	return out, nil
}

func (c *Console) Send(_ context.Context, channelID, text string) (Message, error) {
	if channelID != ConsoleChannel {
		return Message{}, fmt.Errorf("console: unknown channel %q", channelID)
	}
	msg := c.append(c.botName, text, true)
	fmt.Fprintf(c.out, "%s: %s\n", c.botName, text)
	return msg, nil
}

func (c *Console) Edit(_ context.Context, msg Message, text string) error {
	c.mu.Lock()
	i, ok := c.index[msg.ID]
	if !ok || c.log[i].ID == "" {
		c.mu.Unlock()
		return ErrNotFound
	}
	c.log[i].Content = text
	c.mu.Unlock()

	fmt.Fprintf(c.out, "%s (edited): %s\n", c.botName, text)
	return nil
}

func (c *Console) Delete(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[msg.ID]
	if !ok || c.log[i].ID == "" {
		return ErrNotFound
	}
	c.log[i].ID = ""
	delete(c.index, msg.ID)
	return nil
}

func (c *Console) append(author, text string, self bool) Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	msg := Message{
		ID:        ulid.MustNew(ulid.Timestamp(now), c.entropy).String(),
		Author:    author,
		SenderID:  author,
		Content:   text,
		Timestamp: now,
		ChannelID: ConsoleChannel,
		FromSelf:  self,
	}
	c.index[msg.ID] = len(c.log)
	c.log = append(c.log, msg)
	return msg
}
