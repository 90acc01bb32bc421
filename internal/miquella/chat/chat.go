// Package chat defines the platform port the bot talks through and a
// console implementation for local use.
package chat

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Edit and Delete when the target message no
// longer exists (deleted by a moderator, redacted, expired).
var ErrNotFound = errors.New("message not found")

// Message is one immutable chat message.
type Message struct {
	ID string

	// Author is the display name shown to the model. It is user-controlled.
	Author string

	// SenderID is the platform's stable account id (a Matrix user id, the
	// console user name). Permission checks use it, never Author.
	SenderID  string
	Content   string
	Timestamp time.Time
	ChannelID string
	FromSelf  bool
}

// Platform is everything the bot needs from a chat network.
type Platform interface {
	// FetchHistory returns up to limit of the latest messages in channelID,
	// newest first.
	FetchHistory(ctx context.Context, channelID string, limit int) ([]Message, error)
	// Send posts text to channelID and returns the stored message.
	Send(ctx context.Context, channelID, text string) (Message, error)
	// Edit replaces the content of one of our own messages.
	Edit(ctx context.Context, msg Message, text string) error
	// Delete removes one of our own messages.
	Delete(ctx context.Context, msg Message) error
}

// Handler receives inbound messages from a platform's event source.
type Handler func(ctx context.Context, msg Message)

// Source delivers inbound messages until ctx is cancelled.
type Source interface {
	Listen(ctx context.Context, h Handler) error
}
