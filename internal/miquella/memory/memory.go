// Package memory implements the bot's long-term recall: a semantic index of
// past messages stored in SQLite, the embedders that feed it, a background
// writer that keeps upserts off the event path, and the assembler that merges
// recalled records with the live channel history into one prompt.
package memory

import (
	"errors"
	"fmt"
	"time"
)

// ErrRetrievalUnavailable is returned when no embedding can be computed, so
// similarity search (or indexing) cannot happen. Callers degrade to an empty
// long-term context.
var ErrRetrievalUnavailable = errors.New("memory retrieval unavailable")

// TimestampLayout is how message timestamps are stored and rendered.
const TimestampLayout = "2006-01-02 15:04:05Z07:00"

// Metadata describes where a stored message came from.
type Metadata struct {
	Author    string
	Timestamp time.Time
	ChannelID string
}

// Record is one stored message, optionally scored against a query.
type Record struct {
	ID       string
	Document string
	Metadata Metadata
	// Score is the cosine similarity to the query; 0 outside Query results.
	Score float64
}

// String renders the record as it appears in a prompt.
func (r Record) String() string {
	return fmt.Sprintf("%s: %s (%s)", r.Metadata.Author, r.Document, r.Metadata.Timestamp.Format(TimestampLayout))
}
