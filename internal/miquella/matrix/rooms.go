package matrix

import (
	"fmt"

	"github.com/gobwas/glob"
)

// RoomFilter decides which rooms the bot listens in. Patterns are globs over
// room ids or aliases, e.g. "!*:example.org". No patterns means every room.
type RoomFilter struct {
	patterns []glob.Glob
}

// NewRoomFilter compiles patterns.
func NewRoomFilter(patterns []string) (*RoomFilter, error) {
	f := &RoomFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("room pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Allowed reports whether roomID matches any pattern.
func (f *RoomFilter) Allowed(roomID string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(roomID) {
			return true
		}
	}
	return false
}
