// Package activation decides, per inbound message, whether the bot speaks.
//
// Two variants exist. The deterministic gate fires on a trigger word or when
// a channel has been quiet (from the bot's side) for a configured number of
// messages. The probabilistic gate fires on a trigger word or a 1-in-N draw.
package activation

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Gate is the per-message activation decision. Implementations are safe for
// concurrent use.
type Gate interface {
	// Decide reports whether a message should start a turn. It may update
	// per-channel state.
	Decide(channelID, content string, fromSelf bool) Decision
}

// Decision is the outcome of one Decide call.
type Decision struct {
	Activate  bool
	Triggered bool
	// Counter is the channel's idle counter after the decision. Always 0 for
	// the probabilistic gate.
	Counter int
}

// Triggers matches trigger words case-insensitively as substrings.
type Triggers struct {
	words []string
}

// NewTriggers lower-cases and keeps every non-empty word.
func NewTriggers(words []string) Triggers {
	t := Triggers{words: make([]string, 0, len(words))}
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			t.words = append(t.words, w)
		}
	}
	return t
}

// Match reports whether any trigger word occurs in content.
func (t Triggers) Match(content string) bool {
	if content == "" {
		return false
	}
	lower := strings.ToLower(content)
	for _, w := range t.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// ChannelState holds the idle counter of every channel seen so far. Entries
// are created lazily and live for the lifetime of the process.
type ChannelState struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewChannelState returns an empty state.
func NewChannelState() *ChannelState {
	return &ChannelState{counters: make(map[string]int)}
}

// Counter returns the idle counter of channelID (0 if unseen).
func (s *ChannelState) Counter(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[channelID]
}

// Set overwrites the counter of channelID.
func (s *ChannelState) Set(channelID string, n int) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[channelID] = n
}

// Snapshot copies every counter.
func (s *ChannelState) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		out[k] = v
	}
	return out
}

// update runs fn on the counter of channelID under the lock and stores the
// result, making the read-decide-write sequence atomic.
func (s *ChannelState) update(channelID string, fn func(cur int) int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := fn(s.counters[channelID])
	s.counters[channelID] = next
	return next
}

// Deterministic fires on a trigger word or once the idle run reaches the
// threshold. The message being decided counts toward the run, so with a
// threshold of 9 a channel whose counter already reads 8 or more activates.
type Deterministic struct {
	triggers  Triggers
	threshold int
	state     *ChannelState
}

// NewDeterministic builds the gate. A threshold below 1 is treated as 1.
func NewDeterministic(words []string, threshold int, state *ChannelState) *Deterministic {
	if threshold < 1 {
		threshold = 1
	}
	if state == nil {
		state = NewChannelState()
	}
	return &Deterministic{triggers: NewTriggers(words), threshold: threshold, state: state}
}

// State exposes the counters for inspection.
func (g *Deterministic) State() *ChannelState { return g.state }

// Decide counts the observed message toward the idle run: with threshold 9
// the ninth quiet message fires (counter 8 before it), not the tenth.
func (g *Deterministic) Decide(channelID, content string, fromSelf bool) Decision {
	if fromSelf {
		return Decision{Counter: g.state.Counter(channelID)}
	}

	triggered := g.triggers.Match(content)
	var activate bool
	counter := g.state.update(channelID, func(cur int) int {
		activate = triggered || cur+1 >= g.threshold
		if activate {
			return 0
		}
		return cur + 1
	})
	return Decision{Activate: activate, Triggered: triggered, Counter: counter}
}

// RandSource draws uniform integers in [0, n).
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Probabilistic fires on a trigger word or a uniform draw in [1, N] equal to
// N. It keeps no per-channel state.
type Probabilistic struct {
	triggers Triggers
	chance   int
	mu       sync.Mutex
	rnd      RandSource
}

// NewProbabilistic builds the gate. A nil source uses math/rand/v2.
func NewProbabilistic(words []string, chance int, rnd RandSource) *Probabilistic {
	if rnd == nil {
		rnd = globalRand{}
	}
	return &Probabilistic{triggers: NewTriggers(words), chance: chance, rnd: rnd}
}

func (g *Probabilistic) Decide(_ string, content string, fromSelf bool) Decision {
	if fromSelf {
		return Decision{}
	}
	triggered := g.triggers.Match(content)
	if g.chance <= 1 {
		return Decision{Activate: true, Triggered: triggered}
	}

	// Sources such as *rand.Rand are not safe for concurrent use.
	g.mu.Lock()
	draw := g.rnd.IntN(g.chance) + 1
	g.mu.Unlock()

	return Decision{Activate: triggered || draw == g.chance, Triggered: triggered}
}
