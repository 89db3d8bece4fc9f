// Package intent compiles and matches the local-intent patterns that let the
// dialog engine short-circuit the remote LLM for direct device control.
package intent

import (
	"fmt"
	"math/rand"
	"regexp"
)

// Command is the RPC the command bus should invoke when an intent matches.
type Command struct {
	Function string
	Params   string
}

// Intent is a configured pattern -> action pair. Immutable once loaded.
type Intent struct {
	Name            string
	Cmd             Command
	RepliesPositive []string
	RepliesNegative []string

	patterns []*regexp.Regexp
}

// ReplyKind selects which reply list RandomReply draws from.
type ReplyKind int

const (
	Positive ReplyKind = iota
	Negative
)

// LoadError names the offending intent when pattern compilation fails.
type LoadError struct {
	Intent string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("intent %q: %v", e.Intent, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Source describes one intent as read from configuration, before its
// patterns are compiled.
type Source struct {
	Name            string
	Patterns        []string
	Cmd             Command
	RepliesPositive []string
	RepliesNegative []string
}

// Matcher holds compiled intents in load order; first full-match wins.
type Matcher struct {
	intents []*Intent
}

// Load compiles every pattern in sources. An invalid regex in any intent
// aborts the whole load and returns a *LoadError naming the offender —
// nothing is partially loaded.
func Load(sources []Source) (*Matcher, error) {
	intents := make([]*Intent, 0, len(sources))
	for _, s := range sources {
		compiled := make([]*regexp.Regexp, 0, len(s.Patterns))
		for _, p := range s.Patterns {
			re, err := regexp.Compile("^(?:" + p + ")$")
			if err != nil {
				return nil, &LoadError{Intent: s.Name, Err: err}
			}
			compiled = append(compiled, re)
		}
		intents = append(intents, &Intent{
			Name:            s.Name,
			Cmd:             s.Cmd,
			RepliesPositive: s.RepliesPositive,
			RepliesNegative: s.RepliesNegative,
			patterns:        compiled,
		})
	}
	return &Matcher{intents: intents}, nil
}

// Match returns the first intent (in load order) any of whose patterns
// fully matches text, or nil if none do. Patterns within an intent are OR'd.
func (m *Matcher) Match(text string) *Intent {
	for _, in := range m.intents {
		for _, re := range in.patterns {
			if re.MatchString(text) {
				return in
			}
		}
	}
	return nil
}

// RandomReply selects one reply uniformly at random from the intent's
// positive or negative reply list, or "" if that list is empty.
func (in *Intent) RandomReply(kind ReplyKind) string {
	list := in.RepliesPositive
	if kind == Negative {
		list = in.RepliesNegative
	}
	if len(list) == 0 {
		return ""
	}
	return list[rand.Intn(len(list))]
}
