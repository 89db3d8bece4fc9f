// Package dialogconfig loads and validates the JSON configuration document
// that supplies the dialog-service system prompt, greeting, and the local
// intent table.
package dialogconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grtstar/aixd/internal/intent"
)

// ConfigError wraps any failure encountered while loading configuration.
// All such failures are fatal at startup per the error-handling design.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dialogconfig: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

type system struct {
	Prompt json.RawMessage `json:"prompt"`
	Hello  string          `json:"hello"`
}

type action struct {
	Name     string   `json:"name"`
	Patterns []string `json:"patterns"`
	Cmd      struct {
		Function string `json:"function"`
		Param    string `json:"param"`
	} `json:"cmd"`
	RepliesPositive []string `json:"replysp"`
	RepliesNegative []string `json:"replysn"`
}

type document struct {
	System  system   `json:"system"`
	Actions []action `json:"actions"`
}

// Config is the validated, in-memory form of the configuration document.
type Config struct {
	// Prompt is the raw JSON dialog-service configuration, sent verbatim as
	// the StartSession payload.
	Prompt []byte
	// Hello is spoken on session start via SayHello.
	Hello string
	// Intents is the matcher built from the actions table.
	Intents *intent.Matcher
}

// Load reads and validates the configuration file at path. Bad JSON or an
// invalid action (e.g. a malformed regex) returns a *ConfigError naming the
// failure; the caller must treat this as fatal and refuse to run.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	sources := make([]intent.Source, 0, len(doc.Actions))
	for _, a := range doc.Actions {
		sources = append(sources, intent.Source{
			Name:     a.Name,
			Patterns: a.Patterns,
			Cmd: intent.Command{
				Function: a.Cmd.Function,
				Params:   a.Cmd.Param,
			},
			RepliesPositive: a.RepliesPositive,
			RepliesNegative: a.RepliesNegative,
		})
	}

	matcher, err := intent.Load(sources)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	return &Config{
		Prompt:  []byte(doc.System.Prompt),
		Hello:   doc.System.Hello,
		Intents: matcher,
	}, nil
}
