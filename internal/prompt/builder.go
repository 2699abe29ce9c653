// Package prompt assembles the tutor's system prompt from the base
// instructions, the dialogue rules of a learning situation and any
// retrieved teaching examples.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tainanafeng/math-coach/internal/retrieval"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Set is the prompt text a Builder draws from.
type Set struct {
	Base    string                           `yaml:"base"`
	General string                           `yaml:"general"`
	Rules   map[retrieval.ContextType]string `yaml:"rules"`
}

// Builder renders system prompts.
type Builder struct {
	set Set
}

// Default returns a builder over the built-in prompts.
func Default() *Builder {
	b, err := Parse(defaultPrompts)
	if err != nil {
		panic("prompt: built-in prompts are invalid: " + err.Error())
	}
	return b
}

// Parse decodes a YAML prompt set.
func Parse(data []byte) (*Builder, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if strings.TrimSpace(s.Base) == "" {
		return nil, errors.New("prompts: base is empty")
	}
	if strings.TrimSpace(s.General) == "" {
		return nil, errors.New("prompts: general rules are empty")
	}
	return &Builder{set: s}, nil
}

// Load reads a prompt set from path. An empty path returns Default().
func Load(path string) (*Builder, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	return Parse(data)
}

// Rules returns the dialogue rules for ct, the general rules when ct has none.
func (b *Builder) Rules(ct retrieval.ContextType) string {
	if r, ok := b.set.Rules[ct]; ok && strings.TrimSpace(r) != "" {
		return r
	}
	return b.set.General
}

// Build returns base + rules + teaching examples, newline separated.
func (b *Builder) Build(ct retrieval.ContextType, teaching string) string {
	return b.set.Base + "\n" + b.Rules(ct) + "\n" + teaching
}
