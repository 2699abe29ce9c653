package retrieval

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

// SeedEntry is one example in a seed file.
type SeedEntry struct {
	Type ContextType `yaml:"type"`
	Text string      `yaml:"text"`
}

// Seed lists the examples of both collections.
type Seed struct {
	Context  []SeedEntry `yaml:"context"`
	Teaching []SeedEntry `yaml:"teaching"`
}

// ParseSeed decodes and validates a YAML seed.
func ParseSeed(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	var errs []error
	check := func(collection string, entries []SeedEntry) {
		for i, e := range entries {
			if strings.TrimSpace(e.Text) == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: empty text", collection, i))
			}
			if !e.Type.Valid() {
				errs = append(errs, fmt.Errorf("%s[%d]: type %d is not within 1-8", collection, i, e.Type))
			}
		}
	}
	check(CollectionContext, s.Context)
	check(CollectionTeaching, s.Teaching)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSeed reads a seed file. An empty path returns the built-in seed.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		return ParseSeed(defaultSeed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// IndexStats reports what Index stored.
type IndexStats struct {
	Context  int `json:"context"`
	Teaching int `json:"teaching"`
}

// Index embeds the seed and replaces both collections with it.
func Index(ctx context.Context, store *Store, embedder Embedder, seed *Seed) (IndexStats, error) {
	var stats IndexStats
	for _, c := range []struct {
		name    string
		entries []SeedEntry
		count   *int
	}{
		{CollectionContext, seed.Context, &stats.Context},
		{CollectionTeaching, seed.Teaching, &stats.Teaching},
	} {
		texts := make([]string, len(c.entries))
		for i, e := range c.entries {
			texts[i] = strings.TrimSpace(e.Text)
		}
		vecs, err := embedder.Embed(ctx, texts)
		if err != nil {
			return stats, fmt.Errorf("embed %s: %w", c.name, err)
		}
		if len(vecs) != len(texts) {
			return stats, fmt.Errorf("embed %s: got %d vectors for %d texts", c.name, len(vecs), len(texts))
		}

		examples := make([]Example, len(texts))
		for i := range texts {
			examples[i] = Example{
				Collection:  c.name,
				ContextType: c.entries[i].Type,
				Content:     texts[i],
				Embedding:   vecs[i],
			}
		}
		if err := store.Reset(ctx, c.name); err != nil {
			return stats, err
		}
		if err := store.Add(ctx, examples); err != nil {
			return stats, err
		}
		*c.count = len(examples)
	}
	return stats, nil
}
