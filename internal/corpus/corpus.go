// Package corpus loads the candidate message bodies used by the generator.
package corpus

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
)

// Corpus is an immutable list of message bodies. It is safe for concurrent
// reads; callers supply their own random source.
type Corpus struct {
	bodies []string
	source string
}

// Default returns the built-in fallback corpus.
func Default() *Corpus {
	return &Corpus{
		bodies: []string{
			"Hello everyone!",
			"How are you doing?",
			"This is a test message",
			"Great to be here",
			"Anyone online?",
		},
		source: "default",
	}
}

// New wraps bodies, dropping blank entries. An empty result yields the
// default corpus.
func New(bodies []string, source string) *Corpus {
	cleaned := make([]string, 0, len(bodies))
	for _, b := range bodies {
		b = strings.TrimSpace(b)
		if b != "" {
			cleaned = append(cleaned, b)
		}
	}
	if len(cleaned) == 0 {
		return Default()
	}
	return &Corpus{bodies: cleaned, source: source}
}

// Load reads a corpus file. Plain text files hold one body per line; .csv and
// .json files are read by their respective loaders. An empty path returns the
// default corpus.
func Load(path string) (*Corpus, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default(), nil
	}

	var (
		bodies []string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		bodies, err = readCSV(path)
	case ".json":
		bodies, err = readJSON(path)
	default:
		bodies, err = readLines(path)
	}
	if err != nil {
		return nil, err
	}
	return New(bodies, path), nil
}

// LoadOrDefault behaves like Load but substitutes the default corpus on any
// read error. The error is returned alongside so callers can log it.
func LoadOrDefault(path string) (*Corpus, error) {
	c, err := Load(path)
	if err != nil {
		return Default(), fmt.Errorf("load corpus %s: %w", path, err)
	}
	return c, nil
}

// Pick returns a uniformly chosen body.
func (c *Corpus) Pick(rnd *rand.Rand) string {
	return c.bodies[rnd.Intn(len(c.bodies))]
}

// Len returns the number of bodies.
func (c *Corpus) Len() int { return len(c.bodies) }

// Source names where the corpus came from ("default" or a file path).
func (c *Corpus) Source() string { return c.source }

// Bodies returns a copy of the bodies.
func (c *Corpus) Bodies() []string {
	return append([]string(nil), c.bodies...)
}
