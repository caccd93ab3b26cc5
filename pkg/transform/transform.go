// Package transform holds the substitution core: the target marker, the
// engine that streams a template into a payload, and the result types the
// rest of the pipeline passes around.
package transform

import (
	"bytes"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/words"
)

// Word is an opaque byte sequence. It may contain arbitrary non-UTF-8 bytes.
type Word []byte

// DefaultTarget is the marker replaced in templates when none is configured.
const DefaultTarget = "OXIFUZZ"

// Target is the sentinel byte sequence the engine replaces.
type Target struct {
	marker []byte
}

// NewTarget builds a matcher for marker. Falls back to DefaultTarget when
// marker is empty, so a matcher never matches at every position.
func NewTarget(marker string) Target {
	if marker == "" {
		marker = DefaultTarget
	}
	return Target{marker: []byte(marker)}
}

// ShouldReplace reports whether the marker is a byte-exact prefix of input.
func (t Target) ShouldReplace(input []byte) bool {
	return bytes.HasPrefix(input, t.marker)
}

// Len returns the marker length in bytes.
func (t Target) Len() int {
	return len(t.marker)
}

// Bytes returns the marker bytes.
func (t Target) Bytes() []byte {
	return t.marker
}

// Engine substitutes every marker occurrence in a template with a word
// drawn from the pool.
type Engine struct {
	target Target
	pool   *words.Pool
}

// NewEngine builds an engine over target and pool.
func NewEngine(target Target, pool *words.Pool) Engine {
	return Engine{target: target, pool: pool}
}

// Target returns the engine's marker.
func (e Engine) Target() Target {
	return e.target
}

// Apply streams template left to right, copying bytes and replacing each
// full marker hit with a freshly drawn word. Substituted bytes are never
// re-scanned, and a marker cut off by the end of the template is not
// matched. The output is a pure function of (template, rng state, pool).
func (e Engine) Apply(template []byte, rng rand.Source) (Word, error) {
	out := make(Word, 0, len(template))
	i := 0
	for i < len(template) {
		if e.target.ShouldReplace(template[i:]) {
			word, err := e.pool.Select(rng)
			if err != nil {
				return nil, err
			}
			out = append(out, word...)
			i += e.target.Len()
			continue
		}
		out = append(out, template[i])
		i++
	}
	return out, nil
}
