// Package words builds and samples the word pool that replacement bytes
// are drawn from.
package words

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/unlink2/oxifuzz/pkg/rand"
)

// ErrEmptyPool is returned when a word is requested from an empty pool.
var ErrEmptyPool = errors.New("word pool is empty")

// DefaultListTerminator splits word-list files into words.
const DefaultListTerminator = "\n"

// Pool is a finite ordered sequence of words, sampled with replacement.
// Indices are stable for the life of a run.
type Pool struct {
	words [][]byte
}

// NewPool assembles a pool in a fixed order: literal words first, then the
// contents of each list file split by term, then each word file appended
// whole as a single raw word.
func NewPool(literals []string, listFiles []string, term string, wordFiles []string) (*Pool, error) {
	if term == "" {
		term = DefaultListTerminator
	}

	var words [][]byte
	for _, w := range literals {
		words = append(words, []byte(w))
	}

	for _, path := range listFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read word list %s: %w", path, err)
		}
		for _, w := range strings.Split(string(data), term) {
			words = append(words, []byte(w))
		}
	}

	for _, path := range wordFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read word file %s: %w", path, err)
		}
		words = append(words, data)
	}

	return &Pool{words: words}, nil
}

// PoolOf builds a pool directly from byte words. Mostly a test aid.
func PoolOf(words ...[]byte) *Pool {
	return &Pool{words: words}
}

// Len returns the number of words in the pool.
func (p *Pool) Len() int {
	return len(p.words)
}

// Words exposes the pool contents for debug logging.
func (p *Pool) Words() [][]byte {
	return p.words
}

// Select draws a word with replacement. The index is clamped to the pool
// bounds because the file-backed source's mask-and-add range formula can
// land past the end.
func (p *Pool) Select(rng rand.Source) ([]byte, error) {
	n := uint64(len(p.words))
	if n == 0 {
		return nil, ErrEmptyPool
	}
	idx, err := rng.NextRange(0, n)
	if err != nil {
		return nil, err
	}
	if idx > n-1 {
		idx = n - 1
	}
	return p.words[idx], nil
}
