// Package rand provides the random sources that drive word selection:
// a deterministic ChaCha8 stream seeded from a 64-bit value or OS entropy,
// and a file-backed source that reads raw u64 values from a path such as
// /dev/urandom.
package rand

import (
	"bufio"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	mathrand "math/rand/v2"
	"os"
)

// Source is a stateful stream of 64-bit values.
type Source interface {
	// NextU64 returns the next value in the stream.
	NextU64() (uint64, error)

	// NextRange returns a value in [lo, hi). Requires lo < hi. The
	// file-backed source deliberately deviates from uniformity (see
	// FileSource).
	NextRange(lo, hi uint64) (uint64, error)

	// Clone returns an independent source. Seeded sources copy their
	// generator state; file-backed sources get a fresh unopened handle.
	Clone() Source
}

// splitmix64 expands a 64-bit seed into a key stream. Same expansion the
// reference rand crates use for seed_from_u64.
func splitmix64(x *uint64) uint64 {
	*x += 0x9E3779B97F4A7C15
	z := *x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// seededSource wraps a ChaCha8 generator. ChaCha8 is the documented
// stream-cipher PRNG: the full output stream is a pure function of the key.
type seededSource struct {
	src *mathrand.ChaCha8
	rng *mathrand.Rand
}

// NewSeeded returns a deterministic source keyed from a 64-bit seed.
func NewSeeded(seed uint64) Source {
	var key [32]byte
	x := seed
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint64(key[i*8:], splitmix64(&x))
	}
	return newChaCha(key)
}

// NewEntropy returns a source keyed from 32 bytes of OS entropy.
func NewEntropy() Source {
	var key [32]byte
	// crypto/rand.Read never fails on supported platforms.
	_, _ = cryptorand.Read(key[:])
	return newChaCha(key)
}

func newChaCha(key [32]byte) Source {
	src := mathrand.NewChaCha8(key)
	return &seededSource{src: src, rng: mathrand.New(src)}
}

func (s *seededSource) NextU64() (uint64, error) {
	return s.src.Uint64(), nil
}

func (s *seededSource) NextRange(lo, hi uint64) (uint64, error) {
	return lo + s.rng.Uint64N(hi-lo), nil
}

func (s *seededSource) Clone() Source {
	state, err := s.src.MarshalBinary()
	if err != nil {
		// ChaCha8 marshalling cannot fail; fall back to a zero key so the
		// clone is still usable.
		return newChaCha([32]byte{})
	}
	src := mathrand.NewChaCha8([32]byte{})
	if err := src.UnmarshalBinary(state); err != nil {
		return newChaCha([32]byte{})
	}
	return &seededSource{src: src, rng: mathrand.New(src)}
}

// FileSource reads 8 native-endian bytes per call from a file, opened
// lazily on first use. Intended for entropy devices and captured random
// streams, where replaying the file replays the run.
type FileSource struct {
	path   string
	reader *bufio.Reader
	file   *os.File
	buf    [8]byte
}

// NewFile returns a file-backed source for path. The file is not opened
// until the first call.
func NewFile(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) NextU64() (uint64, error) {
	if f.reader == nil {
		file, err := os.Open(f.path)
		if err != nil {
			return 0, fmt.Errorf("open random file %s: %w", f.path, err)
		}
		f.file = file
		f.reader = bufio.NewReader(file)
	}
	if _, err := io.ReadFull(f.reader, f.buf[:]); err != nil {
		return 0, fmt.Errorf("read random file %s: %w", f.path, err)
	}
	return binary.NativeEndian.Uint64(f.buf[:]), nil
}

// NextRange applies the mask-and-add formula (u & hi) + lo. This is not
// uniform and may land outside [lo, hi); callers that index with it must
// clamp. Kept so a fixed entropy file consumes exactly 8 bytes per draw.
func (f *FileSource) NextRange(lo, hi uint64) (uint64, error) {
	u, err := f.NextU64()
	if err != nil {
		return 0, err
	}
	return (u & hi) + lo, nil
}

// Clone returns a fresh unopened handle to the same path. The clone does
// not share a file cursor with the parent.
func (f *FileSource) Clone() Source {
	return NewFile(f.path)
}

// Close releases the underlying file, if it was ever opened.
func (f *FileSource) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}
