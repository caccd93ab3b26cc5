package words

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlink2/oxifuzz/pkg/rand"
)

// fixedSource returns a canned sequence of values for NextRange.
type fixedSource struct {
	values []uint64
	i      int
}

func (f *fixedSource) NextU64() (uint64, error) { return f.next(), nil }

func (f *fixedSource) NextRange(_, _ uint64) (uint64, error) { return f.next(), nil }

func (f *fixedSource) Clone() rand.Source { return &fixedSource{values: f.values} }

func (f *fixedSource) next() uint64 {
	v := f.values[f.i%len(f.values)]
	f.i++
	return v
}

func TestNewPoolOrder(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(listPath, []byte("one\ntwo"), 0644))
	blobPath := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(blobPath, []byte{0xDE, 0xAD, 0x0A, 0xEF}, 0644))

	pool, err := NewPool([]string{"lit"}, []string{listPath}, "\n", []string{blobPath})
	require.NoError(t, err)

	want := [][]byte{
		[]byte("lit"),
		[]byte("one"),
		[]byte("two"),
		{0xDE, 0xAD, 0x0A, 0xEF},
	}
	if diff := cmp.Diff(want, pool.Words()); diff != "" {
		t.Errorf("pool mismatch (-want +got):\n%s", diff)
	}
}

func TestNewPoolCustomTerminator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c"), 0644))

	pool, err := NewPool(nil, []string{path}, ",", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, pool.Len())
}

func TestNewPoolMissingFile(t *testing.T) {
	_, err := NewPool(nil, []string{filepath.Join(t.TempDir(), "nope")}, "\n", nil)
	assert.Error(t, err)
}

func TestSelectEmptyPool(t *testing.T) {
	pool := PoolOf()
	_, err := pool.Select(&fixedSource{values: []uint64{0}})
	assert.ErrorIs(t, err, ErrEmptyPool)
}

func TestSelectClampsIndex(t *testing.T) {
	pool := PoolOf([]byte("a"), []byte("b"), []byte("c"))

	// The file-backed mask-and-add formula can land past the pool bounds;
	// the selector must clamp instead of panicking.
	w, err := pool.Select(&fixedSource{values: []uint64{99}})
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), w)
}

func TestSelectInBounds(t *testing.T) {
	pool := PoolOf([]byte("a"), []byte("b"), []byte("c"))
	w, err := pool.Select(&fixedSource{values: []uint64{1}})
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), w)
}

func TestSelectSeededAlwaysValid(t *testing.T) {
	pool := PoolOf([]byte("x"), []byte("y"))
	rng := rand.NewSeeded(3)
	for i := 0; i < 200; i++ {
		w, err := pool.Select(rng)
		require.NoError(t, err)
		assert.Contains(t, []string{"x", "y"}, string(w))
	}
}
