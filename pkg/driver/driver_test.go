package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unlink2/oxifuzz/pkg/expect"
	"github.com/unlink2/oxifuzz/pkg/output"
	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/reporting"
	"github.com/unlink2/oxifuzz/pkg/runner"
	"github.com/unlink2/oxifuzz/pkg/transform"
	"github.com/unlink2/oxifuzz/pkg/words"
)

var errBoom = errors.New("boom")

// failingRunner errors on every invocation.
type failingRunner struct{}

func (failingRunner) Run(*runner.Context, transform.Word, rand.Source) (*int, transform.Word, error) {
	return nil, nil, errBoom
}

func quietLogger() *reporting.Logger {
	return reporting.NewLogger(reporting.LoggerConfig{
		Level:  reporting.LogLevelError,
		Format: reporting.LogFormatJSON,
		Output: io.Discard,
	})
}

func newTestDriver(t *testing.T, cfg Config, template string, pool *words.Pool, r runner.Runner, expects expect.List, sink *bytes.Buffer) *Driver {
	t.Helper()
	d, err := New(Params{
		Config:   cfg,
		Template: []byte(template),
		Engine:   transform.NewEngine(transform.NewTarget("OXIFUZZ"), pool),
		Rand:     rand.NewSeeded(1),
		Runner:   r,
		RunCtx:   &runner.Context{Pool: pool, Log: quietLogger()},
		Expects:  expects,
		Out:      output.NewWriter(sink, false, true),
		Log:      quietLogger(),
	})
	require.NoError(t, err)
	return d
}

func TestRunSingleIteration(t *testing.T) {
	var buf bytes.Buffer
	pool := words.PoolOf([]byte("abc"))
	d := newTestDriver(t, Config{Runs: 1, Threads: 1, FailFast: true},
		"{12: OXIFUZZ}", pool, runner.PassThrough{}, nil, &buf)

	kind, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.ExitSuccess, kind)
	assert.Equal(t, "{12: abc}\n", buf.String())
}

func TestRunFoldsWorstVerdict(t *testing.T) {
	var buf bytes.Buffer
	// One word matches the expectation, the other cannot: with enough runs
	// both verdicts occur and the failure must stick.
	pool := words.PoolOf([]byte("good"), []byte("bad"))
	d := newTestDriver(t, Config{Runs: 32, Threads: 1, FailFast: true},
		"OXIFUZZ", pool, runner.PassThrough{}, expect.List{expect.Equals("good")}, &buf)

	kind, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.ExitFailure, kind)
	assert.Contains(t, buf.String(), "+ good\n")
	assert.Contains(t, buf.String(), "- bad\n")
}

func TestRunDeterministicForFixedSeed(t *testing.T) {
	run := func() string {
		var buf bytes.Buffer
		pool := words.PoolOf([]byte("1"), []byte("2"), []byte("3"))
		d := newTestDriver(t, Config{Runs: 8, Threads: 1, FailFast: true},
			"v=OXIFUZZ", pool, runner.PassThrough{}, nil, &buf)
		_, err := d.Run(context.Background())
		require.NoError(t, err)
		return buf.String()
	}
	assert.Equal(t, run(), run())
}

func TestRunFailFastAborts(t *testing.T) {
	var buf bytes.Buffer
	pool := words.PoolOf([]byte("w"))
	d := newTestDriver(t, Config{Runs: 5, Threads: 1, FailFast: true},
		"x", pool, failingRunner{}, nil, &buf)

	kind, err := d.Run(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, transform.ExitRunnerFailed, kind)
	assert.Empty(t, buf.String())
}

func TestRunNoFailOnErrContinues(t *testing.T) {
	var buf bytes.Buffer
	pool := words.PoolOf([]byte("w"))
	d := newTestDriver(t, Config{Runs: 5, Threads: 1, FailFast: false},
		"x", pool, failingRunner{}, nil, &buf)

	kind, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.ExitRunnerFailed, kind)
}

func TestRunParallelEmitsAllResults(t *testing.T) {
	var buf bytes.Buffer
	pool := words.PoolOf([]byte("w"))
	d := newTestDriver(t, Config{Runs: 10, Threads: 4, FailFast: true},
		"OXIFUZZ", pool, runner.PassThrough{}, nil, &buf)

	kind, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transform.ExitSuccess, kind)
	// Ordering is unspecified in parallel mode; only the count is.
	assert.Len(t, strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), 10)
}

func TestRunCancelledContextStops(t *testing.T) {
	var buf bytes.Buffer
	pool := words.PoolOf([]byte("w"))
	d := newTestDriver(t, Config{Runs: 1000, Threads: 1, FailFast: true},
		"OXIFUZZ", pool, runner.PassThrough{}, nil, &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	kind, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, transform.ExitSuccess, kind)
	assert.Empty(t, buf.String())
}

func TestNewRejectsEmptyPoolWithReachableMarker(t *testing.T) {
	pool := words.PoolOf()
	_, err := New(Params{
		Config:   Config{Runs: 1, Threads: 1},
		Template: []byte("has OXIFUZZ inside"),
		Engine:   transform.NewEngine(transform.NewTarget("OXIFUZZ"), pool),
		Rand:     rand.NewSeeded(1),
		Runner:   runner.PassThrough{},
		RunCtx:   &runner.Context{Pool: pool, Log: quietLogger()},
		Out:      output.NewWriter(&bytes.Buffer{}, false, true),
		Log:      quietLogger(),
	})
	assert.ErrorIs(t, err, words.ErrEmptyPool)
}

func TestNewAllowsEmptyPoolWithoutMarker(t *testing.T) {
	pool := words.PoolOf()
	_, err := New(Params{
		Config:   Config{Runs: 1, Threads: 1},
		Template: []byte("static"),
		Engine:   transform.NewEngine(transform.NewTarget("OXIFUZZ"), pool),
		Rand:     rand.NewSeeded(1),
		Runner:   runner.PassThrough{},
		RunCtx:   &runner.Context{Pool: pool, Log: quietLogger()},
		Out:      output.NewWriter(&bytes.Buffer{}, false, true),
		Log:      quietLogger(),
	})
	assert.NoError(t, err)
}
