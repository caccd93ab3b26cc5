// Package driver runs the fuzz iteration loop: substitute, execute,
// classify, render, fold.
package driver

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/unlink2/oxifuzz/pkg/expect"
	"github.com/unlink2/oxifuzz/pkg/metrics"
	"github.com/unlink2/oxifuzz/pkg/output"
	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/reporting"
	"github.com/unlink2/oxifuzz/pkg/runner"
	"github.com/unlink2/oxifuzz/pkg/transform"
	"github.com/unlink2/oxifuzz/pkg/words"
)

// Config holds the loop controls.
type Config struct {
	// Runs is the number of iterations.
	Runs int
	// Threads is the number of workers. Above 1, result ordering is not
	// guaranteed.
	Threads int
	// Delay sleeps after each emitted result.
	Delay time.Duration
	// FailFast aborts the loop on the first iteration error. When false,
	// errors are logged and the overall verdict degrades to runner-failed.
	FailFast bool
	// Session tags run log records.
	Session string
	// Seed is recorded in the run log when the RNG was seeded.
	Seed *uint64
}

// Params collects the driver's collaborators.
type Params struct {
	Config   Config
	Template []byte
	Engine   transform.Engine
	Rand     rand.Source
	Runner   runner.Runner
	RunCtx   *runner.Context
	Expects  expect.List
	Out      *output.Writer
	Log      *reporting.Logger
	RunLog   *reporting.RunLog
	Metrics  *metrics.Metrics
}

// Driver orchestrates N runs across T workers and folds the verdicts.
type Driver struct {
	cfg      Config
	template []byte
	engine   transform.Engine
	rng      rand.Source
	runner   runner.Runner
	runCtx   *runner.Context
	expects  expect.List
	out      *output.Writer
	log      *reporting.Logger
	runLog   *reporting.RunLog
	metrics  *metrics.Metrics
}

// New validates p and builds a driver. An empty word pool is rejected up
// front when the template contains the marker, so the run never dies on
// its first substitution.
func New(p Params) (*Driver, error) {
	if p.Config.Runs < 1 {
		p.Config.Runs = 1
	}
	if p.Config.Threads < 1 {
		p.Config.Threads = 1
	}
	if p.RunCtx.Pool.Len() == 0 && bytes.Contains(p.Template, p.Engine.Target().Bytes()) {
		return nil, fmt.Errorf("template contains target %q: %w",
			p.Engine.Target().Bytes(), words.ErrEmptyPool)
	}
	return &Driver{
		cfg:      p.Config,
		template: p.Template,
		engine:   p.Engine,
		rng:      p.Rand,
		runner:   p.Runner,
		runCtx:   p.RunCtx,
		expects:  p.Expects,
		out:      p.Out,
		log:      p.Log,
		runLog:   p.RunLog,
		metrics:  p.Metrics,
	}, nil
}

// Run executes the configured iterations and returns the folded exit kind.
// Single-threaded mode emits results in strict iteration order; parallel
// mode serialises output through the shared writer without ordering.
func (d *Driver) Run(ctx context.Context) (transform.ExitKind, error) {
	if d.cfg.Threads == 1 {
		return d.work(ctx, d.rng, 0, d.cfg.Runs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		overall  = transform.ExitSuccess
		firstErr error
		wg       sync.WaitGroup
	)

	// Split runs across workers; each worker owns a cloned RNG and shares
	// the read-only pool.
	base := d.cfg.Runs / d.cfg.Threads
	extra := d.cfg.Runs % d.cfg.Threads
	next := 0
	for t := 0; t < d.cfg.Threads; t++ {
		n := base
		if t < extra {
			n++
		}
		if n == 0 {
			continue
		}
		start := next
		next += n

		wg.Add(1)
		go func(rng rand.Source, start, n int) {
			defer wg.Done()
			kind, err := d.work(runCtx, rng, start, n)
			mu.Lock()
			defer mu.Unlock()
			overall = transform.Fold(overall, kind)
			if err != nil && firstErr == nil {
				firstErr = err
				cancel()
			}
		}(d.rng.Clone(), start, n)
	}
	wg.Wait()

	return overall, firstErr
}

func (d *Driver) work(ctx context.Context, rng rand.Source, start, n int) (transform.ExitKind, error) {
	overall := transform.ExitSuccess
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		iteration := start + i
		began := time.Now()
		d.metrics.ObserveIteration()

		res, err := d.iterate(rng)
		if err != nil {
			d.metrics.ObserveRunnerError()
			overall = transform.Fold(overall, transform.ExitRunnerFailed)
			d.appendLog(iteration, "error", transform.ExitRunnerFailed, began)
			if d.cfg.FailFast {
				return overall, fmt.Errorf("iteration %d: %w", iteration, err)
			}
			d.log.Warn("Iteration failed", "iteration", iteration, "error", err)
			continue
		}

		if err := d.out.Write(res); err != nil {
			return transform.Fold(overall, transform.ExitRunnerFailed), err
		}
		d.metrics.ObserveVerdict(res.ExitKind)
		d.appendLog(iteration, res.Fmt.String(), res.ExitKind, began)
		overall = transform.Fold(overall, res.ExitKind)

		d.sleep(ctx)
	}
	return overall, nil
}

// iterate produces one payload, runs it and classifies the outcome. Both
// template substitution and the runner's auxiliary substitution draw from
// the same RNG, advancing its state.
func (d *Driver) iterate(rng rand.Source) (transform.ExecRes, error) {
	payload, err := d.engine.Apply(d.template, rng)
	if err != nil {
		return transform.ExecRes{}, err
	}
	exitCode, out, err := d.runner.Run(d.runCtx, payload, rng)
	if err != nil {
		return transform.ExecRes{}, err
	}
	return d.expects.Evaluate(out, exitCode), nil
}

func (d *Driver) appendLog(iteration int, verdict string, kind transform.ExitKind, began time.Time) {
	d.runLog.Append(reporting.RunRecord{
		Session:   d.cfg.Session,
		Seed:      d.cfg.Seed,
		Iteration: iteration,
		Verdict:   verdict,
		ExitKind:  kind.String(),
		ElapsedMS: float64(time.Since(began).Microseconds()) / 1000,
	})
}

func (d *Driver) sleep(ctx context.Context) {
	if d.cfg.Delay <= 0 {
		return
	}
	select {
	case <-time.After(d.cfg.Delay):
	case <-ctx.Done():
	}
}
