package runner

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/transform"
)

// Shell spawns a subprocess per payload. The payload is written to the
// child's stdin unless NoStdin is set; each argv entry has the argument
// marker fuzz-substituted before the spawn.
type Shell struct {
	Cmd       string
	Args      []string
	ArgTarget string
	NoStdin   bool
}

func newShell(opts Options) (Runner, error) {
	if opts.Exec == "" {
		return nil, ErrNoCommand
	}
	cmd, args, err := splitExec(opts.Exec)
	if err != nil {
		return nil, err
	}
	return &Shell{
		Cmd:       cmd,
		Args:      args,
		ArgTarget: opts.ArgTarget,
		NoStdin:   opts.NoStdin,
	}, nil
}

// Run implements Runner.
func (s *Shell) Run(ctx *Context, payload transform.Word, rng rand.Source) (*int, transform.Word, error) {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		fuzzed, err := replaceFuzz(a, s.ArgTarget, ctx, rng)
		if err != nil {
			return nil, nil, err
		}
		args[i] = fuzzed
	}

	if ctx.DryRun {
		var out bytes.Buffer
		out.WriteString(s.Cmd)
		for _, a := range args {
			out.WriteByte(' ')
			out.WriteString(a)
		}
		out.Write(payload)
		return nil, out.Bytes(), nil
	}

	ctx.Log.Debug("Running command", "cmd", s.Cmd, "args", args)

	child := exec.Command(s.Cmd, args...)
	if !s.NoStdin {
		child.Stdin = bytes.NewReader(payload)
	}
	var stdout bytes.Buffer
	child.Stdout = &stdout

	if err := child.Run(); err != nil {
		// A non-zero exit is a result, not an error. Everything else
		// (spawn failure, pipe errors) aborts the iteration.
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, nil, fmt.Errorf("run %s: %w", s.Cmd, err)
		}
	}

	var exitCode *int
	if code := child.ProcessState.ExitCode(); code >= 0 {
		exitCode = &code
	}

	out := strings.TrimRight(strings.ToValidUTF8(stdout.String(), "�"), "\n")
	return exitCode, transform.Word(out), nil
}
