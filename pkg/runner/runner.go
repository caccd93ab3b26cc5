// Package runner dispatches payloads to one of several backends and
// collects an (exit code, output bytes) pair per run.
package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/unlink2/oxifuzz/pkg/rand"
	"github.com/unlink2/oxifuzz/pkg/reporting"
	"github.com/unlink2/oxifuzz/pkg/transform"
	"github.com/unlink2/oxifuzz/pkg/words"
)

// Configuration errors surfaced before any iteration runs.
var (
	ErrNoCommand = errors.New("shell runner configured without a command")
	ErrNoURL     = errors.New("http runner configured without a url")
	ErrNoHeader  = errors.New("jwt runner configured without a header")
	ErrNoSecret  = errors.New("jwt signature configured without a secret")
	// ErrWrongRunner is an internal invariant violation: a runner invoked
	// with another runner's configuration.
	ErrWrongRunner = errors.New("unsupported command runner")
	ErrUnknownKind = errors.New("unknown runner kind")
)

// Context carries the per-run collaborators a backend needs: the word pool
// for auxiliary substitution, the dry-run switch and a logger.
type Context struct {
	Pool   *words.Pool
	DryRun bool
	Log    *reporting.Logger
}

// Runner consumes a payload and produces an optional exit code plus output
// bytes. A nil exit code means the backend has no such notion (pass-through,
// dry runs, JWT encoding).
type Runner interface {
	Run(ctx *Context, payload transform.Word, rng rand.Source) (exitCode *int, out transform.Word, err error)
}

// Kind selects a runner backend on the command line.
type Kind string

const (
	// KindNone auto-selects a backend from the other options.
	KindNone        Kind = "none"
	KindPassThrough Kind = "passthrough"
	KindShell       Kind = "shell"
	KindHTTP        Kind = "http"
	KindJWT         Kind = "jwt"
)

// ParseKind parses a runner kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindNone, "":
		return KindNone, nil
	case KindPassThrough:
		return KindPassThrough, nil
	case KindShell:
		return KindShell, nil
	case KindHTTP:
		return KindHTTP, nil
	case KindJWT:
		return KindJWT, nil
	default:
		return KindNone, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Options collects everything a backend constructor may need. Unused
// fields are ignored by the selected backend.
type Options struct {
	Kind Kind

	// ArgTarget is the marker replaced inside argv, URLs, headers and the
	// JWT header, independently of template substitution.
	ArgTarget string

	// Shell
	Exec    string
	NoStdin bool

	// HTTP
	URL                    string
	Headers                []string
	Method                 string
	IncludeResponseHeaders bool
	TimeoutMS              int

	// JWT
	JWTHeader     string
	JWTHeaderFile string
	JWTSignature  string
	JWTSecret     string
	JWTSecretFile string
}

// New builds the runner selected by opts.Kind. KindNone picks a backend
// from the populated options: exec wins over url, url over a jwt header,
// and with none of them set the pass-through runner is used.
func New(opts Options) (Runner, error) {
	switch opts.Kind {
	case KindShell:
		return newShell(opts)
	case KindHTTP:
		return newHTTP(opts)
	case KindJWT:
		return newJWT(opts)
	case KindPassThrough:
		return PassThrough{}, nil
	case KindNone:
		return autoSelect(opts)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, opts.Kind)
	}
}

func autoSelect(opts Options) (Runner, error) {
	switch {
	case opts.Exec != "":
		return newShell(opts)
	case opts.URL != "":
		return newHTTP(opts)
	case opts.JWTHeader != "" || opts.JWTHeaderFile != "":
		return newJWT(opts)
	default:
		return PassThrough{}, nil
	}
}

// splitExec shell-splits the exec string into a command and its argument
// vector. Split failures (unbalanced quotes and the like) are argument
// errors.
func splitExec(exec string) (string, []string, error) {
	parts, err := shlex.Split(exec)
	if err != nil {
		return "", nil, fmt.Errorf("split exec string %q: %w", exec, err)
	}
	if len(parts) == 0 {
		return "", nil, ErrNoCommand
	}
	return parts[0], parts[1:], nil
}

// replaceFuzz substitutes every occurrence of argTarget in s with a freshly
// drawn word, each occurrence sampled independently. Substituted bytes are
// re-scanned here on purpose: the auxiliary marker is operator-provided
// text, not template data.
func replaceFuzz(s, argTarget string, ctx *Context, rng rand.Source) (string, error) {
	if argTarget == "" {
		return s, nil
	}
	for strings.Contains(s, argTarget) {
		word, err := ctx.Pool.Select(rng)
		if err != nil {
			return "", err
		}
		s = strings.Replace(s, argTarget, string(word), 1)
	}
	return s, nil
}

// PassThrough returns the payload unchanged. Used when no backend is
// configured.
type PassThrough struct{}

// Run implements Runner.
func (PassThrough) Run(_ *Context, payload transform.Word, _ rand.Source) (*int, transform.Word, error) {
	out := make(transform.Word, len(payload))
	copy(out, payload)
	return nil, out, nil
}
