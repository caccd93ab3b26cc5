// Package expect classifies runner results against a disjunctive list of
// predicates.
package expect

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/unlink2/oxifuzz/pkg/transform"
)

// Expectation is a predicate over a (body, exit code) pair.
type Expectation interface {
	Matches(out []byte, exitCode *int) bool
}

// Equals matches on byte-equality of the body.
type Equals []byte

func (e Equals) Matches(out []byte, _ *int) bool {
	return bytes.Equal(out, e)
}

// Contains matches when the body contains the needle.
type Contains []byte

func (c Contains) Matches(out []byte, _ *int) bool {
	return bytes.Contains(out, c)
}

// Regex matches the pattern against the UTF-8-lossy decoding of the body.
type Regex struct {
	re *regexp.Regexp
}

// NewRegex compiles pattern into an expectation. An invalid pattern is a
// configuration error.
func NewRegex(pattern string) (Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Regex{}, fmt.Errorf("compile expect regex %q: %w", pattern, err)
	}
	return Regex{re: re}, nil
}

func (r Regex) Matches(out []byte, _ *int) bool {
	return r.re.MatchString(string(out))
}

// ExitCode matches when the runner's exit code equals Code. A nil Code
// matches runners that produce no exit code at all.
type ExitCode struct {
	Code *int
}

func (e ExitCode) Matches(_ []byte, exitCode *int) bool {
	if e.Code == nil || exitCode == nil {
		return e.Code == nil && exitCode == nil
	}
	return *e.Code == *exitCode
}

// Len matches when the body has exactly N bytes.
type Len int

func (l Len) Matches(out []byte, _ *int) bool {
	return len(out) == int(l)
}

// List is a disjunctive expectation list: it is satisfied when any one
// predicate matches.
type List []Expectation

// Satisfied reports whether any predicate in the list matches.
func (l List) Satisfied(out []byte, exitCode *int) bool {
	for _, e := range l {
		if e.Matches(out, exitCode) {
			return true
		}
	}
	return false
}

// Evaluate classifies a runner result. With no expectations configured the
// verdict carries no format and succeeds unless the runner reported a
// non-zero exit. With expectations, a match keeps the same success mapping
// and tags the line expected; a miss is a failure.
func (l List) Evaluate(out transform.Word, exitCode *int) transform.ExecRes {
	successKind := transform.ExitSuccess
	if exitCode != nil && *exitCode != 0 {
		successKind = transform.ExitRunnerFailed
	}

	if len(l) == 0 {
		return transform.ExecRes{ExitKind: successKind, Out: out, Fmt: transform.FmtNone}
	}
	if l.Satisfied(out, exitCode) {
		return transform.ExecRes{ExitKind: successKind, Out: out, Fmt: transform.FmtExpected}
	}
	return transform.ExecRes{ExitKind: transform.ExitFailure, Out: out, Fmt: transform.FmtNotExpected}
}
