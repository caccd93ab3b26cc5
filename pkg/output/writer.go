// Package output renders classified results to the output sink.
package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/unlink2/oxifuzz/pkg/transform"
)

type flusher interface {
	Flush() error
}

// Writer emits one result per call. In pretty mode each result becomes one
// line: a neutral body, "+ body" in green for expected results, "- body" in
// red for unexpected ones. In raw mode the body bytes are written verbatim
// with nothing added, and unexpected results are suppressed entirely.
//
// Writes are serialised by a mutex so parallel workers can share one
// Writer; each result is flushed before the lock is released.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	raw   bool
	green *color.Color
	red   *color.Color
}

// NewWriter wraps w. noColor forces plain text in pretty mode.
func NewWriter(w io.Writer, raw, noColor bool) *Writer {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	if noColor {
		green.DisableColor()
		red.DisableColor()
	}
	return &Writer{w: w, raw: raw, green: green, red: red}
}

// Write renders one result.
func (wr *Writer) Write(res transform.ExecRes) error {
	wr.mu.Lock()
	defer wr.mu.Unlock()

	var err error
	if wr.raw {
		if res.Fmt != transform.FmtNotExpected {
			_, err = wr.w.Write(res.Out)
		}
	} else {
		switch res.Fmt {
		case transform.FmtExpected:
			_, err = wr.green.Fprintf(wr.w, "+ %s\n", res.Out)
		case transform.FmtNotExpected:
			_, err = wr.red.Fprintf(wr.w, "- %s\n", res.Out)
		default:
			_, err = fmt.Fprintf(wr.w, "%s\n", res.Out)
		}
	}
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	if f, ok := wr.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush output: %w", err)
		}
	}
	return nil
}
