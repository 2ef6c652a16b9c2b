// Package progress reports per-phase progress of a run.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Reporter observes the parallel phases of a run. Step may be called from
// several goroutines at once.
type Reporter interface {
	Begin(phase string, total int)
	Step(item string)
	End()
}

// Nop discards all progress
type Nop struct{}

func (Nop) Begin(string, int) {}
func (Nop) Step(string)       {}
func (Nop) End()              {}

// Bar renders a terminal progress bar per phase
type Bar struct {
	mu  sync.Mutex
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBar creates a Bar writing to w
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

// ForTerminal returns a Bar when stderr is a terminal and Nop otherwise
func ForTerminal() Reporter {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return NewBar(os.Stderr)
	}
	return Nop{}
}

func (b *Bar) Begin(phase string, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		b.bar.Finish()
	}
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionSetDescription(phase),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *Bar) Step(string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		b.bar.Add(1)
	}
}

func (b *Bar) End() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		b.bar.Finish()
		b.bar = nil
	}
}
