// Package progress reports polling progress to the diagnostic stream.
//
// Pollers receive a Progress capability instead of writing to a terminal,
// so tests can assert on ticks with a Recorder.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Progress receives one Tick per poll and messages worth surfacing once.
type Progress interface {
	Tick()
	Message(msg string)
	Flush()
}

// Nop discards all progress.
type Nop struct{}

// Tick implements Progress.
func (Nop) Tick() {}

// Message implements Progress.
func (Nop) Message(string) {}

// Flush implements Progress.
func (Nop) Flush() {}

var spinnerFrames = []string{"|", "/", "-", "\\"}

// Animator draws a spinner on a terminal.
// Thread-safe.
type Animator struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	frame   int
	enabled bool
	drawn   bool
}

// NewAnimator returns an animator writing to out. Ticks are only drawn
// when out is a terminal; messages are always written.
func NewAnimator(out io.Writer, label string) *Animator {
	enabled := false
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		enabled = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &Animator{out: out, label: label, enabled: enabled}
}

// Tick advances the spinner.
func (a *Animator) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.enabled {
		return
	}
	_, _ = fmt.Fprintf(a.out, "\r%s %s", spinnerFrames[a.frame%len(spinnerFrames)], a.label)
	a.frame++
	a.drawn = true
}

// Message writes msg on its own line.
func (a *Animator) Message(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLocked()
	_, _ = fmt.Fprintln(a.out, msg)
}

// Flush erases the spinner line.
func (a *Animator) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLocked()
}

func (a *Animator) clearLocked() {
	if !a.drawn {
		return
	}
	_, _ = fmt.Fprint(a.out, "\r\033[K")
	a.drawn = false
}

// Recorder counts ticks and keeps messages.
// Thread-safe.
type Recorder struct {
	mu       sync.Mutex
	ticks    int
	flushes  int
	messages []string
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Tick implements Progress.
func (r *Recorder) Tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

// Message implements Progress.
func (r *Recorder) Message(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

// Flush implements Progress.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes++
}

// Ticks returns the number of ticks seen.
func (r *Recorder) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Flushes returns the number of flushes seen.
func (r *Recorder) Flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushes
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.messages))
	copy(out, r.messages)
	return out
}

var (
	_ Progress = Nop{}
	_ Progress = (*Animator)(nil)
	_ Progress = (*Recorder)(nil)
)
