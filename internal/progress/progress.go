// Package progress reports per-chunk ingestion progress.
package progress

import (
	"io"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
)

// Sink receives progress updates during a multi-chunk operation. Start is
// called once with the total number of steps, Step once per completed
// step, Done once at the end regardless of outcome.
type Sink interface {
	Start(total int, label string)
	Step(description string)
	Done()
}

// Nop discards all progress updates.
type Nop struct{}

func (Nop) Start(int, string) {}
func (Nop) Step(string)       {}
func (Nop) Done()             {}

// Writer renders a terminal progress bar. One render loop serves every
// Start/Done cycle, so a Writer can be reused across sequential
// operations; call Stop once after the last one.
type Writer struct {
	pw      progress.Writer
	tracker *progress.Tracker
	render  sync.Once
}

// NewWriter returns a progress sink rendering to out.
func NewWriter(out io.Writer) *Writer {
	pw := progress.NewWriter()
	pw.SetOutputWriter(out)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetTrackerLength(30)
	pw.Style().Visibility.ETA = true
	pw.Style().Visibility.Speed = false
	return &Writer{pw: pw}
}

func (w *Writer) Start(total int, label string) {
	w.tracker = &progress.Tracker{Message: label, Total: int64(total)}
	w.pw.AppendTracker(w.tracker)
	w.render.Do(func() { go w.pw.Render() })
}

func (w *Writer) Step(description string) {
	if w.tracker == nil {
		return
	}
	if description != "" {
		w.tracker.UpdateMessage(description)
	}
	w.tracker.Increment(1)
}

func (w *Writer) Done() {
	if w.tracker != nil && !w.tracker.IsDone() {
		w.tracker.MarkAsDone()
	}
	w.tracker = nil
}

// Stop halts terminal rendering.
func (w *Writer) Stop() {
	w.pw.Stop()
}
