package fetcher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ytdle/internal/taxonomy"
)

// EventSink is the narrow slice of the Scheduler's event fan-out (spec
// §4.G) that the progress Adapter needs to drive.
type EventSink interface {
	Progress(pct int)
	Status(s string)
	Log(s string)
}

// Signals are the cooperative control-plane flags the Adapter consults at
// every callback boundary (spec §5, §9): atomic, no lock needed.
type Signals struct {
	Cancelled *atomic.Bool
	Skip      *atomic.Bool
	Paused    *atomic.Bool
}

// Adapter tracks one item's progress-translation state across attempts:
// the last logged percentage, the artifact-candidate set, the derived
// working directory/stem, and the promoted output path (spec §3
// DownloadItem, §4.E).
type Adapter struct {
	signals Signals

	mu                sync.Mutex
	lastLoggedPercent int
	artifacts         map[string]struct{}
	dir               string
	stem              string
	outputPath        string
}

// NewAdapter creates an Adapter bound to the given control signals.
func NewAdapter(signals Signals) *Adapter {
	a := &Adapter{signals: signals}
	a.Reset()
	return a
}

// Reset clears per-item state (artifacts, stem, output path,
// lastLoggedPercent = -10) so that the first progress event at any
// percentage >= 0 triggers a log line (spec §4.F "Numeric and ordering
// details").
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastLoggedPercent = -10
	a.artifacts = make(map[string]struct{})
	a.dir = ""
	a.stem = ""
	a.outputPath = ""
}

// Dir, Stem, OutputPath and Artifacts expose the tracked state to the
// Reconciler on the failure path.
func (a *Adapter) Dir() string { a.mu.Lock(); defer a.mu.Unlock(); return a.dir }
func (a *Adapter) Stem() string { a.mu.Lock(); defer a.mu.Unlock(); return a.stem }
func (a *Adapter) OutputPath() string { a.mu.Lock(); defer a.mu.Unlock(); return a.outputPath }
func (a *Adapter) Artifacts() map[string]struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]struct{}, len(a.artifacts))
	for k := range a.artifacts {
		out[k] = struct{}{}
	}
	return out
}

func (a *Adapter) trackCandidate(path string) {
	if path == "" {
		return
	}
	a.artifacts[path] = struct{}{}
	if a.dir == "" {
		a.dir = filepath.Dir(path)
		base := filepath.Base(path)
		a.stem = strings.TrimSuffix(base, filepath.Ext(base))
	}
}

// OnProgress is the ProgressFunc passed to the Fetcher. At entry: if
// cancel is set, raise Cancelled; if skip-current is set, raise
// SkipCurrent (spec §4.E). While paused, it sleeps in short increments
// before re-checking cancel, so cancel is never starved by a stuck pause
// (spec §5, §9).
func (a *Adapter) OnProgress(ev ProgressEvent, sink EventSink) error {
	if a.signals.Cancelled.Load() {
		return taxonomy.CancelledError{}
	}
	if a.signals.Skip.Load() {
		return taxonomy.SkipCurrentError{}
	}
	for a.signals.Paused.Load() {
		time.Sleep(100 * time.Millisecond)
		if a.signals.Cancelled.Load() {
			return taxonomy.CancelledError{}
		}
	}

	a.mu.Lock()
	a.trackCandidate(ev.Filename)
	a.trackCandidate(ev.TmpFilename)
	a.mu.Unlock()

	switch ev.Status {
	case "downloading":
		a.handleDownloading(ev, sink)
	case "finished":
		a.handleFinished(ev, sink)
	}
	return nil
}

func (a *Adapter) handleDownloading(ev ProgressEvent, sink EventSink) {
	total := ev.TotalBytes
	if total == 0 {
		total = ev.EstimatedTotalBytes
	}
	pct := 0
	if total > 0 {
		pct = int(ev.DownloadedBytes * 100 / total)
		if pct > 100 {
			pct = 100
		}
	}
	sink.Progress(pct)

	status := fmt.Sprintf("%.2f MB/s | ETA %s", ev.SpeedBytesPerSec/1_000_000, formatETA(ev, total))
	if a.signals.Paused.Load() {
		status = "Paused"
	}
	sink.Status(status)

	a.mu.Lock()
	// Unknown totals (total == 0) still report at pct == 0; only the
	// every-10%-step threshold below requires a known total to mean
	// anything, so an unknown-total stream still gets its first line.
	shouldLog := pct >= a.lastLoggedPercent+10
	if shouldLog {
		a.lastLoggedPercent = pct - (pct % 10)
	}
	a.mu.Unlock()
	if shouldLog {
		sink.Log(fmt.Sprintf("%d%% downloaded", pct))
	}
}

func (a *Adapter) handleFinished(ev ProgressEvent, sink EventSink) {
	sink.Status("Processing downloaded file...")
	sink.Log("Processing downloaded file...")
	sink.Progress(100)
	a.mu.Lock()
	if ev.Filename != "" {
		a.outputPath = ev.Filename
	}
	a.mu.Unlock()
}

func formatETA(ev ProgressEvent, total int64) string {
	if ev.SpeedBytesPerSec <= 0 || total <= 0 {
		return "--:--:--"
	}
	remaining := total - ev.DownloadedBytes
	if remaining < 0 {
		remaining = 0
	}
	seconds := int64(float64(remaining) / ev.SpeedBytesPerSec)
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
