// Package item implements the per-URL state machine: info-probe →
// attempt-loop (with format-fallback escalation) → finalize (spec §4.F).
package item

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"ytdle/internal/fetcher"
	"ytdle/internal/history"
	"ytdle/internal/network"
	"ytdle/internal/options"
	"ytdle/internal/reconciler"
	"ytdle/internal/taxonomy"
)

// Outcome is the terminal classification of one item.
type Outcome int

const (
	Finished Outcome = iota
	Failed
	Cancelled
	Skipped
)

// EventSink is the subset of the Scheduler's event fan-out the Driver
// emits directly (spec §4.G).
type EventSink interface {
	fetcher.EventSink
	ItemStarted(url string)
	ItemFinished(url string, success bool, info string)
}

// Driver runs one URL's lifecycle to completion.
type Driver struct {
	URL     string
	Index   int
	Opts    options.DownloadOptions
	Fetcher fetcher.Fetcher
	History *history.Store
	Log     *slog.Logger
	Sink    EventSink

	Cancelled *atomic.Bool
	Skip      *atomic.Bool
	Paused    *atomic.Bool

	// NetStatus, when non-nil, is the Scheduler's cached reachability
	// Monitor (spec §2 "(B) is used by the UI and by the Driver to
	// annotate logs"); the Driver only ever reads its cached Status(),
	// never triggers a fresh Check() itself.
	NetStatus *network.Monitor

	// title is the info-probe's discovered title (spec §3 "discovered
	// title, nullable until info-probe succeeds"), threaded through to
	// History.AddCompleted/AddFailed at finalize.
	title string
}

// maxAttempts mirrors spec §4.F / §8 invariant 4: 3 attempts for video,
// 1 for audio.
func maxAttempts(kind options.Kind) int {
	if kind == options.Audio {
		return 1
	}
	return 3
}

// Run executes the full per-URL state machine and returns its terminal
// outcome.
func (d *Driver) Run(ctx context.Context) Outcome {
	signals := fetcher.Signals{Cancelled: d.Cancelled, Skip: d.Skip, Paused: d.Paused}
	adapter := fetcher.NewAdapter(signals)
	adapter.Reset()

	if err := ensureDir(d.Opts.Directory); err != nil {
		d.finalizeFailed(adapter, fmt.Sprintf("could not create directory: %v", err))
		return Failed
	}

	d.Sink.ItemStarted(d.URL)

	outcome, err := d.attemptLoop(ctx, adapter)
	switch outcome {
	case Finished:
		path := adapter.OutputPath()
		if err := d.History.AddCompleted(d.URL, d.title, formatLabel(d.Opts.Kind), d.Opts.Quality, path); err != nil {
			d.Log.Error("history write failed", "url", d.URL, "error", err)
		}
		d.Sink.ItemFinished(d.URL, true, path)
		return Finished
	case Cancelled:
		d.finalizeFailed(adapter, "Cancelled")
		return Cancelled
	case Skipped:
		d.finalizeFailed(adapter, "Skipped")
		return Skipped
	default:
		msg := "Download failed after all attempts"
		if err != nil {
			msg = err.Error()
		}
		d.finalizeFailed(adapter, msg)
		return Failed
	}
}

func (d *Driver) finalizeFailed(adapter *fetcher.Adapter, reason string) {
	res := reconciler.Reconcile(d.Log, adapter.Dir(), adapter.Stem(), adapter.Artifacts())
	if d.Log != nil {
		d.Log.Debug("reconciler pass complete", "url", d.URL, "removed", res.Removed, "failed", res.Failed)
	}
	if err := d.History.AddFailed(d.URL, d.title, formatLabel(d.Opts.Kind), d.Opts.Quality, reason, 0); err != nil {
		d.Log.Error("history write failed", "url", d.URL, "error", err)
	}
	d.Sink.ItemFinished(d.URL, false, reason)
}

// attemptLoop runs §4.F step 4, returning the loop-level outcome
// (Finished/Cancelled/Skipped/Failed) and the last error for the Failed
// case.
func (d *Driver) attemptLoop(ctx context.Context, adapter *fetcher.Adapter) (Outcome, error) {
	attempts := maxAttempts(d.Opts.Kind)
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		for d.Paused.Load() {
			time.Sleep(100 * time.Millisecond)
			if d.Cancelled.Load() {
				break
			}
		}
		if d.Cancelled.Load() {
			return Cancelled, nil
		}

		built, err := options.BuildAttempt(d.Opts, attempt)
		if err != nil {
			return Failed, err
		}

		if attempt > 0 {
			d.Sink.Log(fmt.Sprintf("Retrying with fallback format (attempt %d/%d)", attempt+1, attempts))
		}

		if info, err := d.Fetcher.Probe(ctx, d.URL, built); err != nil {
			d.Log.Warn("info probe failed", "url", d.URL, "error", err)
		} else {
			if info.Title != "" {
				d.title = info.Title
			}
			d.Sink.Log(fmt.Sprintf("Resolved: %s (uploader=%s, duration=%s)%s", info.Title, info.Uploader, info.Duration, d.networkAnnotation()))
			if err := checkDiskSpace(d.Opts.Directory, info.SizeBytes); err != nil {
				return Failed, err
			}
		}

		err = d.Fetcher.Download(ctx, d.URL, built, func(ev fetcher.ProgressEvent) error {
			return adapter.OnProgress(ev, d.Sink)
		})
		if err == nil {
			return Finished, nil
		}

		lastErr = err
		switch taxonomy.Classify(err) {
		case taxonomy.Cancelled:
			return Cancelled, err
		case taxonomy.SkipCurrent:
			return Skipped, err
		case taxonomy.FormatNotAvailable, taxonomy.Network, taxonomy.Unknown:
			// spec §4.A: "Network and unknown errors also trigger another
			// attempt if one remains" alongside FormatNotAvailable;
			// everything else classified is fatal for the item (§7).
			if attempt < attempts-1 {
				continue
			}
			return Failed, err
		default:
			return Failed, err
		}
	}
	return Failed, lastErr
}

// networkAnnotation renders the cached network status as a bracketed
// suffix (e.g. " [net: online]"), or "" when no Monitor was wired.
func (d *Driver) networkAnnotation() string {
	if d.NetStatus == nil {
		return ""
	}
	return fmt.Sprintf(" [net: %s]", d.NetStatus.Status())
}

func formatLabel(k options.Kind) string {
	if k == options.Audio {
		return "mp3"
	}
	return "mp4"
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
