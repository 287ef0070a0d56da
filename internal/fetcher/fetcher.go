// Package fetcher defines the Fetcher capability boundary (spec §6) and
// the Adapter that translates its raw progress callbacks into the
// Scheduler's event model (spec §4.E).
package fetcher

import (
	"context"
	"time"

	"ytdle/internal/options"
)

// Info is the result of a non-downloading metadata probe.
type Info struct {
	Title    string
	Uploader string
	Duration time.Duration
	// SizeBytes is the Fetcher's best estimate of the final output size,
	// 0 if unknown. Used by the Item Driver right after the info-probe
	// to refuse a download the disk can't hold.
	SizeBytes int64
}

// ProgressEvent is one raw progress callback from the Fetcher.
type ProgressEvent struct {
	// Status is "downloading" or "finished".
	Status              string
	DownloadedBytes     int64
	TotalBytes          int64
	EstimatedTotalBytes int64
	SpeedBytesPerSec    float64
	Filename            string
	TmpFilename         string
}

// ProgressFunc is invoked for every raw progress event. Returning an error
// (a taxonomy.CancelledError or taxonomy.SkipCurrentError) is the only
// sanctioned way to interrupt a running Fetcher invocation (spec §9); the
// Fetcher implementation must stop the underlying download promptly on
// any such error.
type ProgressFunc func(ProgressEvent) error

// Fetcher is the opaque, external capability that resolves a URL and
// writes media bytes (spec §1, §6). The core engine depends only on this
// interface, never on a concrete implementation.
type Fetcher interface {
	// Version reports the Fetcher's own version string, logged once per
	// batch (see SPEC_FULL.md "Supplemented features").
	Version(ctx context.Context) (string, error)
	// Probe extracts metadata without writing bytes.
	Probe(ctx context.Context, url string, attempt options.Attempt) (Info, error)
	// Download writes media bytes to disk, invoking onProgress for every
	// raw progress event.
	Download(ctx context.Context, url string, attempt options.Attempt, onProgress ProgressFunc) error
}
