package item

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"ytdle/internal/fetcher"
	"ytdle/internal/history"
	"ytdle/internal/options"
	"ytdle/internal/taxonomy"
)

// scriptedFetcher returns the configured error (or nil) for each attempt
// index in order; once the script is exhausted it succeeds.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []error
	calls   int
	onAttempt func(attempt int, a options.Attempt)
}

func (f *scriptedFetcher) Version(context.Context) (string, error) { return "fake", nil }

func (f *scriptedFetcher) Probe(ctx context.Context, url string, a options.Attempt) (fetcher.Info, error) {
	return fetcher.Info{Title: "t"}, nil
}

func (f *scriptedFetcher) Download(ctx context.Context, url string, a options.Attempt, onProgress fetcher.ProgressFunc) error {
	f.mu.Lock()
	attempt := f.calls
	f.calls++
	f.mu.Unlock()

	if f.onAttempt != nil {
		f.onAttempt(attempt, a)
	}

	var err error
	if attempt < len(f.script) {
		err = f.script[attempt]
	}
	if err != nil {
		return err
	}
	if cbErr := onProgress(fetcher.ProgressEvent{Status: "downloading", DownloadedBytes: 50, TotalBytes: 100}); cbErr != nil {
		return cbErr
	}
	out := filepath.Join("/tmp", "driver-test-out.mp4")
	return onProgress(fetcher.ProgressEvent{Status: "finished", Filename: out})
}

type recordingSink struct {
	mu       sync.Mutex
	started  []string
	finished []string
	logs     []string
	ok       map[string]bool
}

func newRecordingSink() *recordingSink { return &recordingSink{ok: map[string]bool{}} }

func (s *recordingSink) Progress(int)  {}
func (s *recordingSink) Status(string) {}
func (s *recordingSink) Log(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, v)
}
func (s *recordingSink) Error(string) {}
func (s *recordingSink) ItemStarted(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, url)
}
func (s *recordingSink) ItemFinished(url string, success bool, info string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, url)
	s.ok[url] = success
}

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "h.db"), "")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newDriver(t *testing.T, f fetcher.Fetcher, opts options.DownloadOptions, sink EventSink) *Driver {
	t.Helper()
	return &Driver{
		URL:       "https://example/v",
		Opts:      opts,
		Fetcher:   f,
		History:   newTestHistory(t),
		Log:       slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})),
		Sink:      sink,
		Cancelled: &atomic.Bool{},
		Skip:      &atomic.Bool{},
		Paused:    &atomic.Bool{},
	}
}

func TestDriverSucceedsFirstAttempt(t *testing.T) {
	opts := options.DownloadOptions{Kind: options.Audio, Directory: t.TempDir(), Quality: "192k"}
	sink := newRecordingSink()
	d := newDriver(t, &scriptedFetcher{}, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Finished {
		t.Fatalf("expected Finished, got %v", outcome)
	}
	if len(sink.started) != 1 || len(sink.finished) != 1 || !sink.ok[d.URL] {
		t.Fatalf("unexpected sink state: %+v", sink)
	}

	records, err := d.History.GetAll(10)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(records) != 1 || records[0].Title != "t" {
		t.Fatalf("expected the info-probe's title threaded into the history record, got %+v", records)
	}
}

func TestDriverFormatNotAvailableEscalatesThroughThreeStrategies(t *testing.T) {
	var seenFormats []string
	f := &scriptedFetcher{
		script: []error{
			&taxonomy.ClassifiedError{Kind: taxonomy.FormatNotAvailable, Err: errors.New("requested format not available")},
			&taxonomy.ClassifiedError{Kind: taxonomy.FormatNotAvailable, Err: errors.New("requested format not available")},
		},
		onAttempt: func(attempt int, a options.Attempt) { seenFormats = append(seenFormats, a.Format) },
	}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "1080p"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Finished {
		t.Fatalf("expected Finished after fallback, got %v", outcome)
	}
	if len(seenFormats) != 3 {
		t.Fatalf("expected 3 attempts (spec §8 invariant 4), got %d: %v", len(seenFormats), seenFormats)
	}
	// attempt 0: height-capped bv*+ba; attempt 1: mp4-restricted best; attempt 2: bare best.
	if seenFormats[2] != "best" {
		t.Fatalf("expected final attempt format 'best', got %q", seenFormats[2])
	}
	foundRetryLog := false
	for _, l := range sink.logs {
		if l == "Retrying with fallback format (attempt 2/3)" {
			foundRetryLog = true
		}
	}
	if !foundRetryLog {
		t.Fatalf("expected a fallback retry log line, got %v", sink.logs)
	}
}

func TestDriverFormatNotAvailableExhaustedFailsAfterMaxAttempts(t *testing.T) {
	formatErr := &taxonomy.ClassifiedError{Kind: taxonomy.FormatNotAvailable, Err: errors.New("no video formats found")}
	f := &scriptedFetcher{script: []error{formatErr, formatErr, formatErr}}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "best"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Failed {
		t.Fatalf("expected Failed once all 3 attempts exhaust FormatNotAvailable, got %v", outcome)
	}
	if ok := sink.ok[d.URL]; ok {
		t.Fatalf("expected itemFinished success=false")
	}
}

func TestDriverNetworkErrorConsumesARetry(t *testing.T) {
	netErr := &taxonomy.ClassifiedError{Kind: taxonomy.Network, Err: errors.New("connection timed out")}
	f := &scriptedFetcher{script: []error{netErr}}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "best"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Finished {
		t.Fatalf("expected a transient Network error to consume a retry and then succeed, got %v", outcome)
	}
	if f.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", f.calls)
	}
}

func TestDriverCancelledPropagates(t *testing.T) {
	cancelErr := taxonomy.CancelledError{}
	f := &scriptedFetcher{script: []error{cancelErr}}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "best"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Cancelled {
		t.Fatalf("expected Cancelled, got %v", outcome)
	}
	if sink.ok[d.URL] {
		t.Fatalf("expected itemFinished success=false for cancellation")
	}
}

func TestDriverSkippedFinalizesOnlyCurrentItem(t *testing.T) {
	skipErr := taxonomy.SkipCurrentError{}
	f := &scriptedFetcher{script: []error{skipErr}}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "best"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Skipped {
		t.Fatalf("expected Skipped, got %v", outcome)
	}
}

func TestDriverFatalKindFailsImmediatelyWithoutRetrying(t *testing.T) {
	authErr := &taxonomy.ClassifiedError{Kind: taxonomy.Authentication, Err: errors.New("login required")}
	f := &scriptedFetcher{script: []error{authErr}}
	opts := options.DownloadOptions{Kind: options.Video, Directory: t.TempDir(), Quality: "best"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Failed {
		t.Fatalf("expected Failed, got %v", outcome)
	}
	if f.calls != 1 {
		t.Fatalf("expected no retry for a fatal kind, got %d calls", f.calls)
	}
}

func TestDriverAudioHasOnlyOneAttempt(t *testing.T) {
	formatErr := &taxonomy.ClassifiedError{Kind: taxonomy.FormatNotAvailable, Err: errors.New("requested format not available")}
	f := &scriptedFetcher{script: []error{formatErr}}
	opts := options.DownloadOptions{Kind: options.Audio, Directory: t.TempDir(), Quality: "192k"}
	sink := newRecordingSink()
	d := newDriver(t, f, opts, sink)

	outcome := d.Run(context.Background())
	if outcome != Failed {
		t.Fatalf("expected Failed (audio has maxAttempts=1, no fallback to escalate into), got %v", outcome)
	}
	if f.calls != 1 {
		t.Fatalf("expected exactly 1 attempt for audio, got %d", f.calls)
	}
}
