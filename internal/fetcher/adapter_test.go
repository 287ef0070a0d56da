package fetcher

import (
	"sync/atomic"
	"testing"

	"ytdle/internal/taxonomy"
)

type fakeSink struct {
	progress []int
	statuses []string
	logs     []string
}

func (f *fakeSink) Progress(pct int)  { f.progress = append(f.progress, pct) }
func (f *fakeSink) Status(s string)   { f.statuses = append(f.statuses, s) }
func (f *fakeSink) Log(s string)      { f.logs = append(f.logs, s) }

func newSignals() Signals {
	return Signals{Cancelled: &atomic.Bool{}, Skip: &atomic.Bool{}, Paused: &atomic.Bool{}}
}

func TestOnProgressLogsEveryTenPoints(t *testing.T) {
	a := NewAdapter(newSignals())
	sink := &fakeSink{}

	for _, downloaded := range []int64{5, 15, 25, 35} {
		ev := ProgressEvent{Status: "downloading", DownloadedBytes: downloaded, TotalBytes: 100}
		if err := a.OnProgress(ev, sink); err != nil {
			t.Fatalf("OnProgress: %v", err)
		}
	}

	if len(sink.logs) != 4 {
		t.Fatalf("expected a log line at every 10%% crossing starting from -10, got %d: %v", len(sink.logs), sink.logs)
	}
}

func TestOnProgressCancelRaisesSentinel(t *testing.T) {
	signals := newSignals()
	signals.Cancelled.Store(true)
	a := NewAdapter(signals)

	err := a.OnProgress(ProgressEvent{Status: "downloading"}, &fakeSink{})
	if _, ok := err.(taxonomy.CancelledError); !ok {
		t.Fatalf("expected CancelledError, got %v", err)
	}
}

func TestOnProgressSkipRaisesSentinel(t *testing.T) {
	signals := newSignals()
	signals.Skip.Store(true)
	a := NewAdapter(signals)

	err := a.OnProgress(ProgressEvent{Status: "downloading"}, &fakeSink{})
	if _, ok := err.(taxonomy.SkipCurrentError); !ok {
		t.Fatalf("expected SkipCurrentError, got %v", err)
	}
}

func TestOnProgressTracksArtifactsAndStem(t *testing.T) {
	a := NewAdapter(newSignals())
	sink := &fakeSink{}

	ev := ProgressEvent{Status: "downloading", DownloadedBytes: 1, TotalBytes: 100, Filename: "/out/video.mp4.part"}
	if err := a.OnProgress(ev, sink); err != nil {
		t.Fatalf("OnProgress: %v", err)
	}

	if a.Dir() != "/out" {
		t.Fatalf("expected dir /out, got %q", a.Dir())
	}
	if a.Stem() != "video.mp4" {
		t.Fatalf("expected stem video.mp4, got %q", a.Stem())
	}
	if _, ok := a.Artifacts()["/out/video.mp4.part"]; !ok {
		t.Fatal("expected artifact tracked")
	}
}

func TestOnProgressFinishedPromotesOutputPath(t *testing.T) {
	a := NewAdapter(newSignals())
	sink := &fakeSink{}

	ev := ProgressEvent{Status: "finished", Filename: "/out/video.mp4"}
	if err := a.OnProgress(ev, sink); err != nil {
		t.Fatalf("OnProgress: %v", err)
	}
	if a.OutputPath() != "/out/video.mp4" {
		t.Fatalf("expected output path promoted, got %q", a.OutputPath())
	}
	if sink.progress[len(sink.progress)-1] != 100 {
		t.Fatalf("expected final progress 100, got %v", sink.progress)
	}
}

func TestResetClearsState(t *testing.T) {
	a := NewAdapter(newSignals())
	_ = a.OnProgress(ProgressEvent{Status: "finished", Filename: "/out/a.mp4"}, &fakeSink{})
	a.Reset()
	if a.OutputPath() != "" || a.Dir() != "" || a.Stem() != "" {
		t.Fatalf("expected Reset to clear all per-item state")
	}
}
