package control

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ytdle/internal/history"
)

type fakeBatch struct {
	paused    bool
	cancelled bool
	resumed   bool
	skipped   bool
}

func (b *fakeBatch) Cancel()          { b.cancelled = true }
func (b *fakeBatch) Pause()           { b.paused = true }
func (b *fakeBatch) Resume()          { b.resumed = true; b.paused = false }
func (b *fakeBatch) SkipCurrent()     { b.skipped = true }
func (b *fakeBatch) IsPaused() bool   { return b.paused }

func newTestHistory(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "h.db"), "")
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// loopbackRequest builds a request whose RemoteAddr satisfies
// localhostOnly, since httptest.NewRequest leaves it unset by default.
func loopbackRequest(method, target string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	r.RemoteAddr = "127.0.0.1:54321"
	return r
}

func TestControlPauseResumeCancelSkip(t *testing.T) {
	batch := &fakeBatch{}
	srv := New(batch, newTestHistory(t))

	for _, tc := range []struct {
		path  string
		check func()
	}{
		{"/v1/pause", func() {
			if !batch.paused {
				t.Fatal("expected Pause() to have been called")
			}
		}},
		{"/v1/resume", func() {
			if batch.paused || !batch.resumed {
				t.Fatal("expected Resume() to have been called")
			}
		}},
		{"/v1/skip", func() {
			if !batch.skipped {
				t.Fatal("expected SkipCurrent() to have been called")
			}
		}},
		{"/v1/cancel", func() {
			if !batch.cancelled {
				t.Fatal("expected Cancel() to have been called")
			}
		}},
	} {
		rec := httptest.NewRecorder()
		srv.router.ServeHTTP(rec, loopbackRequest(http.MethodPost, tc.path))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, rec.Code)
		}
		tc.check()
	}
}

func TestControlStatusReportsPauseState(t *testing.T) {
	batch := &fakeBatch{paused: true}
	srv := New(batch, newTestHistory(t))

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, loopbackRequest(http.MethodGet, "/v1/status"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"paused":true`) {
		t.Fatalf("expected paused:true in body, got %s", body)
	}
}

func TestControlHistoryReturnsRecords(t *testing.T) {
	hist := newTestHistory(t)
	if err := hist.AddCompleted("https://example/a", "A", "mp3", "192k", "/out/a.mp3"); err != nil {
		t.Fatalf("AddCompleted: %v", err)
	}
	srv := New(&fakeBatch{}, hist)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, loopbackRequest(http.MethodGet, "/v1/history"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "https://example/a") {
		t.Fatalf("expected history record in body, got %s", body)
	}
}

func TestControlRejectsNonLoopbackRemoteAddr(t *testing.T) {
	srv := New(&fakeBatch{}, newTestHistory(t))

	r := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	r.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback remote addr, got %d", rec.Code)
	}
}
