// Package scheduler implements the bounded-concurrency batch driver: a
// shared FIFO queue, N worker goroutines, the pause/skip/cancel control
// plane, and the event fan-out (spec §4.G, §5).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ytdle/internal/fetcher"
	"ytdle/internal/history"
	"ytdle/internal/item"
	"ytdle/internal/network"
	"ytdle/internal/options"
)

// networkCheckTimeout bounds how long checkNetwork() blocks the caller
// (spec §4.B probes use short timeouts; the Scheduler is no exception).
const networkCheckTimeout = 3 * time.Second

// EventSink is the full event interface the Scheduler fans out to (spec
// §9 "explicit event interface" — no reflection, no global bus). One
// struct of callbacks, or any type implementing this interface, may
// serve as the sink.
type EventSink interface {
	Progress(pct int)
	Status(s string)
	Log(s string)
	Error(s string)
	ItemStarted(url string)
	ItemFinished(url string, success bool, info string)
	AllFinished(successCount, failCount int)
}

// safeSink wraps a caller-supplied EventSink so a panic inside any
// callback is caught and logged rather than crashing the Scheduler (spec
// §4.G "Callback-side exceptions must not crash the Scheduler").
type safeSink struct {
	inner EventSink
	log   *slog.Logger
}

func (s *safeSink) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.Error("event callback panicked", "callback", name, "panic", r)
			}
		}
	}()
	fn()
}

func (s *safeSink) Progress(pct int)  { s.guard("Progress", func() { s.inner.Progress(pct) }) }
func (s *safeSink) Status(v string)   { s.guard("Status", func() { s.inner.Status(v) }) }
func (s *safeSink) Log(v string)      { s.guard("Log", func() { s.inner.Log(v) }) }
func (s *safeSink) Error(v string)    { s.guard("Error", func() { s.inner.Error(v) }) }
func (s *safeSink) ItemStarted(u string) {
	s.guard("ItemStarted", func() { s.inner.ItemStarted(u) })
}
func (s *safeSink) ItemFinished(u string, ok bool, info string) {
	s.guard("ItemFinished", func() { s.inner.ItemFinished(u, ok, info) })
}
func (s *safeSink) AllFinished(success, fail int) {
	s.guard("AllFinished", func() { s.inner.AllFinished(success, fail) })
}

// Scheduler is one SchedulerState (spec §3): a batch of URLs driven by N
// parallel workers.
type Scheduler struct {
	ID            string
	urls          []string
	opts          options.DownloadOptions
	history       *history.Store
	fetcher       fetcher.Fetcher
	log           *slog.Logger
	sink          *safeSink
	maxConcurrent int
	netMonitor    *network.Monitor

	cancelled atomic.Bool
	paused    atomic.Bool
	skip      atomic.Bool

	hostLimiters sync.Map // host -> *rate.Limiter
}

// New constructs a Scheduler for one batch. maxConcurrent <= 0 defaults to
// 3 (spec §4.G).
func New(urls []string, opts options.DownloadOptions, hist *history.Store, f fetcher.Fetcher, log *slog.Logger, sink EventSink, maxConcurrent int) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		ID:            uuid.NewString(),
		urls:          urls,
		opts:          opts,
		history:       hist,
		fetcher:       f,
		log:           log,
		sink:          &safeSink{inner: sink, log: log},
		maxConcurrent: maxConcurrent,
		netMonitor:    network.NewMonitor(),
	}
}

// Cancel sets the monotonic cancel latch (spec §5: "once set, it stays
// set for the life of the batch").
func (s *Scheduler) Cancel() { s.cancelled.Store(true) }

// Pause sets the cooperative pause flag.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume clears the pause flag.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// SkipCurrent abandons whichever item(s) are currently in flight.
func (s *Scheduler) SkipCurrent() { s.skip.Store(true) }

// IsPaused reports the current pause state.
func (s *Scheduler) IsPaused() bool { return s.paused.Load() }

// CheckNetwork re-probes reachability and updates the cached status (spec
// §4.G "checkNetwork()"). Safe to call concurrently with Run.
func (s *Scheduler) CheckNetwork() network.Status {
	return s.netMonitor.Check(networkCheckTimeout)
}

// NetworkStatus returns the last cached reachability result without
// re-probing (spec §4.G "networkStatus()").
func (s *Scheduler) NetworkStatus() network.Status {
	return s.netMonitor.Status()
}

// limiterFor returns the per-host courtesy token bucket, creating one on
// first use (mirrors internal/core/bandwidth.go's golang.org/x/time/rate
// usage, scoped per host instead of globally).
func (s *Scheduler) limiterFor(host string) *rate.Limiter {
	v, _ := s.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(4), 1))
	return v.(*rate.Limiter)
}

// Run processes every URL, dispatching up to maxConcurrent Item Drivers
// concurrently, and returns the final success/fail counts (spec §4.G,
// §8 invariant 1: counts always sum to len(urls) on a normal finish).
func (s *Scheduler) Run(ctx context.Context) (successCount, failCount int) {
	if s.log != nil {
		if v, err := s.fetcher.Version(ctx); err == nil {
			s.log.Info("fetcher version", "version", v)
		}
	}
	go s.CheckNetwork() // seed the cached status without blocking batch start

	if len(s.urls) == 0 {
		s.sink.AllFinished(0, 0)
		return 0, 0
	}

	queue := make(chan string, len(s.urls))
	for _, u := range s.urls {
		queue <- u
	}
	close(queue)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, queue, &mu, &successCount, &failCount)
		}()
	}
	wg.Wait()

	s.sink.AllFinished(successCount, failCount)
	return successCount, failCount
}

func (s *Scheduler) worker(ctx context.Context, queue <-chan string, mu *sync.Mutex, successCount, failCount *int) {
	for url := range queue {
		if s.cancelled.Load() {
			continue // drain without starting new items (spec §8 invariant 5)
		}
		for s.paused.Load() {
			time.Sleep(100 * time.Millisecond)
			if s.cancelled.Load() {
				break
			}
		}
		if s.cancelled.Load() {
			continue
		}

		s.skip.Store(false) // skip is per-Driver; clear before each new item

		if host := hostOf(url); host != "" {
			_ = s.limiterFor(host).Wait(ctx)
		}

		d := &item.Driver{
			URL:       url,
			Opts:      s.opts,
			Fetcher:   s.fetcher,
			History:   s.history,
			Log:       s.log,
			Sink:      s.sink,
			Cancelled: &s.cancelled,
			Skip:      &s.skip,
			Paused:    &s.paused,
			NetStatus: s.netMonitor,
		}

		outcome := func() (o item.Outcome) {
			defer func() {
				if r := recover(); r != nil {
					if s.log != nil {
						s.log.Error("item driver panicked", "url", url, "panic", r)
					}
					o = item.Failed
				}
			}()
			return d.Run(ctx)
		}()

		mu.Lock()
		if outcome == item.Finished {
			*successCount++
		} else {
			*failCount++
		}
		mu.Unlock()

		if outcome == item.Cancelled {
			s.cancelled.Store(true)
		}
	}
}
