// Package worker runs probe fan-out: each worker drains an inbox of proxies,
// probes every associated check concurrently under a hard in-flight ceiling,
// and persists results as probes complete.
package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/probe"
	"github.com/proxyvet/proxyvet/internal/store"
)

// State is the worker lifecycle flag.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

const (
	defaultMaxInFlight   = 64
	defaultRecordRetries = 3
	recordRetryDelay     = 100 * time.Millisecond
)

// Config configures a Worker.
type Config struct {
	Store  *store.Store
	Prober *probe.Prober

	// MaxInFlight caps concurrent probes. Defaults to 64.
	MaxInFlight int

	// RecordRetries bounds result-persistence attempts before the failure
	// is treated as fatal. Defaults to 3.
	RecordRetries int
}

// Worker owns one inbox and one probe fan-out. Proxies arrive as values
// through Put; the worker resolves their associated checks itself and probes
// each check in its own goroutine.
type Worker struct {
	store         *store.Store
	prober        *probe.Prober
	maxInFlight   int
	recordRetries int

	mu    sync.Mutex
	inbox []model.Proxy
	state State
	fatal error

	sem    chan struct{}
	notify chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
	wg     sync.WaitGroup

	inFlight  atomic.Int64
	processed atomic.Int64
	startTime time.Time
}

// New creates an idle Worker.
func New(cfg Config) *Worker {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	retries := cfg.RecordRetries
	if retries <= 0 {
		retries = defaultRecordRetries
	}
	return &Worker{
		store:         cfg.Store,
		prober:        cfg.Prober,
		maxInFlight:   maxInFlight,
		recordRetries: retries,
		sem:           make(chan struct{}, maxInFlight),
		notify:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Put enqueues a proxy. Never blocks; the inbox is unbounded.
func (w *Worker) Put(p model.Proxy) {
	w.mu.Lock()
	w.inbox = append(w.inbox, p)
	w.mu.Unlock()

	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Start transitions idle to running and launches the main loop.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return
	}
	w.state = StateRunning
	w.startTime = time.Now()
	w.mu.Unlock()

	go w.run()
}

// Stop transitions running to draining: items already in the inbox and
// in-flight probes finish, then the worker stops. New Put calls after Stop
// still land in the inbox and are drained too.
func (w *Worker) Stop() {
	w.mu.Lock()
	switch w.state {
	case StateRunning:
		w.state = StateDraining
	case StateIdle:
		w.state = StateStopped
		close(w.doneCh)
		w.mu.Unlock()
		return
	default:
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	close(w.stopCh)
}

// WaitStop blocks until the worker reaches the stopped state. It returns the
// first fatal error the worker hit: an unclassifiable probe failure or a
// result write that kept failing after retries. Nil on a clean drain.
func (w *Worker) WaitStop() error {
	<-w.doneCh
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fatal
}

// QueueSize returns the current inbox length.
func (w *Worker) QueueSize() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inbox)
}

// InFlight returns the number of probes currently running.
func (w *Worker) InFlight() int {
	return int(w.inFlight.Load())
}

// Processed returns the number of results persisted so far.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Performance returns processed results per second since Start.
func (w *Worker) Performance() float64 {
	w.mu.Lock()
	start := w.startTime
	w.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(w.processed.Load()) / elapsed
}

// State returns the current lifecycle flag.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) run() {
	for {
		p, ok := w.next()
		if !ok {
			break
		}
		w.dispatch(p)
	}
	w.wg.Wait()

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
	close(w.doneCh)
}

// next pops the oldest inbox item, blocking while the inbox is empty. It
// returns false once the worker is draining and the inbox has run dry.
func (w *Worker) next() (model.Proxy, bool) {
	for {
		w.mu.Lock()
		if len(w.inbox) > 0 {
			p := w.inbox[0]
			w.inbox = w.inbox[1:]
			w.mu.Unlock()
			return p, true
		}
		draining := w.state == StateDraining
		w.mu.Unlock()

		if draining {
			return model.Proxy{}, false
		}

		select {
		case <-w.notify:
		case <-w.stopCh:
		}
	}
}

// dispatch resolves the proxy's checks and launches one probe goroutine per
// check. Each goroutine holds a semaphore slot for its whole lifetime, so
// outbound concurrency never exceeds maxInFlight.
func (w *Worker) dispatch(p model.Proxy) {
	checks, err := w.store.ChecksForProxy(p.ID)
	if err != nil {
		log.Printf("[worker] checks for %s: %v", p.URL(), err)
		return
	}

	for _, check := range checks {
		w.sem <- struct{}{}
		w.wg.Add(1)
		w.inFlight.Add(1)
		go func(check model.CheckDefinition) {
			defer w.wg.Done()
			defer w.inFlight.Add(-1)
			defer func() { <-w.sem }()
			w.probeOne(p, check)
		}(check)
	}
}

func (w *Worker) probeOne(p model.Proxy, check model.CheckDefinition) {
	opts, err := w.store.CheckOptions(check.ID)
	if err != nil {
		w.fail(err)
		return
	}

	result, err := w.prober.Probe(context.Background(), p, check.ID, opts)
	if err != nil {
		w.fail(err)
		return
	}

	if err := w.record(result); err != nil {
		w.fail(err)
		return
	}
	w.processed.Add(1)
}

// record persists a result with bounded retries. Transient write failures
// (the store gate is mutex-serialized, but the disk can still hiccup) back
// off briefly before the next attempt.
func (w *Worker) record(result model.CheckResult) error {
	var lastErr error
	for attempt := 0; attempt < w.recordRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(recordRetryDelay)
		}
		if _, err := w.store.RecordResult(result); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("record result proxy %d check %d after %d attempts: %w",
		result.ProxyID, result.CheckID, w.recordRetries, lastErr)
}

// fail records the first fatal error and starts a drain. Later failures are
// only logged.
func (w *Worker) fail(err error) {
	w.mu.Lock()
	first := w.fatal == nil
	if first {
		w.fatal = err
	}
	w.mu.Unlock()

	if first {
		log.Printf("[worker] fatal: %v", err)
		w.Stop()
	} else {
		log.Printf("[worker] %v", err)
	}
}
