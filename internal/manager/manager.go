// Package manager schedules probe dispatch: it tracks when each proxy was
// last probed, decides when it is due again, and hands due proxies to the
// least-loaded worker.
package manager

import (
	"log"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/proxykey"
	"github.com/proxyvet/proxyvet/internal/scanloop"
	"github.com/proxyvet/proxyvet/internal/store"
	"github.com/proxyvet/proxyvet/internal/worker"
)

const (
	DefaultTickInterval = 500 * time.Millisecond
	DefaultSyncInterval = 30 * time.Second

	// syncJitterRange spreads store re-sync ticks so several instances
	// sharing one database do not hit it in lockstep.
	syncJitterRange = 5 * time.Second
)

// ScheduleEntry tracks probe timing for one proxy. A zero LastProbedAt means
// the proxy has never been dispatched and is immediately due. A zero
// NextDueAt after the first dispatch means one-shot: never dispatched again.
type ScheduleEntry struct {
	Proxy        model.Proxy
	LastProbedAt time.Time
	NextDueAt    time.Time
}

// due reports whether the entry should be dispatched at now.
func (e *ScheduleEntry) due(now time.Time) bool {
	if e.LastProbedAt.IsZero() {
		return true
	}
	return !e.NextDueAt.IsZero() && !e.NextDueAt.After(now)
}

// Config configures a Manager.
type Config struct {
	Store   *store.Store
	Workers []*worker.Worker

	// TickInterval is the dispatch cadence. Defaults to 500ms.
	TickInterval time.Duration

	// SyncInterval is the store re-sync cadence. Defaults to 30s.
	SyncInterval time.Duration
}

// Manager owns the schedule map. Workers never touch it; they receive proxy
// values through their inboxes. Only the tick loop mutates entry timestamps,
// so entries need no locking of their own.
type Manager struct {
	store    *store.Store
	workers  []*worker.Worker
	schedule *xsync.Map[proxykey.Key, *ScheduleEntry]

	tickInterval time.Duration
	syncInterval time.Duration

	mu      sync.Mutex
	started bool
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an idle Manager.
func New(cfg Config) *Manager {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	syncEvery := cfg.SyncInterval
	if syncEvery <= 0 {
		syncEvery = DefaultSyncInterval
	}
	return &Manager{
		store:        cfg.Store,
		workers:      cfg.Workers,
		schedule:     xsync.NewMap[proxykey.Key, *ScheduleEntry](),
		tickInterval: tick,
		syncInterval: syncEvery,
		stopCh:       make(chan struct{}),
	}
}

// Put starts tracking a proxy. Already-tracked proxies keep their schedule;
// re-ingestion never resets probe timing.
func (m *Manager) Put(p model.Proxy) {
	m.schedule.LoadOrStore(proxykey.ForProxy(p), &ScheduleEntry{Proxy: p})
}

// Tracked returns the number of schedule entries.
func (m *Manager) Tracked() int {
	return m.schedule.Size()
}

// Start seeds the schedule from the store and launches the tick and sync
// loops.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.sync()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		scanloop.RunEvery(m.stopCh, m.tickInterval, m.tick)
	}()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		scanloop.Run(m.stopCh, m.syncInterval, syncJitterRange, m.sync)
	}()
}

// Stop halts dispatch. In-flight worker probes are the workers' concern.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()
	close(m.stopCh)
}

// WaitStop blocks until both loops have exited.
func (m *Manager) WaitStop() {
	m.wg.Wait()
}

// tick dispatches every due entry to the least-loaded running worker. With
// no running worker the entry stays due and is retried next tick.
func (m *Manager) tick() {
	now := time.Now()
	m.schedule.Range(func(key proxykey.Key, entry *ScheduleEntry) bool {
		select {
		case <-m.stopCh:
			return false
		default:
		}

		if !entry.due(now) {
			return true
		}

		target := m.pickWorker()
		if target == nil {
			return true
		}

		target.Put(entry.Proxy)
		entry.LastProbedAt = now
		if entry.Proxy.RecheckEverySec > 0 {
			entry.NextDueAt = now.Add(time.Duration(entry.Proxy.RecheckEverySec) * time.Second)
		} else {
			entry.NextDueAt = time.Time{}
		}
		return true
	})
}

// pickWorker returns the running worker with the smallest inbox.
func (m *Manager) pickWorker() *worker.Worker {
	var (
		best     *worker.Worker
		bestSize int
	)
	for _, w := range m.workers {
		if w.State() != worker.StateRunning {
			continue
		}
		size := w.QueueSize()
		if best == nil || size < bestSize {
			best = w
			bestSize = size
		}
	}
	return best
}

// sync pulls all proxies from the store and tracks any not yet scheduled.
// Store removals are not evicted here; a stale entry dispatches to a worker
// that finds no associations and does nothing.
func (m *Manager) sync() {
	proxies, err := m.store.AllProxies()
	if err != nil {
		log.Printf("[manager] sync: %v", err)
		return
	}
	for _, p := range proxies {
		m.Put(p)
	}
}
