package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/proxyvet/proxyvet/internal/assertion"
	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/netutil"
	"github.com/proxyvet/proxyvet/internal/probe"
	"github.com/proxyvet/proxyvet/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addProxyWithChecks(t *testing.T, s *store.Store, numChecks int) model.Proxy {
	t.Helper()
	id, err := s.AddProxy(model.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: model.ProtocolHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	for i := 0; i < numChecks; i++ {
		def := fmt.Sprintf(`{"url": "http://check%d.example.com/"}`, i)
		c, err := s.AddCheck("", def)
		if err != nil {
			t.Fatalf("AddCheck: %v", err)
		}
		if err := s.Associate(id, c.ID); err != nil {
			t.Fatalf("Associate: %v", err)
		}
	}
	p, err := s.GetProxy(id)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}
	return p
}

func okFetcher(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error) {
	return &netutil.Response{Status: 200, Body: []byte("<html><body>ok</body></html>")}, nil
}

func TestWorkerDrainPersistsAllResults(t *testing.T) {
	s := newTestStore(t)
	p := addProxyWithChecks(t, s, 5)

	w := New(Config{
		Store:  s,
		Prober: probe.NewWithFetcher(okFetcher, assertion.Policy{}),
	})
	w.Start()
	w.Put(p)
	w.Stop()
	if err := w.WaitStop(); err != nil {
		t.Fatalf("WaitStop: %v", err)
	}

	if got := w.Processed(); got != 5 {
		t.Errorf("Processed = %d, want 5", got)
	}
	if w.State() != StateStopped {
		t.Errorf("state = %v, want stopped", w.State())
	}

	checks, err := s.ChecksForProxy(p.ID)
	if err != nil {
		t.Fatalf("ChecksForProxy: %v", err)
	}
	for _, c := range checks {
		if _, err := s.LatestResult(p.ID, c.ID); err != nil {
			t.Errorf("no result for check %d: %v", c.ID, err)
		}
	}
}

func TestWorkerRespectsMaxInFlight(t *testing.T) {
	s := newTestStore(t)
	p := addProxyWithChecks(t, s, 8)

	var (
		mu      sync.Mutex
		current int
		peak    int
	)
	fetcher := func(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error) {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return &netutil.Response{Status: 200, Body: []byte("<html></html>")}, nil
	}

	w := New(Config{
		Store:       s,
		Prober:      probe.NewWithFetcher(fetcher, assertion.Policy{}),
		MaxInFlight: 2,
	})
	w.Start()
	w.Put(p)
	w.Stop()
	if err := w.WaitStop(); err != nil {
		t.Fatalf("WaitStop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrency = %d, exceeds ceiling 2", peak)
	}
	if w.Processed() != 8 {
		t.Errorf("Processed = %d, want 8", w.Processed())
	}
}

func TestWorkerProbesWithDecodedDefinition(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddProxy(model.Proxy{Host: "10.0.0.1", Port: 8080, Protocol: model.ProtocolHTTP})
	if err != nil {
		t.Fatalf("AddProxy: %v", err)
	}
	c, err := s.AddCheck("", `{"url": "http://decoded.example.com/", "timeout": 9}`)
	if err != nil {
		t.Fatalf("AddCheck: %v", err)
	}
	if err := s.Associate(id, c.ID); err != nil {
		t.Fatalf("Associate: %v", err)
	}
	p, err := s.GetProxy(id)
	if err != nil {
		t.Fatalf("GetProxy: %v", err)
	}

	var (
		mu        sync.Mutex
		gotURL    string
		remaining time.Duration
	)
	fetcher := func(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error) {
		mu.Lock()
		gotURL = url
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}
		mu.Unlock()
		return &netutil.Response{Status: 200, Body: []byte("<html></html>")}, nil
	}

	w := New(Config{Store: s, Prober: probe.NewWithFetcher(fetcher, assertion.Policy{})})
	w.Start()
	w.Put(p)
	w.Stop()
	if err := w.WaitStop(); err != nil {
		t.Fatalf("WaitStop: %v", err)
	}

	// The stored definition reaches the probe through the store's decoded
	// cache: its URL and its 9s timeout, not the defaults.
	mu.Lock()
	defer mu.Unlock()
	if gotURL != "http://decoded.example.com/" {
		t.Errorf("fetched url = %q, want the definition's url", gotURL)
	}
	if remaining <= 5*time.Second || remaining > 9*time.Second {
		t.Errorf("probe deadline %v away, want close to the 9s definition timeout", remaining)
	}
}

func TestWorkerClassifiedFailureIsARecordedResult(t *testing.T) {
	s := newTestStore(t)
	p := addProxyWithChecks(t, s, 1)

	fetcher := func(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error) {
		return nil, context.DeadlineExceeded
	}

	w := New(Config{
		Store:  s,
		Prober: probe.NewWithFetcher(fetcher, assertion.Policy{}),
	})
	w.Start()
	w.Put(p)
	w.Stop()
	if err := w.WaitStop(); err != nil {
		t.Fatalf("WaitStop: %v", err)
	}

	checks, err := s.ChecksForProxy(p.ID)
	if err != nil {
		t.Fatalf("ChecksForProxy: %v", err)
	}
	r, err := s.LatestResult(p.ID, checks[0].ID)
	if err != nil {
		t.Fatalf("LatestResult: %v", err)
	}
	if r.IsPassed || r.Error != "timeout" {
		t.Errorf("result = %+v, want failed with error timeout", r)
	}
}

func TestWorkerUnclassifiableFailureSurfacesInWaitStop(t *testing.T) {
	s := newTestStore(t)
	p := addProxyWithChecks(t, s, 1)

	boom := errors.New("boom")
	fetcher := func(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error) {
		return nil, boom
	}

	w := New(Config{
		Store:  s,
		Prober: probe.NewWithFetcher(fetcher, assertion.Policy{}),
	})
	w.Start()
	w.Put(p)

	err := w.WaitStop()
	if err == nil {
		t.Fatal("WaitStop should return the probe failure")
	}
	if !errors.Is(err, boom) {
		t.Errorf("WaitStop err = %v, want wrapped boom", err)
	}
	if w.State() != StateStopped {
		t.Errorf("state = %v, want stopped", w.State())
	}
}

func TestWorkerStopWhileIdle(t *testing.T) {
	s := newTestStore(t)
	w := New(Config{Store: s, Prober: probe.NewWithFetcher(okFetcher, assertion.Policy{})})
	w.Stop()
	if err := w.WaitStop(); err != nil {
		t.Fatalf("WaitStop: %v", err)
	}
	if w.State() != StateStopped {
		t.Errorf("state = %v, want stopped", w.State())
	}
}

func TestWorkerQueueSize(t *testing.T) {
	s := newTestStore(t)
	p := addProxyWithChecks(t, s, 1)

	w := New(Config{Store: s, Prober: probe.NewWithFetcher(okFetcher, assertion.Policy{})})
	w.Put(p)
	w.Put(p)
	if got := w.QueueSize(); got != 2 {
		t.Errorf("QueueSize = %d, want 2", got)
	}
}
