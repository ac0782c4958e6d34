// Package probe executes single (proxy, check) probes: one HTTP GET through
// the proxy under a hard deadline, status and assertion evaluation, and the
// mapping of transport failures onto the stable error taxonomy.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/proxyvet/proxyvet/internal/assertion"
	"github.com/proxyvet/proxyvet/internal/checkdef"
	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/netutil"
)

// Fetcher executes an HTTP GET for url through the given proxy.
// Injectable for testing.
type Fetcher func(ctx context.Context, p model.Proxy, url string, headers http.Header) (*netutil.Response, error)

// Prober runs probes. It is pure with respect to the store: callers persist
// the returned results.
type Prober struct {
	fetcher Fetcher
	policy  assertion.Policy
}

// New creates a Prober with the default proxied-HTTP fetcher.
func New(policy assertion.Policy) *Prober {
	return &Prober{fetcher: netutil.HTTPGetViaProxy, policy: policy}
}

// NewWithFetcher creates a Prober with a custom fetcher.
func NewWithFetcher(fetcher Fetcher, policy assertion.Policy) *Prober {
	return &Prober{fetcher: fetcher, policy: policy}
}

// Probe fetches opts.URL through the proxy and produces one CheckResult for
// checkID. Callers hand in the decoded definition; the store caches those, so
// hot probes never re-parse JSON. The deadline opts.Timeout() covers the
// whole exchange: dial, negotiation, TLS, request, and full body read.
//
// Failures inside the error taxonomy become a failed result with the kind
// string in Error. Anything outside the taxonomy is a bug in the transport
// stack and is returned as an error instead.
func (pr *Prober) Probe(ctx context.Context, p model.Proxy, checkID int64, opts checkdef.Options) (model.CheckResult, error) {
	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, opts.Timeout())
	defer cancel()

	resp, fetchErr := pr.fetcher(probeCtx, p, opts.URL, randomSession())
	elapsed := time.Since(start)

	result := model.CheckResult{
		ProxyID:  p.ID,
		CheckID:  checkID,
		TimeSec:  elapsed.Seconds(),
		DoneAtNs: time.Now().UnixNano(),
	}

	if fetchErr != nil {
		kind, ok := classifyError(fetchErr)
		if !ok {
			return model.CheckResult{}, fmt.Errorf("probe %s on %s: %w", p.URL(), opts.URL, fetchErr)
		}
		result.Error = string(kind)
		return result, nil
	}

	status := resp.Status
	result.Status = &status

	eval := assertion.Evaluate(resp.Body, opts.XPath, pr.policy)
	result.IsPassed = opts.StatusAccepts(status) && eval.IsPassed
	result.IsBanned = eval.IsBanned
	return result, nil
}
