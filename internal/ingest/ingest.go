// Package ingest turns proxy candidate strings into stored proxies: it
// parses the [scheme://]host:port grammar, expands scheme-less candidates
// over every known protocol, and wires new proxies to their default checks.
package ingest

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/proxyvet/proxyvet/internal/model"
	"github.com/proxyvet/proxyvet/internal/store"
)

// Endpoint is a parsed proxy candidate. An unspecified protocol means the
// candidate carried no scheme and expands over model.KnownProtocols.
type Endpoint struct {
	Host     string
	Port     int
	Protocol model.Protocol
}

// ParseEndpoint parses a [scheme://]host:port candidate string.
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, errors.New("parse proxy: empty string")
	}

	protocol := model.ProtocolUnspecified
	if scheme, rest, found := strings.Cut(s, "://"); found {
		protocol = model.Protocol(scheme)
		if !protocol.Valid() {
			return Endpoint{}, fmt.Errorf("parse proxy %q: unknown scheme %q", s, scheme)
		}
		s = rest
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse proxy %q: %w", s, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("parse proxy %q: empty host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("parse proxy %q: invalid port %q", s, portStr)
	}

	return Endpoint{Host: host, Port: port, Protocol: protocol}, nil
}

// Expand returns the concrete proxies an endpoint stands for: itself when the
// protocol is known, one proxy per known protocol otherwise.
func (e Endpoint) Expand(recheckSec int64) []model.Proxy {
	if e.Protocol != model.ProtocolUnspecified {
		return []model.Proxy{{Host: e.Host, Port: e.Port, Protocol: e.Protocol, RecheckEverySec: recheckSec}}
	}
	out := make([]model.Proxy, 0, len(model.KnownProtocols))
	for _, protocol := range model.KnownProtocols {
		out = append(out, model.Proxy{Host: e.Host, Port: e.Port, Protocol: protocol, RecheckEverySec: recheckSec})
	}
	return out
}

// Tracker receives newly stored proxies so they are scheduled without
// waiting for the next store re-sync.
type Tracker interface {
	Put(model.Proxy)
}

// Ingestor stores candidates and associates them with the default checks.
type Ingestor struct {
	store    *store.Store
	tracker  Tracker
	defaults []int64
}

// New creates an Ingestor. tracker may be nil; defaults is the set of check
// ids every ingested proxy is associated with.
func New(s *store.Store, tracker Tracker, defaults []int64) *Ingestor {
	return &Ingestor{store: s, tracker: tracker, defaults: defaults}
}

// Add parses, expands, and stores a candidate. Expanded variants that
// already exist are skipped; a fully-specified candidate that already exists
// is an error. Returns the proxies actually inserted.
func (in *Ingestor) Add(candidate string, recheckSec int64) ([]model.Proxy, error) {
	endpoint, err := ParseEndpoint(candidate)
	if err != nil {
		return nil, err
	}

	expanded := endpoint.Protocol == model.ProtocolUnspecified
	var added []model.Proxy
	for _, p := range endpoint.Expand(recheckSec) {
		id, err := in.store.AddProxy(p)
		if errors.Is(err, store.ErrConflict) {
			if expanded {
				continue
			}
			return nil, err
		}
		if err != nil {
			return nil, err
		}
		p.ID = id

		for _, checkID := range in.defaults {
			if err := in.store.Associate(p.ID, checkID); err != nil {
				return nil, fmt.Errorf("associate default check %d: %w", checkID, err)
			}
		}

		if in.tracker != nil {
			in.tracker.Put(p)
		}
		added = append(added, p)
	}

	if expanded && len(added) == 0 {
		return nil, fmt.Errorf("add proxy %s:%d: %w", endpoint.Host, endpoint.Port, store.ErrConflict)
	}
	return added, nil
}
