// Package model defines domain structs shared across the persistence layer.
package model

import "fmt"

// Protocol is a proxy transport protocol.
type Protocol string

const (
	ProtocolHTTP   Protocol = "http"
	ProtocolSOCKS4 Protocol = "socks4"
	ProtocolSOCKS5 Protocol = "socks5"
	// ProtocolUnspecified marks a proxy string without a scheme. It never
	// reaches the store: ingestion expands it into one row per candidate
	// protocol.
	ProtocolUnspecified Protocol = ""
)

// KnownProtocols is the expansion set for unspecified-protocol proxies.
var KnownProtocols = []Protocol{ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5}

// Valid reports whether p is a concrete, dialable protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolHTTP, ProtocolSOCKS4, ProtocolSOCKS5:
		return true
	}
	return false
}

// Proxy is a forward proxy endpoint under management.
type Proxy struct {
	ID       int64    `json:"id"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
	// RecheckEverySec is the minimum spacing between probes in seconds.
	// Zero means one-shot: the proxy is probed once and never re-dispatched.
	RecheckEverySec int64 `json:"recheck_every,omitempty"`
	CreatedAtNs     int64 `json:"created_at_ns"`
}

// URL renders the proxy as scheme://host:port. An unspecified protocol
// falls back to http, matching how such proxies are dialed before expansion.
func (p Proxy) URL() string {
	proto := p.Protocol
	if proto == ProtocolUnspecified {
		proto = ProtocolHTTP
	}
	return fmt.Sprintf("%s://%s:%d", proto, p.Host, p.Port)
}

// AssertionKind distinguishes alive assertions from ban markers.
type AssertionKind string

const (
	AssertionAlive AssertionKind = "alive"
	AssertionBan   AssertionKind = "ban"
)

// Assertion is one XPath expression with its kind.
type Assertion struct {
	Expr string        `json:"xpath"`
	Kind AssertionKind `json:"type"`
}

// CheckDefinition is a stored check: the canonical definition JSON plus the
// netloc derived from its URL. Name is optional and unique when present.
type CheckDefinition struct {
	ID          int64  `json:"id"`
	Name        string `json:"name,omitempty"`
	Definition  string `json:"definition"`
	Netloc      string `json:"netloc"`
	CreatedAtNs int64  `json:"created_at_ns"`
}

// ProxyCheck associates a proxy with a check definition.
type ProxyCheck struct {
	ProxyID int64 `json:"proxy_id"`
	CheckID int64 `json:"check_id"`
}

// CheckResult is one probe outcome. Rows are append-only; the latest row by
// DoneAtNs per (proxy, check) pair is the authoritative status.
type CheckResult struct {
	ID       int64 `json:"id"`
	ProxyID  int64 `json:"proxy_id"`
	CheckID  int64 `json:"check_id"`
	IsPassed bool  `json:"is_passed"`
	IsBanned bool  `json:"is_banned"`
	// Status is the HTTP status code, or nil when no response was received.
	Status *int `json:"status"`
	// TimeSec is the wall time of the probe in seconds.
	TimeSec  float64 `json:"time"`
	Error    string  `json:"error,omitempty"`
	DoneAtNs int64   `json:"done_at_ns"`
}

// ProxyRow is the list-proxies projection: the proxy itself, its latest
// liveness, its associated checks, and the netlocs it is banned on.
type ProxyRow struct {
	Proxy
	IsAlive      bool     `json:"is_alive"`
	CheckIDs     []int64  `json:"checks"`
	BannedNetloc []string `json:"banned_at"`
	// MeanTimeSec is the average probe time across all recorded results,
	// or -1 when the proxy has no results yet.
	MeanTimeSec float64 `json:"mean_time"`
}
