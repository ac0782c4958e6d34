package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/proxyvet/proxyvet/internal/netutil"
)

// ErrorKind is the stable short string recorded in CheckResult.Error when a
// probe fails before producing a response.
type ErrorKind string

const (
	// ErrProxyConnect: the TCP connection to the proxy itself failed.
	ErrProxyConnect ErrorKind = "proxy_connect"
	// ErrProxyProtocol: SOCKS negotiation failed or HTTP CONNECT was refused.
	ErrProxyProtocol ErrorKind = "proxy_protocol"
	// ErrTimeout: the overall probe deadline elapsed.
	ErrTimeout ErrorKind = "timeout"
	// ErrServerDisconnect: the upstream closed the connection mid-response.
	ErrServerDisconnect ErrorKind = "server_disconnect"
	// ErrBadResponse: the upstream sent something that is not HTTP.
	ErrBadResponse ErrorKind = "bad_response"
	// ErrInvalidURL: the check URL was rejected by the client.
	ErrInvalidURL ErrorKind = "invalid_url"
	// ErrPayload: the body read failed after headers were received.
	ErrPayload ErrorKind = "payload"
	// ErrOS: a low-level socket error outside the proxy hop.
	ErrOS ErrorKind = "os"
)

// classifyError maps a transport failure onto the probe error taxonomy.
// Returns ok=false for errors outside the taxonomy; those are bugs and the
// caller must propagate them instead of recording a failed result.
func classifyError(err error) (ErrorKind, bool) {
	if err == nil {
		return "", false
	}

	// Deadline first: a timeout may surface wrapped in any of the layers
	// below and always means the probe budget ran out.
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout, true
	}

	var proxyErr *netutil.ProxyError
	if errors.As(err, &proxyErr) {
		if proxyErr.Stage == netutil.StageConnect {
			return ErrProxyConnect, true
		}
		return ErrProxyProtocol, true
	}

	var bodyErr *netutil.BodyReadError
	if errors.As(err, &bodyErr) {
		return ErrPayload, true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		// net/http prefixes failures of the CONNECT exchange with
		// "proxyconnect"; a non-2xx CONNECT answer has no typed error at all.
		msg := urlErr.Err.Error()
		if strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "CONNECT") {
			return ErrProxyProtocol, true
		}
		if urlErr.Op == "parse" {
			return ErrInvalidURL, true
		}
	}
	if strings.Contains(err.Error(), "unsupported protocol scheme") ||
		strings.Contains(err.Error(), "missing protocol scheme") {
		return ErrInvalidURL, true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrServerDisconnect, true
	}
	if strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") {
		return ErrServerDisconnect, true
	}

	if strings.Contains(err.Error(), "malformed HTTP") ||
		strings.Contains(err.Error(), "invalid header") ||
		strings.Contains(err.Error(), "bad Content-Length") {
		return ErrBadResponse, true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrOS, true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return ErrOS, true
	}

	return "", false
}
