package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
	"h12.io/socks"

	"github.com/proxyvet/proxyvet/internal/model"
)

// DialStage identifies where a proxied dial failed.
type DialStage int

const (
	// StageConnect covers the TCP connection to the proxy itself.
	StageConnect DialStage = iota
	// StageNegotiate covers the SOCKS handshake or HTTP CONNECT exchange
	// after the proxy accepted the connection.
	StageNegotiate
)

// ProxyError wraps a proxied-dial failure with the stage it occurred in.
type ProxyError struct {
	Stage DialStage
	Err   error
}

func (e *ProxyError) Error() string {
	stage := "connect"
	if e.Stage == StageNegotiate {
		stage = "negotiate"
	}
	return fmt.Sprintf("proxy %s: %v", stage, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

// connectDialer dials the proxy endpoint and tags failures as StageConnect.
// It satisfies both proxy.Dialer and proxy.ContextDialer so x/net/proxy uses
// the context-aware path.
type connectDialer struct{}

func (connectDialer) Dial(network, addr string) (net.Conn, error) {
	return connectDialer{}.DialContext(context.Background(), network, addr)
}

func (connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, network, addr)
	if err != nil {
		return nil, &ProxyError{Stage: StageConnect, Err: err}
	}
	return conn, nil
}

// DialViaProxy opens a TCP connection to destination through p.
// destination must be in "host:port" form. Failures are tagged with the
// dial stage so callers can distinguish an unreachable proxy from a proxy
// that refused to negotiate.
func DialViaProxy(ctx context.Context, p model.Proxy, destination string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, fmt.Sprintf("%d", p.Port))

	switch p.Protocol {
	case model.ProtocolSOCKS5:
		return dialSOCKS5(ctx, proxyAddr, destination)
	case model.ProtocolSOCKS4:
		return dialSOCKS4(ctx, proxyAddr, destination)
	case model.ProtocolHTTP:
		// The HTTP forward/CONNECT exchange is owned by http.Transport; here
		// only the proxy hop itself is dialed.
		return connectDialer{}.DialContext(ctx, "tcp", proxyAddr)
	default:
		return nil, fmt.Errorf("dial via proxy: unsupported protocol %q", p.Protocol)
	}
}

// dialSOCKS5 dials through a SOCKS5 proxy using x/net/proxy. The forward
// dialer tags TCP-to-proxy failures; anything the SOCKS layer adds on top of
// a successful connection is a negotiation failure.
func dialSOCKS5(ctx context.Context, proxyAddr, destination string) (net.Conn, error) {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, nil, connectDialer{})
	if err != nil {
		return nil, &ProxyError{Stage: StageNegotiate, Err: err}
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer does not support context dialing")
	}
	conn, err := cd.DialContext(ctx, "tcp", destination)
	if err != nil {
		var pe *ProxyError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, &ProxyError{Stage: StageNegotiate, Err: err}
	}
	return conn, nil
}

// dialSOCKS4 dials through a SOCKS4 proxy using h12.io/socks, which carries
// the SOCKS4 handshake x/net/proxy lacks. The dialer is not context-aware;
// the context deadline is translated into its timeout parameter.
func dialSOCKS4(ctx context.Context, proxyAddr, destination string) (net.Conn, error) {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, &ProxyError{Stage: StageConnect, Err: context.DeadlineExceeded}
		}
	}

	dial := socks.Dial(fmt.Sprintf("socks4://%s?timeout=%s", proxyAddr, timeout))

	type dialResult struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan dialResult, 1)
	go func() {
		conn, err := dial("tcp", destination)
		resCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		// Abandon the in-flight dial; its timeout bounds the goroutine.
		go func() {
			if res := <-resCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, &ProxyError{Stage: StageConnect, Err: ctx.Err()}
	case res := <-resCh:
		if res.err != nil {
			// A raw socket error means the proxy was never reached; anything
			// else is the SOCKS4 handshake failing.
			var opErr *net.OpError
			if errors.As(res.err, &opErr) {
				return nil, &ProxyError{Stage: StageConnect, Err: res.err}
			}
			return nil, &ProxyError{Stage: StageNegotiate, Err: res.err}
		}
		return res.conn, nil
	}
}
