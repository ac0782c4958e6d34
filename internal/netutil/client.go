package netutil

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/proxyvet/proxyvet/internal/model"
)

// Response is the trimmed-down result of a proxied GET: the status line and
// the fully-read body.
type Response struct {
	Status int
	Body   []byte
}

// BodyReadError marks a failure that happened after response headers were
// received, while draining the body.
type BodyReadError struct {
	Err error
}

func (e *BodyReadError) Error() string { return fmt.Sprintf("read body: %v", e.Err) }
func (e *BodyReadError) Unwrap() error { return e.Err }

// HTTPGetViaProxy executes an HTTP GET for rawURL through proxy p and reads
// the body in full. Timeout and cancellation are controlled solely by ctx:
// one top-level deadline covers DNS, connect, negotiation, TLS, request, and
// body read.
//
// TLS verification is disabled; probe targets are arbitrary and frequently
// hostile, and certificate identity is not what a probe measures.
func HTTPGetViaProxy(ctx context.Context, p model.Proxy, rawURL string, headers http.Header) (*Response, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, fmt.Errorf("proxied get: %w", err)
	}

	transport := &http.Transport{
		// For SOCKS protocols addr is the target; for HTTP proxies the Proxy
		// function below makes addr the proxy hop and the transport handles
		// the forward/CONNECT exchange on top of the raw connection.
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return DialViaProxy(ctx, p, addr)
		},
		TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
		DisableKeepAlives: true,
	}
	if p.Protocol == model.ProtocolHTTP {
		proxyURL, err := url.Parse(p.URL())
		if err != nil {
			return nil, fmt.Errorf("proxied get: parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		// Redirects are a signal, not something to chase: the expected-status
		// sets of check definitions list 301/302 explicitly when wanted.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("proxied get: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// net/http skips transparent decompression when the request carried its
	// own Accept-Encoding; the body must reach the caller decoded either way.
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &BodyReadError{Err: err}
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &BodyReadError{Err: err}
	}

	return &Response{Status: resp.StatusCode, Body: body}, nil
}
