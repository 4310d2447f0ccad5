// Package transport provides the HTTP transport used to reach the commerce backend.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// BROWSER FINGERPRINT TRANSPORT
// =============================================================================
//
// Storefront backends often sit behind CDNs that rate-limit clients whose TLS
// handshake does not look like a browser. Go's own handshake is easy to spot.
//
// This transport dials with uTLS using Chrome's ClientHello and keeps full
// HTTP/2 support:
//
//   1. The first HTTPS request to a host probes it and records the ALPN
//      protocol the server picks (h2 or http/1.1).
//   2. Later requests go straight to the matching transport.
//
// A request is sent once. It is never replayed on the other protocol.
//
// =============================================================================

// Options configures New.
type Options struct {
	// Timeout bounds dialing and the TLS handshake.
	Timeout time.Duration
	// InsecureSkipVerify disables certificate checks (local backends only).
	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// Transport is an http.RoundTripper presenting Chrome's TLS fingerprint.
//
// Thread-safety: safe for concurrent use.
type Transport struct {
	opts   Options
	dialer *net.Dialer
	h1     *http.Transport
	h2     *http2.Transport
	logger *slog.Logger

	mu     sync.Mutex
	protos map[string]string // host:port -> negotiated ALPN protocol
}

// New creates a fingerprinting transport.
func New(opts Options) *Transport {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		opts:   opts,
		dialer: &net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second},
		logger: logger,
		protos: make(map[string]string),
	}

	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return t.dialConn(ctx, network, addr)
		},
	}
	t.h1 = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         t.dialer.DialContext,
		DialTLSContext:      t.dialConn,
		ForceAttemptHTTP2:   false,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return t
}

// RoundTrip implements http.RoundTripper.
// Plain HTTP goes over HTTP/1.1; HTTPS uses the protocol the host negotiated.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	proto, err := t.protocol(req.Context(), hostPort(req.URL.Host, "443"))
	if err != nil {
		return nil, err
	}
	if proto == http2.NextProtoTLS {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

// protocol returns the ALPN protocol for addr, probing the host on first use.
func (t *Transport) protocol(ctx context.Context, addr string) (string, error) {
	t.mu.Lock()
	proto, ok := t.protos[addr]
	t.mu.Unlock()
	if ok {
		return proto, nil
	}

	conn, err := t.dialTLS(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	proto = conn.ConnectionState().NegotiatedProtocol
	conn.Close()

	t.mu.Lock()
	t.protos[addr] = proto
	t.mu.Unlock()

	t.logger.Debug("backend protocol negotiated",
		slog.String("addr", addr),
		slog.String("protocol", proto))
	return proto, nil
}

// CloseIdleConnections closes idle connections on both transports and forgets
// negotiated protocols, so a backend that changed its ALPN is probed again.
func (t *Transport) CloseIdleConnections() {
	t.h1.CloseIdleConnections()
	t.h2.CloseIdleConnections()

	t.mu.Lock()
	t.protos = make(map[string]string)
	t.mu.Unlock()
}

func (t *Transport) dialConn(ctx context.Context, network, addr string) (net.Conn, error) {
	conn, err := t.dialTLS(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// dialTLS establishes a TLS connection with Chrome's fingerprint.
func (t *Transport) dialTLS(ctx context.Context, network, addr string) (*utls.UConn, error) {
	// Extract hostname for SNI
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Chrome fingerprint with its default ALPN list (h2, http/1.1)
	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: t.opts.InsecureSkipVerify,
	}, utls.HelloChrome_Auto)

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, nil
}

// hostPort adds defaultPort to host when it carries none.
func hostPort(host, defaultPort string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, defaultPort)
}
