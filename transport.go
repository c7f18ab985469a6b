package fetchkit

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// TransportConfig tunes the transports built by NewTransport and NewHTTP2Transport.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSInsecure         bool
	// CleartextHTTP2 speaks h2c to http:// URLs. Only used by NewHTTP2Transport.
	CleartextHTTP2 bool
}

func (tc TransportConfig) dialer() *net.Dialer {
	timeout := tc.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
}

// NewTransport builds a pooled HTTP/1.1 transport that still negotiates
// HTTP/2 over TLS.
func NewTransport(tc TransportConfig) *http.Transport {
	maxIdle := tc.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 100
	}
	perHost := tc.MaxIdleConnsPerHost
	if perHost == 0 {
		perHost = 10
	}
	idle := tc.IdleConnTimeout
	if idle == 0 {
		idle = 90 * time.Second
	}

	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         tc.dialer().DialContext,
		MaxIdleConns:        maxIdle,
		MaxIdleConnsPerHost: perHost,
		IdleConnTimeout:     idle,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: tc.TLSInsecure,
		},
	}
}

// NewHTTP2Transport builds an HTTP/2-only transport. With CleartextHTTP2 it
// talks h2c to plain http:// servers.
func NewHTTP2Transport(tc TransportConfig) *http2.Transport {
	t := &http2.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: tc.TLSInsecure,
		},
		ReadIdleTimeout: 30 * time.Second,
	}

	if tc.CleartextHTTP2 {
		d := tc.dialer()
		t.AllowHTTP = true
		t.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return d.DialContext(ctx, network, addr)
		}
	}
	return t
}

// WithHTTP2 routes requests over an HTTP/2-only transport.
func WithHTTP2(tc TransportConfig) Option {
	return WithTransport(NewHTTP2Transport(tc))
}

// WithTransportConfig installs a pooled transport built from tc.
func WithTransportConfig(tc TransportConfig) Option {
	return WithTransport(NewTransport(tc))
}
