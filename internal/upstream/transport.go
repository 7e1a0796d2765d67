// Package upstream implements the Upstream Client (C6): it issues the
// forwarded request over a pooled transport, or serves a filesystem
// endpoint with try_file fallback, gated by the Route's optional
// Ratelimit.
package upstream

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// TransportConfig configures a pooled http.Transport, trimmed of the
// teacher's SSRF/HTTP3/mTLS knobs which have no SPEC_FULL.md component to
// serve them.
type TransportConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
}

// DefaultTransportConfig mirrors the teacher's DefaultTransportConfig
// values for the knobs this module retains.
var DefaultTransportConfig = TransportConfig{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	DialTimeout:         30 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
}

func newTransport(cfg TransportConfig) *http.Transport {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// TransportPool keys *http.Transport instances by "scheme://host:port"
// (§4.6), grounded on the teacher's internal/proxy/transport.go
// TransportPool, trimmed to a single config shared by every key.
type TransportPool struct {
	cfg   TransportConfig
	mu    sync.Mutex
	cache map[string]*http.Transport
}

// NewTransportPool creates a pool using DefaultTransportConfig.
func NewTransportPool() *TransportPool {
	return NewTransportPoolWithConfig(DefaultTransportConfig)
}

// NewTransportPoolWithConfig creates a pool using cfg for every transport it builds.
func NewTransportPoolWithConfig(cfg TransportConfig) *TransportPool {
	return &TransportPool{cfg: cfg, cache: make(map[string]*http.Transport)}
}

// Get returns the pooled transport for key, creating one on first use.
func (p *TransportPool) Get(key string) *http.Transport {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.cache[key]; ok {
		return t
	}
	t := newTransport(p.cfg)
	p.cache[key] = t
	return t
}

// CloseIdleConnections closes idle connections across every pooled transport.
func (p *TransportPool) CloseIdleConnections() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.cache {
		t.CloseIdleConnections()
	}
}
