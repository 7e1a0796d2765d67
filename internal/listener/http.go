package listener

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPListener wraps an http.Server as a Listener. TLS, when configured, is
// loaded from in-memory PEM bytes (an ApiService's CertPEM/KeyPEM, per
// SPEC_FULL.md §3) rather than from disk paths, since certificates arrive
// over the control-plane REST API rather than as files on the host.
type HTTPListener struct {
	id      string
	address string
	server  *http.Server
	tlsCfg  *tls.Config
	ln      net.Listener
	certPtr atomic.Pointer[tls.Certificate]
}

// HTTPListenerConfig configures a new HTTPListener.
type HTTPListenerConfig struct {
	ID      string
	Address string
	Handler http.Handler
	CertPEM string // non-empty enables TLS
	KeyPEM  string

	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
}

// NewHTTPListener constructs an HTTPListener from cfg, loading its TLS
// certificate from PEM bytes when CertPEM/KeyPEM are set.
func NewHTTPListener(cfg HTTPListenerConfig) (*HTTPListener, error) {
	h := &HTTPListener{id: cfg.ID, address: cfg.Address}

	if cfg.CertPEM != "" {
		cert, err := tls.X509KeyPair([]byte(cfg.CertPEM), []byte(cfg.KeyPEM))
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
		h.certPtr.Store(&cert)
		h.tlsCfg = &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				return h.certPtr.Load(), nil
			},
			MinVersion: tls.VersionTLS12,
		}
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}

	h.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           cfg.Handler,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
		TLSConfig:         h.tlsCfg,
	}

	return h, nil
}

func (h *HTTPListener) ID() string   { return h.id }
func (h *HTTPListener) Addr() string { return h.address }

// Start binds the listening socket and serves in the background. It
// returns once the server either fails immediately or survives a brief
// startup window, matching the teacher's non-blocking Start contract.
func (h *HTTPListener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.address, err)
	}
	h.ln = ln
	if h.tlsCfg != nil {
		h.ln = tls.NewListener(ln, h.tlsCfg)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.Serve(h.ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully drains in-flight requests and closes the socket (§4.2).
func (h *HTTPListener) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// ReloadTLSCert hot-swaps the TLS certificate without restarting the
// listener socket. Manager.Reconcile does not call it: a listener whose id
// is unchanged across a reconcile keeps the certificate it started with.
func (h *HTTPListener) ReloadTLSCert(certPEM, keyPEM string) error {
	cert, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return fmt.Errorf("load TLS certificate: %w", err)
	}
	h.certPtr.Store(&cert)
	return nil
}
