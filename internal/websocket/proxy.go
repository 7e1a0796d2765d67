// Package websocket upgrades a matched request to a raw, bidirectionally
// copied TCP/TLS tunnel to the selected upstream, used by the Dispatcher
// (C8) once it detects a WebSocket upgrade request.
package websocket

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/edgeproxy/internal/logging"
)

// Proxy hijacks the client connection and relays bytes to/from the
// upstream for the lifetime of the WebSocket session.
type Proxy struct {
	readBufferSize int
	dialTimeout    time.Duration
}

// NewProxy creates a Proxy with the teacher's original buffer/timeout
// defaults (4096 bytes, 10s dial timeout).
func NewProxy() *Proxy {
	return &Proxy{readBufferSize: 4096, dialTimeout: 10 * time.Second}
}

// IsUpgradeRequest reports whether r asks to be upgraded to WebSocket:
// a Connection header whose (possibly comma-separated) token list includes
// "upgrade", and a Sec-WebSocket-Key header present, both case-insensitive
// on the Connection token (§4.8).
func IsUpgradeRequest(r *http.Request) bool {
	connection := strings.ToLower(r.Header.Get("Connection"))
	return strings.Contains(connection, "upgrade") && r.Header.Get("Sec-WebSocket-Key") != ""
}

// ServeHTTP proxies the hijacked connection to backendURL.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request, backendURL string) {
	target, err := url.Parse(backendURL)
	if err != nil {
		http.Error(w, "Bad Gateway: invalid backend URL", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "WebSocket upgrade not supported", http.StatusInternalServerError)
		return
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Failed to hijack connection", http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	backendAddr := target.Host
	if !strings.Contains(backendAddr, ":") {
		if target.Scheme == "https" || target.Scheme == "wss" {
			backendAddr += ":443"
		} else {
			backendAddr += ":80"
		}
	}

	var backendConn net.Conn
	if target.Scheme == "https" || target.Scheme == "wss" {
		backendConn, err = tls.DialWithDialer(&net.Dialer{Timeout: p.dialTimeout}, "tcp", backendAddr, nil)
	} else {
		backendConn, err = net.DialTimeout("tcp", backendAddr, p.dialTimeout)
	}
	if err != nil {
		logging.Warn("websocket proxy: dial backend failed", zap.String("backend", backendAddr), zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}
	defer backendConn.Close()

	reqPath := r.URL.Path
	if r.URL.RawQuery != "" {
		reqPath += "?" + r.URL.RawQuery
	}

	backendConn.Write([]byte(r.Method + " " + reqPath + " HTTP/1.1\r\n"))
	r.Header.Set("Host", target.Host)
	for key, values := range r.Header {
		for _, v := range values {
			backendConn.Write([]byte(key + ": " + v + "\r\n"))
		}
	}
	backendConn.Write([]byte("\r\n"))

	buf := make([]byte, p.readBufferSize)
	n, err := backendConn.Read(buf)
	if err != nil {
		logging.Warn("websocket proxy: read backend response failed", zap.String("backend", backendAddr), zap.Error(err))
		clientBuf.WriteString("HTTP/1.1 502 Bad Gateway\r\n\r\n")
		clientBuf.Flush()
		return
	}
	clientConn.Write(buf[:n])

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(backendConn, clientConn)
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(clientConn, backendConn)
		errCh <- err
	}()
	<-errCh

	clientConn.SetDeadline(time.Now().Add(1 * time.Second))
	backendConn.SetDeadline(time.Now().Add(1 * time.Second))
}
