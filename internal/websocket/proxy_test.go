package websocket

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIsUpgradeRequest(t *testing.T) {
	tests := []struct {
		name       string
		connection string
		secWSKey   string
		want       bool
	}{
		{"valid websocket", "Upgrade", "dGhlIHNhbXBsZSBub25jZQ==", true},
		{"case insensitive", "upgrade", "dGhlIHNhbXBsZSBub25jZQ==", true},
		{"keep-alive, upgrade", "keep-alive, Upgrade", "dGhlIHNhbXBsZSBub25jZQ==", true},
		{"no connection header", "", "dGhlIHNhbXBsZSBub25jZQ==", false},
		{"no Sec-WebSocket-Key header", "Upgrade", "", false},
		{"connection without upgrade token", "keep-alive", "dGhlIHNhbXBsZSBub25jZQ==", false},
		{"no headers", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.connection != "" {
				req.Header.Set("Connection", tt.connection)
			}
			if tt.secWSKey != "" {
				req.Header.Set("Sec-WebSocket-Key", tt.secWSKey)
			}

			got := IsUpgradeRequest(req)
			if got != tt.want {
				t.Errorf("IsUpgradeRequest() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewProxyDefaults(t *testing.T) {
	p := NewProxy()
	if p.readBufferSize != 4096 {
		t.Errorf("expected readBufferSize 4096, got %d", p.readBufferSize)
	}
	if p.dialTimeout != 10*time.Second {
		t.Errorf("expected dialTimeout 10s, got %v", p.dialTimeout)
	}
}

func TestProxyServeHTTPNoHijack(t *testing.T) {
	p := NewProxy()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")

	p.ServeHTTP(w, r, "http://localhost:9999")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 when hijack not supported, got %d", w.Code)
	}
}

func TestProxyServeHTTPInvalidBackend(t *testing.T) {
	p := NewProxy()

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")

	p.ServeHTTP(w, r, "://invalid")

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for invalid backend, got %d", w.Code)
	}
}

type mockHijackResponseWriter struct {
	http.ResponseWriter
	conn net.Conn
}

func (m *mockHijackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	reader := bufio.NewReader(m.conn)
	writer := bufio.NewWriter(m.conn)
	return m.conn, bufio.NewReadWriter(reader, writer), nil
}

func TestProxyEndToEnd(t *testing.T) {
	backendListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer backendListener.Close()

	go func() {
		conn, err := backendListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		if req.Header.Get("Upgrade") != "websocket" {
			t.Errorf("expected Upgrade: websocket header")
			return
		}

		resp := "HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"
		conn.Write([]byte(resp))

		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			conn.Write(buf[:n])
		}
	}()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	p := NewProxy()

	hijackWriter := &mockHijackResponseWriter{
		ResponseWriter: httptest.NewRecorder(),
		conn:           serverConn,
	}

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	r.Header.Set("Sec-WebSocket-Version", "13")
	r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	backendURL := "http://" + backendListener.Addr().String()

	done := make(chan struct{})
	go func() {
		p.ServeHTTP(hijackWriter, r, backendURL)
		close(done)
	}()

	buf := make([]byte, 4096)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read 101 response: %v", err)
	}

	respStr := string(buf[:n])
	if !strings.Contains(respStr, "101") {
		t.Errorf("expected 101 response, got: %s", respStr)
	}

	clientConn.Write([]byte("hello"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = clientConn.Read(buf)
	if err != nil {
		t.Fatalf("failed to read echo: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Errorf("expected 'hello', got '%s'", string(buf[:n]))
	}

	clientConn.Close()
	serverConn.Close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}
