package upstream

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaymesh/edgeproxy/internal/model"
)

func TestIsUpstreamEndpoint(t *testing.T) {
	cases := map[string]bool{
		"http://a":     true,
		"https://a":    true,
		"/var/www":     false,
		"C:/files":     false,
	}
	for ep, want := range cases {
		if got := IsUpstreamEndpoint(ep); got != want {
			t.Errorf("IsUpstreamEndpoint(%q) = %v, want %v", ep, got, want)
		}
	}
}

func TestForwardProxiesToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello from backend"))
	}))
	defer backend.Close()

	c := New()
	base := model.NewBaseRoute(backend.URL, "")

	req := httptest.NewRequest(http.MethodGet, "/widgets", nil)
	rec := httptest.NewRecorder()

	status, err := c.Forward(rec, req, base, "/widgets")
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if status != http.StatusTeapot {
		t.Errorf("status = %d, want %d", status, http.StatusTeapot)
	}
	if rec.Body.String() != "hello from backend" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get("X-From-Backend") != "yes" {
		t.Error("expected backend response header to be forwarded")
	}
}

func TestForwardConnectErrorReturnsKind(t *testing.T) {
	c := New()
	base := model.NewBaseRoute("http://127.0.0.1:1", "") // nothing listens here
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	_, err := c.Forward(rec, req, base, "/")
	if err == nil {
		t.Fatal("expected a connection error")
	}
}

func TestServeStaticFallsBackToTryFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("fallback"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	c := New()
	base := model.NewBaseRoute(dir, "/index.html")
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()

	status, err := c.ServeStatic(rec, req, base, "/missing")
	if err != nil {
		t.Fatalf("ServeStatic: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200", status)
	}
	if rec.Body.String() != "fallback" {
		t.Errorf("body = %q, want fallback", rec.Body.String())
	}
}

func TestServeStaticNoTryFileReturns404(t *testing.T) {
	dir := t.TempDir()
	c := New()
	base := model.NewBaseRoute(dir, "")
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()

	_, err := c.ServeStatic(rec, req, base, "/missing")
	if err == nil {
		t.Fatal("expected an error when no try_file is configured and the file is missing")
	}
}

func TestServeStaticServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	c := New()
	base := model.NewBaseRoute(dir, "")
	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	rec := httptest.NewRecorder()

	status, err := c.ServeStatic(rec, req, base, "/hello.txt")
	if err != nil {
		t.Fatalf("ServeStatic: %v", err)
	}
	if status != http.StatusOK || rec.Body.String() != "hi" {
		t.Errorf("status=%d body=%q", status, rec.Body.String())
	}
}
