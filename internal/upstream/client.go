package upstream

import (
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/relaymesh/edgeproxy/internal/errors"
	"github.com/relaymesh/edgeproxy/internal/model"
)

// Client dispatches a request to one BaseRoute: either proxied to an
// http(s) endpoint through the pooled transport, or served as a static
// file tree with try_file fallback (§4.6).
type Client struct {
	pool *TransportPool
}

// New creates a Client backed by a fresh TransportPool.
func New() *Client {
	return &Client{pool: NewTransportPool()}
}

// IsUpstreamEndpoint reports whether endpoint names an http(s) upstream
// rather than a filesystem root, matching original_source's
// `request_path.contains("http")` branch (here checked on the endpoint
// itself, which is the more precise equivalent for a Go static.Dir-style
// lookup).
func IsUpstreamEndpoint(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}

// Forward proxies r to base.Endpoint using the pooled transport for its
// (scheme, host) and writes the upstream response to w. It returns the
// upstream status code (or an error kind for the Outcome Tracker) so the
// dispatcher can feed C7 without re-parsing the response.
func (c *Client) Forward(w http.ResponseWriter, r *http.Request, base *model.BaseRoute, rewrittenPath string) (status int, err error) {
	target, err := url.Parse(base.Endpoint)
	if err != nil {
		return 0, errors.Wrap(errors.InternalConfig, err, "invalid upstream endpoint")
	}

	proxyReq := r.Clone(r.Context())
	proxyReq.URL.Scheme = target.Scheme
	proxyReq.URL.Host = target.Host
	proxyReq.URL.Path = singleJoiningSlash(target.Path, rewrittenPath)
	proxyReq.Host = target.Host
	proxyReq.RequestURI = ""
	stripHopByHopHeaders(proxyReq.Header)

	transport := c.pool.Get(target.Scheme + "://" + target.Host)
	resp, err := transport.RoundTrip(proxyReq)
	if err != nil {
		if r.Context().Err() != nil {
			return 0, errors.Wrap(errors.ClientCancel, err, "client canceled the request")
		}
		return 0, errors.Wrap(errors.UpstreamConnect, err, "failed to reach upstream")
	}
	defer resp.Body.Close()

	stripHopByHopHeaders(resp.Header)
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
	return resp.StatusCode, nil
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

func stripHopByHopHeaders(h http.Header) {
	for _, hh := range hopByHopHeaders {
		h.Del(hh)
	}
}

// ServeStatic serves base.Endpoint as a filesystem root for r, retrying
// against base.TryFile when the direct lookup 404s (grounded on
// original_source's route_file: serve → on 404, retry try_file → else
// propagate the original error).
func (c *Client) ServeStatic(w http.ResponseWriter, r *http.Request, base *model.BaseRoute, rewrittenPath string) (status int, err error) {
	root := http.Dir(base.Endpoint)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	req := r.Clone(r.Context())
	req.URL.Path = rewrittenPath
	http.FileServer(root).ServeHTTP(rec, req)

	if rec.status != http.StatusNotFound {
		return rec.status, nil
	}
	if base.TryFile == "" {
		return http.StatusNotFound, errors.New(errors.UpstreamProtocol, "static lookup failed and no try_file is configured")
	}

	if _, statErr := os.Stat(filepath.Join(base.Endpoint, base.TryFile)); statErr != nil {
		return http.StatusNotFound, errors.Wrap(errors.UpstreamProtocol, statErr, "try_file target does not exist")
	}

	rec2 := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	tryReq := r.Clone(r.Context())
	tryReq.URL.Path = base.TryFile
	http.FileServer(root).ServeHTTP(rec2, tryReq)
	return rec2.status, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}
