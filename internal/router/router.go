// Package router implements the Route Matcher (C3): given a parsed request
// and the ApiService bound to the listener it arrived on, it returns at
// most one Route by linear, declared-order, first-match scan. This is
// deliberately not the teacher's httprouter-backed, most-specific-prefix
// router — that algorithm picks the longest matching prefix regardless of
// declaration order, which contradicts this component's tie-break rule.
package router

import (
	"strings"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// Match holds the winning Route and the request path after prefix_rewrite
// has been applied (§4.3).
type Match struct {
	Route         *model.Route
	RewrittenPath string
}

// Find scans svc.Routes in declared order and returns the first Route whose
// Matcher.Prefix is a path-prefix of path and whose HostName, if set,
// equals host case-insensitively. Returns ok=false if no Route matches.
func Find(svc *model.ApiService, host, path string) (Match, bool) {
	for _, r := range svc.Routes {
		if !hostMatches(r.Matcher.HostName, host) {
			continue
		}
		if !pathHasPrefix(path, r.Matcher.Prefix) {
			continue
		}
		return Match{Route: r, RewrittenPath: rewritePath(path, r.Matcher)}, true
	}
	return Match{}, false
}

func hostMatches(want, got string) bool {
	if want == "" {
		return true
	}
	return strings.EqualFold(want, stripPort(got))
}

func stripPort(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}

// pathHasPrefix treats prefix as a path-segment prefix: "/api" matches
// "/api" and "/api/v1" but not "/apiextra".
func pathHasPrefix(path, prefix string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	p := strings.TrimSuffix(prefix, "/")
	if path == p {
		return true
	}
	return strings.HasPrefix(path, p+"/")
}

// rewritePath replaces the matched prefix with PrefixRewrite, when set.
func rewritePath(path string, m model.Matcher) string {
	if m.PrefixRewrite == "" {
		return path
	}
	prefix := strings.TrimSuffix(m.Prefix, "/")
	return m.PrefixRewrite + strings.TrimPrefix(path, prefix)
}
