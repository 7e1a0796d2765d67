// Package dispatcher implements the Dispatcher (C8): it orchestrates
// Route Matcher → Access Filter → Load Balancer → Upstream Client →
// Outcome Tracker for each inbound request. Pipeline order is modeled
// directly on original_source's proxy() function: access check, then
// WebSocket-upgrade check, then static-file-vs-upstream branch, then
// anomaly detection on the response.
package dispatcher

import (
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/relaymesh/edgeproxy/internal/access"
	"github.com/relaymesh/edgeproxy/internal/errors"
	"github.com/relaymesh/edgeproxy/internal/loadbalancer"
	"github.com/relaymesh/edgeproxy/internal/logging"
	"github.com/relaymesh/edgeproxy/internal/metrics"
	"github.com/relaymesh/edgeproxy/internal/model"
	"github.com/relaymesh/edgeproxy/internal/outcome"
	"github.com/relaymesh/edgeproxy/internal/router"
	"github.com/relaymesh/edgeproxy/internal/store"
	"github.com/relaymesh/edgeproxy/internal/upstream"
	"github.com/relaymesh/edgeproxy/internal/websocket"
)

// Dispatcher serves one ApiService's listener.
type Dispatcher struct {
	listenerID string
	svcID      string
	store      *store.Store
	client     *upstream.Client
	limiter    *upstream.Limiter
	ws         *websocket.Proxy
}

// New constructs a Dispatcher for the ApiService identified by svcID,
// reading routing state from s on every request.
func New(listenerID, svcID string, s *store.Store) *Dispatcher {
	return &Dispatcher{
		listenerID: listenerID,
		svcID:      svcID,
		store:      s,
		client:     upstream.New(),
		limiter:    upstream.NewLimiter(),
		ws:         websocket.NewProxy(),
	}
}

func (d *Dispatcher) lookupService() *model.ApiService {
	for _, svc := range d.store.GetAll() {
		if svc.ID == d.svcID {
			return svc
		}
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() {
		metrics.ObserveDuration(d.listenerID, r.URL.Path, time.Since(start))
	}()

	svc := d.lookupService()
	if svc == nil {
		errors.New(errors.NoRouteMatch, "listener has no active configuration").WriteJSON(w)
		return
	}

	match, ok := router.Find(svc, r.Host, r.URL.Path)
	if !ok {
		metrics.IncRequest(d.listenerID, r.URL.Path, http.StatusNotFound)
		errors.New(errors.NoRouteMatch, "no route matches the request path").WriteJSON(w)
		return
	}
	route := match.Route

	clientIP := clientIPOf(r)
	if !access.CheckAllowDeny(route.AllowDenyList, clientIP) {
		metrics.IncRequest(d.listenerID, r.URL.Path, http.StatusForbidden)
		errors.New(errors.AccessDenied, "client is not permitted to access this route").WriteJSON(w)
		return
	}
	if err := access.Authenticate(route.Authentication, r); err != nil {
		writeErr(w, err)
		metrics.IncRequest(d.listenerID, r.URL.Path, http.StatusUnauthorized)
		return
	}

	if websocket.IsUpgradeRequest(r) {
		base, err := loadbalancer.Select(route.Cluster, r)
		if err != nil {
			errors.Wrap(errors.NoLiveUpstream, err, "no live upstream available").WriteJSON(w)
			return
		}
		d.ws.ServeHTTP(w, r, base.Endpoint)
		return
	}

	if !d.limiter.Allow(route.ID, route.Ratelimit) {
		metrics.IncRequest(d.listenerID, r.URL.Path, http.StatusTooManyRequests)
		errors.New(errors.RateLimited, "rate limit exceeded for this route").WriteJSON(w)
		return
	}

	base, err := loadbalancer.Select(route.Cluster, r)
	if err != nil {
		metrics.IncRequest(d.listenerID, r.URL.Path, http.StatusServiceUnavailable)
		errors.Wrap(errors.NoLiveUpstream, err, "no live upstream available").WriteJSON(w)
		return
	}

	live := outcome.LiveCount(route)

	var status int
	if upstream.IsUpstreamEndpoint(base.Endpoint) {
		status, err = d.client.Forward(w, r, base, match.RewrittenPath)
	} else {
		status, err = d.client.ServeStatic(w, r, base, match.RewrittenPath)
	}

	result := outcome.Result{StatusCode: status}
	if err != nil {
		if ge, ok := errors.IsGatewayError(err); ok && ge.Kind == errors.ClientCancel {
			result.ClientCancel = true
		} else {
			result.Failed = true
		}
	}
	outcome.Observe(route, base, result, live)
	metrics.SetBackendHealthy(d.listenerID, route.ID, base.Endpoint, base.IsAlive() == model.Live)

	if err != nil {
		logging.Error("dispatch failed", zap.String("route", route.ID), zap.String("endpoint", base.Endpoint), zap.Error(err))
		metrics.IncRequest(d.listenerID, r.URL.Path, writeErr(w, err))
		return
	}
	metrics.IncRequest(d.listenerID, r.URL.Path, status)
}

// writeErr writes err's envelope and returns the status code it wrote, so
// callers can feed the same status into the request-count metric.
func writeErr(w http.ResponseWriter, err error) int {
	if ge, ok := errors.IsGatewayError(err); ok {
		ge.WriteJSON(w)
		return ge.Status()
	}
	wrapped := errors.Wrap(errors.InternalConfig, err, "internal error")
	wrapped.WriteJSON(w)
	return wrapped.Status()
}

func clientIPOf(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
