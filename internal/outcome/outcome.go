// Package outcome implements the Outcome Tracker (C7): it consumes
// (route, base_route, result) tuples, maintains each upstream's rolling
// consecutive_5xx counter, and ejects/reinstates upstreams on a fixed
// timer — deliberately simpler than the teacher's percentile-window,
// exponential-backoff outlier detector (see DESIGN.md), matching
// original_source's plain threshold-counter semantics instead.
package outcome

import (
	"time"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// Result is the outcome of one upstream call.
type Result struct {
	StatusCode   int
	Failed       bool // true for a transport-level error (no status code)
	ClientCancel bool // true when the inbound request context was canceled; excluded from 5xx accounting (§4.8, §7, S6)
}

// is5xxOrFailure reports whether r should count against the upstream.
func (r Result) is5xxOrFailure() bool {
	if r.ClientCancel {
		return false
	}
	return r.Failed || r.StatusCode >= 500
}

// Observe applies r to base within the policy declared by route, ejecting
// or resetting as appropriate (§4.7). live is the current count of live
// upstreams across route's cluster, used to enforce min_liveness_count.
//
// A ClientCancel result is a true no-op: the inbound connection dropping
// before the upstream responded says nothing about the upstream's health,
// so it neither resets nor increments the counter nor moves liveness (§4.8,
// §7, S6).
func Observe(route *model.Route, base *model.BaseRoute, r Result, live int) {
	if r.ClientCancel {
		return
	}

	if !r.is5xxOrFailure() {
		base.ResetConsecutive5xx()
		if base.IsAlive() == model.Unknown {
			base.SetAlive(model.Live)
		}
		return
	}

	count := base.IncrConsecutive5xx()

	anomaly := route.Anomaly
	if anomaly == nil || anomaly.Consecutive5xxThreshold <= 0 {
		return
	}
	if count < anomaly.Consecutive5xxThreshold {
		return
	}

	if base.IsAlive() == model.Ejected {
		return
	}

	minLive := 0
	if route.LivenessConfig != nil {
		minLive = route.LivenessConfig.MinLivenessCount
	}
	if live-1 < minLive {
		// Ejecting this upstream would breach the floor; keep it live and
		// let the counter keep growing (§4.7: availability over strictness).
		return
	}

	eject(route, base, anomaly)
}

func eject(route *model.Route, base *model.BaseRoute, anomaly *model.AnomalyDetection) {
	base.SetAlive(model.Ejected)

	seconds := anomaly.EjectionSeconds
	if seconds <= 0 {
		seconds = 1
	}
	time.AfterFunc(time.Duration(seconds)*time.Second, func() {
		base.SetAlive(model.Live)
		base.ResetConsecutive5xx()
	})
}

// LiveCount counts upstreams currently in the Live or Unknown state across
// route's cluster; used by the dispatcher to supply Observe's live
// parameter before an ejection decision.
func LiveCount(route *model.Route) int {
	n := 0
	for _, b := range route.AllBaseRoutes() {
		if b.IsAlive() != model.Ejected {
			n++
		}
	}
	return n
}
