// Package loadbalancer selects one live upstream from a Route's cluster
// (C5). Every strategy operates over *model.BaseRoute pointers so liveness
// state set by the outcome tracker is visible immediately; each strategy's
// own selection state (round-robin index, weight budgets, poll index) lives
// inside the model.LoadBalancerStrategy value itself, so replacing a Route
// resets that state (intentional, per SPEC_FULL.md §4.5).
package loadbalancer

import (
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// ErrNoUpstreams is returned when a Route's cluster is empty — a condition
// the config store's validation is supposed to prevent (§3 invariant 3),
// so callers should treat this as an internal configuration bug.
var ErrNoUpstreams = errors.New("route cluster has no upstreams")

// liveUpstreams filters to upstreams currently in the Live or Unknown state
// (that is, not Ejected). Random
// falls back to the full set when none are live (§4.5: availability over
// strictness); other strategies do the same via this helper unless noted.
func liveUpstreams(all []*model.BaseRoute) []*model.BaseRoute {
	live := make([]*model.BaseRoute, 0, len(all))
	for _, b := range all {
		if b.IsAlive() == model.Live || b.IsAlive() == model.Unknown {
			live = append(live, b)
		}
	}
	if len(live) == 0 {
		return all
	}
	return live
}

// Select picks one upstream from s according to its Kind. req may be nil
// for strategies that don't need request context (Random, RoundRobin, Poll).
func Select(s *model.LoadBalancerStrategy, req *http.Request) (*model.BaseRoute, error) {
	switch s.Kind {
	case model.StrategyRandom:
		return selectRandom(s)
	case model.StrategyWeightedRandom:
		return selectWeightedRandom(s)
	case model.StrategyRoundRobin:
		return selectRoundRobin(s)
	case model.StrategyHeaderHash:
		return selectHash(s, headerKey(s, req))
	case model.StrategyIpHash:
		return selectHash(s, clientIP(req))
	case model.StrategyPoll:
		return selectPoll(s)
	default:
		return selectRandom(s)
	}
}

func selectRandom(s *model.LoadBalancerStrategy) (*model.BaseRoute, error) {
	if len(s.Routes) == 0 {
		return nil, ErrNoUpstreams
	}
	candidates := liveUpstreams(s.Routes)
	return candidates[rand.Intn(len(candidates))], nil
}

func selectWeightedRandom(s *model.LoadBalancerStrategy) (*model.BaseRoute, error) {
	if len(s.Weighted) == 0 {
		return nil, ErrNoUpstreams
	}
	s.Lock()
	defer s.Unlock()

	if len(s.Budgets()) != len(s.Weighted) {
		s.ResetBudgets()
	}

	// Restrict to live (or unknown) upstreams; fall back to the full
	// weighted set if none are live, mirroring Random's fallback rule.
	liveIdx := make([]int, 0, len(s.Weighted))
	for i, w := range s.Weighted {
		if st := w.Route.IsAlive(); st == model.Live || st == model.Unknown {
			liveIdx = append(liveIdx, i)
		}
	}
	if len(liveIdx) == 0 {
		for i := range s.Weighted {
			liveIdx = append(liveIdx, i)
		}
	}

	total := 0
	for _, i := range liveIdx {
		total += s.BudgetAt(i)
	}
	if total <= 0 {
		s.ResetBudgets()
		total = 0
		for _, i := range liveIdx {
			total += s.BudgetAt(i)
		}
	}

	pick := rand.Intn(total)
	for _, i := range liveIdx {
		b := s.BudgetAt(i)
		if pick < b {
			s.DecrBudgetAt(i)
			return s.Weighted[i].Route, nil
		}
		pick -= b
	}
	// Defensive fallback; total accounting above should make this unreachable.
	return s.Weighted[liveIdx[0]].Route, nil
}

func selectRoundRobin(s *model.LoadBalancerStrategy) (*model.BaseRoute, error) {
	if len(s.Routes) == 0 {
		return nil, ErrNoUpstreams
	}
	candidates := liveUpstreams(s.Routes)
	s.Lock()
	defer s.Unlock()
	idx := s.NextIndex(len(candidates))
	return candidates[idx], nil
}

func selectPoll(s *model.LoadBalancerStrategy) (*model.BaseRoute, error) {
	if len(s.Routes) == 0 {
		return nil, ErrNoUpstreams
	}
	s.Lock()
	defer s.Unlock()
	idx := s.LastIndex()
	if idx < 0 || idx >= len(s.Routes) {
		idx = 0
	}
	if s.Routes[idx].IsAlive() == model.Ejected {
		for i := 1; i <= len(s.Routes); i++ {
			cand := (idx + i) % len(s.Routes)
			if s.Routes[cand].IsAlive() != model.Ejected {
				idx = cand
				break
			}
		}
	}
	s.SetLastIndex(idx)
	return s.Routes[idx], nil
}

func selectHash(s *model.LoadBalancerStrategy, key string) (*model.BaseRoute, error) {
	if len(s.Routes) == 0 {
		return nil, ErrNoUpstreams
	}
	candidates := liveUpstreams(s.Routes)
	h := xxhash.Sum64String(key)
	idx := int(h % uint64(len(candidates)))
	return candidates[idx], nil
}

func headerKey(s *model.LoadBalancerStrategy, req *http.Request) string {
	if req == nil {
		return ""
	}
	return req.Header.Get(s.HeaderName)
}

// clientIP extracts the client IP from X-Forwarded-For (first hop) or
// RemoteAddr, matching the teacher's loadbalancer/consistenthash.go idiom.
func clientIP(req *http.Request) string {
	if req == nil {
		return ""
	}
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
