package loadbalancer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaymesh/edgeproxy/internal/model"
)

func routes(endpoints ...string) []*model.BaseRoute {
	out := make([]*model.BaseRoute, len(endpoints))
	for i, e := range endpoints {
		out[i] = model.NewBaseRoute(e, "")
	}
	return out
}

func TestSelectRandomFallsBackWhenNoneLive(t *testing.T) {
	rs := routes("http://a", "http://b")
	rs[0].SetAlive(model.Ejected)
	rs[1].SetAlive(model.Ejected)
	s := &model.LoadBalancerStrategy{Kind: model.StrategyRandom, Routes: rs}

	got, err := Select(s, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != rs[0] && got != rs[1] {
		t.Fatalf("got unexpected route %v", got)
	}
}

func TestSelectRandomPrefersLive(t *testing.T) {
	rs := routes("http://a", "http://b")
	rs[0].SetAlive(model.Ejected)
	rs[1].SetAlive(model.Live)
	s := &model.LoadBalancerStrategy{Kind: model.StrategyRandom, Routes: rs}

	for i := 0; i < 20; i++ {
		got, err := Select(s, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if got != rs[1] {
			t.Fatalf("expected the only live route, got %v", got)
		}
	}
}

func TestSelectRoundRobinCycles(t *testing.T) {
	rs := routes("http://a", "http://b", "http://c")
	s := &model.LoadBalancerStrategy{Kind: model.StrategyRoundRobin, Routes: rs}

	var seen []*model.BaseRoute
	for i := 0; i < 6; i++ {
		got, err := Select(s, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		seen = append(seen, got)
	}
	for i := 0; i < 3; i++ {
		if seen[i] != seen[i+3] {
			t.Fatalf("round robin did not repeat its cycle: %v", seen)
		}
	}
}

func TestSelectWeightedRandomRespectsBudget(t *testing.T) {
	a := model.NewBaseRoute("http://a", "")
	b := model.NewBaseRoute("http://b", "")
	s := &model.LoadBalancerStrategy{
		Kind: model.StrategyWeightedRandom,
		Weighted: []model.Weighted{
			{Route: a, Weight: 1},
			{Route: b, Weight: 0}, // clamped to 1 internally
		},
	}

	counts := map[*model.BaseRoute]int{}
	for i := 0; i < 100; i++ {
		got, err := Select(s, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[got]++
	}
	if counts[a] == 0 || counts[b] == 0 {
		t.Fatalf("expected both upstreams to be selected over 100 draws, got %v", counts)
	}
}

func TestSelectHeaderHashIsStable(t *testing.T) {
	rs := routes("http://a", "http://b", "http://c")
	s := &model.LoadBalancerStrategy{Kind: model.StrategyHeaderHash, Routes: rs, HeaderName: "X-Shard"}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Shard", "tenant-42")

	first, err := Select(s, req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 10; i++ {
		got, err := Select(s, req)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		if got != first {
			t.Fatalf("HeaderHash selection changed across calls with the same key")
		}
	}
}

func TestSelectIpHashIsStable(t *testing.T) {
	rs := routes("http://a", "http://b", "http://c")
	s := &model.LoadBalancerStrategy{Kind: model.StrategyIpHash, Routes: rs}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:54321"

	first, err := Select(s, req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	got, err := Select(s, req)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got != first {
		t.Fatalf("IpHash selection changed across calls with the same client IP")
	}
}

func TestSelectPollAdvancesOnlyWhenEjected(t *testing.T) {
	rs := routes("http://a", "http://b")
	s := &model.LoadBalancerStrategy{Kind: model.StrategyPoll, Routes: rs}

	first, err := Select(s, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	second, err := Select(s, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if second != first {
		t.Fatalf("Poll should stick to the same upstream while it is not ejected")
	}

	first.SetAlive(model.Ejected)
	third, err := Select(s, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if third == first {
		t.Fatalf("Poll should advance once the current upstream is ejected")
	}
}

func TestSelectNoUpstreamsErrors(t *testing.T) {
	s := &model.LoadBalancerStrategy{Kind: model.StrategyRandom}
	if _, err := Select(s, nil); err != ErrNoUpstreams {
		t.Fatalf("err = %v, want ErrNoUpstreams", err)
	}
}
