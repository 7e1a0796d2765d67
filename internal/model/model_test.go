package model

import "testing"

func TestBaseRouteDefaultsUnknown(t *testing.T) {
	b := NewBaseRoute("http://localhost:8000", "")
	if b.IsAlive() != Unknown {
		t.Errorf("IsAlive() = %v, want Unknown", b.IsAlive())
	}
	if b.Anomaly().Consecutive5xx != 0 {
		t.Errorf("Consecutive5xx = %d, want 0", b.Anomaly().Consecutive5xx)
	}
}

func TestIncrAndResetConsecutive5xx(t *testing.T) {
	b := NewBaseRoute("http://localhost:8000", "")
	for i := 0; i < 3; i++ {
		b.IncrConsecutive5xx()
	}
	if got := b.Anomaly().Consecutive5xx; got != 3 {
		t.Errorf("Consecutive5xx = %d, want 3", got)
	}
	b.ResetConsecutive5xx()
	if got := b.Anomaly().Consecutive5xx; got != 0 {
		t.Errorf("Consecutive5xx after reset = %d, want 0", got)
	}
}

func TestAdoptLivenessCarriesStateForward(t *testing.T) {
	old := NewBaseRoute("http://localhost:8000", "")
	old.SetAlive(Ejected)
	old.IncrConsecutive5xx()
	old.IncrConsecutive5xx()

	state, anomaly := old.SnapshotLiveness()

	fresh := NewBaseRoute("http://localhost:8000", "")
	fresh.AdoptLiveness(state, anomaly)

	if fresh.IsAlive() != Ejected {
		t.Errorf("IsAlive() = %v, want Ejected", fresh.IsAlive())
	}
	if got := fresh.Anomaly().Consecutive5xx; got != 2 {
		t.Errorf("Consecutive5xx = %d, want 2", got)
	}
}

func TestLoadBalancerStrategyAllRoutesWeighted(t *testing.T) {
	a := NewBaseRoute("http://a", "")
	b := NewBaseRoute("http://b", "")
	s := &LoadBalancerStrategy{
		Kind: StrategyWeightedRandom,
		Weighted: []Weighted{
			{Route: a, Weight: 3},
			{Route: b, Weight: 1},
		},
	}
	all := s.AllRoutes()
	if len(all) != 2 || all[0] != a || all[1] != b {
		t.Errorf("AllRoutes() = %v, want [a, b]", all)
	}
}

func TestLoadBalancerStrategyAllRoutesPlain(t *testing.T) {
	a := NewBaseRoute("http://a", "")
	s := &LoadBalancerStrategy{Kind: StrategyRandom, Routes: []*BaseRoute{a}}
	all := s.AllRoutes()
	if len(all) != 1 || all[0] != a {
		t.Errorf("AllRoutes() = %v, want [a]", all)
	}
}
