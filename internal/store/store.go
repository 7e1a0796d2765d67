// Package store implements the Config Store (C1): a read-many/write-seldom
// holder of the current ConfigSnapshot, with the liveness-preserving route
// replace semantics from SPEC_FULL.md §3.
package store

import (
	"fmt"
	"sync"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// Snapshot is the externally-visible configuration: every ApiService, in
// the order it was installed.
type Snapshot struct {
	Services []*model.ApiService
}

// Store holds the current Snapshot behind a pointer that readers load
// without blocking; writers serialize through mu so that control-plane
// edits never interleave (§5: "Control-plane mutations are totally
// ordered").
type Store struct {
	mu  sync.Mutex // serializes writers only
	cur atomicSnapshot
}

// New creates an empty Store.
func New() *Store {
	s := &Store{}
	s.cur.store(&Snapshot{})
	return s
}

// Read returns the current snapshot. Safe for concurrent use with
// ReplaceAll, UpdateRoute and DeleteRoute;
// a reader observes either the pre- or post-mutation snapshot in full,
// never a mixture (§4.1 invariant, §8 quantified invariant 2).
func (s *Store) Read() *Snapshot {
	return s.cur.load()
}

// GetAll returns the current snapshot's ApiServices (C1 "GetAll").
func (s *Store) GetAll() []*model.ApiService {
	return s.Read().Services
}

// ReplaceAll validates and installs services as the complete new snapshot,
// preserving liveness state for endpoints that survive the replace (§3).
func (s *Store) ReplaceAll(services []*model.ApiService) error {
	if err := validate(services); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.load()
	carryLiveness(old.Services, services)
	s.cur.store(&Snapshot{Services: services})
	return nil
}

// UpdateRoute finds the unique Route with the given id across all
// ApiServices and replaces it in place, carrying liveness state forward
// for endpoints shared between the old and new Route.
func (s *Store) UpdateRoute(route *model.Route) error {
	if route == nil || route.ID == "" {
		return fmt.Errorf("route id must be set")
	}
	if err := validateRoute(route); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.load()
	// Build the replacement snapshot by cloning the ApiService slice
	// (shallow) so concurrent readers of the old snapshot are unaffected.
	next := make([]*model.ApiService, len(old.Services))
	copy(next, old.Services)

	found := false
	for si, svc := range next {
		for ri, r := range svc.Routes {
			if r.ID == route.ID {
				carryRouteLiveness(r, route)
				newRoutes := make([]*model.Route, len(svc.Routes))
				copy(newRoutes, svc.Routes)
				newRoutes[ri] = route
				newSvc := *svc
				newSvc.Routes = newRoutes
				next[si] = &newSvc
				found = true
			}
		}
	}
	if !found {
		return fmt.Errorf("can not find the route by route id")
	}

	s.cur.store(&Snapshot{Services: next})
	return nil
}

// DeleteRoute removes the Route with the given id; if its ApiService
// becomes empty, the ApiService is also removed. Always succeeds (a
// missing id is a no-op), matching original_source's delete_route.
func (s *Store) DeleteRoute(routeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.load()
	next := make([]*model.ApiService, 0, len(old.Services))
	for _, svc := range old.Services {
		keep := make([]*model.Route, 0, len(svc.Routes))
		for _, r := range svc.Routes {
			if r.ID != routeID {
				keep = append(keep, r)
			}
		}
		if len(keep) == 0 {
			continue
		}
		newSvc := *svc
		newSvc.Routes = keep
		next = append(next, &newSvc)
	}
	s.cur.store(&Snapshot{Services: next})
}

// carryLiveness implements the §3 LivenessStatus preservation rule across a
// full ReplaceAll: for every new Route, for every new upstream whose
// endpoint matches an endpoint in a same-id old Route, adopt the old
// BaseRoute's is_alive and AnomalyDetectionStatus.
func carryLiveness(old, next []*model.ApiService) {
	oldRoutes := map[string]*model.Route{}
	for _, svc := range old {
		for _, r := range svc.Routes {
			oldRoutes[r.ID] = r
		}
	}
	for _, svc := range next {
		for _, r := range svc.Routes {
			if oldRoute, ok := oldRoutes[r.ID]; ok {
				carryRouteLiveness(oldRoute, r)
			}
		}
	}
}

// carryRouteLiveness adopts liveness state from oldRoute's upstreams into
// newRoute's upstreams, matched by endpoint string. Endpoints absent from
// the new cluster are discarded; new endpoints start Unknown (already the
// zero value from model.NewBaseRoute).
func carryRouteLiveness(oldRoute, newRoute *model.Route) {
	byEndpoint := map[string]*model.BaseRoute{}
	for _, b := range oldRoute.AllBaseRoutes() {
		byEndpoint[b.Endpoint] = b
	}
	for _, nb := range newRoute.AllBaseRoutes() {
		if ob, ok := byEndpoint[nb.Endpoint]; ok {
			state, anomaly := ob.SnapshotLiveness()
			nb.AdoptLiveness(state, anomaly)
		}
	}
	// LivenessStatus.CurrentLivenessCount is copied from the old Route as
	// is; nothing else in this module updates it.
	if oldRoute.LivenessStatus != nil && newRoute.LivenessStatus != nil {
		newRoute.LivenessStatus.CurrentLivenessCount = oldRoute.LivenessStatus.CurrentLivenessCount
	}
}

// validate enforces §3/§8 invariant 1 (unique listen ports) and invariant 3
// (non-empty clusters) before any mutation is applied.
func validate(services []*model.ApiService) error {
	ports := map[int]bool{}
	for _, svc := range services {
		if ports[svc.ListenPort] {
			return fmt.Errorf("listen port %d is declared by more than one ApiService", svc.ListenPort)
		}
		ports[svc.ListenPort] = true
		for _, r := range svc.Routes {
			if err := validateRoute(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRoute(r *model.Route) error {
	if r.Cluster == nil || len(r.Cluster.AllRoutes()) == 0 {
		return fmt.Errorf("route %s has an empty cluster", r.ID)
	}
	return nil
}
