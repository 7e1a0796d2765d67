// Package model holds the gateway's configuration data types: the
// ApiService/Route/BaseRoute hierarchy that makes up a ConfigSnapshot.
package model

import (
	"sync"
)

// ServiceType is the protocol an ApiService listens for.
type ServiceType string

const (
	Http  ServiceType = "Http"
	Https ServiceType = "Https"
	Tcp   ServiceType = "Tcp"
)

// LivenessState is the tri-state health of a BaseRoute.
type LivenessState int

const (
	Unknown LivenessState = iota
	Live
	Ejected
)

func (s LivenessState) String() string {
	switch s {
	case Live:
		return "live"
	case Ejected:
		return "ejected"
	default:
		return "unknown"
	}
}

// AnomalyDetectionStatus is the rolling failure counter for a BaseRoute.
type AnomalyDetectionStatus struct {
	Consecutive5xx int
}

// AnomalyDetection is the outlier-ejection policy declared on a Route.
type AnomalyDetection struct {
	Consecutive5xxThreshold int
	EjectionSeconds         int
}

// LivenessConfig bounds how far the outcome tracker may reduce the live count.
type LivenessConfig struct {
	MinLivenessCount int
}

// LivenessStatus tracks the Route's current live-upstream count.
type LivenessStatus struct {
	CurrentLivenessCount int
}

// Matcher is the path-prefix (+ optional host, + optional rewrite) predicate.
type Matcher struct {
	Prefix        string
	PrefixRewrite string
	HostName      string // empty means "match any host"
}

// AllowDenyKind is the outcome a single AllowDenyList entry contributes.
type AllowDenyKind string

const (
	AllowAll AllowDenyKind = "AllowAll"
	DenyAll  AllowDenyKind = "DenyAll"
	Allow    AllowDenyKind = "Allow"
	Deny     AllowDenyKind = "Deny"
)

// AllowDenyRule is one entry of a Route's ordered AllowDenyList.
type AllowDenyRule struct {
	Kind  AllowDenyKind
	Value string // textual IP to compare against, unused for AllowAll/DenyAll
}

// AuthKind selects the authentication mechanism for a Route.
type AuthKind string

const (
	AuthBasic  AuthKind = "Basic"
	AuthAPIKey AuthKind = "ApiKey"
)

// Authentication is the Route's optional auth descriptor.
type Authentication struct {
	Kind AuthKind

	// Basic
	Username     string
	PasswordHash string // bcrypt hash

	// ApiKey
	HeaderName string
	ExpectedKey string
}

// Ratelimit is the supplemented per-route token-bucket descriptor (see
// SPEC_FULL.md §3).
type Ratelimit struct {
	Rate   float64 // tokens per second
	Burst  int
}

// BaseRoute is one concrete upstream endpoint.
//
// Mutable fields (IsAlive, Anomaly) are guarded by mu so that updates from
// the outcome tracker never block unrelated dispatches (§5 of SPEC_FULL.md:
// fine-grained exclusion scoped to the individual BaseRoute).
type BaseRoute struct {
	Endpoint string
	TryFile  string // empty means "no fallback"

	mu      sync.Mutex
	isAlive LivenessState
	anomaly AnomalyDetectionStatus
}

// NewBaseRoute constructs a BaseRoute in the Unknown liveness state.
func NewBaseRoute(endpoint, tryFile string) *BaseRoute {
	return &BaseRoute{Endpoint: endpoint, TryFile: tryFile}
}

// IsAlive returns the current liveness state.
func (b *BaseRoute) IsAlive() LivenessState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isAlive
}

// SetAlive sets the liveness state directly (used by the outcome tracker).
func (b *BaseRoute) SetAlive(s LivenessState) {
	b.mu.Lock()
	b.isAlive = s
	b.mu.Unlock()
}

// Anomaly returns a copy of the current anomaly status.
func (b *BaseRoute) Anomaly() AnomalyDetectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.anomaly
}

// IncrConsecutive5xx increments the rolling failure count and returns the new value.
func (b *BaseRoute) IncrConsecutive5xx() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anomaly.Consecutive5xx++
	return b.anomaly.Consecutive5xx
}

// ResetConsecutive5xx zeroes the rolling failure count.
func (b *BaseRoute) ResetConsecutive5xx() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.anomaly.Consecutive5xx = 0
}

// SnapshotLiveness is used when carrying liveness state across a Route
// replace: it copies is_alive and the anomaly counter under lock.
func (b *BaseRoute) SnapshotLiveness() (LivenessState, AnomalyDetectionStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isAlive, b.anomaly
}

// AdoptLiveness copies liveness state from a prior incarnation of the same
// endpoint, per §3's LivenessStatus preservation rule.
func (b *BaseRoute) AdoptLiveness(state LivenessState, anomaly AnomalyDetectionStatus) {
	b.mu.Lock()
	b.isAlive = state
	b.anomaly = anomaly
	b.mu.Unlock()
}

// StrategyKind is the tagged variant of LoadBalancerStrategy.
type StrategyKind string

const (
	StrategyRandom         StrategyKind = "Random"
	StrategyWeightedRandom StrategyKind = "WeightedRandom"
	StrategyRoundRobin     StrategyKind = "RoundRobin"
	StrategyHeaderHash     StrategyKind = "HeaderHash"
	StrategyIpHash         StrategyKind = "IpHash"
	StrategyPoll           StrategyKind = "Poll"
)

// Weighted pairs a BaseRoute with its declared integer weight, used by
// StrategyWeightedRandom.
type Weighted struct {
	Route  *BaseRoute
	Weight int
}

// LoadBalancerStrategy is the tagged-variant cluster selector for a Route.
// Mutable selection state (round-robin index, weight budgets, poll index)
// lives behind mu so it resets cleanly whenever the owning Route is
// replaced wholesale (§4.5: intentional).
type LoadBalancerStrategy struct {
	Kind StrategyKind

	Routes    []*BaseRoute // Random, RoundRobin, HeaderHash, IpHash, Poll
	Weighted  []Weighted   // WeightedRandom

	HeaderName string // HeaderHash key source

	mu sync.Mutex
	// RoundRobin / Poll
	lastIndex int
	// WeightedRandom
	budgets []int
}

// Lock/Unlock expose the strategy's selection-state mutex to the
// loadbalancer package, which owns the actual selection algorithms; model
// only owns the storage so BaseRoute and LoadBalancerStrategy stay in one
// place.
func (s *LoadBalancerStrategy) Lock()   { s.mu.Lock() }
func (s *LoadBalancerStrategy) Unlock() { s.mu.Unlock() }

// NextIndex advances and returns the round-robin cursor, wrapping at n.
// Caller must hold the lock.
func (s *LoadBalancerStrategy) NextIndex(n int) int {
	if n <= 0 {
		return 0
	}
	idx := s.lastIndex % n
	s.lastIndex = (s.lastIndex + 1) % n
	return idx
}

// LastIndex returns the stored cursor: the index Poll last selected, or,
// after RoundRobin, the next index NextIndex will return. Caller must hold
// the lock.
func (s *LoadBalancerStrategy) LastIndex() int { return s.lastIndex }

// SetLastIndex records the index Poll last selected. Caller must hold the
// lock.
func (s *LoadBalancerStrategy) SetLastIndex(i int) { s.lastIndex = i }

// Budgets returns the current WeightedRandom budget slice. Caller must hold
// the lock.
func (s *LoadBalancerStrategy) Budgets() []int { return s.budgets }

// ResetBudgets reinitializes the WeightedRandom budgets from the declared
// weights, per §4.5: "when all budgets reach zero they reset to declared
// values". Caller must hold the lock.
func (s *LoadBalancerStrategy) ResetBudgets() {
	s.budgets = make([]int, len(s.Weighted))
	for i, w := range s.Weighted {
		weight := w.Weight
		if weight <= 0 {
			weight = 1
		}
		s.budgets[i] = weight
	}
}

// BudgetAt returns the remaining budget for Weighted[i]. Caller must hold
// the lock.
func (s *LoadBalancerStrategy) BudgetAt(i int) int { return s.budgets[i] }

// DecrBudgetAt decrements the remaining budget for Weighted[i], floored at
// zero. Caller must hold the lock.
func (s *LoadBalancerStrategy) DecrBudgetAt(i int) {
	if s.budgets[i] > 0 {
		s.budgets[i]--
	}
}

// AllRoutes returns every declared BaseRoute regardless of liveness,
// independent of strategy kind. Used to validate the non-empty-cluster
// invariant and to rebuild strategy state on a Route replace.
func (s *LoadBalancerStrategy) AllRoutes() []*BaseRoute {
	if s.Kind == StrategyWeightedRandom {
		out := make([]*BaseRoute, len(s.Weighted))
		for i, w := range s.Weighted {
			out[i] = w.Route
		}
		return out
	}
	return s.Routes
}

// Route is one routing rule: matcher + cluster + policies.
type Route struct {
	ID             string
	HostName       string
	Matcher        Matcher
	AllowDenyList  []AllowDenyRule
	Authentication *Authentication
	Ratelimit      *Ratelimit
	Cluster        *LoadBalancerStrategy
	Anomaly        *AnomalyDetection
	LivenessConfig *LivenessConfig
	LivenessStatus *LivenessStatus
	RewriteHeaders map[string]string
}

// AllBaseRoutes returns every upstream declared on the route's cluster.
func (r *Route) AllBaseRoutes() []*BaseRoute {
	return r.Cluster.AllRoutes()
}

// ApiService is a listener-bound collection of Routes.
type ApiService struct {
	ID          string
	ListenPort  int
	ServiceType ServiceType
	CertPEM     string // Https only
	KeyPEM      string // Https only
	Routes      []*Route
}
