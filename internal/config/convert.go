package config

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/relaymesh/edgeproxy/internal/model"
)

// ToModel converts a decoded Config into the ApiService slice the store
// expects, generating ids via google/uuid for any Route or ApiService whose
// id was left blank in the YAML document (§3: "externally supplied or
// generated via google/uuid when absent").
func (c *Config) ToModel() ([]*model.ApiService, error) {
	services := make([]*model.ApiService, 0, len(c.Services))
	for _, sc := range c.Services {
		svc, err := sc.toModel()
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func (sc ServiceConfig) toModel() (*model.ApiService, error) {
	id := sc.ID
	if id == "" {
		id = uuid.NewString()
	}
	serviceType, err := parseServiceType(sc.ServiceType)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	if serviceType == model.Https && (sc.CertPEM == "" || sc.KeyPEM == "") {
		return nil, fmt.Errorf("service %s: Https requires cert_pem and key_pem", id)
	}

	routes := make([]*model.Route, 0, len(sc.Routes))
	for _, rc := range sc.Routes {
		route, err := rc.ToModel()
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", id, err)
		}
		routes = append(routes, route)
	}

	return &model.ApiService{
		ID:          id,
		ListenPort:  sc.ListenPort,
		ServiceType: serviceType,
		CertPEM:     sc.CertPEM,
		KeyPEM:      sc.KeyPEM,
		Routes:      routes,
	}, nil
}

func parseServiceType(s string) (model.ServiceType, error) {
	switch model.ServiceType(s) {
	case model.Http, model.Https, model.Tcp:
		return model.ServiceType(s), nil
	default:
		return "", fmt.Errorf("unknown service_type %q", s)
	}
}

// ToModel converts one decoded RouteConfig into a model.Route, generating a
// route id when it is blank; the control plane uses it for PUT /route.
func (rc RouteConfig) ToModel() (*model.Route, error) {
	id := rc.ID
	if id == "" {
		id = uuid.NewString()
	}

	allowDeny := make([]model.AllowDenyRule, 0, len(rc.AllowDenyList))
	for _, ac := range rc.AllowDenyList {
		kind, err := parseAllowDenyKind(ac.Kind)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", id, err)
		}
		allowDeny = append(allowDeny, model.AllowDenyRule{Kind: kind, Value: ac.Value})
	}

	auth, err := rc.Authentication.toModel()
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", id, err)
	}

	cluster, err := rc.Cluster.toModel()
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", id, err)
	}

	var ratelimit *model.Ratelimit
	if rc.Ratelimit != nil {
		ratelimit = &model.Ratelimit{Rate: rc.Ratelimit.Rate, Burst: rc.Ratelimit.Burst}
	}
	var anomaly *model.AnomalyDetection
	if rc.Anomaly != nil {
		anomaly = &model.AnomalyDetection{
			Consecutive5xxThreshold: rc.Anomaly.Consecutive5xxThreshold,
			EjectionSeconds:         rc.Anomaly.EjectionSeconds,
		}
	}
	var liveness *model.LivenessConfig
	if rc.LivenessConfig != nil {
		liveness = &model.LivenessConfig{MinLivenessCount: rc.LivenessConfig.MinLivenessCount}
	}

	return &model.Route{
		ID:       id,
		HostName: rc.HostName,
		Matcher: model.Matcher{
			Prefix:        rc.Matcher.Prefix,
			PrefixRewrite: rc.Matcher.PrefixRewrite,
			HostName:      rc.Matcher.HostName,
		},
		AllowDenyList:  allowDeny,
		Authentication: auth,
		Ratelimit:      ratelimit,
		Cluster:        cluster,
		Anomaly:        anomaly,
		LivenessConfig: liveness,
		LivenessStatus: &model.LivenessStatus{},
		RewriteHeaders: rc.RewriteHeaders,
	}, nil
}

func parseAllowDenyKind(s string) (model.AllowDenyKind, error) {
	switch model.AllowDenyKind(s) {
	case model.AllowAll, model.DenyAll, model.Allow, model.Deny:
		return model.AllowDenyKind(s), nil
	default:
		return "", fmt.Errorf("unknown allow_deny_list kind %q", s)
	}
}

func (ac *AuthConfig) toModel() (*model.Authentication, error) {
	if ac == nil {
		return nil, nil
	}
	switch model.AuthKind(ac.Kind) {
	case model.AuthBasic:
		return &model.Authentication{Kind: model.AuthBasic, Username: ac.Username, PasswordHash: ac.PasswordHash}, nil
	case model.AuthAPIKey:
		return &model.Authentication{Kind: model.AuthAPIKey, HeaderName: ac.HeaderName, ExpectedKey: ac.ExpectedKey}, nil
	default:
		return nil, fmt.Errorf("unknown authentication kind %q", ac.Kind)
	}
}

func (cc ClusterConfig) toModel() (*model.LoadBalancerStrategy, error) {
	kind, err := parseStrategyKind(cc.Type)
	if err != nil {
		return nil, err
	}

	strategy := &model.LoadBalancerStrategy{Kind: kind, HeaderName: cc.HeaderName}

	if kind == model.StrategyWeightedRandom {
		weighted := make([]model.Weighted, 0, len(cc.Weighted))
		for _, wc := range cc.Weighted {
			weighted = append(weighted, model.Weighted{
				Route:  model.NewBaseRoute(wc.BaseRoute.Endpoint, wc.BaseRoute.TryFile),
				Weight: wc.Weight,
			})
		}
		strategy.Weighted = weighted
	} else {
		routes := make([]*model.BaseRoute, 0, len(cc.Routes))
		for _, bc := range cc.Routes {
			routes = append(routes, model.NewBaseRoute(bc.Endpoint, bc.TryFile))
		}
		strategy.Routes = routes
	}

	if len(strategy.AllRoutes()) == 0 {
		return nil, fmt.Errorf("route_cluster must declare at least one upstream")
	}
	if kind == model.StrategyWeightedRandom {
		strategy.Lock()
		strategy.ResetBudgets()
		strategy.Unlock()
	}
	return strategy, nil
}

// FromModelService converts a model.ApiService back into the YAML/JSON-tagged
// ServiceConfig shape, used by the control plane to answer GET /appConfig and
// to persist the snapshot to disk. Liveness state is deliberately dropped:
// it is runtime-observed, not part of the declared configuration.
func FromModelService(svc *model.ApiService) ServiceConfig {
	routes := make([]RouteConfig, 0, len(svc.Routes))
	for _, r := range svc.Routes {
		routes = append(routes, fromModelRoute(r))
	}
	return ServiceConfig{
		ID:          svc.ID,
		ListenPort:  svc.ListenPort,
		ServiceType: string(svc.ServiceType),
		CertPEM:     svc.CertPEM,
		KeyPEM:      svc.KeyPEM,
		Routes:      routes,
	}
}

func fromModelRoute(r *model.Route) RouteConfig {
	allowDeny := make([]AllowDenyConfig, 0, len(r.AllowDenyList))
	for _, ad := range r.AllowDenyList {
		allowDeny = append(allowDeny, AllowDenyConfig{Kind: string(ad.Kind), Value: ad.Value})
	}

	var auth *AuthConfig
	if r.Authentication != nil {
		auth = &AuthConfig{
			Kind:         string(r.Authentication.Kind),
			Username:     r.Authentication.Username,
			PasswordHash: r.Authentication.PasswordHash,
			HeaderName:   r.Authentication.HeaderName,
			ExpectedKey:  r.Authentication.ExpectedKey,
		}
	}
	var ratelimit *RatelimitConfig
	if r.Ratelimit != nil {
		ratelimit = &RatelimitConfig{Rate: r.Ratelimit.Rate, Burst: r.Ratelimit.Burst}
	}
	var anomaly *AnomalyConfig
	if r.Anomaly != nil {
		anomaly = &AnomalyConfig{
			Consecutive5xxThreshold: r.Anomaly.Consecutive5xxThreshold,
			EjectionSeconds:         r.Anomaly.EjectionSeconds,
		}
	}
	var liveness *LivenessCfgConfig
	if r.LivenessConfig != nil {
		liveness = &LivenessCfgConfig{MinLivenessCount: r.LivenessConfig.MinLivenessCount}
	}

	return RouteConfig{
		ID:       r.ID,
		HostName: r.HostName,
		Matcher: MatcherConfig{
			Prefix:        r.Matcher.Prefix,
			PrefixRewrite: r.Matcher.PrefixRewrite,
			HostName:      r.Matcher.HostName,
		},
		AllowDenyList:  allowDeny,
		Authentication: auth,
		Ratelimit:      ratelimit,
		Cluster:        fromModelCluster(r.Cluster),
		Anomaly:        anomaly,
		LivenessConfig: liveness,
		RewriteHeaders: r.RewriteHeaders,
	}
}

func fromModelCluster(s *model.LoadBalancerStrategy) ClusterConfig {
	if s == nil {
		return ClusterConfig{}
	}
	cc := ClusterConfig{Type: string(s.Kind), HeaderName: s.HeaderName}
	if s.Kind == model.StrategyWeightedRandom {
		cc.Weighted = make([]WeightedConfig, 0, len(s.Weighted))
		for _, w := range s.Weighted {
			cc.Weighted = append(cc.Weighted, WeightedConfig{
				BaseRoute: BaseRouteConfig{Endpoint: w.Route.Endpoint, TryFile: w.Route.TryFile},
				Weight:    w.Weight,
			})
		}
	} else {
		cc.Routes = make([]BaseRouteConfig, 0, len(s.Routes))
		for _, b := range s.Routes {
			cc.Routes = append(cc.Routes, BaseRouteConfig{Endpoint: b.Endpoint, TryFile: b.TryFile})
		}
	}
	return cc
}

func parseStrategyKind(s string) (model.StrategyKind, error) {
	switch s {
	case "RandomRoute", string(model.StrategyRandom):
		return model.StrategyRandom, nil
	case "WeightedRandomRoute", string(model.StrategyWeightedRandom):
		return model.StrategyWeightedRandom, nil
	case "RoundRobinRoute", string(model.StrategyRoundRobin):
		return model.StrategyRoundRobin, nil
	case "HeaderHashRoute", string(model.StrategyHeaderHash):
		return model.StrategyHeaderHash, nil
	case "IpHashRoute", string(model.StrategyIpHash):
		return model.StrategyIpHash, nil
	case "PollRoute", string(model.StrategyPoll):
		return model.StrategyPoll, nil
	default:
		return "", fmt.Errorf("unknown route_cluster type %q", s)
	}
}
