// Package config loads the startup YAML document into the ApiService/Route/
// BaseRoute shapes the rest of the gateway operates on (see internal/model).
// Struct layout and defaulting follow the teacher's internal/config/config.go
// pattern, trimmed to the fields this module's components actually read.
//
// Every field also carries a json tag matching its yaml tag: the control
// plane's REST bodies are JSON, and since JSON is valid YAML 1.2 the same
// structs decode both the startup file and request bodies through
// goccy/go-yaml, while encoding/json (used for the response envelope) needs
// its own tags to produce the same snake_case wire shape.
package config

import "time"

// Config is the top-level startup document.
type Config struct {
	Server   ServerConfig    `yaml:"server" json:"server"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging"`
	Admin    AdminConfig     `yaml:"admin" json:"admin"`
	Services []ServiceConfig `yaml:"services" json:"services"`
}

// ServerConfig carries listener-wide defaults applied to every accept loop.
type ServerConfig struct {
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// LoggingConfig mirrors the teacher's logging.Config shape closely enough to
// feed it directly (see internal/logging).
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// AdminConfig configures the control-plane REST listener (C9).
type AdminConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// ServiceConfig decodes into one model.ApiService.
type ServiceConfig struct {
	ID          string        `yaml:"id" json:"id"`
	ListenPort  int           `yaml:"listen_port" json:"listen_port"`
	ServiceType string        `yaml:"service_type" json:"service_type"` // Http | Https | Tcp
	CertPEM     string        `yaml:"cert_pem" json:"cert_pem"`
	KeyPEM      string        `yaml:"key_pem" json:"key_pem"`
	Routes      []RouteConfig `yaml:"routes" json:"routes"`
}

// RouteConfig decodes into one model.Route.
type RouteConfig struct {
	ID             string             `yaml:"id" json:"id"`
	HostName       string             `yaml:"host_name" json:"host_name"`
	Matcher        MatcherConfig      `yaml:"matcher" json:"matcher"`
	AllowDenyList  []AllowDenyConfig  `yaml:"allow_deny_list" json:"allow_deny_list"`
	Authentication *AuthConfig        `yaml:"authentication" json:"authentication"`
	Ratelimit      *RatelimitConfig   `yaml:"ratelimit" json:"ratelimit"`
	Cluster        ClusterConfig      `yaml:"route_cluster" json:"route_cluster"`
	Anomaly        *AnomalyConfig     `yaml:"anomaly_detection" json:"anomaly_detection"`
	LivenessConfig *LivenessCfgConfig `yaml:"liveness_config" json:"liveness_config"`
	RewriteHeaders map[string]string  `yaml:"rewrite_headers" json:"rewrite_headers"`
}

// MatcherConfig decodes into model.Matcher.
type MatcherConfig struct {
	Prefix        string `yaml:"prefix" json:"prefix"`
	PrefixRewrite string `yaml:"prefix_rewrite" json:"prefix_rewrite"`
	HostName      string `yaml:"host_name" json:"host_name"`
}

// AllowDenyConfig decodes into one model.AllowDenyRule.
type AllowDenyConfig struct {
	Kind  string `yaml:"kind" json:"kind"` // AllowAll | DenyAll | Allow | Deny
	Value string `yaml:"value" json:"value"`
}

// AuthConfig decodes into model.Authentication.
type AuthConfig struct {
	Kind string `yaml:"kind" json:"kind"` // Basic | ApiKey

	Username     string `yaml:"username" json:"username"`
	PasswordHash string `yaml:"password_hash" json:"password_hash"`

	HeaderName  string `yaml:"header_name" json:"header_name"`
	ExpectedKey string `yaml:"expected_key" json:"expected_key"`
}

// RatelimitConfig decodes into model.Ratelimit.
type RatelimitConfig struct {
	Rate  float64 `yaml:"rate" json:"rate"`
	Burst int     `yaml:"burst" json:"burst"`
}

// AnomalyConfig decodes into model.AnomalyDetection.
type AnomalyConfig struct {
	Consecutive5xxThreshold int `yaml:"consecutive_5xx_threshold" json:"consecutive_5xx_threshold"`
	EjectionSeconds         int `yaml:"ejection_seconds" json:"ejection_seconds"`
}

// LivenessCfgConfig decodes into model.LivenessConfig.
type LivenessCfgConfig struct {
	MinLivenessCount int `yaml:"min_liveness_count" json:"min_liveness_count"`
}

// ClusterConfig decodes into model.LoadBalancerStrategy.
type ClusterConfig struct {
	Type       string            `yaml:"type" json:"type"` // RandomRoute | WeightedRandomRoute | RoundRobinRoute | HeaderHashRoute | IpHashRoute | PollRoute
	HeaderName string            `yaml:"header_name" json:"header_name"`
	Routes     []BaseRouteConfig `yaml:"routes" json:"routes"`
	Weighted   []WeightedConfig  `yaml:"weighted_routes" json:"weighted_routes"`
}

// BaseRouteConfig decodes into one model.BaseRoute.
type BaseRouteConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	TryFile  string `yaml:"try_file" json:"try_file"`
}

// WeightedConfig decodes into one model.Weighted (WeightedRandomRoute only).
type WeightedConfig struct {
	BaseRoute BaseRouteConfig `yaml:"base_route" json:"base_route"`
	Weight    int             `yaml:"weight" json:"weight"`
}

// DefaultConfig returns compiled-in defaults. MergeNonZero layers a decoded
// file on top of this so a partially-specified document is still legal.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "edgeproxy.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Admin: AdminConfig{
			Enabled:       true,
			ListenAddress: ":9901",
		},
	}
}
