package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes, expanding ${VAR} references
// against the process environment before decode, and layering the result
// over DefaultConfig via MergeNonZero so a partially-specified document is
// still legal (§4.1: "defaults are merged with MergeNonZero").
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	var decoded Config
	if err := yaml.Unmarshal([]byte(expanded), &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	cfg := MergeNonZero(*DefaultConfig(), decoded)

	if err := l.validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks the decoded document for the invariants this module's
// components actually rely on (§3/§8): non-zero unique listen ports, at
// least one route per service, and every Route carrying a non-empty
// cluster. Enum fields are not checked here; the conversion in convert.go
// rejects unknown enum values and missing Https cert/key material at
// ToModel time.
func (l *Loader) validate(cfg *Config) error {
	ports := make(map[int]bool)
	for _, svc := range cfg.Services {
		if svc.ListenPort == 0 {
			return fmt.Errorf("service %s: listen_port is required", svc.ID)
		}
		if ports[svc.ListenPort] {
			return fmt.Errorf("listen_port %d is declared by more than one service", svc.ListenPort)
		}
		ports[svc.ListenPort] = true

		if len(svc.Routes) == 0 {
			return fmt.Errorf("service %s: at least one route is required", svc.ID)
		}
		for _, route := range svc.Routes {
			if len(route.Cluster.Routes) == 0 && len(route.Cluster.Weighted) == 0 {
				return fmt.Errorf("route %s: route_cluster must declare at least one upstream", route.ID)
			}
		}
	}
	return nil
}
