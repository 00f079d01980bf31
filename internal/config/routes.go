package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RouteEntry is one row of the declarative route table (§3 "Route Config",
// §6). Absence or an empty RequiredPermissions list means "authenticated
// but unrestricted".
type RouteEntry struct {
	ID                  string        `yaml:"id"`
	PathPrefix          string        `yaml:"pathPrefix"`
	Method              string        `yaml:"method,omitempty"`
	Upstream            string        `yaml:"upstream"`
	RequiredPermissions []string      `yaml:"requiredPermissions,omitempty"`
	Timeout             time.Duration `yaml:"timeout,omitempty"`
	Protected           bool          `yaml:"protected"`
}

// UnmarshalYAML lets the route table write timeout as a human duration
// string ("30s"), the same form every other duration-bearing setting in
// this codebase takes. yaml.v3 has no built-in support for time.Duration:
// unmarshaled directly it treats the field as a bare int64 of nanoseconds
// and errors out on a string like "30s", so the duration is decoded via an
// aux struct and time.ParseDuration instead.
func (r *RouteEntry) UnmarshalYAML(value *yaml.Node) error {
	var aux struct {
		ID                  string   `yaml:"id"`
		PathPrefix          string   `yaml:"pathPrefix"`
		Method              string   `yaml:"method,omitempty"`
		Upstream            string   `yaml:"upstream"`
		RequiredPermissions []string `yaml:"requiredPermissions,omitempty"`
		Timeout             string   `yaml:"timeout,omitempty"`
		Protected           bool     `yaml:"protected"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}

	var timeout time.Duration
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("config: route %q has invalid timeout %q: %w", aux.ID, aux.Timeout, err)
		}
		timeout = d
	}

	*r = RouteEntry{
		ID:                  aux.ID,
		PathPrefix:          aux.PathPrefix,
		Method:              aux.Method,
		Upstream:            aux.Upstream,
		RequiredPermissions: aux.RequiredPermissions,
		Timeout:             timeout,
		Protected:           aux.Protected,
	}
	return nil
}

type routesFile struct {
	Routes []RouteEntry `yaml:"routes"`
}

// DefaultRouteTimeout is the route-level default when a route omits its own
// timeout, per §5.
const DefaultRouteTimeout = 30 * time.Second

// LoadRoutes reads the declarative route table from a YAML file, per §6
// "route table with path predicate, upstream URI, optional
// requiredPermissions, optional per-route timeout".
func LoadRoutes(path string) ([]RouteEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read routes file %q: %w", path, err)
	}
	var rf routesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse routes file %q: %w", path, err)
	}
	for i, r := range rf.Routes {
		if r.ID == "" {
			return nil, fmt.Errorf("config: route %d is missing an id", i)
		}
		if r.PathPrefix == "" {
			return nil, fmt.Errorf("config: route %q is missing pathPrefix", r.ID)
		}
		if r.Timeout == 0 {
			rf.Routes[i].Timeout = DefaultRouteTimeout
		}
	}
	return rf.Routes, nil
}
