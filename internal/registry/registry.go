package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/angeloszaimis/api-gateway/config"
)

var (
	ErrNoServices       = errors.New("registry: no services configured")
	ErrDuplicateService = errors.New("registry: duplicate service name")
	ErrInvalidService   = errors.New("registry: invalid service")
)

// Service describes one backend. Values are never mutated after the
// registry is built.
type Service struct {
	Name            string
	BaseURL         *url.URL
	Prefix          string
	TargetPrefix    string
	HealthCheckPath string
}

// Rewrite maps an external gateway path into the service's internal path
// space: the matched prefix is stripped and TargetPrefix prepended.
//
//	/api/orders/42 -> /orders/42
//	/api/orders    -> /orders
func (s Service) Rewrite(path string) string {
	rest := strings.TrimPrefix(path, s.Prefix)
	if rest != "" && !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}

	out := s.TargetPrefix + rest
	if out == "" {
		return "/"
	}
	return out
}

// TargetURL returns the absolute backend URL for an external path and raw query.
func (s Service) TargetURL(path, rawQuery string) *url.URL {
	u := *s.BaseURL
	u.Path = strings.TrimSuffix(s.BaseURL.Path, "/") + s.Rewrite(path)
	u.RawPath = ""
	u.RawQuery = rawQuery
	return &u
}

// HealthURL returns the absolute URL of the service's health endpoint.
func (s Service) HealthURL() string {
	return strings.TrimSuffix(s.BaseURL.String(), "/") + s.HealthCheckPath
}

// URL returns the base URL as a string.
func (s Service) URL() string {
	return s.BaseURL.String()
}

type Registry struct {
	services []Service
	byName   map[string]int
}

// New validates and freezes the given services in order.
func New(services []Service) (*Registry, error) {
	if len(services) == 0 {
		return nil, ErrNoServices
	}

	r := &Registry{
		services: make([]Service, 0, len(services)),
		byName:   make(map[string]int, len(services)),
	}

	for _, svc := range services {
		if err := validate(svc); err != nil {
			return nil, err
		}
		if _, exists := r.byName[svc.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateService, svc.Name)
		}

		base := *svc.BaseURL
		svc.BaseURL = &base
		r.byName[svc.Name] = len(r.services)
		r.services = append(r.services, svc)
	}

	return r, nil
}

// FromConfig builds a registry from the configured services.
func FromConfig(cfgs []config.ServiceConfig) (*Registry, error) {
	services := make([]Service, 0, len(cfgs))
	for _, c := range cfgs {
		u, err := url.Parse(c.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: parse url: %v", ErrInvalidService, c.Name, err)
		}

		healthPath := c.HealthCheck
		if healthPath == "" {
			healthPath = "/health"
		}

		services = append(services, Service{
			Name:            c.Name,
			BaseURL:         u,
			Prefix:          c.Prefix,
			TargetPrefix:    c.TargetPrefix,
			HealthCheckPath: healthPath,
		})
	}
	return New(services)
}

func validate(svc Service) error {
	switch {
	case svc.Name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidService)
	case svc.BaseURL == nil || svc.BaseURL.Host == "":
		return fmt.Errorf("%w: %s: base url must be absolute", ErrInvalidService, svc.Name)
	case svc.BaseURL.Scheme != "http" && svc.BaseURL.Scheme != "https":
		return fmt.Errorf("%w: %s: base url must use http or https", ErrInvalidService, svc.Name)
	case !strings.HasPrefix(svc.Prefix, "/"):
		return fmt.Errorf("%w: %s: prefix must start with /", ErrInvalidService, svc.Name)
	case svc.TargetPrefix != "" && !strings.HasPrefix(svc.TargetPrefix, "/"):
		return fmt.Errorf("%w: %s: target prefix must start with /", ErrInvalidService, svc.Name)
	case !strings.HasPrefix(svc.HealthCheckPath, "/"):
		return fmt.Errorf("%w: %s: health check path must start with /", ErrInvalidService, svc.Name)
	}
	return nil
}

// Resolve returns the first service, in registration order, whose prefix is
// a string prefix of path. Registration order decides between overlapping
// prefixes; this is not a longest-prefix match.
func (r *Registry) Resolve(path string) (Service, bool) {
	for _, svc := range r.services {
		if strings.HasPrefix(path, svc.Prefix) {
			return svc, true
		}
	}
	return Service{}, false
}

func (r *Registry) Lookup(name string) (Service, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Service{}, false
	}
	return r.services[i], true
}

// Services returns a copy of the registered services in order.
func (r *Registry) Services() []Service {
	out := make([]Service, len(r.services))
	copy(out, r.services)
	return out
}

func (r *Registry) Prefixes() []string {
	out := make([]string, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.Prefix
	}
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.services))
	for i, svc := range r.services {
		out[i] = svc.Name
	}
	return out
}

func (r *Registry) Len() int {
	return len(r.services)
}
