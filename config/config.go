package config

import (
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	// FailureModeStatus counts backend 5xx responses and network failures.
	FailureModeStatus = "status"
	// FailureModeNetwork counts network failures only.
	FailureModeNetwork = "network"
)

const (
	// HalfOpenAll admits every request once the reset window has elapsed.
	HalfOpenAll = "all"
	// HalfOpenSingle admits one trial request at a time while half-open.
	HalfOpenSingle = "single"
)

type ServerConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
	// TrustedProxies lists the peers (IPs or CIDRs) whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the peer address is used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// TrustedPrefixes parses TrustedProxies, widening bare addresses to a
// single-host prefix. Invalid entries are skipped; Validate rejects them.
func (s ServerConfig) TrustedPrefixes() []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))
	for _, raw := range s.TrustedProxies {
		if p, err := parseProxy(raw); err == nil {
			prefixes = append(prefixes, p)
		}
	}
	return prefixes
}

func parseProxy(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if addr, err := netip.ParseAddr(raw); err == nil {
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}
	p, err := netip.ParsePrefix(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	return p.Masked(), nil
}

// Address returns the host:port the gateway listens on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
	Timeout  string `mapstructure:"timeout"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
	FailureMode      string `mapstructure:"failure_mode"`
	HalfOpenPolicy   string `mapstructure:"half_open_policy"`
}

type ProxyConfig struct {
	RequestTimeout string `mapstructure:"request_timeout"`
}

type RateLimitConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Window      string `mapstructure:"window"`
	MaxRequests int    `mapstructure:"max_requests"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ServiceConfig describes one backend fronted by the gateway.
type ServiceConfig struct {
	Name         string `mapstructure:"name"`
	URL          string `mapstructure:"url"`
	Prefix       string `mapstructure:"prefix"`
	TargetPrefix string `mapstructure:"target_prefix"`
	HealthCheck  string `mapstructure:"health_check"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Proxy          ProxyConfig          `mapstructure:"proxy"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
	CORS           CORSConfig           `mapstructure:"cors"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
	Services       []ServiceConfig      `mapstructure:"services"`
}

// DefaultServices is the service set used when no services are configured.
func DefaultServices() []ServiceConfig {
	return []ServiceConfig{
		{
			Name:         "user-service",
			URL:          "http://localhost:3000",
			Prefix:       "/api/users",
			TargetPrefix: "/users",
			HealthCheck:  "/health",
		},
		{
			Name:         "order-service",
			URL:          "http://localhost:3001",
			Prefix:       "/api/orders",
			TargetPrefix: "/orders",
			HealthCheck:  "/health",
		},
	}
}

// ServiceURLEnv returns the environment variable overriding a service's base URL,
// e.g. "user-service" -> "USER_SERVICE_URL".
func ServiceURLEnv(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)) + "_URL"
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("health_check.interval", "30s")
	v.SetDefault("health_check.timeout", "5s")
	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", "60s")
	v.SetDefault("circuit_breaker.failure_mode", FailureModeStatus)
	v.SetDefault("circuit_breaker.half_open_policy", HalfOpenAll)
	v.SetDefault("proxy.request_timeout", "30s")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "15m")
	v.SetDefault("rate_limit.max_requests", 100)
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Short names kept for deployments that predate the nested keys.
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT", "ENVIRONMENT")
	_ = v.BindEnv("server.trusted_proxies", "SERVER_TRUSTED_PROXIES", "TRUSTED_PROXIES")
	_ = v.BindEnv("proxy.request_timeout", "PROXY_REQUEST_TIMEOUT", "REQUEST_TIMEOUT")
	_ = v.BindEnv("rate_limit.window", "RATE_LIMIT_WINDOW", "RATE_LIMIT_WINDOW_MS")
	_ = v.BindEnv("rate_limit.max_requests", "RATE_LIMIT_MAX_REQUESTS")
	_ = v.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Info("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if len(cfg.Services) == 0 {
		cfg.Services = DefaultServices()
	}
	for i := range cfg.Services {
		svc := &cfg.Services[i]
		if svc.HealthCheck == "" {
			svc.HealthCheck = "/health"
		}
		key := "service_urls." + svc.Name
		_ = v.BindEnv(key, ServiceURLEnv(svc.Name))
		if override := v.GetString(key); override != "" {
			svc.URL = override
		}
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// ParseDuration accepts Go duration strings ("30s") and bare integers,
// which are read as milliseconds ("30000").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func mustDuration(s string) time.Duration {
	d, err := ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c HealthCheckConfig) IntervalDuration() time.Duration { return mustDuration(c.Interval) }

func (c HealthCheckConfig) TimeoutDuration() time.Duration { return mustDuration(c.Timeout) }

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	return mustDuration(c.ResetTimeout)
}

func (c ProxyConfig) RequestTimeoutDuration() time.Duration { return mustDuration(c.RequestTimeout) }

func (c RateLimitConfig) WindowDuration() time.Duration { return mustDuration(c.Window) }

// IsProduction reports whether error details must be hidden from callers.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProd
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Host, is.Host),
					validation.Field(&sc.Port,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&sc.TrustedProxies, validation.Each(validation.By(validateProxy))),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.Required,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&hc.Timeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.Required,
			validation.By(func(value interface{}) error {
				cb, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cb,
					validation.Field(&cb.FailureThreshold, validation.Required, validation.Min(1)),
					validation.Field(&cb.ResetTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&cb.FailureMode,
						validation.Required,
						validation.In(FailureModeStatus, FailureModeNetwork),
					),
					validation.Field(&cb.HalfOpenPolicy,
						validation.Required,
						validation.In(HalfOpenAll, HalfOpenSingle),
					),
				)
			}),
		),
		validation.Field(&c.Proxy,
			validation.Required,
			validation.By(func(value interface{}) error {
				pc, ok := value.(ProxyConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
				}
				return validation.ValidateStruct(&pc,
					validation.Field(&pc.RequestTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.RateLimit,
			validation.By(func(value interface{}) error {
				rl, ok := value.(RateLimitConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RateLimitConfig")
				}
				if !rl.Enabled {
					return nil
				}
				return validation.ValidateStruct(&rl,
					validation.Field(&rl.Window, validation.Required, validation.By(validateDuration)),
					validation.Field(&rl.MaxRequests, validation.Required, validation.Min(1)),
				)
			}),
		),
		validation.Field(&c.Tracing,
			validation.By(func(value interface{}) error {
				tc, ok := value.(TracingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a TracingConfig")
				}
				if !tc.Enabled {
					return nil
				}
				return validation.ValidateStruct(&tc,
					validation.Field(&tc.Endpoint, validation.Required),
					validation.Field(&tc.SampleRatio, validation.Min(0.0), validation.Max(1.0)),
				)
			}),
		),
		validation.Field(&c.Services,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateServiceConfig)),
			validation.By(validateUniqueServiceNames),
		),
	)
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h) or milliseconds")
	}
	if d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}

func validateProxy(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if _, err := parseProxy(raw); err != nil {
		return validation.NewError("validation_invalid_proxy", "must be an IP address or CIDR")
	}
	return nil
}

func validateServiceURL(value interface{}) error {
	serviceURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serviceURL == "" {
		return validation.NewError("validation_empty_url", "service URL cannot be empty")
	}

	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validatePath(value interface{}) error {
	p, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}
	if p != "" && !strings.HasPrefix(p, "/") {
		return validation.NewError("validation_invalid_path", "path must start with /")
	}
	return nil
}

func validateServiceConfig(value interface{}) error {
	svc, ok := value.(ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a ServiceConfig")
	}

	return validation.ValidateStruct(&svc,
		validation.Field(&svc.Name, validation.Required),
		validation.Field(&svc.URL, validation.By(validateServiceURL)),
		validation.Field(&svc.Prefix, validation.Required, validation.By(validatePath)),
		validation.Field(&svc.TargetPrefix, validation.By(validatePath)),
		validation.Field(&svc.HealthCheck, validation.Required, validation.By(validatePath)),
	)
}

func validateUniqueServiceNames(value interface{}) error {
	services, ok := value.([]ServiceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of ServiceConfig")
	}

	seen := make(map[string]struct{}, len(services))
	for _, svc := range services {
		if _, dup := seen[svc.Name]; dup {
			return validation.NewError("validation_duplicate_service", "duplicate service name "+svc.Name)
		}
		seen[svc.Name] = struct{}{}
	}
	return nil
}
