package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/gpahub/internal/cache"
	"github.com/starford/gpahub/internal/ingest"
	"github.com/starford/gpahub/internal/store"
	"github.com/starford/gpahub/internal/webapi"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Auth   AuthConfig        `yaml:"auth"`
	Stores []StoreConfig     `yaml:"stores"`
	// SearchOrder lists store names in lookup order; empty means declaration order.
	SearchOrder []string       `yaml:"search_order"`
	WebAPIs     []WebAPIConfig `yaml:"web_apis"`
	Ingest      IngestConfig   `yaml:"ingest"`
	Cache       CacheConfig    `yaml:"cache"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.validateStores(); err != nil {
		return err
	}
	if err := c.validateWebAPIs(); err != nil {
		return err
	}
	if err := c.Ingest.Validate(c.StoreNames()); err != nil {
		return err
	}
	if err := c.Cache.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}

func (c *Config) validateStores() error {
	if err := validation.Validate(c.Stores, validation.Required.Error("at least one store is required")); err != nil {
		return fmt.Errorf("stores: %w", err)
	}
	seen := map[string]bool{}
	for i := range c.Stores {
		s := &c.Stores[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("stores[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("stores: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}

	names := make([]any, 0, len(c.Stores))
	for _, s := range c.Stores {
		names = append(names, s.Name)
	}
	if err := validation.Validate(c.SearchOrder,
		validation.Each(validation.In(names...).Error("must name a configured store")),
	); err != nil {
		return fmt.Errorf("search_order: %w", err)
	}
	return nil
}

func (c *Config) validateWebAPIs() error {
	seen := map[string]bool{}
	for i := range c.WebAPIs {
		w := &c.WebAPIs[i]
		if err := w.Validate(); err != nil {
			return fmt.Errorf("web_apis[%d]: %w", i, err)
		}
		if seen[w.Name] {
			return fmt.Errorf("web_apis: duplicate name %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// StoreNames returns the configured store names in declaration order.
func (c *Config) StoreNames() []string {
	out := make([]string, len(c.Stores))
	for i, s := range c.Stores {
		out[i] = s.Name
	}
	return out
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
	// DefaultProgram fills in requests and inbox files that leave the program blank.
	DefaultProgram string `yaml:"default_program"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// StoreConfig describes one result store.
//
// Driver selects the backend:
//   - "sqlite": a local database file at Path.
//   - "postgres": a PostgreSQL or Supabase database at DSN.
//   - "memory": process-local, lost on exit; for demos and tests.
type StoreConfig struct {
	Name        string        `yaml:"name"`
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	DSN         string        `yaml:"dsn"`
	Description string        `yaml:"description"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxConns    int32         `yaml:"max_conns"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Match(namePattern).Error("must be lowercase letters, digits, '-' or '_'")),
		validation.Field(&c.Driver, validation.Required, validation.In(store.DriverMemory, store.DriverSQLite, store.DriverPostgres)),
		validation.Field(&c.Path, validation.When(c.Driver == store.DriverSQLite, validation.Required)),
		validation.Field(&c.DSN, validation.When(c.Driver == store.DriverPostgres, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxConns, validation.Min(int32(0))),
	)
}

// WebAPIConfig describes one external result API tried after every store misses.
type WebAPIConfig struct {
	Name        string            `yaml:"name"`
	BaseURL     string            `yaml:"base_url"`
	Endpoint    string            `yaml:"endpoint"`
	Params      map[string]string `yaml:"params"`
	Timeout     time.Duration     `yaml:"timeout"`
	Priority    int               `yaml:"priority"`
	Description string            `yaml:"description"`
}

// Validate validates the web API configuration.
func (c *WebAPIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.Match(namePattern).Error("must be lowercase letters, digits, '-' or '_'")),
		validation.Field(&c.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// Descriptor converts c into the client's descriptor.
func (c *WebAPIConfig) Descriptor() webapi.Descriptor {
	return webapi.Descriptor{
		Name:        c.Name,
		BaseURL:     c.BaseURL,
		Endpoint:    c.Endpoint,
		Params:      c.Params,
		Timeout:     c.Timeout,
		Priority:    c.Priority,
		Description: c.Description,
	}
}

func httpURL(value any) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return errors.New("must be an absolute http(s) URL")
	}
	return nil
}

// IngestConfig holds batch write settings and the gradesheet inbox.
type IngestConfig struct {
	// Target is the store ingests write to; empty means the first store.
	Target            string        `yaml:"target"`
	BatchSize         int           `yaml:"batch_size"`
	BatchPause        time.Duration `yaml:"batch_pause"`
	Workers           int           `yaml:"workers"`
	ParallelThreshold int           `yaml:"parallel_threshold"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`

	// InboxDir enables the gradesheet inbox watcher when set.
	InboxDir   string        `yaml:"inbox_dir"`
	ArchiveDir string        `yaml:"archive_dir"`
	Debounce   time.Duration `yaml:"debounce"`
}

// Validate validates the ingest configuration against the configured store names.
func (c *IngestConfig) Validate(storeNames []string) error {
	names := make([]any, len(storeNames))
	for i, n := range storeNames {
		names[i] = n
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Target, validation.In(names...).Error("must name a configured store")),
		validation.Field(&c.BatchSize, validation.Min(0), validation.Max(100000)),
		validation.Field(&c.BatchPause, validation.Min(time.Duration(0))),
		validation.Field(&c.Workers, validation.Min(0), validation.Max(64)),
		validation.Field(&c.ParallelThreshold, validation.Min(0)),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&c.RetryBackoff, validation.Min(time.Duration(0))),
		validation.Field(&c.ArchiveDir, validation.By(archiveDir)),
	)
}

// Pipeline returns the pipeline batching parameters.
func (c *IngestConfig) Pipeline() ingest.Config {
	return ingest.Config{
		BatchSize:         c.BatchSize,
		BatchPause:        c.BatchPause,
		Workers:           c.Workers,
		ParallelThreshold: c.ParallelThreshold,
		MaxRetries:        c.MaxRetries,
		RetryBackoff:      c.RetryBackoff,
	}
}

// archiveDir must stay inside the inbox and out of the watcher's view.
func archiveDir(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if strings.ContainsAny(s, `/\`) || s == ".." {
		return errors.New("must be a single directory name inside the inbox")
	}
	if !strings.HasPrefix(s, "_") && !strings.HasPrefix(s, ".") {
		return errors.New("must start with '_' or '.'")
	}
	return nil
}

// CacheConfig selects the query result cache.
type CacheConfig struct {
	Driver   string        `yaml:"driver"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = cache.DriverNone
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(cache.DriverNone, cache.DriverLocal, cache.DriverRedis)),
		validation.Field(&c.Addr, validation.When(c.Driver == cache.DriverRedis, validation.Required)),
		validation.Field(&c.DB, validation.Min(0)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
	)
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled,
			validation.Required,
			validation.Match(regexp.MustCompile(`^/[A-Za-z0-9/_-]*$`)).Error("must be an absolute URL path"),
		)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	def := ingest.DefaultConfig()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			DefaultProgram: "Diploma in Engineering",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Stores: []StoreConfig{
			{Name: "primary", Driver: store.DriverSQLite, Path: "./gpahub.db", Timeout: 5 * time.Second},
		},
		Ingest: IngestConfig{
			BatchSize:         def.BatchSize,
			BatchPause:        def.BatchPause,
			Workers:           def.Workers,
			ParallelThreshold: def.ParallelThreshold,
			MaxRetries:        def.MaxRetries,
			RetryBackoff:      def.RetryBackoff,
			ArchiveDir:        "_ingested",
			Debounce:          500 * time.Millisecond,
		},
		Cache: CacheConfig{
			Driver: cache.DriverLocal,
			TTL:    cache.DefaultTTL,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
