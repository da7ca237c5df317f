package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stacker/pkg/scheduler"
	"github.com/openfroyo/stacker/pkg/stores"
	"github.com/openfroyo/stacker/pkg/telemetry"
	"github.com/openfroyo/stacker/pkg/urlfetch"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the stacker configuration file.
type Config struct {
	// Telemetry configures logging, metrics and tracing.
	Telemetry *telemetry.Config `yaml:"telemetry" validate:"required"`

	// Store selects where stack and resource identity is kept.
	Store StoreConfig `yaml:"store"`

	// Scheduler configures how lifecycle tasks are paced.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Fetch configures remote template retrieval.
	Fetch FetchConfig `yaml:"fetch"`

	// Cloud configures the cloud client.
	Cloud CloudConfig `yaml:"cloud"`
}

// StoreConfig configures persistence.
type StoreConfig struct {
	// Driver is memory or sqlite.
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`

	// Path is the SQLite database file.
	Path string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// SchedulerConfig configures task runners.
type SchedulerConfig struct {
	// PollInterval is the wait between two steps of a running task.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`

	// Timeout bounds a whole stack action. Zero disables it.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// FetchConfig configures the template fetcher.
type FetchConfig struct {
	// Timeout bounds a single fetch.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// MaxSize is the largest template accepted, in bytes.
	MaxSize int64 `yaml:"max_size" validate:"min=0"`
}

// CloudConfig configures the cloud client.
type CloudConfig struct {
	// Simulate runs against the in-memory cloud.
	Simulate bool `yaml:"simulate"`

	// Region is used in stack ARNs.
	Region string `yaml:"region"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Telemetry: telemetry.DefaultConfig(),
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		Scheduler: SchedulerConfig{
			PollInterval: time.Second,
		},
		Fetch: FetchConfig{
			Timeout: 30 * time.Second,
			MaxSize: urlfetch.DefaultMaxSize,
		},
		Cloud: CloudConfig{
			Simulate: true,
			Region:   "RegionOne",
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return c.Telemetry.Validate()
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
}

// RunnerOptions returns the scheduler options for task runners.
func (c *Config) RunnerOptions(logger *telemetry.Logger, metrics *telemetry.Metrics) []scheduler.Option {
	opts := []scheduler.Option{
		scheduler.WithPollInterval(c.Scheduler.PollInterval),
		scheduler.WithMetrics(metrics),
	}
	if logger != nil {
		opts = append(opts, scheduler.WithLogger(logger))
	}
	return opts
}

// Fetcher returns a template fetcher configured from the fetch section.
func (c *Config) Fetcher(logger *telemetry.Logger) (*urlfetch.Fetcher, error) {
	return urlfetch.New(urlfetch.Config{
		Timeout: c.Fetch.Timeout,
		MaxSize: c.Fetch.MaxSize,
		Logger:  logger,
	})
}

// OpenStore opens and migrates the configured store.
func (s StoreConfig) OpenStore(ctx context.Context) (stores.Store, error) {
	switch s.Driver {
	case DriverMemory, "":
		return stores.NewMemoryStore(), nil
	case DriverSQLite:
		store, err := stores.NewSQLiteStore(stores.Config{Path: s.Path})
		if err != nil {
			return nil, err
		}
		if err := store.Init(ctx); err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}
