package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cast"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/stores"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// SettingsFile is the workspace settings file looked up by default.
const SettingsFile = "ironfleet.toml"

// Directory backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Settings are the workspace settings read from ironfleet.toml.
type Settings struct {
	// Definitions are the fleet definition files or directories.
	Definitions []string `toml:"definitions" validate:"required,min=1,dive,required"`

	// KeyDir receives the private keys of newly registered clients.
	KeyDir string `toml:"key_dir"`

	// ComponentKinds are the announcement types with an attribute builder.
	ComponentKinds []string `toml:"component_kinds"`

	Directory DirectorySettings `toml:"directory"`
	Store     StoreSettings     `toml:"store"`
	Sync      SyncSettings      `toml:"sync"`
	Policy    PolicySettings    `toml:"policy"`
	HCloud    HCloudSettings    `toml:"hcloud"`
	Telemetry TelemetrySettings `toml:"telemetry"`

	// root is the directory relative paths are resolved against.
	root string
}

// DirectorySettings select the remote directory backend.
type DirectorySettings struct {
	Backend string              `toml:"backend" validate:"oneof=memory sqlite s3"`
	S3      directory.S3Config `toml:"s3"`
}

// StoreSettings configure the SQLite store for run history, drift records
// and audit events. It also backs the sqlite directory.
type StoreSettings struct {
	Path string `toml:"path" validate:"required"`
}

// SyncSettings tune the orchestrator.
type SyncSettings struct {
	Concurrency int    `toml:"concurrency" validate:"min=1"`
	MaxRetries  int    `toml:"max_retries" validate:"min=0"`
	BaseBackoff string `toml:"base_backoff" validate:"required"`
	MaxBackoff  string `toml:"max_backoff" validate:"required"`
	User        string `toml:"user"`
}

// PolicySettings configure policy evaluation.
type PolicySettings struct {
	Enabled bool `toml:"enabled"`

	// Builtin loads the built-in policies.
	Builtin bool `toml:"builtin"`

	// Paths are .rego files or directories.
	Paths []string `toml:"paths"`

	// Enforce fails validation on error-severity violations.
	Enforce bool `toml:"enforce"`
}

// HCloudSettings enable live machine descriptions from Hetzner Cloud.
type HCloudSettings struct {
	Enabled bool `toml:"enabled"`

	// TokenEnv names the environment variable holding the API token.
	TokenEnv string `toml:"token_env" validate:"required_if=Enabled true"`
}

// TelemetrySettings are the subset of telemetry.Config exposed to users.
type TelemetrySettings struct {
	Environment     string  `toml:"environment"`
	LogLevel        string  `toml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat       string  `toml:"log_format" validate:"omitempty,oneof=console json"`
	TracingExporter string  `toml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string  `toml:"tracing_endpoint"`
	SamplingRate    float64 `toml:"sampling_rate" validate:"min=0,max=1"`
	Metrics         bool    `toml:"metrics"`
	AsyncEvents     bool    `toml:"async_events"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() *Settings {
	return &Settings{
		Definitions:    []string{"fleet"},
		KeyDir:         ".ironfleet/keys",
		ComponentKinds: []string{"ntp", "syslog", "monitoring"},
		Directory: DirectorySettings{
			Backend: BackendSQLite,
			S3:      directory.S3Config{Region: "us-east-1", Prefix: "directory"},
		},
		Store: StoreSettings{Path: ".ironfleet/ironfleet.db"},
		Sync: SyncSettings{
			Concurrency: 8,
			MaxRetries:  3,
			BaseBackoff: "1s",
			MaxBackoff:  "1m",
		},
		Policy: PolicySettings{
			Enabled: true,
			Builtin: true,
		},
		HCloud: HCloudSettings{TokenEnv: "HCLOUD_TOKEN"},
		Telemetry: TelemetrySettings{
			Environment:     "development",
			LogLevel:        "info",
			LogFormat:       "console",
			TracingExporter: "none",
			SamplingRate:    1.0,
			Metrics:         true,
		},
		root: ".",
	}
}

// LoadSettings reads path over the defaults. A missing file yields the
// defaults when optional is true.
func LoadSettings(path string, optional bool) (*Settings, error) {
	s := DefaultSettings()
	s.root = filepath.Dir(path)

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && optional:
		return s, s.Validate()
	case err != nil:
		return nil, fmt.Errorf("settings load failed (%s): %w", path, err)
	}

	if err := toml.Unmarshal(data, s); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("settings parse failed (%s:%d:%d): %w", path, row, col, err)
		}
		return nil, fmt.Errorf("settings parse failed (%s): %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings (%s): %w", path, err)
	}
	return s, nil
}

// Validate checks field constraints and duration syntax.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if s.Directory.Backend == BackendS3 && s.Directory.S3.Bucket == "" {
		return fmt.Errorf("directory.s3.bucket is required for the s3 backend")
	}
	if _, _, err := s.Sync.Backoff(); err != nil {
		return err
	}
	return nil
}

// Backoff parses the base and maximum retry backoff.
func (s SyncSettings) Backoff() (base, max time.Duration, err error) {
	if base, err = cast.ToDurationE(s.BaseBackoff); err != nil {
		return 0, 0, fmt.Errorf("sync.base_backoff: %w", err)
	}
	if max, err = cast.ToDurationE(s.MaxBackoff); err != nil {
		return 0, 0, fmt.Errorf("sync.max_backoff: %w", err)
	}
	if max < base {
		return 0, 0, fmt.Errorf("sync.max_backoff %s is below base_backoff %s", max, base)
	}
	return base, max, nil
}

// Path resolves p against the settings file's directory.
func (s *Settings) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || p == ":memory:" {
		return p
	}
	root := s.root
	if root == "" {
		root = "."
	}
	return filepath.Join(root, p)
}

// DefinitionPaths returns the definition sources resolved against the
// settings file.
func (s *Settings) DefinitionPaths() []string {
	out := make([]string, len(s.Definitions))
	for i, p := range s.Definitions {
		out[i] = s.Path(p)
	}
	return out
}

// PolicyPaths returns the policy sources resolved against the settings file.
func (s *Settings) PolicyPaths() []string {
	out := make([]string, len(s.Policy.Paths))
	for i, p := range s.Policy.Paths {
		out[i] = s.Path(p)
	}
	return out
}

// StoreConfig returns the SQLite store configuration.
func (s *Settings) StoreConfig() stores.Config {
	return stores.Config{
		Path:            s.Path(s.Store.Path),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// TelemetryConfig overlays the telemetry settings onto the defaults.
func (s *Settings) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	t := s.Telemetry
	if t.Environment != "" {
		cfg.Environment = t.Environment
	}
	if t.LogLevel != "" {
		cfg.Logging.Level = t.LogLevel
	}
	if t.LogFormat != "" {
		cfg.Logging.Format = t.LogFormat
	}
	switch t.TracingExporter {
	case "", "none":
		cfg.Tracing.Enabled = false
		cfg.Tracing.Exporter = "none"
	default:
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = t.TracingExporter
		if t.TracingEndpoint != "" {
			cfg.Tracing.Endpoint = t.TracingEndpoint
		}
		cfg.Tracing.SamplingRate = t.SamplingRate
	}
	cfg.Metrics.Enabled = t.Metrics
	cfg.Events.EnableAsync = t.AsyncEvents
	return cfg
}
