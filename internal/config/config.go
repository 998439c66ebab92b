package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/uktrade/tamato/internal/domain"
)

// DatabaseDriver names one storage backend.
type DatabaseDriver string

const (
	DriverSQLite   DatabaseDriver = "sqlite"
	DriverPostgres DatabaseDriver = "postgres"
	DriverMemory   DatabaseDriver = "memory"
)

// SinkKind names one envelope sink backend.
type SinkKind string

const (
	SinkNone SinkKind = "none"
	SinkFS   SinkKind = "fs"
	SinkS3   SinkKind = "s3"
)

type Config struct {
	Database DatabaseConfig `toml:"database"`
	Workflow WorkflowConfig `toml:"workflow"`
	Export   ExportConfig   `toml:"export"`
	Server   ServerConfig   `toml:"server"`
	Logging  LoggingConfig  `toml:"logging"`
}

type DatabaseConfig struct {
	Driver DatabaseDriver `toml:"driver"`
	Path   string         `toml:"path"`
	DSN    string         `toml:"dsn"`
}

type WorkflowConfig struct {
	PartitionScheme         string `toml:"partition_scheme"`
	RequireDistinctApprover bool   `toml:"require_distinct_approver"`
}

type ExportConfig struct {
	Sink SinkKind `toml:"sink"`
	Dir  string   `toml:"dir"`
	S3   S3Config `toml:"s3"`
}

type S3Config struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
}

type ServerConfig struct {
	HTTPBind        string `toml:"http_bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
	ReadOnlyMCP     bool   `toml:"read_only_mcp"`
}

type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig controls the dev-mode logfmt file sink.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Workflow: WorkflowConfig{
			PartitionScheme:         string(domain.SchemeSeedFirst),
			RequireDistinctApprover: true,
		},
		Export: ExportConfig{
			Sink: SinkNone,
			S3: S3Config{
				Region: "eu-west-2",
				Prefix: "tamato",
			},
		},
		Server: ServerConfig{
			HTTPBind:        "127.0.0.1:8080",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".tamato/log",
			},
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, "":
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	if _, err := domain.ParsePartitionScheme(c.Workflow.PartitionScheme); err != nil {
		return fmt.Errorf("invalid workflow.partition_scheme: %q", c.Workflow.PartitionScheme)
	}

	switch c.Export.Sink {
	case SinkNone, "":
	case SinkFS:
		if strings.TrimSpace(c.Export.Dir) == "" {
			return errors.New("export.dir is required for the fs sink")
		}
	case SinkS3:
		if strings.TrimSpace(c.Export.S3.Bucket) == "" {
			return errors.New("export.s3.bucket is required for the s3 sink")
		}
	default:
		return fmt.Errorf("invalid export.sink: %q", c.Export.Sink)
	}

	if strings.TrimSpace(c.Server.APIEndpoint) != "" && strings.TrimSpace(c.Server.APIEndpoint) == strings.TrimSpace(c.Server.MCPEndpoint) {
		return errors.New("server.api_endpoint and server.mcp_endpoint must differ")
	}

	if strings.TrimSpace(c.Logging.Level) != "" {
		if _, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(c.Logging.Level))); err != nil {
			return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
		}
	}
	if c.Logging.DevFile.Enabled && strings.TrimSpace(c.Logging.DevFile.Dir) == "" {
		return errors.New("logging.dev_file.dir is required when the dev file sink is enabled")
	}

	return nil
}

// ApplyEnv overlays environment overrides onto the loaded config.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("TAMATO_DB_PATH"); ok && strings.TrimSpace(v) != "" {
		c.Database.Path = strings.TrimSpace(v)
	}
	if v, ok := lookup("TAMATO_DB_DSN"); ok && strings.TrimSpace(v) != "" {
		c.Database.DSN = strings.TrimSpace(v)
		c.Database.Driver = DriverPostgres
	}
	if v, ok := lookup("TAMATO_LOG_LEVEL"); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = strings.TrimSpace(v)
	}
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
