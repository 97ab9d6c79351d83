package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Ensure ConfigLoader implements the interface.
var _ driven.ConfigLoader = (*ConfigLoader)(nil)

// DefaultPath is the configuration file used when none is given.
const DefaultPath = "s3logsbeat.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "S3LOGSBEAT_"

// ConfigLoader reads a TOML configuration file.
type ConfigLoader struct {
	filePath string
	lookup   func(string) (string, bool)
}

// NewConfigLoader creates a loader for path. If path is empty, defaults to
// s3logsbeat.toml in the working directory.
func NewConfigLoader(path string) *ConfigLoader {
	if path == "" {
		path = DefaultPath
	}
	return &ConfigLoader{filePath: path, lookup: os.LookupEnv}
}

// Path returns the configuration file path.
func (l *ConfigLoader) Path() string {
	return l.filePath
}

// Load reads the file, applies environment overrides and validates.
func (l *ConfigLoader) Load() (domain.Config, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return domain.Config{}, fmt.Errorf("reading config %s: %w", l.filePath, err)
	}

	cfg, err := Decode(data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("%s: %w", l.filePath, err)
	}
	if err := applyEnv(&cfg, l.lookup); err != nil {
		return domain.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return domain.Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML on top of domain.DefaultConfig. Unknown keys are
// rejected. The result is not validated.
func Decode(data []byte) (domain.Config, error) {
	cfg := domain.DefaultConfig()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return domain.Config{}, fmt.Errorf("%w: unknown settings:\n%s", domain.ErrInvalidConfig, strict.String())
		}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return domain.Config{}, fmt.Errorf("%w: line %d column %d: %s", domain.ErrInvalidConfig, row, col, decErr.Error())
		}
		return domain.Config{}, fmt.Errorf("%w: %w", domain.ErrInvalidConfig, err)
	}

	for i := range cfg.Inputs {
		if cfg.Inputs[i].LogFormat == "" {
			cfg.Inputs[i].LogFormat = domain.LogFormatRaw
		}
	}
	return cfg, nil
}

// envOverride binds one environment variable to a setting.
type envOverride struct {
	name  string
	apply func(cfg *domain.Config, value string) error
}

var envOverrides = []envOverride{
	{"STATE_BACKEND", func(c *domain.Config, v string) error {
		c.State.Backend = domain.StateBackend(v)
		return nil
	}},
	{"STATE_PATH", func(c *domain.Config, v string) error {
		c.State.Path = v
		return nil
	}},
	{"PIPELINE_WORKERS", func(c *domain.Config, v string) error {
		return setInt(&c.Pipeline.Workers, v)
	}},
	{"OUTPUT_TYPE", func(c *domain.Config, v string) error {
		c.Output.Type = domain.SinkType(v)
		return nil
	}},
	{"OUTPUT_FILE_PATH", func(c *domain.Config, v string) error {
		c.Output.File.Path = v
		return nil
	}},
	{"OUTPUT_REDIS_ADDRESS", func(c *domain.Config, v string) error {
		c.Output.Redis.Address = v
		return nil
	}},
	{"OUTPUT_REDIS_PASSWORD", func(c *domain.Config, v string) error {
		c.Output.Redis.Password = v
		return nil
	}},
	{"OUTPUT_HTTP_URL", func(c *domain.Config, v string) error {
		c.Output.HTTP.URL = v
		return nil
	}},
	{"PUBLISHER_BATCH_SIZE", func(c *domain.Config, v string) error {
		return setInt(&c.Publisher.BatchSize, v)
	}},
}

// EnvNames lists the supported environment variables.
func EnvNames() []string {
	names := make([]string, len(envOverrides))
	for i, o := range envOverrides {
		names[i] = EnvPrefix + o.name
	}
	return names
}

func applyEnv(cfg *domain.Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s%s: %w", domain.ErrInvalidConfig, EnvPrefix, o.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}
