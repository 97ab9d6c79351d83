package driven

import "github.com/sequra/s3logsbeat/internal/core/domain"

// ConfigLoader provides the agent configuration.
// Implementations handle persistence (e.g., TOML files) and apply defaults.
type ConfigLoader interface {
	// Load reads, defaults and validates the configuration.
	Load() (domain.Config, error)

	// Path returns the configuration file path.
	Path() string
}
