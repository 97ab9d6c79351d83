// Package sink builds the configured output.
package sink

import (
	"fmt"
	"io"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/console"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink/file"
	httpsink "github.com/sequra/s3logsbeat/internal/adapters/driven/sink/http"
	redissink "github.com/sequra/s3logsbeat/internal/adapters/driven/sink/redis"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// NewFromConfig creates the sink selected by cfg.Type. stdout is the console
// destination; nil means os.Stdout.
func NewFromConfig(cfg domain.OutputConfig, stdout io.Writer) (driven.Sink, error) {
	switch cfg.Type {
	case domain.SinkTypeConsole, "":
		return console.New(stdout), nil
	case domain.SinkTypeFile:
		s, err := file.Open(cfg.File.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case domain.SinkTypeRedis:
		s, err := redissink.New(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case domain.SinkTypeHTTP:
		s, err := httpsink.New(cfg.HTTP, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: output type %q", domain.ErrUnsupportedType, cfg.Type)
	}
}
