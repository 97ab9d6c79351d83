package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sequra/s3logsbeat/internal/adapters/driven/config/file"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/objectstore/local"
	s3store "github.com/sequra/s3logsbeat/internal/adapters/driven/objectstore/s3"
	sqsqueue "github.com/sequra/s3logsbeat/internal/adapters/driven/queue/sqs"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/sink"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/storage/memory"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/storage/pebblestore"
	"github.com/sequra/s3logsbeat/internal/adapters/driven/storage/sqlite"
	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
	"github.com/sequra/s3logsbeat/internal/core/services"
	"github.com/sequra/s3logsbeat/internal/logger"
	"github.com/sequra/s3logsbeat/internal/parsers"
)

// loadConfig reads the file named by --config.
func loadConfig() (domain.Config, error) {
	loader := file.NewConfigLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return domain.Config{}, err
	}
	logger.Debug("Loaded configuration from %s", loader.Path())
	return cfg, nil
}

// openStateStore opens the configured state backend.
func openStateStore(cfg domain.StateConfig) (driven.StateStore, error) {
	switch cfg.Backend {
	case domain.StateBackendSQLite:
		s, err := sqlite.NewStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStateStore, err)
		}
		logger.Debug("Using sqlite state store at %s", s.Path())
		return s, nil
	case domain.StateBackendPebble:
		s, err := pebblestore.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStateStore, err)
		}
		logger.Debug("Using pebble state store at %s", s.Path())
		return s, nil
	case domain.StateBackendMemory:
		logger.Warn("Using in-memory state store; progress is lost on exit")
		return memory.NewStateStore(), nil
	default:
		return nil, fmt.Errorf("%w: state backend %q", domain.ErrUnsupportedType, cfg.Backend)
	}
}

// buildSources binds every input to its object store and parser. An s3
// input yields one source per bucket URI, an sqs input one per queue.
func buildSources(ctx context.Context, inputs []domain.InputConfig) ([]*services.Source, error) {
	var sources []*services.Source
	for i, in := range inputs {
		parser, err := parsers.New(in.LogFormat, in.LogFormatOptions)
		if err != nil {
			return nil, fmt.Errorf("inputs[%d]: %w", i, err)
		}

		switch in.Type {
		case domain.InputTypeS3:
			for _, uri := range in.Buckets {
				bucket, prefix, err := s3store.ParseURI(uri)
				if err != nil {
					return nil, fmt.Errorf("inputs[%d]: %w", i, err)
				}
				store, err := s3store.NewFromConfig(ctx, bucket, in)
				if err != nil {
					return nil, fmt.Errorf("inputs[%d]: %w", i, err)
				}
				src, err := services.NewSource(uri, in, store, parser, []string{prefix})
				if err != nil {
					return nil, err
				}
				sources = append(sources, src)
			}
		case domain.InputTypeSQS:
			// Notifications name their bucket, so one store opens them all.
			store, err := s3store.NewFromConfig(ctx, "", in)
			if err != nil {
				return nil, fmt.Errorf("inputs[%d]: %w", i, err)
			}
			for _, queueURL := range in.Queues {
				queue, err := sqsqueue.NewFromConfig(ctx, queueURL, in)
				if err != nil {
					return nil, fmt.Errorf("inputs[%d]: %w", i, err)
				}
				src, err := services.NewQueueSource(queueURL, in, queue, store, parser)
				if err != nil {
					return nil, err
				}
				sources = append(sources, src)
			}
		case domain.InputTypeLog:
			src, err := services.NewSource(fmt.Sprintf("inputs[%d]", i), in, local.New(in.Paths...), parser, in.Paths)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		default:
			return nil, fmt.Errorf("inputs[%d]: %w: input type %q", i, domain.ErrUnsupportedType, in.Type)
		}
	}
	return sources, nil
}

// newPipeline assembles the pipeline services around the given adapters.
func newPipeline(
	cfg domain.Config,
	once bool,
	sources []*services.Source,
	states driven.StateStore,
	out driven.Sink,
) *services.Pipeline {
	counters := services.NewCounters()
	backoff := services.NewBackoff(cfg.Backoff)
	publisher := services.NewPublisher(cfg.Publisher, cfg.Pipeline.ShutdownTimeout.Std(), out, backoff, counters)
	pool := services.NewHarvesterPool(cfg.Pipeline, states, services.NewRecordReader(cfg.Reader), publisher, backoff, counters)
	return services.NewPipeline(
		services.PipelineOptions{
			PollFrequency: cfg.Lister.PollFrequency.Std(),
			Once:          once,
			FullScanEvery: cfg.Lister.FullScanEvery,
		},
		sources,
		states,
		services.NewLister(cfg.Lister, backoff),
		pool,
		publisher,
		counters,
	)
}

// runPipeline wires every adapter from cfg and runs until ctx is done, or
// until all objects are processed when once is set.
func runPipeline(ctx context.Context, cfg domain.Config, once bool, stdout io.Writer) (err error) {
	states, err := openStateStore(cfg.State)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := states.Close(); cerr != nil {
			logger.Warn("Closing state store: %v", cerr)
		}
	}()

	out, err := sink.NewFromConfig(cfg.Output, stdout)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	sources, err := buildSources(ctx, cfg.Inputs)
	if err != nil {
		return err
	}

	p := newPipeline(cfg, once, sources, states, out)
	runErr := p.Run(ctx)

	st := p.Status()
	logger.Info("Objects: %d listed, %d completed, %d failed. Records: %d acked, %d malformed",
		st.ObjectsListed, st.ObjectsCompleted, st.ObjectsFailed, st.RecordsAcked, st.RecordsMalformed)
	if st.MessagesReceived > 0 {
		logger.Info("Messages: %d received, %d deleted", st.MessagesReceived, st.MessagesDeleted)
	}
	return runErr
}
