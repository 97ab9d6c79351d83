package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from strings such as "30s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// InputType identifies where an input discovers objects.
type InputType string

// Available input types.
const (
	// InputTypeS3 lists objects in S3 buckets.
	InputTypeS3 InputType = "s3"

	// InputTypeLog globs files on the local filesystem.
	InputTypeLog InputType = "log"

	// InputTypeSQS receives S3 event notifications from SQS queues.
	InputTypeSQS InputType = "sqs"
)

// IsValid returns true if the input type is recognised.
func (t InputType) IsValid() bool {
	return t == InputTypeS3 || t == InputTypeLog || t == InputTypeSQS
}

// MaxQueueWaitTime is the longest long-poll SQS accepts.
const MaxQueueWaitTime = 20 * time.Second

// LogFormat names a record decoder.
type LogFormat string

// Available log formats.
const (
	LogFormatRaw        LogFormat = "raw"
	LogFormatJSON       LogFormat = "json"
	LogFormatELB        LogFormat = "elb"
	LogFormatALB        LogFormat = "alb"
	LogFormatCloudFront LogFormat = "cloudfront"
	LogFormatWAF        LogFormat = "waf"
	LogFormatCustom     LogFormat = "custom"
)

// IsValid returns true if the format is recognised.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatRaw, LogFormatJSON, LogFormatELB, LogFormatALB, LogFormatCloudFront, LogFormatWAF, LogFormatCustom:
		return true
	default:
		return false
	}
}

// StateBackend selects the State Store implementation.
type StateBackend string

// Available state backends.
const (
	StateBackendSQLite StateBackend = "sqlite"
	StateBackendPebble StateBackend = "pebble"
	StateBackendMemory StateBackend = "memory"
)

// IsValid returns true if the backend is recognised.
func (b StateBackend) IsValid() bool {
	switch b {
	case StateBackendSQLite, StateBackendPebble, StateBackendMemory:
		return true
	default:
		return false
	}
}

// SinkType selects the output implementation.
type SinkType string

// Available sink types.
const (
	SinkTypeConsole SinkType = "console"
	SinkTypeFile    SinkType = "file"
	SinkTypeRedis   SinkType = "redis"
	SinkTypeHTTP    SinkType = "http"
)

// IsValid returns true if the sink type is recognised.
func (s SinkType) IsValid() bool {
	switch s {
	case SinkTypeConsole, SinkTypeFile, SinkTypeRedis, SinkTypeHTTP:
		return true
	default:
		return false
	}
}

// Config is the complete agent configuration.
type Config struct {
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Lister    ListerConfig    `toml:"lister"`
	Publisher PublisherConfig `toml:"publisher"`
	Reader    ReaderConfig    `toml:"reader"`
	Backoff   BackoffConfig   `toml:"backoff"`
	State     StateConfig     `toml:"state"`
	Output    OutputConfig    `toml:"output"`
	Inputs    []InputConfig   `toml:"inputs"`
}

// PipelineConfig sizes the harvester pool.
type PipelineConfig struct {
	// Workers is the number of concurrent harvesters.
	Workers int `toml:"workers"`

	// QueueSize bounds the admission queue.
	QueueSize int `toml:"queue_size"`

	// MaxObjectRetries is the harvest attempt budget per object.
	MaxObjectRetries int `toml:"max_object_retries"`

	// ShutdownTimeout bounds the final flush.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// ListerConfig controls discovery.
type ListerConfig struct {
	PollFrequency Duration `toml:"poll_frequency"`
	MaxRetries    int      `toml:"max_retries"`

	// Lookback is subtracted from the newest LastModified seen when the
	// listing cursor advances. An object that becomes visible later than
	// Lookback after its LastModified, such as a large multipart upload
	// stamped with its initiation time, is only found by a full scan.
	Lookback Duration `toml:"lookback"`

	// FullScanEvery lists from the beginning every N cycles, ignoring the
	// cursor. Zero disables full scans.
	FullScanEvery int `toml:"full_scan_every"`

	// RequestsPerSecond throttles listing API calls. Zero disables throttling.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// PublisherConfig controls batching and delivery.
type PublisherConfig struct {
	BatchSize     int      `toml:"batch_size"`
	BatchBytes    int      `toml:"batch_bytes"`
	FlushInterval Duration `toml:"flush_interval"`
	QueueSize     int      `toml:"queue_size"`
	MaxRetries    int      `toml:"max_retries"`
	SendTimeout   Duration `toml:"send_timeout"`
}

// ReaderConfig controls record decoding.
type ReaderConfig struct {
	MaxLineBytes int `toml:"max_line_bytes"`
}

// BackoffConfig parameterises every exponential backoff in the pipeline.
type BackoffConfig struct {
	Initial    Duration `toml:"initial"`
	Max        Duration `toml:"max"`
	Multiplier float64  `toml:"multiplier"`

	// Jitter is the randomised fraction of each delay, in [0, 1].
	Jitter float64 `toml:"jitter"`
}

// StateConfig selects and locates the State Store.
type StateConfig struct {
	Backend StateBackend `toml:"backend"`

	// Path is the data directory holding the store files.
	Path string `toml:"path"`
}

// OutputConfig selects and configures the sink.
type OutputConfig struct {
	Type  SinkType          `toml:"type"`
	File  FileOutputConfig  `toml:"file"`
	Redis RedisOutputConfig `toml:"redis"`
	HTTP  HTTPOutputConfig  `toml:"http"`
}

// FileOutputConfig configures the file sink.
type FileOutputConfig struct {
	Path string `toml:"path"`
}

// RedisOutputConfig configures the redis sink.
type RedisOutputConfig struct {
	Address  string   `toml:"address"`
	Key      string   `toml:"key"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	Timeout  Duration `toml:"timeout"`
}

// HTTPOutputConfig configures the http sink.
type HTTPOutputConfig struct {
	URL     string            `toml:"url"`
	Headers map[string]string `toml:"headers"`
}

// InputConfig describes one source of log objects.
type InputConfig struct {
	Type InputType `toml:"type"`

	// Buckets are s3://bucket/prefix URIs (s3 inputs).
	Buckets []string `toml:"buckets"`

	// Paths are filesystem globs (log inputs).
	Paths []string `toml:"paths"`

	// Queues are SQS queue URLs receiving S3 event notifications (sqs inputs).
	Queues []string `toml:"queues"`

	// WaitTime is the SQS long-poll duration. Zero uses MaxQueueWaitTime.
	WaitTime Duration `toml:"wait_time"`

	// VisibilityTimeout overrides the queue's visibility timeout for
	// received messages. Zero keeps the queue setting.
	VisibilityTimeout Duration `toml:"visibility_timeout"`

	// KeepMessages leaves processed messages on the queue.
	KeepMessages bool `toml:"keep_messages"`

	LogFormat        LogFormat         `toml:"log_format"`
	LogFormatOptions map[string]string `toml:"log_format_options"`

	// KeyRegexFields extracts named groups from the object key into event fields.
	KeyRegexFields string `toml:"key_regex_fields"`

	// Fields are added to every event of this input.
	Fields map[string]any `toml:"fields"`

	// Since and To restrict harvesting to objects modified in [Since, To).
	// Zero values leave the window open.
	Since time.Time `toml:"since"`
	To    time.Time `toml:"to"`

	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// InWindow reports whether t falls inside the input's since/to window.
func (c InputConfig) InWindow(t time.Time) bool {
	if !c.Since.IsZero() && t.Before(c.Since) {
		return false
	}
	if !c.To.IsZero() && !t.Before(c.To) {
		return false
	}
	return true
}

// DefaultConfig returns the configuration used when a setting is absent.
func DefaultConfig() Config {
	return Config{
		Pipeline: PipelineConfig{
			Workers:          4,
			QueueSize:        64,
			MaxObjectRetries: 5,
			ShutdownTimeout:  Duration(30 * time.Second),
		},
		Lister: ListerConfig{
			PollFrequency:     Duration(time.Minute),
			MaxRetries:        3,
			Lookback:          Duration(10 * time.Minute),
			FullScanEvery:     60,
			RequestsPerSecond: 5,
			Burst:             1,
		},
		Publisher: PublisherConfig{
			BatchSize:     500,
			BatchBytes:    1 << 20,
			FlushInterval: Duration(time.Second),
			QueueSize:     4096,
			MaxRetries:    8,
			SendTimeout:   Duration(30 * time.Second),
		},
		Reader: ReaderConfig{
			MaxLineBytes: 1 << 20,
		},
		Backoff: BackoffConfig{
			Initial:    Duration(time.Second),
			Max:        Duration(time.Minute),
			Multiplier: 2,
			Jitter:     0.2,
		},
		State: StateConfig{
			Backend: StateBackendSQLite,
			Path:    "data",
		},
		Output: OutputConfig{
			Type: SinkTypeConsole,
			Redis: RedisOutputConfig{
				Address: "localhost:6379",
				Key:     "s3logsbeat",
				Timeout: Duration(5 * time.Second),
			},
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Pipeline.Workers <= 0 {
		add("pipeline.workers must be positive")
	}
	if c.Pipeline.QueueSize <= 0 {
		add("pipeline.queue_size must be positive")
	}
	if c.Pipeline.MaxObjectRetries <= 0 {
		add("pipeline.max_object_retries must be positive")
	}
	if c.Lister.PollFrequency <= 0 {
		add("lister.poll_frequency must be positive")
	}
	if c.Lister.MaxRetries < 0 || c.Publisher.MaxRetries < 0 {
		add("max_retries must not be negative")
	}
	if c.Lister.Lookback < 0 {
		add("lister.lookback must not be negative")
	}
	if c.Lister.FullScanEvery < 0 {
		add("lister.full_scan_every must not be negative")
	}
	if c.Publisher.BatchSize <= 0 || c.Publisher.BatchBytes <= 0 {
		add("publisher batch limits must be positive")
	}
	if c.Publisher.FlushInterval <= 0 {
		add("publisher.flush_interval must be positive")
	}
	if c.Publisher.QueueSize <= 0 {
		add("publisher.queue_size must be positive")
	}
	if c.Reader.MaxLineBytes <= 0 {
		add("reader.max_line_bytes must be positive")
	}
	if c.Backoff.Initial <= 0 || c.Backoff.Max < c.Backoff.Initial {
		add("backoff.initial must be positive and not above backoff.max")
	}
	if c.Backoff.Multiplier < 1 {
		add("backoff.multiplier must be at least 1")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter > 1 {
		add("backoff.jitter must be within [0, 1]")
	}
	if !c.State.Backend.IsValid() {
		add("state.backend %q is not supported", c.State.Backend)
	} else if c.State.Backend != StateBackendMemory && c.State.Path == "" {
		add("state.path is required for the %s backend", c.State.Backend)
	}

	switch c.Output.Type {
	case SinkTypeConsole:
	case SinkTypeFile:
		if c.Output.File.Path == "" {
			add("output.file.path is required")
		}
	case SinkTypeRedis:
		if c.Output.Redis.Address == "" || c.Output.Redis.Key == "" {
			add("output.redis.address and output.redis.key are required")
		}
	case SinkTypeHTTP:
		if c.Output.HTTP.URL == "" {
			add("output.http.url is required")
		}
	default:
		add("output.type %q is not supported", c.Output.Type)
	}

	if len(c.Inputs) == 0 {
		add("at least one input is required")
	}
	for i, in := range c.Inputs {
		if err := in.Validate(); err != nil {
			add("inputs[%d]: %v", i, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks one input.
func (c InputConfig) Validate() error {
	switch c.Type {
	case InputTypeS3:
		if len(c.Buckets) == 0 {
			return fmt.Errorf("buckets are required for s3 inputs")
		}
		for _, b := range c.Buckets {
			if !strings.HasPrefix(b, "s3://") || len(b) == len("s3://") {
				return fmt.Errorf("bucket %q must be an s3://bucket[/prefix] URI", b)
			}
		}
	case InputTypeLog:
		if len(c.Paths) == 0 {
			return fmt.Errorf("paths are required for log inputs")
		}
	case InputTypeSQS:
		if len(c.Queues) == 0 {
			return fmt.Errorf("queues are required for sqs inputs")
		}
		for _, q := range c.Queues {
			if !strings.HasPrefix(q, "https://") && !strings.HasPrefix(q, "http://") {
				return fmt.Errorf("queue %q must be a queue URL", q)
			}
		}
		if c.WaitTime < 0 || c.WaitTime.Std() > MaxQueueWaitTime {
			return fmt.Errorf("wait_time must be within [0s, %s]", MaxQueueWaitTime)
		}
		if c.VisibilityTimeout < 0 || c.VisibilityTimeout.Std() > 12*time.Hour {
			return fmt.Errorf("visibility_timeout must be within [0s, 12h]")
		}
	default:
		return fmt.Errorf("type %q is not supported", c.Type)
	}
	if !c.LogFormat.IsValid() {
		return fmt.Errorf("log_format %q is not supported", c.LogFormat)
	}
	if c.KeyRegexFields != "" {
		if _, err := regexp.Compile(c.KeyRegexFields); err != nil {
			return fmt.Errorf("key_regex_fields: %w", err)
		}
	}
	if !c.Since.IsZero() && !c.To.IsZero() && !c.Since.Before(c.To) {
		return fmt.Errorf("since must be before to")
	}
	return nil
}
