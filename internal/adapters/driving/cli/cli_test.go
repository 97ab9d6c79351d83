package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/services"
	"github.com/sequra/s3logsbeat/internal/logger"
)

// syncBuffer is a concurrency-safe log sink.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv is a workspace holding a config, a log directory, a data
// directory and the output file.
type testEnv struct {
	dir    string
	config string
	logs   string
	output string
	log    *syncBuffer
}

var fileMTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, backend string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:    dir,
		config: filepath.Join(dir, "s3logsbeat.toml"),
		logs:   filepath.Join(dir, "logs"),
		output: filepath.Join(dir, "out", "events.ndjson"),
		log:    &syncBuffer{},
	}
	require.NoError(t, os.MkdirAll(env.logs, 0755))

	cfg := fmt.Sprintf(`
[pipeline]
shutdown_timeout = "5s"

[publisher]
flush_interval = "10ms"

[backoff]
initial = "10ms"
max = "50ms"

[state]
backend = %q
path = %q

[output]
type = "file"

[output.file]
path = %q

[[inputs]]
type = "log"
paths = [%q]

[inputs.fields]
env = "test"
`, backend, filepath.Join(dir, "data"), env.output, filepath.Join(env.logs, "*.log"))
	require.NoError(t, os.WriteFile(env.config, []byte(cfg), 0600))

	logger.SetOutput(env.log)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
		runOnce = false
		stateListIncomplete = false
		importSince = ""
		importTo = ""
	})
	return env
}

func (e *testEnv) writeLog(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.logs, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, fileMTime, fileMTime))
	return path
}

func (e *testEnv) outputDocs(t *testing.T) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(e.output)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var docs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var doc map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &doc))
		docs = append(docs, doc)
	}
	return docs
}

func (e *testEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(append(args, "--config", e.config))
	defer func() {
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func messages(docs []map[string]any) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i], _ = d["message"].(string)
	}
	return out
}

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "s3logsbeat", rootCmd.Use)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
}

func TestRootCmd_Subcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "import", "state", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRunCmd_Once(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	env.writeLog(t, "a.log", "one\ntwo\n")
	env.writeLog(t, "b.log", "three\n")

	_, err := env.execute(t, "run", "--once")
	require.NoError(t, err)

	docs := env.outputDocs(t)
	assert.ElementsMatch(t, []string{"one", "two", "three"}, messages(docs))
	for _, d := range docs {
		assert.Equal(t, map[string]any{"env": "test"}, d["fields"])
		assert.Contains(t, d["source"], "file://")
		assert.NotEmpty(t, d["@timestamp"])
	}
	assert.Contains(t, env.log.String(), services.ReadyMessage)
}

func TestRunCmd_OnceResumesWithoutDuplicates(t *testing.T) {
	for _, backend := range []string{"sqlite", "pebble"} {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			path := env.writeLog(t, "a.log", "one\ntwo\n")

			_, err := env.execute(t, "run", "--once")
			require.NoError(t, err)
			require.Len(t, env.outputDocs(t), 2)

			// A second run over unchanged input delivers nothing.
			_, err = env.execute(t, "run", "--once")
			require.NoError(t, err)
			require.Len(t, env.outputDocs(t), 2)

			// Appended lines are delivered from the stored offset.
			f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
			require.NoError(t, err)
			_, err = f.WriteString("three\n")
			require.NoError(t, err)
			require.NoError(t, f.Close())
			later := fileMTime.Add(time.Minute)
			require.NoError(t, os.Chtimes(path, later, later))

			_, err = env.execute(t, "run", "--once")
			require.NoError(t, err)
			assert.Equal(t, []string{"one", "two", "three"}, messages(env.outputDocs(t)))
		})
	}
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	require.NoError(t, os.WriteFile(env.config, []byte("[pipeline]\nworkers = -1\n"), 0600))

	_, err := env.execute(t, "run", "--once")
	assert.Error(t, err)
}

func TestRunCmd_MissingConfig(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	require.NoError(t, os.Remove(env.config))

	_, err := env.execute(t, "run", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3logsbeat.toml")
}

func TestImportCmd_Window(t *testing.T) {
	env := newTestEnv(t, "memory")
	env.writeLog(t, "a.log", "one\n")

	// Outside the window nothing is harvested.
	_, err := env.execute(t, "import", "--since", "2024-04-01", "--to", "2024-05-01")
	require.NoError(t, err)
	assert.Empty(t, env.outputDocs(t))

	out, err := env.execute(t, "import", "--since", "2024-03-01", "--to", "2024-03-02")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03-01T00:00:00Z")
	assert.Equal(t, []string{"one"}, messages(env.outputDocs(t)))
}

func TestImportCmd_InvalidWindow(t *testing.T) {
	env := newTestEnv(t, "memory")

	_, err := env.execute(t, "import", "--since", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since")

	_, err = env.execute(t, "import", "--since", "2024-03-02", "--to", "2024-03-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before")

	_, err = env.execute(t, "import", "--since", "2024-03-01", "--to", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--to")
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-03-01T10:30:00", time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{"2024-03-01T10:30:00+02:00", time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), tt.in)
		assert.Equal(t, time.UTC, got.Location())
	}

	_, err := parseTime("01/03/2024")
	assert.Error(t, err)
}

func TestStateCmd_ListAndReset(t *testing.T) {
	env := newTestEnv(t, "sqlite")
	path := env.writeLog(t, "a.log", "one\ntwo\n")

	out, err := env.execute(t, "state", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tracked objects.")

	_, err = env.execute(t, "run", "--once")
	require.NoError(t, err)

	out, err = env.execute(t, "state", "list")
	require.NoError(t, err)
	assert.Contains(t, out, path)
	assert.Contains(t, out, "8 B of 8 B")
	assert.Contains(t, out, "Total: 1 objects")

	out, err = env.execute(t, "state", "reset", path)
	require.NoError(t, err)
	assert.Contains(t, out, "reset")

	out, err = env.execute(t, "state", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No tracked objects.")

	// The object is delivered again after a reset.
	_, err = env.execute(t, "run", "--once")
	require.NoError(t, err)
	assert.Len(t, env.outputDocs(t), 4)
}

func TestStateCmd_ResetUnknownKey(t *testing.T) {
	env := newTestEnv(t, "sqlite")

	_, err := env.execute(t, "state", "reset", "/nope.log")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no read state")
}

func TestStateCmd_ResetRequiresKey(t *testing.T) {
	env := newTestEnv(t, "sqlite")

	_, err := env.execute(t, "state", "reset")
	assert.Error(t, err)
}

func TestBuildSources_SQS(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	sources, err := buildSources(context.Background(), []domain.InputConfig{{
		Type: domain.InputTypeSQS,
		Queues: []string{
			"https://sqs.eu-west-1.amazonaws.com/123456789012/a",
			"https://sqs.eu-west-1.amazonaws.com/123456789012/b",
		},
		LogFormat: domain.LogFormatRaw,
		Region:    "eu-west-1",
	}})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	for _, src := range sources {
		assert.NotNil(t, src.Queue)
		assert.Empty(t, src.Prefixes)
	}
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/123456789012/b", sources[1].Queue.Name())
}
