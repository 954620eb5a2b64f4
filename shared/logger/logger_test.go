package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	output := &bytes.Buffer{}
	cfg.writer = output
	logger, err := New(&cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	return logger, output
}

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	return entry
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		emit   func(logger *Logger)
		check  func(t *testing.T, output *bytes.Buffer)
	}{
		{
			name:   "json format carries job attributes",
			config: Config{Level: "info", Format: "json"},
			emit: func(logger *Logger) {
				logger.Info("Job submitted",
					slog.String("job_id", "2f6c1d8e"),
					slog.String("correlation_id", "daily-2026-08-31"),
				)
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entry := decodeLine(t, strings.TrimSpace(output.String()))
				assert.Equal(t, "INFO", entry["level"])
				assert.Equal(t, "Job submitted", entry["msg"])
				assert.Equal(t, "2f6c1d8e", entry["job_id"])
				assert.Equal(t, "daily-2026-08-31", entry["correlation_id"])
				assert.Contains(t, entry, "time")
			},
		},
		{
			name:   "info level drops pipeline debug chatter",
			config: Config{Level: "info", Format: "json"},
			emit: func(logger *Logger) {
				logger.Debug("Articles fetched", slog.Int("count", 4))
				logger.Info("Winner selected", slog.Float64("score", 0.81))
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				require.Len(t, lines, 1)
				entry := decodeLine(t, lines[0])
				assert.Equal(t, "Winner selected", entry["msg"])
				assert.Equal(t, 0.81, entry["score"])
			},
		},
		{
			name:   "warn level keeps dead-letter warnings only",
			config: Config{Level: "warn", Format: "json"},
			emit: func(logger *Logger) {
				logger.Info("Job completed", slog.String("job_id", "a1"))
				logger.Warn("Message dead-lettered",
					slog.String("handle", "lease-9"),
					slog.String("reason", "FETCH_ERROR"),
				)
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				require.Len(t, lines, 1)
				entry := decodeLine(t, lines[0])
				assert.Equal(t, "WARN", entry["level"])
				assert.Equal(t, "Message dead-lettered", entry["msg"])
				assert.Equal(t, "FETCH_ERROR", entry["reason"])
			},
		},
		{
			name:   "error level records backend failures",
			config: Config{Level: "error", Format: "json"},
			emit: func(logger *Logger) {
				logger.Warn("Queue health check failed")
				logger.Error("Failed to mark unenqueued job as failed",
					slog.String("job_id", "a2"),
					slog.Any("error", errors.New("connection refused")),
				)
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				lines := strings.Split(strings.TrimSpace(output.String()), "\n")
				require.Len(t, lines, 1)
				entry := decodeLine(t, lines[0])
				assert.Equal(t, "ERROR", entry["level"])
				assert.Equal(t, "a2", entry["job_id"])
				assert.Equal(t, "connection refused", entry["error"])
			},
		},
		{
			name:   "console format renders through tint",
			config: Config{Level: "info", Format: "console", TimeFormat: time.RFC3339},
			emit: func(logger *Logger) {
				logger.Info("Worker service started successfully")
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				// tint abbreviates the level to INF.
				assert.Contains(t, output.String(), "INF")
				assert.Contains(t, output.String(), "Worker service started successfully")
			},
		},
		{
			name:   "unknown format falls back to json",
			config: Config{Level: "info", Format: "logfmt"},
			emit: func(logger *Logger) {
				logger.Info("Storage schema initialized", slog.Int("schema_version", 1))
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entry := decodeLine(t, strings.TrimSpace(output.String()))
				assert.Equal(t, "Storage schema initialized", entry["msg"])
				assert.Equal(t, float64(1), entry["schema_version"])
			},
		},
		{
			name:   "source location when enabled",
			config: Config{Level: "info", Format: "json", EnableSource: true},
			emit: func(logger *Logger) {
				logger.Info("Reclaimed expired queue leases", slog.Int64("count", 2))
			},
			check: func(t *testing.T, output *bytes.Buffer) {
				entry := decodeLine(t, strings.TrimSpace(output.String()))
				require.Contains(t, entry, "source")
				source := entry["source"].(map[string]interface{})
				assert.Contains(t, source["file"], "logger_test.go")
				assert.Contains(t, source, "line")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, output := newBufferedLogger(t, tt.config)
			tt.emit(logger)
			tt.check(t, output)
		})
	}
}

func TestNewDefault(t *testing.T) {
	logger := NewDefault()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "warn", want: slog.LevelWarn},
		{level: "warning", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		// Matching is case-sensitive; anything unrecognized means info.
		{level: "DEBUG", want: slog.LevelInfo},
		{level: "verbose", want: slog.LevelInfo},
		{level: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run("level "+tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level))
		})
	}
}

func TestLogger_WithGroup(t *testing.T) {
	logger, output := newBufferedLogger(t, Config{Level: "info", Format: "json"})

	jobLogger := logger.WithGroup("job")
	require.NotNil(t, jobLogger)

	jobLogger.Info("Job execution started",
		slog.String("id", "2f6c1d8e"),
		slog.String("status", "fetching"),
	)

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	require.Contains(t, entry, "job")
	group := entry["job"].(map[string]interface{})
	assert.Equal(t, "2f6c1d8e", group["id"])
	assert.Equal(t, "fetching", group["status"])
}

func TestLogger_WithAttrs(t *testing.T) {
	logger, output := newBufferedLogger(t, Config{Level: "info", Format: "json"})

	// Worker loops tag every record with their identity this way.
	workerLogger := logger.WithAttrs(
		slog.String("worker_id", "ip-10-0-1-7-3f2a9c1b"),
		slog.Int("slot", 1),
	)
	require.NotNil(t, workerLogger)

	workerLogger.Info("Processing delivery", slog.String("job_id", "2f6c1d8e"))

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "ip-10-0-1-7-3f2a9c1b", entry["worker_id"])
	assert.Equal(t, float64(1), entry["slot"])
	assert.Equal(t, "2f6c1d8e", entry["job_id"])
}

func TestLogger_With(t *testing.T) {
	logger, output := newBufferedLogger(t, Config{Level: "info", Format: "json"})

	apiLogger := logger.With(
		slog.String("service", "api-service"),
		slog.String("environment", "production"),
	)
	require.NotNil(t, apiLogger)

	apiLogger.Info("Post approved",
		slog.String("post_id", "7be20c11"),
		slog.String("actor", "editor"),
	)

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "api-service", entry["service"])
	assert.Equal(t, "production", entry["environment"])
	assert.Equal(t, "7be20c11", entry["post_id"])
	assert.Equal(t, "editor", entry["actor"])
}

func TestLogger_MixedAttributeTypes(t *testing.T) {
	logger, output := newBufferedLogger(t, Config{Level: "info", Format: "json"})

	logger.Info("Job completed",
		slog.String("job_id", "2f6c1d8e"),
		slog.Int("word_count", 742),
		slog.Bool("is_duplicate", false),
		slog.Float64("score", 0.731),
	)

	entry := decodeLine(t, strings.TrimSpace(output.String()))
	assert.Equal(t, "2f6c1d8e", entry["job_id"])
	assert.Equal(t, float64(742), entry["word_count"])
	assert.Equal(t, false, entry["is_duplicate"])
	assert.Equal(t, 0.731, entry["score"])
}
