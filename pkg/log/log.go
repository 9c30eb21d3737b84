// Package log provides zerolog-based structured logging shared by every
// haste binary and package, grounded on cuemby-warren/pkg/log (global
// Logger, Level/Config, component child loggers). Extended with a
// combined cluster+task logger and checkpoint-phase logging for the
// driver's audit trail (spec.md §6), which the teacher's package has no
// analogue for.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Level represents a log level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger. An unrecognized Level falls back
// to Info but is reported on stderr immediately, since a typo'd
// --log-level flag would otherwise silently run a cluster's deploy at
// the wrong verbosity with no indication why.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	case "":
		level = zerolog.InfoLevel
	default:
		fmt.Fprintf(os.Stderr, "log: unrecognized level %q, defaulting to info\n", cfg.Level)
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTaskID creates a child logger with a task_id field.
func WithTaskID(taskID string) zerolog.Logger {
	return Logger.With().Str("task_id", taskID).Logger()
}

// WithClusterTask creates a child logger carrying both cluster and
// task_id fields, so every log line emitted during one deploy_cluster
// call correlates directly with the audit checkpoints written to
// /haste/clusters/<name>/audit/<task_id>/... under the same two keys.
func WithClusterTask(cluster, taskID string) zerolog.Logger {
	return Logger.With().Str("cluster", cluster).Str("task_id", taskID).Logger()
}

// CheckpointLogged logs a phase transition at debug level, using the
// same cluster/task_id pair the checkpoint was recorded under, so an
// operator reading logs sees the same phase sequence the audit trail in
// etcd records.
func CheckpointLogged(cluster, taskID, phase string) {
	WithClusterTask(cluster, taskID).Debug().Str("phase", phase).Msg("checkpoint")
}

func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
