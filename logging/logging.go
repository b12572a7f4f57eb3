// Package logging builds the zap.Logger used throughout the application.
package logging

import (
	"os"

	"github.com/gobuffalo/nulls"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings for log files.
const (
	DefaultMaxSizeMB = 100
	DefaultKeepDays  = 14
)

// Config for NewLogger.
type Config struct {
	// StdoutLevel is the minimum level for logging to stdout. It can be changed
	// at runtime with the returned zap.AtomicLevel.
	StdoutLevel zapcore.Level
	// HighPriorityOutput is an optional file for warnings and errors.
	HighPriorityOutput nulls.String
	// DebugOutput is an optional file that receives all entries.
	DebugOutput nulls.String
	// MaxSize is the maximum size of a log file in megabytes before rotating.
	MaxSize int
	// KeepDays is the maximum number of days to keep rotated files.
	KeepDays int
	// Publish enables the publish core returned by NewLogger.
	Publish bool
	// PublishLevel is the minimum level for published entries.
	PublishLevel zapcore.Level
}

// Logger holds the built zap.Logger along with its runtime controls.
type Logger struct {
	*zap.Logger
	// StdoutLevel controls the level of stdout output.
	StdoutLevel zap.AtomicLevel
	// Published receives entries for publishing if enabled in Config. Otherwise,
	// it is nil.
	Published <-chan LogEntry
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewLogger creates a Logger that tees to stdout, stderr for errors and the
// optional files from the Config.
func NewLogger(config Config) *Logger {
	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxSizeMB
	}
	if config.KeepDays == 0 {
		config.KeepDays = DefaultKeepDays
	}
	encConfig := encoderConfig()
	stdoutLevel := zap.NewAtomicLevelAt(config.StdoutLevel)
	cores := make([]zapcore.Core, 0)
	// Setup stdout logger with colorful level output.
	stdOutEncConfig := encConfig
	stdOutEncConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(stdOutEncConfig),
		zapcore.Lock(os.Stdout),
		stdoutLevel))
	// Setup error logger.
	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.Lock(os.Stderr),
		zap.ErrorLevel))
	if config.HighPriorityOutput.Valid {
		cores = append(cores, fileCore(encConfig, config.HighPriorityOutput.String, config, zap.WarnLevel))
	}
	if config.DebugOutput.Valid {
		cores = append(cores, fileCore(encConfig, config.DebugOutput.String, config, zap.DebugLevel))
	}
	var published <-chan LogEntry
	if config.Publish {
		var publishCore zapcore.Core
		publishCore, published = NewPublishCore(config.PublishLevel, DefaultPublishBuffer)
		cores = append(cores, publishCore)
	}
	return &Logger{
		Logger:      zap.New(zapcore.NewTee(cores...)),
		StdoutLevel: stdoutLevel,
		Published:   published,
	}
}

func fileCore(encConfig zapcore.EncoderConfig, filename string, config Config, level zapcore.LevelEnabler) zapcore.Core {
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename: filename,
			MaxSize:  config.MaxSize,
			MaxAge:   config.KeepDays,
		}),
		level)
}
