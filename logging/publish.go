package logging

import (
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// DefaultPublishBuffer is the number of entries buffered for publishing.
const DefaultPublishBuffer = 256

// NoPublishLoggerName marks loggers whose entries are never published when
// part of the logger name. Used for the publisher itself so that publish
// errors do not loop.
const NoPublishLoggerName = "log-publish"

// LogEntry is a log entry to publish.
type LogEntry struct {
	Time       time.Time
	Message    string
	Level      zapcore.Level
	LoggerName string
	Fields     map[string]any
}

// publishCore is a zapcore.Core forwarding entries to a channel. Entries are
// dropped if the channel is full.
type publishCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	out    chan<- LogEntry
}

// NewPublishCore creates a zapcore.Core that forwards entries to the returned
// channel. Entries from loggers with NoPublishLoggerName in their name are
// omitted.
func NewPublishCore(level zapcore.LevelEnabler, buffer int) (zapcore.Core, <-chan LogEntry) {
	out := make(chan LogEntry, buffer)
	return &publishCore{
		LevelEnabler: level,
		out:          out,
	}, out
}

func (c *publishCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &publishCore{
		LevelEnabler: c.LevelEnabler,
		fields:       combined,
		out:          c.out,
	}
}

func (c *publishCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) || strings.Contains(entry.LoggerName, NoPublishLoggerName) {
		return checked
	}
	return checked.AddCore(entry, c)
}

func (c *publishCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}
	select {
	case c.out <- LogEntry{
		Time:       entry.Time,
		Message:    entry.Message,
		Level:      entry.Level,
		LoggerName: entry.LoggerName,
		Fields:     enc.Fields,
	}:
	default:
	}
	return nil
}

func (c *publishCore) Sync() error {
	return nil
}
