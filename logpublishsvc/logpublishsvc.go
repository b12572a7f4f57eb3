// Package logpublishsvc publishes log entries via MQTT so that remote tools
// can follow the arbiter's log.
package logpublishsvc

import (
	"context"
	"time"

	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/logging"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/lefinal/vr-arbiter/service"
	"go.uber.org/zap"
)

// TopicLogPublish is the topic to publish log entries to.
const TopicLogPublish portal.Topic = "vr/log/next"

const (
	// flushDelay is the time between the first entry of a batch and
	// publishing the batch.
	flushDelay = 100 * time.Millisecond
	// maxBatchSize flushes batches early.
	maxBatchSize = 64
	// shutdownFlushTimeout bounds publishing of the last batch after the
	// service was stopped.
	shutdownFlushTimeout = time.Second
)

type logPublishService struct {
	logger  *zap.Logger
	portal  portal.Portal
	entries <-chan logging.LogEntry
	// batch holds converted entries that are not published yet.
	batch []event.NextLogEntryEvent
}

// New creates a service.Service that publishes entries read from the given
// channel to TopicLogPublish. Entries are collected in batches in order to not
// publish on each log call.
func New(logger *zap.Logger, p portal.Portal, entries <-chan logging.LogEntry) service.Service {
	return &logPublishService{
		logger:  logger,
		portal:  p,
		entries: entries,
		batch:   make([]event.NextLogEntryEvent, 0, maxBatchSize),
	}
}

func (s *logPublishService) Run(ctx context.Context) error {
	flushTimer := time.NewTimer(flushDelay)
	flushTimer.Stop()
	defer flushTimer.Stop()
	defer s.flushOnShutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, more := <-s.entries:
			if !more {
				return nil
			}
			if len(s.batch) == 0 {
				flushTimer.Reset(flushDelay)
			}
			s.batch = append(s.batch, nextLogEntryEvent(entry))
			if len(s.batch) >= maxBatchSize {
				flushTimer.Stop()
				s.flush(ctx)
			}
		case <-flushTimer.C:
			s.flush(ctx)
		}
	}
}

// flush publishes and clears the current batch.
func (s *logPublishService) flush(ctx context.Context) {
	for _, e := range s.batch {
		s.portal.Publish(ctx, TopicLogPublish, e)
	}
	clear(s.batch)
	s.batch = s.batch[:0]
}

func (s *logPublishService) flushOnShutdown() {
	if len(s.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	s.logger.Debug("publishing remaining log entries", zap.Int("entries", len(s.batch)))
	s.flush(ctx)
}

func nextLogEntryEvent(entry logging.LogEntry) event.NextLogEntryEvent {
	return event.NextLogEntryEvent{
		Time:       entry.Time,
		Message:    entry.Message,
		Level:      entry.Level.String(),
		LoggerName: entry.LoggerName,
		Fields:     entry.Fields,
	}
}
