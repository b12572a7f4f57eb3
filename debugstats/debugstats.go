package debugstats

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/lefinal/vr-arbiter/dispatcher"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/service"
	"go.uber.org/zap"
)

// DefaultInterval is used when no interval is set in the Config.
const DefaultInterval = 30 * time.Second

type Config struct {
	// IsEnabled describes whether periodic debug stats logging is desired.
	IsEnabled bool
	// Interval in which to log debug stats.
	Interval time.Duration
	// IncludeStack also logs the stack of all goroutines.
	IncludeStack bool
}

// StatsProvider provides arbitration stats to include.
type StatsProvider interface {
	Stats(ctx context.Context) (dispatcher.Stats, error)
}

type debugStatsService struct {
	logger *zap.Logger
	config Config
	stats  StatsProvider
}

func NewService(logger *zap.Logger, config Config, stats StatsProvider) (service.Service, error) {
	if config.Interval < 0 {
		return nil, errors.Error{
			Code:    errors.ErrFatal,
			Kind:    errors.KindInvalidConfig,
			Message: "negative debug stats interval",
			Details: errors.Details{"interval": config.Interval.String()},
		}
	}
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	return &debugStatsService{
		logger: logger,
		config: config,
		stats:  stats,
	}, nil
}

func (s *debugStatsService) Run(ctx context.Context) error {
	if !s.config.IsEnabled {
		return nil
	}
	s.logger.Debug(fmt.Sprintf("logging system state every %gs", s.config.Interval.Seconds()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.config.Interval):
			s.logSystemDebugStats(ctx)
		}
	}
}

// logSystemDebugStats logs the current system state like memory stats and
// arbitration stats.
func (s *debugStatsService) logSystemDebugStats(ctx context.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	fields := []zap.Field{
		zap.Int("num_cpu", runtime.NumCPU()),
		zap.Int("num_goroutine", runtime.NumGoroutine()),
		zap.Uint64("memory_in_use_mb", memStats.Sys/1000/1000),
	}
	if s.stats != nil {
		stats, err := s.stats.Stats(ctx)
		if err != nil {
			errors.Log(s.logger, errors.Wrap(err, "get dispatcher stats", nil))
		} else {
			fields = append(fields,
				zap.Int("registered_contexts", len(stats.RegisteredContexts)),
				zap.Int("displays", stats.Displays),
				zap.Int("presenting_displays", len(stats.Owners)),
				zap.Bool("polling", stats.Polling),
				zap.Uint64("polls", stats.Polls))
		}
	}
	if s.config.IncludeStack {
		buf := make([]byte, 1<<16)
		stackSize := runtime.Stack(buf, true)
		fields = append(fields, zap.String("stack", string(buf[0:stackSize])))
	}
	s.logger.Debug("debug system stats", fields...)
}
