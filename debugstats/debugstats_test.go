package debugstats

import (
	"context"
	"testing"
	"time"

	"github.com/lefinal/vr-arbiter/dispatcher"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const timeout = 3 * time.Second

type statsStub struct {
	mock.Mock
}

func (s *statsStub) Stats(ctx context.Context) (dispatcher.Stats, error) {
	args := s.Called(ctx)
	return args.Get(0).(dispatcher.Stats), args.Error(1)
}

func TestNewService(t *testing.T) {
	t.Run("negative interval", func(t *testing.T) {
		_, err := NewService(zap.New(zapcore.NewNopCore()), Config{Interval: -time.Second}, nil)
		require.Error(t, err, "should fail")
		assert.True(t, errors.Is(err, errors.KindInvalidConfig))
	})
	t.Run("default interval", func(t *testing.T) {
		s, err := NewService(zap.New(zapcore.NewNopCore()), Config{IsEnabled: true}, nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultInterval, s.(*debugStatsService).config.Interval)
	})
}

func TestDisabled(t *testing.T) {
	s, err := NewService(zap.New(zapcore.NewNopCore()), Config{}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	assert.NoError(t, s.Run(ctx), "should return immediately")
	assert.NoError(t, ctx.Err(), "should not time out")
}

func TestLogStats(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	stats := &statsStub{}
	stats.On("Stats", mock.Anything).Return(dispatcher.Stats{
		RegisteredContexts: []vr.ContextID{"tab-a", "tab-b"},
		Displays:           2,
		Owners:             map[vr.DisplayID]vr.ContextID{1: "tab-a"},
		Polling:            true,
		Polls:              42,
	}, nil)
	s, err := NewService(zap.New(core), Config{IsEnabled: true, Interval: time.Millisecond}, stats)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("debug system stats").Len() > 0
	}, timeout, time.Millisecond, "should log stats")
	cancel()
	<-done
	entry := logs.FilterMessage("debug system stats").All()[0]
	fields := entry.ContextMap()
	assert.EqualValues(t, 2, fields["registered_contexts"])
	assert.EqualValues(t, 1, fields["presenting_displays"])
	assert.EqualValues(t, 42, fields["polls"])
	assert.NotContains(t, fields, "stack", "should not include stack by default")
}
