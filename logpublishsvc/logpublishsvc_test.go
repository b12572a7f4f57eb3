package logpublishsvc

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/logging"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeout = 3 * time.Second

var entryTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func registryEntry(n int) logging.LogEntry {
	return logging.LogEntry{
		Time:       entryTime,
		Message:    fmt.Sprintf("display %d connected", n),
		Level:      zap.InfoLevel,
		LoggerName: "registry",
		Fields:     map[string]any{"display_id": n},
	}
}

func TestNew(t *testing.T) {
	logger := zap.New(zapcore.NewNopCore())
	portalStub := &portal.Stub{}
	entries := make(<-chan logging.LogEntry)
	s := New(logger, portalStub, entries).(*logPublishService)
	require.NotNil(t, s, "should create")
	assert.Equal(t, logger, s.logger, "should set correct logger")
	assert.Equal(t, portalStub, s.portal, "should set correct portal")
	assert.Equal(t, entries, s.entries, "should set correct entries channel")
	assert.Empty(t, s.batch, "should start with empty batch")
}

func TestNextLogEntryEvent(t *testing.T) {
	e := nextLogEntryEvent(logging.LogEntry{
		Time:       entryTime,
		Message:    "capability revoked",
		Level:      zap.WarnLevel,
		LoggerName: "dispatcher",
		Fields:     map[string]any{"context": "tab-a"},
	})
	assert.Equal(t, event.NextLogEntryEvent{
		Time:       entryTime,
		Message:    "capability revoked",
		Level:      "warn",
		LoggerName: "dispatcher",
		Fields:     map[string]any{"context": "tab-a"},
	}, e)
}

// logPublishServiceSuite runs the service with an unbuffered entry channel.
type logPublishServiceSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	portal    *portal.Stub
	entries   chan logging.LogEntry
	published chan event.NextLogEntryEvent
	runCtx    context.Context
	stop      context.CancelFunc
	wg        sync.WaitGroup
}

func (suite *logPublishServiceSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), timeout)
	suite.portal = &portal.Stub{}
	suite.entries = make(chan logging.LogEntry)
	suite.published = make(chan event.NextLogEntryEvent, 2*maxBatchSize)
	suite.portal.On("Publish", mock.Anything, TopicLogPublish, mock.Anything).
		Run(func(args mock.Arguments) {
			suite.published <- args.Get(2).(event.NextLogEntryEvent)
		})
	suite.runCtx, suite.stop = context.WithCancel(suite.ctx)
	s := New(zap.New(zapcore.NewNopCore()), suite.portal, suite.entries)
	suite.wg.Add(1)
	go func() {
		defer suite.wg.Done()
		suite.NoError(s.Run(suite.runCtx), "should not fail")
	}()
}

func (suite *logPublishServiceSuite) TearDownTest() {
	suite.stop()
	suite.wg.Wait()
	suite.cancel()
}

func (suite *logPublishServiceSuite) log(entry logging.LogEntry) {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "timeout while logging")
	case suite.entries <- entry:
	}
}

func (suite *logPublishServiceSuite) awaitPublished() event.NextLogEntryEvent {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "timeout while waiting for publish")
		return event.NextLogEntryEvent{}
	case e := <-suite.published:
		return e
	}
}

func (suite *logPublishServiceSuite) TestDelaysPublish() {
	start := time.Now()
	suite.log(registryEntry(1))
	suite.log(registryEntry(2))
	first := suite.awaitPublished()
	suite.GreaterOrEqual(time.Since(start), flushDelay, "should wait for more entries")
	suite.Equal("display 1 connected", first.Message)
	suite.Equal("display 2 connected", suite.awaitPublished().Message, "should keep order")
}

func (suite *logPublishServiceSuite) TestFullBatch() {
	for i := 0; i < maxBatchSize; i++ {
		suite.log(registryEntry(i))
	}
	// The full batch is published right away so that the next entry can be
	// received without waiting for the flush delay.
	for i := 0; i < maxBatchSize; i++ {
		suite.Equal(fmt.Sprintf("display %d connected", i), suite.awaitPublished().Message)
	}
}

func (suite *logPublishServiceSuite) TestFlushOnStop() {
	suite.log(registryEntry(7))
	suite.stop()
	suite.wg.Wait()
	select {
	case e := <-suite.published:
		suite.Equal("display 7 connected", e.Message, "should publish remaining entry")
	default:
		suite.Fail("should publish remaining entry before returning")
	}
}

func TestLogPublishService(t *testing.T) {
	suite.Run(t, new(logPublishServiceSuite))
}

func TestLogPublishService_RunClosedEntries(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	portalStub := &portal.Stub{}
	published := atomic.NewInt32(0)
	portalStub.On("Publish", mock.Anything, TopicLogPublish, nextLogEntryEvent(registryEntry(1))).
		Run(func(_ mock.Arguments) { published.Inc() }).Twice()
	entries := make(chan logging.LogEntry, 2)
	entries <- registryEntry(1)
	entries <- registryEntry(1)
	close(entries)
	s := New(zap.New(zapcore.NewNopCore()), portalStub, entries)
	assert.NoError(t, s.Run(ctx), "should not fail")
	assert.NoError(t, ctx.Err(), "should not time out")
	assert.EqualValues(t, 2, published.Load(), "should publish all entries")
	portalStub.AssertExpectations(t)
}
