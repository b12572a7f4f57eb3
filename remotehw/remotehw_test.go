package remotehw

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/lefinal/vr-arbiter/vr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const timeout = 3 * time.Second

// sequentialIDs returns an IDSource starting at 1.
func sequentialIDs() func() vr.DisplayID {
	var m sync.Mutex
	var last vr.DisplayID
	return func() vr.DisplayID {
		m.Lock()
		defer m.Unlock()
		last++
		return last
	}
}

// BackendSuite tests Backend.
type BackendSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	portal    *portal.Stub
	online    chan any
	offline   chan any
	state     chan any
	backend   *Backend
	runWG     sync.WaitGroup
	announced vr.DisplayData
}

func (suite *BackendSuite) SetupTest() {
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), timeout)
	suite.portal = &portal.Stub{}
	suite.online = make(chan any)
	suite.offline = make(chan any)
	suite.state = make(chan any)
	suite.portal.On("Subscribe", mock.Anything, TopicOnline).
		Return(portal.NewFeedNewsletter(suite.ctx, TopicOnline, suite.online))
	suite.portal.On("Subscribe", mock.Anything, TopicOffline).
		Return(portal.NewFeedNewsletter(suite.ctx, TopicOffline, suite.offline))
	suite.portal.On("Subscribe", mock.Anything, TopicEvent).
		Return(portal.NewFeedNewsletter(suite.ctx, TopicEvent, suite.state))
	suite.backend = NewBackend(zap.New(zapcore.NewNopCore()), suite.portal)
	suite.Require().NoError(suite.backend.Initialize(sequentialIDs()))
	suite.announced = vr.DisplayData{
		DisplayName: "Bridge Display",
		Capabilities: vr.Capabilities{
			HasOrientation: true,
			CanPresent:     true,
			MaxLayers:      1,
		},
		LeftEye: vr.EyeParameters{
			Offset:      [3]float32{-0.03, 0, 0},
			FieldOfView: vr.FieldOfView{UpDegrees: 45, RightDegrees: 45, DownDegrees: 45, LeftDegrees: 45},
		},
		RightEye: vr.EyeParameters{
			Offset:      [3]float32{0.03, 0, 0},
			FieldOfView: vr.FieldOfView{UpDegrees: 45, RightDegrees: 45, DownDegrees: 45, LeftDegrees: 45},
		},
	}
	suite.runWG.Add(1)
	go func() {
		defer suite.runWG.Done()
		suite.NoError(suite.backend.Run(suite.ctx))
	}()
}

func (suite *BackendSuite) TearDownTest() {
	suite.cancel()
	suite.runWG.Wait()
}

func (suite *BackendSuite) send(c chan<- any, payload any) {
	select {
	case <-suite.ctx.Done():
		suite.FailNow("timeout", "should send event within timeout")
	case c <- payload:
	}
}

// awaitEvents polls until the given number of events is pending.
func (suite *BackendSuite) awaitEvents(n int) []vr.DisplayEvent {
	var events []vr.DisplayEvent
	suite.Require().Eventually(func() bool {
		events = append(events, suite.backend.PollEvents()...)
		return len(events) >= n
	}, timeout, 5*time.Millisecond, "should receive events")
	return events
}

func (suite *BackendSuite) announce(remoteID string) vr.DisplayEvent {
	suite.send(suite.online, event.RemoteDisplayOnlineEvent{
		RemoteID: remoteID,
		Display:  suite.announced,
	})
	return suite.awaitEvents(1)[0]
}

func (suite *BackendSuite) TestName() {
	suite.Equal("remote", suite.backend.Name())
}

func (suite *BackendSuite) TestInitializeTwice() {
	suite.True(suite.backend.IsInitialized())
	suite.Error(suite.backend.Initialize(sequentialIDs()), "should fail")
}

func (suite *BackendSuite) TestNoEvents() {
	events := suite.backend.PollEvents()
	suite.NotNil(events, "should not return nil")
	suite.Empty(events)
	suite.Empty(suite.backend.Gamepads())
}

func (suite *BackendSuite) TestOnline() {
	e := suite.announce("left-room")
	suite.Equal(vr.EventConnect, e.Type)
	suite.Equal(vr.DisplayID(1), e.Display.DisplayID, "should assign local id")
	suite.True(e.Display.Connected, "should be connected")
	suite.Equal("Bridge Display", e.Display.DisplayName)
	displays := suite.backend.Displays()
	suite.Require().Len(displays, 1)
	suite.Equal(vr.DisplayID(1), displays[0].ID())
	suite.Equal("left-room", displays[0].(*Display).RemoteID())
}

func (suite *BackendSuite) TestOnlineAgainUpdates() {
	suite.announce("left-room")
	suite.announced.DisplayName = "Renamed"
	e := suite.announce("left-room")
	suite.Equal(vr.EventChange, e.Type, "should report change")
	suite.Equal(vr.DisplayID(1), e.Display.DisplayID, "should keep id")
	suite.Equal("Renamed", e.Display.DisplayName)
	suite.Len(suite.backend.Displays(), 1, "should not add another display")
}

func (suite *BackendSuite) TestIDsNotReused() {
	suite.announce("a")
	suite.send(suite.offline, event.RemoteDisplayOfflineEvent{RemoteID: "a"})
	suite.awaitEvents(1)
	e := suite.announce("a")
	suite.Equal(vr.DisplayID(2), e.Display.DisplayID, "should assign new id")
}

func (suite *BackendSuite) TestOffline() {
	suite.announce("left-room")
	display := suite.backend.Displays()[0]
	suite.send(suite.offline, event.RemoteDisplayOfflineEvent{RemoteID: "left-room"})
	events := suite.awaitEvents(1)
	suite.Equal(vr.EventDisconnect, events[0].Type)
	suite.False(events[0].Display.Connected, "should not be connected")
	suite.Empty(suite.backend.Displays(), "should have removed display")
	err := display.SubmitFrame(vr.Frame{})
	suite.Require().Error(err, "should fail for offline display")
	suite.True(errors.Is(err, errors.KindDeviceNotFound), "should be device-not-found")
}

func (suite *BackendSuite) TestOfflineUnknown() {
	suite.send(suite.offline, event.RemoteDisplayOfflineEvent{RemoteID: "unknown"})
	// Round trip to make sure that the offline event was handled.
	e := suite.announce("a")
	suite.Equal(vr.EventConnect, e.Type, "should only report connect")
}

func (suite *BackendSuite) TestState() {
	suite.announce("left-room")
	orientation := [4]float32{0, 0.7071, 0, 0.7071}
	suite.send(suite.state, event.RemoteDisplayStateEvent{
		RemoteID: "left-room",
		Type:     vr.EventActivate,
		Reason:   vr.ReasonMounted,
		Pose:     &vr.Pose{Orientation: &orientation},
	})
	events := suite.awaitEvents(1)
	suite.Equal(vr.EventActivate, events[0].Type)
	suite.Equal(vr.ReasonMounted, events[0].Reason)
	frameData := suite.backend.Displays()[0].FrameData(0.1, 100)
	suite.Require().NotNil(frameData.Pose.Orientation, "should use reported pose")
	suite.Equal(orientation, *frameData.Pose.Orientation)
}

func (suite *BackendSuite) TestStateUnsupportedType() {
	suite.announce("left-room")
	suite.send(suite.state, event.RemoteDisplayStateEvent{
		RemoteID: "left-room",
		Type:     vr.EventPresentChange,
	})
	suite.send(suite.state, event.RemoteDisplayStateEvent{
		RemoteID: "left-room",
		Type:     vr.EventBlur,
	})
	events := suite.awaitEvents(1)
	suite.Equal(vr.EventBlur, events[0].Type, "should drop unsupported event")
}

func (suite *BackendSuite) TestSubmitFrame() {
	suite.announce("left-room")
	frame := vr.Frame{Data: []byte{1, 2, 3}}
	suite.portal.On("Publish", mock.Anything, TopicFrame, event.RemoteFrameEvent{
		RemoteID: "left-room",
		Frame:    frame,
	}).Once()
	defer suite.portal.AssertExpectations(suite.T())
	suite.NoError(suite.backend.Displays()[0].SubmitFrame(frame))
}

func (suite *BackendSuite) TestResetPose() {
	suite.announce("left-room")
	position := [3]float32{1, 2, 3}
	suite.send(suite.state, event.RemoteDisplayStateEvent{
		RemoteID: "left-room",
		Type:     vr.EventFocus,
		Pose:     &vr.Pose{Position: &position},
	})
	suite.awaitEvents(1)
	suite.portal.On("Publish", mock.Anything, TopicResetPose, event.RemoteResetPoseEvent{RemoteID: "left-room"}).Once()
	defer suite.portal.AssertExpectations(suite.T())
	display := suite.backend.Displays()[0]
	display.ResetPose()
	suite.Nil(display.FrameData(0.1, 100).Pose.Position, "should clear pose")
}

func TestBackend(t *testing.T) {
	suite.Run(t, new(BackendSuite))
}

func TestBackend_handleOnlineNotInitialized(t *testing.T) {
	b := NewBackend(zap.New(zapcore.NewNopCore()), &portal.Stub{})
	b.handleOnline(event.RemoteDisplayOnlineEvent{RemoteID: "a"})
	assert.Empty(t, b.Displays(), "should not add display before initialization")
}

func TestBackend_reannounceFloodWhileNotPolled(t *testing.T) {
	b := NewBackend(zap.New(zapcore.NewNopCore()), &portal.Stub{})
	require.NoError(t, b.Initialize(sequentialIDs()))
	for i := 0; i < 10000; i++ {
		b.handleOnline(event.RemoteDisplayOnlineEvent{
			RemoteID: "left-room",
			Display:  vr.DisplayData{DisplayName: fmt.Sprintf("Bridge Display %d", i)},
		})
		b.handleState(event.RemoteDisplayStateEvent{RemoteID: "left-room", Type: vr.EventFocus})
	}
	events := b.PollEvents()
	require.Len(t, events, 3, "should coalesce re-announcements")
	assert.Equal(t, vr.EventConnect, events[0].Type)
	assert.Equal(t, vr.EventChange, events[1].Type)
	assert.Equal(t, "Bridge Display 9999", events[1].Display.DisplayName, "should keep latest metadata")
	assert.Equal(t, vr.EventFocus, events[2].Type)
}

func TestBackend_onlineOfflineFloodWhileNotPolled(t *testing.T) {
	b := NewBackend(zap.New(zapcore.NewNopCore()), &portal.Stub{})
	require.NoError(t, b.Initialize(sequentialIDs()))
	for i := 0; i < 1000; i++ {
		b.handleOnline(event.RemoteDisplayOnlineEvent{RemoteID: "flapping"})
		b.handleOffline(event.RemoteDisplayOfflineEvent{RemoteID: "flapping"})
	}
	assert.Empty(t, b.PollEvents(), "should not report displays that are already gone")
	assert.Empty(t, b.Displays())
}
