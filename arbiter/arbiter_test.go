package arbiter

import (
	"sync"
	"testing"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/vr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	tabA vr.ContextID = "tabA"
	tabB vr.ContextID = "tabB"
)

// arbiterSuite tests Arbiter.
type arbiterSuite struct {
	suite.Suite
	backend  *hardware.MockBackend
	displays map[vr.DisplayID]hardware.Display
	arbiter  *Arbiter
}

func (suite *arbiterSuite) SetupTest() {
	suite.backend = hardware.NewMockBackend(zap.New(zapcore.NewNopCore()), hardware.MockConfig{Displays: 2})
	var lastID vr.DisplayID
	suite.Require().NoError(suite.backend.Initialize(func() vr.DisplayID {
		lastID++
		return lastID
	}))
	suite.displays = make(map[vr.DisplayID]hardware.Display)
	for _, display := range suite.backend.Displays() {
		suite.displays[display.ID()] = display
	}
	suite.arbiter = New()
}

func (suite *arbiterSuite) lookup(id vr.DisplayID) (hardware.Display, bool) {
	display, ok := suite.displays[id]
	return display, ok
}

func (suite *arbiterSuite) acquire(context vr.ContextID, id vr.DisplayID) *Capability {
	display, err := suite.arbiter.CheckAccess(context, id, suite.lookup)
	suite.Require().NoError(err, "check access should not fail")
	capability, _ := suite.arbiter.Acquire(context, display)
	return capability
}

func (suite *arbiterSuite) TestCheckAccessUnknown() {
	_, err := suite.arbiter.CheckAccess(tabA, 999, suite.lookup)
	suite.Require().Error(err, "should fail")
	suite.True(errors.Is(err, errors.KindDeviceNotFound), "should fail with device not found")
}

func (suite *arbiterSuite) TestCheckAccessUnowned() {
	display, err := suite.arbiter.CheckAccess(tabA, 1, suite.lookup)
	suite.Require().NoError(err, "unowned display should permit any context")
	suite.Equal(vr.DisplayID(1), display.ID())
	_, err = suite.arbiter.CheckAccess(tabB, 1, suite.lookup)
	suite.NoError(err, "unowned display should permit any context")
}

func (suite *arbiterSuite) TestCheckAccessOwnedByOther() {
	suite.acquire(tabA, 1)
	_, err := suite.arbiter.CheckAccess(tabB, 1, suite.lookup)
	suite.Require().Error(err, "should fail")
	suite.True(errors.Is(err, errors.KindDeviceBusy), "should fail with device busy")
	_, err = suite.arbiter.CheckAccess(tabA, 1, suite.lookup)
	suite.NoError(err, "owner should pass")
	_, err = suite.arbiter.CheckAccess(tabB, 2, suite.lookup)
	suite.NoError(err, "other displays should not be affected")
}

func (suite *arbiterSuite) TestAcquireIdempotent() {
	display := suite.displays[1]
	first, created := suite.arbiter.Acquire(tabA, display)
	suite.True(created, "first acquire should create session")
	second, created := suite.arbiter.Acquire(tabA, display)
	suite.False(created, "second acquire should not create session")
	suite.Same(first, second, "should return same capability")
	suite.Equal(1, suite.arbiter.Len(), "should hold single entry")
}

func (suite *arbiterSuite) TestRelease() {
	capability := suite.acquire(tabA, 1)
	suite.True(suite.arbiter.Release(tabA, 1), "owner should release")
	suite.False(capability.Valid(), "should invalidate capability")
	suite.Equal(0, suite.arbiter.Len(), "should remove entry")
	_, owned := suite.arbiter.Owner(1)
	suite.False(owned, "should be unowned")
}

func (suite *arbiterSuite) TestReleaseNotOwner() {
	capability := suite.acquire(tabA, 1)
	suite.False(suite.arbiter.Release(tabB, 1), "non-owner should not release")
	suite.False(suite.arbiter.Release(tabB, 2), "unowned display should not release")
	suite.True(capability.Valid(), "should keep capability valid")
	owner, _ := suite.arbiter.Owner(1)
	suite.Equal(tabA, owner, "should keep owner")
}

func (suite *arbiterSuite) TestReleaseThenOtherAcquires() {
	suite.acquire(tabA, 1)
	suite.arbiter.Release(tabA, 1)
	capability := suite.acquire(tabB, 1)
	suite.Equal(tabB, capability.Context(), "new owner should acquire")
}

func (suite *arbiterSuite) TestForceRelease() {
	capability := suite.acquire(tabA, 1)
	owner, ok := suite.arbiter.ForceRelease(1)
	suite.True(ok, "should release")
	suite.Equal(tabA, owner, "should return previous owner")
	suite.False(capability.Valid(), "should invalidate capability")
	_, ok = suite.arbiter.ForceRelease(1)
	suite.False(ok, "should not release twice")
}

func (suite *arbiterSuite) TestOwnedBy() {
	suite.acquire(tabA, 2)
	suite.acquire(tabA, 1)
	suite.Equal([]vr.DisplayID{1, 2}, suite.arbiter.OwnedBy(tabA), "should return sorted owned displays")
	suite.Empty(suite.arbiter.OwnedBy(tabB), "should return none for other context")
	suite.Equal(map[vr.DisplayID]vr.ContextID{1: tabA, 2: tabA}, suite.arbiter.Owners())
}

func (suite *arbiterSuite) TestCapability() {
	acquired := suite.acquire(tabA, 1)
	capability, ok := suite.arbiter.Capability(tabA, 1)
	suite.True(ok, "owner should get capability")
	suite.Same(acquired, capability)
	_, ok = suite.arbiter.Capability(tabB, 1)
	suite.False(ok, "non-owner should not get capability")
}

func TestArbiter(t *testing.T) {
	suite.Run(t, new(arbiterSuite))
}

// displayStub mocks hardware.Display.
type displayStub struct {
	mock.Mock
}

func (s *displayStub) ID() vr.DisplayID {
	return 1
}

func (s *displayStub) Data() vr.DisplayData {
	return vr.DisplayData{DisplayID: 1}
}

func (s *displayStub) FrameData(near float64, far float64) vr.FrameData {
	return vr.FrameData{}
}

func (s *displayStub) ResetPose() {}

func (s *displayStub) SubmitFrame(frame vr.Frame) error {
	return s.Called(frame).Error(0)
}

func TestCapability_SubmitFrame(t *testing.T) {
	display := &displayStub{}
	frame := vr.Frame{Data: []byte{1}}
	display.On("SubmitFrame", frame).Return(nil).Twice()
	defer display.AssertExpectations(t)
	a := New()
	capability, _ := a.Acquire(tabA, display)
	assert.NoError(t, capability.SubmitFrame(frame), "should submit")
	assert.NoError(t, capability.SubmitFrame(frame), "should submit")
	assert.EqualValues(t, 2, capability.FramesSubmitted(), "should count frames")
	a.Release(tabA, 1)
	err := capability.SubmitFrame(frame)
	assert.True(t, errors.Is(err, errors.KindNotPresenting), "should fail after release")
	assert.EqualValues(t, 2, capability.FramesSubmitted(), "should not count rejected frame")
}

func TestCapability_SubmitFrameDisplayFail(t *testing.T) {
	display := &displayStub{}
	display.On("SubmitFrame", mock.Anything).Return(errors.NewInternalError("sad life", nil))
	capability, _ := New().Acquire(tabA, display)
	err := capability.SubmitFrame(vr.Frame{})
	assert.Error(t, err, "should fail")
	assert.EqualValues(t, 0, capability.FramesSubmitted(), "should not count failed frame")
}

func TestCapability_ConcurrentSubmitAndRelease(t *testing.T) {
	display := &displayStub{}
	display.On("SubmitFrame", mock.Anything).Return(nil)
	a := New()
	capability, _ := a.Acquire(tabA, display)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 64; j++ {
				_ = capability.SubmitFrame(vr.Frame{})
			}
		}()
	}
	a.Release(tabA, 1)
	submittedAfterRelease := capability.FramesSubmitted()
	wg.Wait()
	assert.Equal(t, submittedAfterRelease, capability.FramesSubmitted(), "should not submit after release")
}
