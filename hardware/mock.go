package hardware

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

// mockYawRate is the rotation speed of simulated heads in radians per second.
const mockYawRate = 0.25

// MockConfig configures a MockBackend.
type MockConfig struct {
	// Displays is the number of displays available after Initialize.
	Displays int
	// Gamepads describes whether each display comes with a simulated controller.
	Gamepads bool
	// Now is the clock to use. Defaults to time.Now.
	Now func() time.Time
}

// MockBackend simulates VR hardware. Displays can be connected and disconnected
// at runtime which queues the matching events.
type MockBackend struct {
	logger *zap.Logger
	config MockConfig
	// nextID is the IDSource passed in Initialize.
	nextID IDSource
	// displays holds all connected displays.
	displays map[vr.DisplayID]*MockDisplay
	// order holds display ids in connection order.
	order []vr.DisplayID
	// pendingEvents are returned and cleared on PollEvents.
	pendingEvents *EventQueue
	initialized   bool
	// m locks all fields.
	m sync.Mutex
}

// NewMockBackend creates a new MockBackend. Call Initialize before usage.
func NewMockBackend(logger *zap.Logger, config MockConfig) *MockBackend {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &MockBackend{
		logger:        logger,
		config:        config,
		displays:      make(map[vr.DisplayID]*MockDisplay),
		pendingEvents: NewEventQueue(DefaultMaxPendingEvents),
	}
}

// Name returns "mock".
func (b *MockBackend) Name() string {
	return "mock"
}

// Initialize creates the configured number of displays. Initial displays do not
// queue connect events as they are already known when the registry lists them.
func (b *MockBackend) Initialize(nextID IDSource) error {
	b.m.Lock()
	defer b.m.Unlock()
	if b.initialized {
		return errors.NewInternalError("mock backend already initialized", nil)
	}
	b.nextID = nextID
	for i := 0; i < b.config.Displays; i++ {
		b.addDisplay(fmt.Sprintf("Mock VR Display %d", i+1))
	}
	b.initialized = true
	b.logger.Debug("mock backend initialized", zap.Int("displays", len(b.displays)))
	return nil
}

// addDisplay creates a new MockDisplay and adds it to the known ones. Lock
// b.m before calling.
func (b *MockBackend) addDisplay(name string) *MockDisplay {
	d := newMockDisplay(b.nextID(), name, b.config.Now)
	b.displays[d.id] = d
	b.order = append(b.order, d.id)
	return d
}

// IsInitialized describes whether Initialize was called successfully.
func (b *MockBackend) IsInitialized() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return b.initialized
}

// Displays returns all connected displays in connection order.
func (b *MockBackend) Displays() []Display {
	b.m.Lock()
	defer b.m.Unlock()
	displays := make([]Display, 0, len(b.order))
	for _, id := range b.order {
		displays = append(displays, b.displays[id])
	}
	return displays
}

// PollEvents returns and clears all pending events.
func (b *MockBackend) PollEvents() []vr.DisplayEvent {
	b.m.Lock()
	defer b.m.Unlock()
	return b.pendingEvents.Drain()
}

// Gamepads returns one controller per display if enabled in MockConfig.
func (b *MockBackend) Gamepads() []vr.GamepadState {
	b.m.Lock()
	defer b.m.Unlock()
	gamepads := make([]vr.GamepadState, 0)
	if !b.config.Gamepads {
		return gamepads
	}
	for i, id := range b.order {
		d := b.displays[id]
		frame := d.FrameData(vr.DefaultDepthNear, vr.DefaultDepthFar)
		gamepads = append(gamepads, vr.GamepadState{
			GamepadID: uint64(i),
			DisplayID: id,
			Name:      "Mock VR Controller",
			Connected: true,
			Timestamp: frame.Timestamp,
			Axes:      []float64{0, 0},
			Buttons: []vr.GamepadButton{
				{Pressed: false, Touched: false, Value: 0},
				{Pressed: false, Touched: false, Value: 0},
			},
			Pose: frame.Pose,
		})
	}
	return gamepads
}

// Connect simulates a newly plugged in display and queues vr.EventConnect.
func (b *MockBackend) Connect(name string) vr.DisplayID {
	b.m.Lock()
	defer b.m.Unlock()
	d := b.addDisplay(name)
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    vr.EventConnect,
		Display: d.Data(),
	})
	return d.id
}

// Disconnect simulates removal of the display with the given id and queues
// vr.EventDisconnect. Unknown ids are ignored.
func (b *MockBackend) Disconnect(id vr.DisplayID) {
	b.m.Lock()
	defer b.m.Unlock()
	d, ok := b.displays[id]
	if !ok {
		return
	}
	d.setConnected(false)
	delete(b.displays, id)
	for i, orderedID := range b.order {
		if orderedID == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    vr.EventDisconnect,
		Display: d.Data(),
	})
}

// Emit queues an event of the given type for the display with the given id.
// Unknown ids are ignored.
func (b *MockBackend) Emit(id vr.DisplayID, eventType vr.EventType, reason vr.EventReason) {
	b.m.Lock()
	defer b.m.Unlock()
	d, ok := b.displays[id]
	if !ok {
		return
	}
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    eventType,
		Display: d.Data(),
		Reason:  reason,
	})
}

// MockDisplay is a simulated head-mounted display whose head slowly rotates
// around the vertical axis.
type MockDisplay struct {
	id   vr.DisplayID
	name string
	now  func() time.Time
	// start is the time the display was created.
	start time.Time
	// m locks the following fields.
	m         sync.Mutex
	connected bool
	// yawReference is subtracted from the simulated yaw. Set by ResetPose.
	yawReference float64
	// submittedFrames is the number of frames received via SubmitFrame.
	submittedFrames int
	lastFrame       *vr.Frame
}

func newMockDisplay(id vr.DisplayID, name string, now func() time.Time) *MockDisplay {
	return &MockDisplay{
		id:        id,
		name:      name,
		now:       now,
		start:     now(),
		connected: true,
	}
}

// ID returns the display id.
func (d *MockDisplay) ID() vr.DisplayID {
	return d.id
}

func (d *MockDisplay) setConnected(connected bool) {
	d.m.Lock()
	defer d.m.Unlock()
	d.connected = connected
}

// Data returns the simulated metadata.
func (d *MockDisplay) Data() vr.DisplayData {
	d.m.Lock()
	defer d.m.Unlock()
	fov := vr.FieldOfView{
		UpDegrees:    45,
		RightDegrees: 45,
		DownDegrees:  45,
		LeftDegrees:  45,
	}
	stageTransform := vr.IdentityMatrix
	stageTransform[7] = 0.75
	return vr.DisplayData{
		DisplayID:   d.id,
		DisplayName: d.name,
		Connected:   d.connected,
		Capabilities: vr.Capabilities{
			HasPosition:        true,
			HasOrientation:     true,
			HasExternalDisplay: false,
			CanPresent:         true,
			MaxLayers:          1,
		},
		LeftEye: vr.EyeParameters{
			Offset:       [3]float32{-0.032, 0, 0},
			RenderWidth:  1080,
			RenderHeight: 1200,
			FieldOfView:  fov,
		},
		RightEye: vr.EyeParameters{
			Offset:       [3]float32{0.032, 0, 0},
			RenderWidth:  1080,
			RenderHeight: 1200,
			FieldOfView:  fov,
		},
		StageParameters: &vr.StageParameters{
			SittingToStandingTransform: stageTransform,
			SizeX:                      2,
			SizeZ:                      2,
		},
	}
}

// yaw returns the current simulated yaw in radians. Lock d.m before calling.
func (d *MockDisplay) yaw() float64 {
	return d.now().Sub(d.start).Seconds()*mockYawRate - d.yawReference
}

// FrameData computes frame data for the current simulated pose.
func (d *MockDisplay) FrameData(near float64, far float64) vr.FrameData {
	data := d.Data()
	d.m.Lock()
	yaw := d.yaw()
	timestamp := float64(d.now().Sub(d.start).Microseconds()) / 1000
	d.m.Unlock()
	orientation := [4]float32{0, float32(math.Sin(yaw / 2)), 0, float32(math.Cos(yaw / 2))}
	position := [3]float32{0, 0, 0}
	angularVelocity := [3]float32{0, mockYawRate, 0}
	return vr.FrameData{
		Timestamp:             timestamp,
		LeftProjectionMatrix:  PerspectiveFromFOV(data.LeftEye.FieldOfView, near, far),
		LeftViewMatrix:        ViewFromPose(orientation, position, data.LeftEye.Offset),
		RightProjectionMatrix: PerspectiveFromFOV(data.RightEye.FieldOfView, near, far),
		RightViewMatrix:       ViewFromPose(orientation, position, data.RightEye.Offset),
		Pose: vr.Pose{
			Position:        &position,
			Orientation:     &orientation,
			AngularVelocity: &angularVelocity,
		},
	}
}

// ResetPose sets the current yaw as reference so that the head faces forward.
func (d *MockDisplay) ResetPose() {
	d.m.Lock()
	defer d.m.Unlock()
	d.yawReference += d.yaw()
}

// SubmitFrame records the frame. It fails if the display is disconnected.
func (d *MockDisplay) SubmitFrame(frame vr.Frame) error {
	d.m.Lock()
	defer d.m.Unlock()
	if !d.connected {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Kind:    errors.KindDeviceNotFound,
			Message: "display disconnected",
			Details: errors.Details{"display_id": d.id},
		}
	}
	d.submittedFrames++
	d.lastFrame = &frame
	return nil
}

// SubmittedFrames returns the number of frames submitted so far.
func (d *MockDisplay) SubmittedFrames() int {
	d.m.Lock()
	defer d.m.Unlock()
	return d.submittedFrames
}
