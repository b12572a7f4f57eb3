// Package remotehw provides a hardware.Backend for displays that are attached
// to other machines and announced via MQTT by a display bridge.
package remotehw

import (
	"context"
	"sync"
	"time"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

const (
	// TopicOnline is where bridges announce displays.
	TopicOnline portal.Topic = "vr/hw/displays/online"
	// TopicOffline is where bridges report displays being gone.
	TopicOffline portal.Topic = "vr/hw/displays/offline"
	// TopicEvent is where bridges report display state changes.
	TopicEvent portal.Topic = "vr/hw/displays/event"
	// TopicFrame is where submitted frames are published.
	TopicFrame portal.Topic = "vr/hw/displays/frame"
	// TopicResetPose is where pose resets are requested.
	TopicResetPose portal.Topic = "vr/hw/displays/reset-pose"
)

// publishTimeout is the timeout for publishing frames and pose resets.
const publishTimeout = time.Second

// Backend is a hardware.Backend for remote displays. Run it in order to
// receive announcements.
type Backend struct {
	logger *zap.Logger
	portal portal.Portal
	now    func() time.Time
	// nextID is the IDSource passed in Initialize.
	nextID hardware.IDSource
	// displays holds known remote displays by their remote id.
	displays map[string]*Display
	// order holds remote ids in announcement order.
	order []string
	// pendingEvents are returned and cleared on PollEvents.
	pendingEvents *hardware.EventQueue
	initialized   bool
	// m locks all fields above.
	m sync.Mutex
}

// NewBackend creates a new Backend that uses the given portal.Portal.
func NewBackend(logger *zap.Logger, p portal.Portal) *Backend {
	return &Backend{
		logger:        logger,
		portal:        p,
		now:           time.Now,
		displays:      make(map[string]*Display),
		pendingEvents: hardware.NewEventQueue(hardware.DefaultMaxPendingEvents),
	}
}

// Name returns "remote".
func (b *Backend) Name() string {
	return "remote"
}

// Initialize remembers the hardware.IDSource. Remote displays are only known
// after bridges announced them, so nothing is probed.
func (b *Backend) Initialize(nextID hardware.IDSource) error {
	b.m.Lock()
	defer b.m.Unlock()
	if b.initialized {
		return errors.NewInternalError("remote backend already initialized", nil)
	}
	b.nextID = nextID
	b.initialized = true
	return nil
}

// IsInitialized describes whether Initialize was called.
func (b *Backend) IsInitialized() bool {
	b.m.Lock()
	defer b.m.Unlock()
	return b.initialized
}

// Displays returns all online remote displays in announcement order.
func (b *Backend) Displays() []hardware.Display {
	b.m.Lock()
	defer b.m.Unlock()
	displays := make([]hardware.Display, 0, len(b.order))
	for _, remoteID := range b.order {
		displays = append(displays, b.displays[remoteID])
	}
	return displays
}

// PollEvents returns and clears all pending events.
func (b *Backend) PollEvents() []vr.DisplayEvent {
	b.m.Lock()
	defer b.m.Unlock()
	return b.pendingEvents.Drain()
}

// Gamepads returns an empty slice as bridges do not report controllers.
func (b *Backend) Gamepads() []vr.GamepadState {
	return []vr.GamepadState{}
}

// Run subscribes to announcements until the given context.Context is done.
func (b *Backend) Run(ctx context.Context) error {
	onlineNewsletter := portal.Subscribe[event.RemoteDisplayOnlineEvent](ctx, b.portal, TopicOnline)
	defer onlineNewsletter.Unsubscribe()
	offlineNewsletter := portal.Subscribe[event.RemoteDisplayOfflineEvent](ctx, b.portal, TopicOffline)
	defer offlineNewsletter.Unsubscribe()
	stateNewsletter := portal.Subscribe[event.RemoteDisplayStateEvent](ctx, b.portal, TopicEvent)
	defer stateNewsletter.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, more := <-onlineNewsletter.Receive:
			if !more {
				return nil
			}
			b.handleOnline(e.Payload)
		case e, more := <-offlineNewsletter.Receive:
			if !more {
				return nil
			}
			b.handleOffline(e.Payload)
		case e, more := <-stateNewsletter.Receive:
			if !more {
				return nil
			}
			b.handleState(e.Payload)
		}
	}
}

// handleOnline adds a new display or updates the metadata of a known one.
func (b *Backend) handleOnline(e event.RemoteDisplayOnlineEvent) {
	b.m.Lock()
	defer b.m.Unlock()
	if !b.initialized {
		b.logger.Warn("dropping display announcement as backend is not initialized",
			zap.String("remote_id", e.RemoteID))
		return
	}
	if e.RemoteID == "" {
		errors.Log(b.logger, errors.NewBadRequestError(errors.KindUnknown, "missing remote id in announcement", nil))
		return
	}
	d, ok := b.displays[e.RemoteID]
	if ok {
		d.setData(e.Display)
		b.pendingEvents.Push(vr.DisplayEvent{
			Type:    vr.EventChange,
			Display: d.Data(),
		})
		return
	}
	d = newDisplay(b, b.nextID(), e.RemoteID, e.Display)
	b.displays[e.RemoteID] = d
	b.order = append(b.order, e.RemoteID)
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    vr.EventConnect,
		Display: d.Data(),
	})
	b.logger.Debug("remote display online",
		zap.String("remote_id", e.RemoteID),
		zap.Any("display_id", d.id))
}

// handleOffline removes the display.
func (b *Backend) handleOffline(e event.RemoteDisplayOfflineEvent) {
	b.m.Lock()
	defer b.m.Unlock()
	d, ok := b.displays[e.RemoteID]
	if !ok {
		return
	}
	d.setOffline()
	delete(b.displays, e.RemoteID)
	for i, remoteID := range b.order {
		if remoteID == e.RemoteID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    vr.EventDisconnect,
		Display: d.Data(),
	})
	b.logger.Debug("remote display offline",
		zap.String("remote_id", e.RemoteID),
		zap.Any("display_id", d.id))
}

// handleState queues the reported state change and updates the pose.
func (b *Backend) handleState(e event.RemoteDisplayStateEvent) {
	switch e.Type {
	case vr.EventActivate, vr.EventDeactivate, vr.EventBlur, vr.EventFocus:
	default:
		errors.Log(b.logger, errors.NewBadRequestError(errors.KindUnknown, "unsupported remote display event type",
			errors.Details{"type": e.Type, "remote_id": e.RemoteID}))
		return
	}
	b.m.Lock()
	defer b.m.Unlock()
	d, ok := b.displays[e.RemoteID]
	if !ok {
		b.logger.Debug("dropping state event for unknown remote display", zap.String("remote_id", e.RemoteID))
		return
	}
	if e.Pose != nil {
		d.setPose(*e.Pose)
	}
	b.pendingEvents.Push(vr.DisplayEvent{
		Type:    e.Type,
		Display: d.Data(),
		Reason:  e.Reason,
	})
}

// publish the given payload with publishTimeout.
func (b *Backend) publish(topic portal.Topic, payload any) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	b.portal.Publish(ctx, topic, payload)
}

// Display is a display attached to a remote bridge.
type Display struct {
	backend  *Backend
	id       vr.DisplayID
	remoteID string
	// start is the time the display was announced.
	start time.Time
	// m locks the following fields.
	m      sync.RWMutex
	data   vr.DisplayData
	online bool
	pose   vr.Pose
}

func newDisplay(backend *Backend, id vr.DisplayID, remoteID string, data vr.DisplayData) *Display {
	d := &Display{
		backend:  backend,
		id:       id,
		remoteID: remoteID,
		start:    backend.now(),
		online:   true,
	}
	d.setData(data)
	return d
}

// ID returns the locally assigned display id.
func (d *Display) ID() vr.DisplayID {
	return d.id
}

// RemoteID returns the id assigned by the bridge.
func (d *Display) RemoteID() string {
	return d.remoteID
}

func (d *Display) setData(data vr.DisplayData) {
	d.m.Lock()
	defer d.m.Unlock()
	data.DisplayID = d.id
	d.data = data
}

func (d *Display) setPose(pose vr.Pose) {
	d.m.Lock()
	defer d.m.Unlock()
	d.pose = pose
}

func (d *Display) setOffline() {
	d.m.Lock()
	defer d.m.Unlock()
	d.online = false
}

// Data returns the announced metadata with the local display id.
func (d *Display) Data() vr.DisplayData {
	d.m.RLock()
	defer d.m.RUnlock()
	data := d.data
	data.Connected = d.online
	return data
}

// FrameData computes frame data from the last reported pose. Missing position
// or orientation default to the origin facing forward.
func (d *Display) FrameData(near float64, far float64) vr.FrameData {
	data := d.Data()
	d.m.RLock()
	pose := d.pose
	d.m.RUnlock()
	orientation := [4]float32{0, 0, 0, 1}
	if pose.Orientation != nil {
		orientation = *pose.Orientation
	}
	position := [3]float32{0, 0, 0}
	if pose.Position != nil {
		position = *pose.Position
	}
	return vr.FrameData{
		Timestamp:             float64(d.backend.now().Sub(d.start).Microseconds()) / 1000,
		LeftProjectionMatrix:  hardware.PerspectiveFromFOV(data.LeftEye.FieldOfView, near, far),
		LeftViewMatrix:        hardware.ViewFromPose(orientation, position, data.LeftEye.Offset),
		RightProjectionMatrix: hardware.PerspectiveFromFOV(data.RightEye.FieldOfView, near, far),
		RightViewMatrix:       hardware.ViewFromPose(orientation, position, data.RightEye.Offset),
		Pose:                  pose,
	}
}

// ResetPose asks the bridge to reset the pose reference and clears the last
// known pose until the bridge reports a new one.
func (d *Display) ResetPose() {
	d.setPose(vr.Pose{})
	d.backend.publish(TopicResetPose, event.RemoteResetPoseEvent{RemoteID: d.remoteID})
}

// SubmitFrame publishes the frame for the bridge. It fails if the display went
// offline.
func (d *Display) SubmitFrame(frame vr.Frame) error {
	d.m.RLock()
	online := d.online
	d.m.RUnlock()
	if !online {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Kind:    errors.KindDeviceNotFound,
			Message: "remote display offline",
			Details: errors.Details{"display_id": d.id, "remote_id": d.remoteID},
		}
	}
	d.backend.publish(TopicFrame, event.RemoteFrameEvent{
		RemoteID: d.remoteID,
		Frame:    frame,
	})
	return nil
}
