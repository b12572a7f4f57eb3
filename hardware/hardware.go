// Package hardware describes the contracts the display registry uses to talk to
// VR hardware. Concrete backends live in this package (the simulated
// MockBackend) and in remotehw.
package hardware

import (
	"github.com/lefinal/vr-arbiter/vr"
)

// IDSource hands out display ids. Ids are unique across all backends and never
// reused within a single run.
type IDSource func() vr.DisplayID

// Backend is a source of displays, for example a vendor SDK or a remote bridge.
type Backend interface {
	// Name of the backend for logging purposes.
	Name() string
	// Initialize probes the hardware. It is called exactly once and must not block
	// longer than a bounded probe. New displays get their id from the given
	// IDSource.
	Initialize(nextID IDSource) error
	// IsInitialized describes whether Initialize succeeded.
	IsInitialized() bool
	// Displays returns all displays currently known to the backend.
	Displays() []Display
	// PollEvents drains all queued hardware events. It returns an empty slice if
	// nothing is pending and never blocks.
	PollEvents() []vr.DisplayEvent
	// Gamepads returns the state of all known gamepads.
	Gamepads() []vr.GamepadState
}

// Display is a single VR display. Data, FrameData and ResetPose are only called
// from the dispatcher. SubmitFrame may be called concurrently from a
// presenting session's capability, so implementations must synchronize.
type Display interface {
	// ID returns the stable display id.
	ID() vr.DisplayID
	// Data returns the current metadata snapshot.
	Data() vr.DisplayData
	// FrameData computes pose and projection data bounded by the given clip
	// planes.
	FrameData(near float64, far float64) vr.FrameData
	// ResetPose resets the pose reference frame.
	ResetPose()
	// SubmitFrame hands a rendered frame to the display.
	SubmitFrame(frame vr.Frame) error
}
