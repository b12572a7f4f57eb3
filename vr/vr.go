// Package vr holds the data model shared between the arbiter components and the
// binding transports: display snapshots, frame data, poses, gamepads and display
// events.
package vr

import (
	"github.com/google/uuid"
)

// DisplayID identifies a display. It is stable for the lifetime of the display
// and never reused within a single run.
type DisplayID uint64

// ContextID is an opaque identifier for an isolated client context, for example
// a browser tab. Contexts are created externally.
type ContextID string

// PresentToken identifies a presenting session. It is handed out when a context
// starts presenting and becomes invalid when the session ends.
type PresentToken uuid.UUID

// String returns the string representation of the token.
func (t PresentToken) String() string {
	return uuid.UUID(t).String()
}

// MarshalText encodes the token as UUID string.
func (t PresentToken) MarshalText() ([]byte, error) {
	return uuid.UUID(t).MarshalText()
}

// UnmarshalText decodes the token from a UUID string.
func (t *PresentToken) UnmarshalText(data []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(data); err != nil {
		return err
	}
	*t = PresentToken(u)
	return nil
}

// Depth defaults applied when a client does not provide its own clip planes.
const (
	DefaultDepthNear = 0.01
	DefaultDepthFar  = 10000.0
)

// Matrix is a 4x4 matrix with row-major layout.
type Matrix [16]float32

// IdentityMatrix is the 4x4 identity matrix.
var IdentityMatrix = Matrix{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// FieldOfView holds the angles in degrees of each side of the view frustum.
type FieldOfView struct {
	UpDegrees    float64 `json:"up_degrees"`
	RightDegrees float64 `json:"right_degrees"`
	DownDegrees  float64 `json:"down_degrees"`
	LeftDegrees  float64 `json:"left_degrees"`
}

// EyeParameters describes rendering parameters for a single eye.
type EyeParameters struct {
	// Offset from the center point between the user's eyes to the center of the
	// eye in meters.
	Offset       [3]float32  `json:"offset"`
	RenderWidth  uint32      `json:"render_width"`
	RenderHeight uint32      `json:"render_height"`
	FieldOfView  FieldOfView `json:"field_of_view"`
}

// StageParameters describes the room-scale play area.
type StageParameters struct {
	SittingToStandingTransform Matrix  `json:"sitting_to_standing_transform"`
	SizeX                      float32 `json:"size_x"`
	SizeZ                      float32 `json:"size_z"`
}

// Capabilities of a display.
type Capabilities struct {
	HasPosition        bool   `json:"has_position"`
	HasOrientation     bool   `json:"has_orientation"`
	HasExternalDisplay bool   `json:"has_external_display"`
	CanPresent         bool   `json:"can_present"`
	MaxLayers          uint64 `json:"max_layers"`
}

// DisplayData is a snapshot of display metadata.
type DisplayData struct {
	DisplayID    DisplayID     `json:"display_id"`
	DisplayName  string        `json:"display_name"`
	Connected    bool          `json:"connected"`
	Capabilities Capabilities  `json:"capabilities"`
	LeftEye      EyeParameters `json:"left_eye"`
	RightEye     EyeParameters `json:"right_eye"`
	// StageParameters is nil if the display does not support room-scale.
	StageParameters *StageParameters `json:"stage_parameters,omitempty"`
}

// Pose holds position and orientation data. Each field is nil if the display
// cannot provide it.
type Pose struct {
	Position            *[3]float32 `json:"position,omitempty"`
	LinearVelocity      *[3]float32 `json:"linear_velocity,omitempty"`
	LinearAcceleration  *[3]float32 `json:"linear_acceleration,omitempty"`
	Orientation         *[4]float32 `json:"orientation,omitempty"`
	AngularVelocity     *[3]float32 `json:"angular_velocity,omitempty"`
	AngularAcceleration *[3]float32 `json:"angular_acceleration,omitempty"`
}

// FrameData is the per-frame rendering data for a display.
type FrameData struct {
	// Timestamp in milliseconds.
	Timestamp             float64 `json:"timestamp"`
	LeftProjectionMatrix  Matrix  `json:"left_projection_matrix"`
	LeftViewMatrix        Matrix  `json:"left_view_matrix"`
	RightProjectionMatrix Matrix  `json:"right_projection_matrix"`
	RightViewMatrix       Matrix  `json:"right_view_matrix"`
	Pose                  Pose    `json:"pose"`
}

// LayerBounds are the normalized texture bounds of a layer for each eye.
type LayerBounds struct {
	Left  [4]float32 `json:"left"`
	Right [4]float32 `json:"right"`
}

// Frame is a rendered frame submitted for a presenting display. The content is
// opaque to the arbiter.
type Frame struct {
	Bounds LayerBounds `json:"bounds"`
	Data   []byte      `json:"data"`
}

// GamepadButton is the state of a single gamepad button.
type GamepadButton struct {
	Pressed bool    `json:"pressed"`
	Touched bool    `json:"touched"`
	Value   float64 `json:"value"`
}

// GamepadState is the state of a VR controller.
type GamepadState struct {
	GamepadID uint64 `json:"gamepad_id"`
	// DisplayID is the display the gamepad is associated with.
	DisplayID DisplayID       `json:"display_id"`
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	Timestamp float64         `json:"timestamp"`
	Axes      []float64       `json:"axes"`
	Buttons   []GamepadButton `json:"buttons"`
	Pose      Pose            `json:"pose"`
}
