// Package event provides the payloads of messages exchanged over MQTT.
package event

import (
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
)

// Event is a received MQTT message with its parsed payload.
type Event[T any] struct {
	Publish *paho.Publish
	Payload T
}

// EmptyEvent is used for messages without payload.
type EmptyEvent struct{}

// RemoteDisplayOnlineEvent is published by a remote display bridge when a
// display becomes available or its metadata changed.
type RemoteDisplayOnlineEvent struct {
	// RemoteID is the id the bridge assigned to the display. It is only unique per
	// bridge.
	RemoteID string `json:"remote_id"`
	// Display holds the metadata. The display id is assigned locally and
	// therefore ignored.
	Display vr.DisplayData `json:"display"`
}

// RemoteDisplayOfflineEvent is published when a remote display is gone. Most
// times this is used as LWT.
type RemoteDisplayOfflineEvent struct {
	RemoteID string `json:"remote_id"`
}

// RemoteDisplayStateEvent is published for state changes of a remote display
// like activate, deactivate, blur and focus.
type RemoteDisplayStateEvent struct {
	RemoteID string         `json:"remote_id"`
	Type     vr.EventType   `json:"type"`
	Reason   vr.EventReason `json:"reason,omitempty"`
	// Pose is the latest pose of the display. Optional.
	Pose *vr.Pose `json:"pose,omitempty"`
}

// RemoteFrameEvent is published for frames submitted to a remote display.
type RemoteFrameEvent struct {
	RemoteID string   `json:"remote_id"`
	Frame    vr.Frame `json:"frame"`
}

// RemoteResetPoseEvent is published in order to let the bridge reset the pose
// reference of a remote display.
type RemoteResetPoseEvent struct {
	RemoteID string `json:"remote_id"`
}

// DisplaysReportEvent is published as answer to a report request and holds
// all currently known displays.
type DisplaysReportEvent struct {
	Displays []vr.DisplayData `json:"displays"`
}

// NextLogEntryEvent is used to publish log entries.
type NextLogEntryEvent struct {
	Time       time.Time      `json:"time"`
	Message    string         `json:"message"`
	Level      string         `json:"level"`
	LoggerName string         `json:"logger_name"`
	Fields     map[string]any `json:"fields"`
}

// ErrorEventPayload is used for errors that need to be sent to clients.
type ErrorEventPayload struct {
	// Code is the error code from errors.Error.
	Code string `json:"code"`
	// Kind is the error kind from errors.Error.
	Kind string `json:"kind"`
	// Err is the error from errors.Error.
	Err string `json:"err,omitempty"`
	// Message is the message from errors.Error.
	Message string `json:"message"`
	// Details are error details from errors.Error.
	Details map[string]interface{} `json:"details,omitempty"`
}

// ErrorEventPayloadFromError creates a ErrorEventPayload from the given error.
// Details are only included if the user is to blame.
func ErrorEventPayloadFromError(err error) ErrorEventPayload {
	e, _ := errors.Cast(err)
	if !errors.BlameUser(err) {
		return ErrorEventPayload{
			Code:    string(e.Code),
			Kind:    string(e.Kind),
			Message: "internal server error",
		}
	}
	return ErrorEventPayload{
		Code:    string(e.Code),
		Kind:    string(e.Kind),
		Err:     e.Error(),
		Message: e.Message,
		Details: e.Details,
	}
}
