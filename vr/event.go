package vr

// EventType is the type of DisplayEvent.
type EventType string

const (
	// EventConnect is used when a display becomes available.
	EventConnect EventType = "connect"
	// EventDisconnect is used when a display is gone.
	EventDisconnect EventType = "disconnect"
	// EventActivate is used when the display is ready to present, for example
	// because it was mounted.
	EventActivate EventType = "activate"
	// EventDeactivate is used when the display can no longer present.
	EventDeactivate EventType = "deactivate"
	// EventBlur is used when presenting is paused by the platform.
	EventBlur EventType = "blur"
	// EventFocus is used when presenting resumes after EventBlur.
	EventFocus EventType = "focus"
	// EventPresentChange is used when presenting started or stopped.
	EventPresentChange EventType = "present-change"
	// EventChange is used for metadata refreshes. It is never broadcast to
	// contexts.
	EventChange EventType = "change"
)

// EventReason is the optional reason for EventActivate and EventDeactivate.
type EventReason string

const (
	ReasonNone       EventReason = ""
	ReasonNavigation EventReason = "navigation"
	ReasonMounted    EventReason = "mounted"
	ReasonUnmounted  EventReason = "unmounted"
)

// DisplayEvent is an event regarding a display.
type DisplayEvent struct {
	Type    EventType   `json:"type"`
	Display DisplayData `json:"display"`
	// Reason is set for EventActivate and EventDeactivate.
	Reason EventReason `json:"reason,omitempty"`
	// Presenting is set for EventPresentChange.
	Presenting bool `json:"presenting,omitempty"`
}

// IsBroadcast describes whether the event is part of the public event
// vocabulary and therefore delivered to contexts.
func (e DisplayEvent) IsBroadcast() bool {
	switch e.Type {
	case EventConnect,
		EventDisconnect,
		EventActivate,
		EventDeactivate,
		EventBlur,
		EventFocus,
		EventPresentChange:
		return true
	}
	return false
}
