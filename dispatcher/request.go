package dispatcher

import (
	"context"

	"github.com/lefinal/vr-arbiter/vr"
)

// requestType identifies the operation of a request.
type requestType string

const (
	requestRegisterContext   requestType = "register-context"
	requestUnregisterContext requestType = "unregister-context"
	requestPollEvents        requestType = "poll-events"
	requestGetDisplays       requestType = "get-displays"
	requestGetFrameData      requestType = "get-frame-data"
	requestResetPose         requestType = "reset-pose"
	requestRequestPresent    requestType = "request-present"
	requestExitPresent       requestType = "exit-present"
	requestSubmitFrame       requestType = "submit-frame"
	requestCapability        requestType = "capability"
	requestGetGamepads       requestType = "get-gamepads"
	requestStats             requestType = "stats"
	requestExit              requestType = "exit"
)

// response is the reply to a request.
type response struct {
	value any
	err   error
}

// request is a pending request in the inbound queue. It is consumed exactly
// once by the dispatcher loop.
type request struct {
	// ctx is the caller's context. If it is done when the reply is ready, the
	// reply is abandoned.
	ctx         context.Context
	requestType requestType
	context     vr.ContextID
	displayID   vr.DisplayID
	depthNear   float64
	depthFar    float64
	frame       vr.Frame
	// reply receives exactly one response. It is buffered so that replying never
	// blocks. Nil for fire-and-forget requests.
	reply chan response
}
