package ws

import (
	"context"
	"encoding/json"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/vr"
)

// Message types of requests and responses.
const (
	messageTypeGetDisplays    = "get-displays"
	messageTypeGetFrameData   = "get-frame-data"
	messageTypeResetPose      = "reset-pose"
	messageTypeRequestPresent = "request-present"
	messageTypeExitPresent    = "exit-present"
	messageTypeSubmitFrame    = "submit-frame"
	messageTypeGetGamepads    = "get-gamepads"
	messageTypeDisplayEvent   = "display-event"
	messageTypeError          = "error"
)

// inboundMessage is a request from the client.
type inboundMessage struct {
	// RequestID is echoed in the response so that the client can match it.
	RequestID string       `json:"request_id,omitempty"`
	Type      string       `json:"type"`
	DisplayID vr.DisplayID `json:"display_id,omitempty"`
	// DepthNear defaults to vr.DefaultDepthNear.
	DepthNear *float64 `json:"depth_near,omitempty"`
	// DepthFar defaults to vr.DefaultDepthFar.
	DepthFar *float64  `json:"depth_far,omitempty"`
	Frame    *vr.Frame `json:"frame,omitempty"`
}

// outboundMessage is a response or an event.
type outboundMessage struct {
	RequestID string                   `json:"request_id,omitempty"`
	Type      string                   `json:"type"`
	Payload   any                      `json:"payload,omitempty"`
	Error     *event.ErrorEventPayload `json:"error,omitempty"`
}

// requestPresentPayload is the payload for successful present requests.
type requestPresentPayload struct {
	Token vr.PresentToken `json:"token"`
}

// handleMessage parses and handles the given raw request and returns the
// response.
func (c *Client) handleMessage(ctx context.Context, raw []byte) outboundMessage {
	var message inboundMessage
	err := json.Unmarshal(raw, &message)
	if err != nil {
		return c.errorResponse(message, errors.Error{
			Code:    errors.ErrBadRequest,
			Kind:    errors.KindDecodeJSON,
			Err:     err,
			Message: "invalid message",
		})
	}
	res := outboundMessage{
		RequestID: message.RequestID,
		Type:      message.Type,
	}
	switch message.Type {
	case messageTypeGetDisplays:
		res.Payload, err = c.hub.dispatcher.GetDisplays(ctx)
	case messageTypeGetFrameData:
		near := vr.DefaultDepthNear
		if message.DepthNear != nil {
			near = *message.DepthNear
		}
		far := vr.DefaultDepthFar
		if message.DepthFar != nil {
			far = *message.DepthFar
		}
		res.Payload, err = c.hub.dispatcher.GetFrameData(ctx, c.id, message.DisplayID, near, far)
	case messageTypeResetPose:
		res.Payload, err = c.hub.dispatcher.ResetPose(ctx, c.id, message.DisplayID)
	case messageTypeRequestPresent:
		var token vr.PresentToken
		token, err = c.hub.dispatcher.RequestPresent(ctx, c.id, message.DisplayID)
		res.Payload = requestPresentPayload{Token: token}
	case messageTypeExitPresent:
		err = c.hub.dispatcher.ExitPresent(ctx, c.id, message.DisplayID)
		delete(c.capabilities, message.DisplayID)
	case messageTypeSubmitFrame:
		if message.Frame == nil {
			err = errors.NewBadRequestError(errors.KindUnknown, "missing frame", nil)
			break
		}
		err = c.submitFrame(ctx, message.DisplayID, *message.Frame)
	case messageTypeGetGamepads:
		res.Payload, err = c.hub.dispatcher.GetGamepads(ctx)
	default:
		err = errors.NewBadRequestError(errors.KindUnknownRequestType, "unknown request type",
			errors.Details{"type": message.Type})
	}
	if err != nil {
		return c.errorResponse(message, err)
	}
	return res
}

// submitFrame submits the frame using the cached capability for the display.
// The capability is requested if not cached or no longer valid.
func (c *Client) submitFrame(ctx context.Context, displayID vr.DisplayID, frame vr.Frame) error {
	capability, ok := c.capabilities[displayID]
	if !ok || !capability.Valid() {
		var err error
		capability, err = c.hub.dispatcher.Capability(ctx, c.id, displayID)
		if err != nil {
			delete(c.capabilities, displayID)
			return err
		}
		c.capabilities[displayID] = capability
	}
	err := capability.SubmitFrame(frame)
	if err != nil {
		if errors.Is(err, errors.KindNotPresenting) {
			delete(c.capabilities, displayID)
		}
		return err
	}
	return nil
}

// errorResponse logs the error and creates the response for it.
func (c *Client) errorResponse(message inboundMessage, err error) outboundMessage {
	errors.Log(c.logger, err)
	payload := event.ErrorEventPayloadFromError(err)
	messageType := message.Type
	if messageType == "" {
		messageType = messageTypeError
	}
	return outboundMessage{
		RequestID: message.RequestID,
		Type:      messageType,
		Error:     &payload,
	}
}
