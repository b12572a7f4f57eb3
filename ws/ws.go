// Package ws binds browser contexts to the dispatcher via websocket. Each
// connection is one context.
package ws

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lefinal/vr-arbiter/arbiter"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

// Dispatcher is the part of dispatcher.Dispatcher that is used for serving
// clients.
type Dispatcher interface {
	RegisterContext(ctx context.Context, contextID vr.ContextID) error
	UnregisterContext(ctx context.Context, contextID vr.ContextID) error
	GetDisplays(ctx context.Context) ([]vr.DisplayData, error)
	GetFrameData(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID,
		depthNear float64, depthFar float64) (vr.FrameData, error)
	ResetPose(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (vr.DisplayData, error)
	RequestPresent(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (vr.PresentToken, error)
	ExitPresent(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) error
	Capability(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (*arbiter.Capability, error)
	GetGamepads(ctx context.Context) ([]vr.GamepadState, error)
}

// HandleWS handles websocket requests. The passed context is used in order to
// stop all remaining read-pumps.
func HandleWS(ctx context.Context, hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errors.Log(hub.logger, errors.NewTransportFailureError("upgrade connection",
				errors.Details{"err": err.Error(), "remote_addr": r.RemoteAddr}))
			return
		}
		contextID := vr.ContextID(uuid.New().String())
		client := &Client{
			logger:       hub.logger.Named("client").With(zap.Any("context", contextID)),
			id:           contextID,
			hub:          hub,
			connection:   conn,
			send:         make(chan []byte, 256),
			capabilities: make(map[vr.DisplayID]*arbiter.Capability),
		}
		// Use the client's hub so that the reference from the handler can be dropped.
		select {
		case <-hub.stopped:
			_ = conn.Close()
			return
		case client.hub.register <- client:
		}
		// Power the pumps.
		go client.writePump()
		go client.readPump(ctx)
	}
}
