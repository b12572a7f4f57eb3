package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

// Hub holds all active clients and manages registering them as contexts at the
// dispatcher. It is a fanout.Sink for delivering display events to them.
type Hub struct {
	logger     *zap.Logger
	dispatcher Dispatcher
	// clients holds all online clients by their context id.
	clients map[vr.ContextID]*Client
	// clientsMutex locks clients. Sending to a client's channel is done while
	// holding the read lock and closing it while holding the write lock.
	clientsMutex sync.RWMutex
	// register receives when a Client wants to register itself.
	register chan *Client
	// unregister receives when a Client wants to unregister itself.
	unregister chan *Client
	// stopped is closed when Run returns.
	stopped chan struct{}
}

// NewHub creates a new Hub. Start it with Hub.Run.
func NewHub(logger *zap.Logger, dispatcher Dispatcher) *Hub {
	return &Hub{
		logger:     logger,
		dispatcher: dispatcher,
		clients:    make(map[vr.ContextID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Run the Hub until the given context.Context is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		}
	}
}

// addClient registers the client as context.
func (h *Hub) addClient(ctx context.Context, c *Client) {
	h.clientsMutex.Lock()
	h.clients[c.id] = c
	h.clientsMutex.Unlock()
	err := h.dispatcher.RegisterContext(ctx, c.id)
	if err != nil {
		errors.Log(c.logger, errors.Wrap(err, "register context", nil))
		return
	}
	c.logger.Info("client connected")
}

// removeClient unregisters the context of the client and closes its
// send-channel which leads to stopping the write-pump.
func (h *Hub) removeClient(ctx context.Context, c *Client) {
	h.clientsMutex.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.clientsMutex.Unlock()
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.clientsMutex.Unlock()
	err := h.dispatcher.UnregisterContext(ctx, c.id)
	if err != nil {
		errors.Log(c.logger, errors.Wrap(err, "unregister context", nil))
	}
	c.logger.Info("client disconnected")
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	return len(h.clients)
}

// Deliver the event to the client with the given context id. Events for
// unknown contexts are ignored. If the client does not keep up, the event is
// dropped.
func (h *Hub) Deliver(contextID vr.ContextID, e vr.DisplayEvent) {
	h.clientsMutex.RLock()
	defer h.clientsMutex.RUnlock()
	c, ok := h.clients[contextID]
	if !ok {
		return
	}
	raw, err := json.Marshal(outboundMessage{
		Type:    messageTypeDisplayEvent,
		Payload: e,
	})
	if err != nil {
		errors.Log(c.logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal display event",
		})
		return
	}
	select {
	case c.send <- raw:
	default:
		c.logger.Warn("dropping display event for slow client",
			zap.Any("event_type", e.Type),
			zap.Any("display_id", e.Display.DisplayID))
	}
}
