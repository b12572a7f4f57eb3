// Package fanout broadcasts display events to registered contexts.
package fanout

import (
	"context"
	"sync"

	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

// Sink delivers events to contexts, for example over websocket connections.
// Deliver is called from the dispatcher and must not block. Sinks ignore
// contexts they do not serve.
type Sink interface {
	Deliver(contextID vr.ContextID, e vr.DisplayEvent)
}

// SinkFunc allows using a function as Sink.
type SinkFunc func(contextID vr.ContextID, e vr.DisplayEvent)

// Deliver calls the function.
func (f SinkFunc) Deliver(contextID vr.ContextID, e vr.DisplayEvent) {
	f(contextID, e)
}

// Notifier broadcasts events through sinks and to observers.
type Notifier struct {
	logger *zap.Logger
	// sinks deliver per context.
	sinks []Sink
	// observers receive every broadcast event once.
	observers map[chan vr.DisplayEvent]struct{}
	// m locks sinks and observers.
	m sync.RWMutex
}

// NewNotifier creates a Notifier with the given sinks.
func NewNotifier(logger *zap.Logger, sinks ...Sink) *Notifier {
	return &Notifier{
		logger:    logger,
		sinks:     sinks,
		observers: make(map[chan vr.DisplayEvent]struct{}),
	}
}

// AddSink adds a Sink to deliver to.
func (n *Notifier) AddSink(sink Sink) {
	n.m.Lock()
	defer n.m.Unlock()
	n.sinks = append(n.sinks, sink)
}

// NotifyAll delivers the event to every given context through all sinks and
// forwards it to observers. Events that are not part of the public vocabulary
// (see vr.DisplayEvent.IsBroadcast) are dropped. It reports whether the event
// was broadcast.
func (n *Notifier) NotifyAll(contexts []vr.ContextID, e vr.DisplayEvent) bool {
	if !e.IsBroadcast() {
		return false
	}
	n.m.RLock()
	defer n.m.RUnlock()
	for _, c := range contexts {
		for _, sink := range n.sinks {
			sink.Deliver(c, e)
		}
	}
	for observer := range n.observers {
		select {
		case observer <- e:
		default:
			n.logger.Warn("dropping event for slow observer",
				zap.String("event_type", string(e.Type)),
				zap.Any("display_id", e.Display.DisplayID))
		}
	}
	return true
}

// Observe returns a channel receiving every broadcast event once regardless
// of registered contexts. Delivery does not block, so events are dropped if the
// buffer is full. The channel is closed when the given context.Context is done.
func (n *Notifier) Observe(ctx context.Context, buffer int) <-chan vr.DisplayEvent {
	observer := make(chan vr.DisplayEvent, buffer)
	n.m.Lock()
	n.observers[observer] = struct{}{}
	n.m.Unlock()
	go func() {
		<-ctx.Done()
		n.m.Lock()
		delete(n.observers, observer)
		close(observer)
		n.m.Unlock()
	}()
	return observer
}
