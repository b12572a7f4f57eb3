package portal

import (
	"context"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"go.uber.org/zap"
)

// kioskTimeout is the timeout for subscribing and unsubscribing at the MQTT
// server.
const kioskTimeout = 5 * time.Second

// mqttKiosk subscribes and unsubscribes topics at the MQTT server.
type mqttKiosk interface {
	Subscribe(ctx context.Context, subscribe *paho.Subscribe) (*paho.Suback, error)
	Unsubscribe(ctx context.Context, unsubscribe *paho.Unsubscribe) (*paho.Unsuback, error)
}

// mqttInboundRouter abstracts paho.Router with only stuff that is needed for
// portalGateway.
type mqttInboundRouter interface {
	RegisterHandler(topic string, handler paho.MessageHandler)
	UnregisterHandler(topic string)
}

// portalGatewayMQTTBridge bundles what portalGateway needs from MQTT.
type portalGatewayMQTTBridge struct {
	logger *zap.Logger
	// kiosk is used for subscribing topics at the server.
	kiosk mqttKiosk
	// inboundRouter matches received messages to handlers.
	inboundRouter mqttInboundRouter
}

// subscribeTopic subscribes the topic at the server and logs failures.
func (bridge *portalGatewayMQTTBridge) subscribeTopic(ctx context.Context, kiosk mqttKiosk, topic Topic) {
	subscribeTimeout, cancel := context.WithTimeout(ctx, kioskTimeout)
	defer cancel()
	_, err := kiosk.Subscribe(subscribeTimeout, &paho.Subscribe{
		Subscriptions: map[string]paho.SubscribeOptions{
			string(topic): {QoS: mqttQOS},
		},
	})
	if err != nil {
		errors.Log(bridge.logger, errors.NewTransportFailureError("subscribe topic at mqtt server",
			errors.Details{"topic": topic, "err": err.Error()}))
		return
	}
	bridge.logger.Debug("subscribed to topic", zap.Any("topic", topic))
}

// unsubscribeTopic unsubscribes the topic at the server and logs failures.
func (bridge *portalGatewayMQTTBridge) unsubscribeTopic(topic Topic) {
	unsubscribeTimeout, cancel := context.WithTimeout(context.Background(), kioskTimeout)
	defer cancel()
	_, err := bridge.kiosk.Unsubscribe(unsubscribeTimeout, &paho.Unsubscribe{
		Topics: []string{string(topic)},
	})
	if err != nil {
		errors.Log(bridge.logger, errors.NewTransportFailureError("unsubscribe topic at mqtt server",
			errors.Details{"topic": topic, "err": err.Error()}))
		return
	}
	bridge.logger.Debug("unsubscribed from topic", zap.Any("topic", topic))
}

// subscription is a container for the lifetime context.Context and the channel
// to forward the received paho.Publish message to.
type subscription struct {
	lifetime context.Context
	forward  chan<- event.Event[any]
}

// registeredHandler is a container for subscriptions to serve.
type registeredHandler struct {
	// subscriptions contains all active subscriptions that are served by the
	// handler.
	subscriptions map[*subscription]struct{}
	// subscriptionsMutex locks subscriptions.
	subscriptionsMutex sync.RWMutex
}

// Handler returns a paho.MessageHandler that forwards to all subscriptions for
// the handler.
func (handler *registeredHandler) Handler() paho.MessageHandler {
	return func(publish *paho.Publish) {
		// Forward to all listeners.
		var allForwarded sync.WaitGroup
		handler.subscriptionsMutex.RLock()
		for sub := range handler.subscriptions {
			allForwarded.Add(1)
			go func(sub *subscription) {
				defer allForwarded.Done()
				select {
				case <-sub.lifetime.Done():
				case sub.forward <- event.Event[any]{Publish: publish}:
				}
			}(sub)
		}
		handler.subscriptionsMutex.RUnlock()
		allForwarded.Wait()
	}
}

// portalGateway multiplexes MQTT subscriptions of all portals. A topic is
// subscribed at the server once and received messages are forwarded to every
// subscription.
type portalGateway struct {
	logger     *zap.Logger
	mqttBridge *portalGatewayMQTTBridge
	// registeredHandlers holds all handlers by subscribed topics.
	registeredHandlers map[Topic]*registeredHandler
	// registeredHandlersMutex locks registeredHandlers.
	registeredHandlersMutex sync.Mutex
}

func newPortalGateway(logger *zap.Logger, mqttBridge *portalGatewayMQTTBridge) *portalGateway {
	return &portalGateway{
		logger:             logger,
		mqttBridge:         mqttBridge,
		registeredHandlers: make(map[Topic]*registeredHandler),
	}
}

// subscribe for the given Topic. The returned channel receives messages until
// the context.Context is done. Then it is closed.
func (gateway *portalGateway) subscribe(lifetime context.Context, topic Topic) <-chan event.Event[any] {
	forward := make(chan event.Event[any])
	gateway.registeredHandlersMutex.Lock()
	defer gateway.registeredHandlersMutex.Unlock()
	// Check if already existing.
	handlerRef, ok := gateway.registeredHandlers[topic]
	if !ok {
		handlerRef = &registeredHandler{subscriptions: make(map[*subscription]struct{})}
		gateway.registeredHandlers[topic] = handlerRef
		gateway.mqttBridge.inboundRouter.RegisterHandler(string(topic), handlerRef.Handler())
		gateway.mqttBridge.subscribeTopic(context.Background(), gateway.mqttBridge.kiosk, topic)
	}
	// Add subscription.
	sub := &subscription{
		lifetime: lifetime,
		forward:  forward,
	}
	handlerRef.subscriptionsMutex.Lock()
	handlerRef.subscriptions[sub] = struct{}{}
	handlerRef.subscriptionsMutex.Unlock()
	// Unsubscribe when lifetime done.
	go func() {
		<-lifetime.Done()
		gateway.unsubscribe(topic, sub)
		close(forward)
	}()
	return forward
}

// unsubscribe the given subscription for the Topic. Only portalGateway should
// call this!
func (gateway *portalGateway) unsubscribe(topic Topic, sub *subscription) {
	gateway.registeredHandlersMutex.Lock()
	defer gateway.registeredHandlersMutex.Unlock()
	// Get handler.
	handler, ok := gateway.registeredHandlers[topic]
	if !ok {
		errors.Log(gateway.logger, errors.NewInternalError("unsubscribe called for unknown registered handler",
			errors.Details{"topic": topic}))
		return
	}
	// Remove subscription. Waits for running forwards which are aborted because
	// the lifetime is done.
	handler.subscriptionsMutex.Lock()
	defer handler.subscriptionsMutex.Unlock()
	if _, ok := handler.subscriptions[sub]; !ok {
		errors.Log(gateway.logger, errors.NewInternalError("unsubscribe with unknown subscription for handler",
			errors.Details{"topic": topic}))
		return
	}
	delete(handler.subscriptions, sub)
	// Check if subscriptions left as then we do not need to unregister the handler.
	if len(handler.subscriptions) > 0 {
		return
	}
	delete(gateway.registeredHandlers, topic)
	gateway.mqttBridge.inboundRouter.UnregisterHandler(string(topic))
	gateway.mqttBridge.unsubscribeTopic(topic)
}

// resubscribeAll subscribes all topics with registered handlers using the
// given kiosk. This is needed after (re)connecting.
func (gateway *portalGateway) resubscribeAll(ctx context.Context, kiosk mqttKiosk) {
	gateway.registeredHandlersMutex.Lock()
	topics := make([]Topic, 0, len(gateway.registeredHandlers))
	for topic := range gateway.registeredHandlers {
		topics = append(topics, topic)
	}
	gateway.registeredHandlersMutex.Unlock()
	for _, topic := range topics {
		gateway.mqttBridge.subscribeTopic(ctx, kiosk, topic)
	}
}
