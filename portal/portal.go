package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"go.uber.org/zap"
)

// DefaultClientID is the MQTT client id used if none is configured.
const DefaultClientID = "vr-arbiter"

const mqttKeepAlive = 8

const mqttQOS = 0

// Topic is an MQTT topic.
type Topic string

// Config is the config for the Base.
type Config struct {
	// MQTTAddr is the address where the MQTT-server is found.
	MQTTAddr string
	// ClientID is the MQTT client id. Defaults to DefaultClientID.
	ClientID string
}

// Newsletter is used with Portal.Subscribe in order to subscribe to topics.
type Newsletter[payloadT any] struct {
	unregisterFn func()
	// Receive receives when a new message for the subscribed topic was received.
	// When the Newsletter is unsubscribed, the Receive-channel will be closed.
	Receive <-chan event.Event[payloadT]
}

// Unsubscribe ends the subscription.
func (sub *Newsletter[payload]) Unsubscribe() {
	sub.unregisterFn()
}

// publisher is used for publishing MQTT events.
type publisher interface {
	Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error)
}

// Base is a wrapper for all connection related stuff for a Portal. Using the
// Base, you only need to Open the Base and then use portals via NewPortal.
type Base interface {
	// Open the connection. Stays opened until the given context.Context is done.
	Open(ctx context.Context) error
	// NewPortal creates a new Portal that uses the connection from the Base.
	NewPortal(name string) Portal
}

// basePortal implements Base. It forwards subscriptions and publishes to the
// current connection.
type basePortal struct {
	logger *zap.Logger
	config Config
	// brokerURL is the URL of the MQTT broker.
	brokerURL *url.URL
	// inboundRouter matches incoming messages to handlers.
	inboundRouter *paho.StandardRouter
	// gateway multiplexes subscriptions.
	gateway *portalGateway
	// conn is the connection to the MQTT server. Nil until opened.
	conn *autopaho.ConnectionManager
	// connMutex locks conn.
	connMutex sync.RWMutex
}

// Portal is used by services for communication via MQTT.
type Portal interface {
	// Subscribe returns a Newsletter for the given Topic.
	Subscribe(ctx context.Context, topic Topic) *Newsletter[any]
	// Publish the given payload to the Topic. It will catch any errors during
	// publishing and log them using the Logger.
	Publish(ctx context.Context, topic Topic, payload interface{})
	// Logger is needed in order to provide error logging for Subscribe as
	// generic methods are not supported.
	Logger() *zap.Logger
}

// NewBase creates a Base with the given Config. Open it with Base.Open.
func NewBase(logger *zap.Logger, config Config) (Base, error) {
	// Parse URL.
	brokerURL, err := url.Parse(config.MQTTAddr)
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "invalid mqtt addr", errors.Details{"was": config.MQTTAddr})
	}
	if config.ClientID == "" {
		config.ClientID = DefaultClientID
	}
	p := &basePortal{
		logger:        logger,
		config:        config,
		brokerURL:     brokerURL,
		inboundRouter: paho.NewStandardRouter(),
	}
	p.gateway = newPortalGateway(logger.Named("gateway"), &portalGatewayMQTTBridge{
		logger:        logger.Named("mqtt-bridge"),
		kiosk:         p,
		inboundRouter: p.inboundRouter,
	})
	return p, nil
}

// Open the base portal and keep the connection to the MQTT server until the
// given context.Context is done.
func (p *basePortal) Open(ctx context.Context) error {
	// Establish MQTT connection.
	conn, err := autopaho.NewConnection(ctx, p.genClientConfig(ctx))
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "create mqtt server connection failed", nil)
	}
	p.connMutex.Lock()
	p.conn = conn
	p.connMutex.Unlock()
	// Wait until we are done.
	<-ctx.Done()
	// Shutdown MQTT connection.
	disconnectTimeout, cancelDisconnectTimeout := context.WithTimeout(context.Background(), 3*time.Second)
	err = conn.Disconnect(disconnectTimeout)
	cancelDisconnectTimeout()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "disconnect from mqtt server failed", nil)
	}
	return nil
}

// connection returns the current connection or nil if not opened yet.
func (p *basePortal) connection() *autopaho.ConnectionManager {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.conn
}

// Subscribe at the MQTT server. If not connected yet, this is skipped as all
// topics are subscribed when the connection is up.
func (p *basePortal) Subscribe(ctx context.Context, subscribe *paho.Subscribe) (*paho.Suback, error) {
	conn := p.connection()
	if conn == nil {
		p.logger.Debug("deferring subscription until connected")
		return nil, nil
	}
	return conn.Subscribe(ctx, subscribe)
}

// Unsubscribe at the MQTT server.
func (p *basePortal) Unsubscribe(ctx context.Context, unsubscribe *paho.Unsubscribe) (*paho.Unsuback, error) {
	conn := p.connection()
	if conn == nil {
		return nil, nil
	}
	return conn.Unsubscribe(ctx, unsubscribe)
}

// Publish using the current connection.
func (p *basePortal) Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error) {
	conn := p.connection()
	if conn == nil {
		return nil, errors.Error{
			Code:    errors.ErrCommunication,
			Kind:    errors.KindTransportFailure,
			Message: "mqtt connection not opened",
			Details: errors.Details{"topic": publish.Topic},
		}
	}
	return conn.Publish(ctx, publish)
}

// genClientConfig generates the autopaho.ClientConfig that is ready to launch
// and will use the inbound router.
func (p *basePortal) genClientConfig(ctx context.Context) autopaho.ClientConfig {
	return autopaho.ClientConfig{
		BrokerUrls: []*url.URL{p.brokerURL},
		KeepAlive:  mqttKeepAlive,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt server connection established")
			// Subscriptions do not survive reconnects, so we subscribe again.
			p.gateway.resubscribeAll(ctx, cm)
		},
		OnConnectError: func(err error) {
			errors.Log(p.logger, errors.Error{
				Code:    errors.ErrCommunication,
				Kind:    errors.KindTransportFailure,
				Err:     err,
				Message: "mqtt server connection failed",
			})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.config.ClientID,
			Router:   p.inboundRouter,
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				reason := fmt.Sprintf("reason code %d", disconnect.ReasonCode)
				if disconnect.Properties != nil {
					reason = disconnect.Properties.ReasonString
				}
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Kind:    errors.KindTransportFailure,
					Message: fmt.Sprintf("mqtt server requested disconnect: %s", reason),
				})
			},
			OnClientError: func(err error) {
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Kind:    errors.KindTransportFailure,
					Err:     err,
					Message: "mqtt server connection client error",
				})
			},
		},
	}
}

// NewPortal creates a new Portal that can be used to subscribe to topics and
// events.
func (p *basePortal) NewPortal(name string) Portal {
	return &portal{
		logger:    p.logger.Named(name),
		gateway:   p.gateway,
		publisher: p,
	}
}

// Subscribe to the given Portal for the Topic. The returned Newsletter contains
// an already unmarshalled payload. Messages that fail to unmarshal, are
// dropped. However, the error is logged to Portal.Logger.
func Subscribe[payloadT any](ctx context.Context, portal Portal, topic Topic) *Newsletter[payloadT] {
	rawSub := portal.Subscribe(ctx, topic)
	receiveParsed := make(chan event.Event[payloadT])
	go func() {
		defer close(receiveParsed)
		for e := range rawSub.Receive {
			// Parse payload.
			var payload payloadT
			err := json.Unmarshal(e.Publish.Payload, &payload)
			if err != nil {
				errors.Log(portal.Logger(), errors.Error{
					Code:    errors.ErrBadRequest,
					Kind:    errors.KindDecodeJSON,
					Err:     err,
					Message: "parse payload failed",
					Details: errors.Details{
						"topic":   e.Publish.Topic,
						"payload": string(e.Publish.Payload),
					},
				})
				continue
			}
			// Forward
			select {
			case <-ctx.Done():
				return
			case receiveParsed <- event.Event[payloadT]{
				Publish: e.Publish,
				Payload: payload,
			}:
			}
		}
	}()
	return &Newsletter[payloadT]{
		unregisterFn: rawSub.unregisterFn,
		Receive:      receiveParsed,
	}
}

// portal provides a higher-level API for Base that makes it easier to conduct
// tests, etc.
type portal struct {
	logger *zap.Logger
	// gateway is used for subscribing to MQTT topics via Subscribe.
	gateway *portalGateway
	// publisher is used for publishing MQTT messages via Publish.
	publisher publisher
}

// Subscribe for the given Topic using the portal's gateway.
func (p *portal) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	subLifetime, cancelSub := context.WithCancel(ctx)
	forward := p.gateway.subscribe(subLifetime, topic)
	return &Newsletter[any]{
		unregisterFn: cancelSub,
		Receive:      forward,
	}
}

// Publish the given payload to the Topic.
func (p *portal) Publish(ctx context.Context, topic Topic, payload interface{}) {
	// Marshal payload.
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		errors.Log(p.logger, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindEncodeJSON,
			Err:     err,
			Message: "marshal payload for publishing",
			Details: errors.Details{"topic": topic},
		})
		return
	}
	// Publish.
	_, err = p.publisher.Publish(ctx, &paho.Publish{
		QoS:     mqttQOS,
		Topic:   string(topic),
		Payload: payloadRaw,
	})
	if err != nil {
		errors.Log(p.logger, errors.Wrap(err, "publish message", errors.Details{"topic": topic}))
		return
	}
}

// Logger returns the portal's logger.
func (p *portal) Logger() *zap.Logger {
	return p.logger
}
