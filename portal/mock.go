package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Stub mocks Portal for services that subscribe and publish.
type Stub struct {
	mock.Mock
	// Log is returned by Logger. Nop if not set.
	Log *zap.Logger
}

// Subscribe calls mock.Mock and returns the configured *Newsletter.
func (s *Stub) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	newsletter, _ := s.Called(ctx, topic).Get(0).(*Newsletter[any])
	return newsletter
}

// Publish calls mock.Mock.
func (s *Stub) Publish(ctx context.Context, topic Topic, payload any) {
	s.Called(ctx, topic, payload)
}

// Logger returns Log or a nop logger.
func (s *Stub) Logger() *zap.Logger {
	if s.Log == nil {
		return zap.New(zapcore.NewNopCore())
	}
	return s.Log
}

// NewFeedNewsletter returns a Newsletter for the given Topic that delivers each
// payload read from feed as if it was received via MQTT. Payloads are encoded
// as JSON so that Subscribe decodes them like real messages. Newsletter.Receive
// is closed when the context.Context is done, the feed is closed or the
// Newsletter is unsubscribed.
func NewFeedNewsletter(ctx context.Context, topic Topic, feed <-chan any) *Newsletter[any] {
	lifetime, cancel := context.WithCancel(ctx)
	receive := make(chan event.Event[any])
	go func() {
		defer close(receive)
		for {
			var payload any
			var more bool
			select {
			case <-lifetime.Done():
				return
			case payload, more = <-feed:
				if !more {
					return
				}
			}
			raw, err := json.Marshal(payload)
			if err != nil {
				panic(fmt.Sprintf("encode fed payload for topic %s: %v", topic, err))
			}
			select {
			case <-lifetime.Done():
				return
			case receive <- event.Event[any]{Publish: &paho.Publish{Topic: string(topic), Payload: raw}}:
			}
		}
	}()
	return &Newsletter[any]{
		unregisterFn: cancel,
		Receive:      receive,
	}
}
