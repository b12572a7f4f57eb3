// Package mirrorsvc mirrors display events to MQTT for other components like
// dashboards.
package mirrorsvc

import (
	"context"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/event"
	"github.com/lefinal/vr-arbiter/portal"
	"github.com/lefinal/vr-arbiter/service"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

const observeBuffer = 64

const (
	// TopicEvents is where all broadcast display events are published.
	TopicEvents portal.Topic = "vr/events"
	// TopicDisplays is where known displays are published when requested via
	// TopicDisplaysReport.
	TopicDisplays portal.Topic = "vr/displays"
	// TopicDisplaysReport requests publishing known displays to TopicDisplays.
	TopicDisplaysReport portal.Topic = "vr/displays/report"
)

// Observer provides broadcast display events.
type Observer interface {
	Observe(ctx context.Context, buffer int) <-chan vr.DisplayEvent
}

// Displays provides the currently known displays.
type Displays interface {
	GetDisplays(ctx context.Context) ([]vr.DisplayData, error)
}

type mirrorService struct {
	logger   *zap.Logger
	portal   portal.Portal
	observer Observer
	displays Displays
}

// NewMirrorService creates a new service.Service that publishes observed
// events and answers display report requests.
func NewMirrorService(logger *zap.Logger, p portal.Portal, observer Observer, displays Displays) service.Service {
	return &mirrorService{
		logger:   logger,
		portal:   p,
		observer: observer,
		displays: displays,
	}
}

func (s *mirrorService) Run(ctx context.Context) error {
	events := s.observer.Observe(ctx, observeBuffer)
	reportNewsletter := portal.Subscribe[event.EmptyEvent](ctx, s.portal, TopicDisplaysReport)
	defer reportNewsletter.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, more := <-events:
			if !more {
				return nil
			}
			s.portal.Publish(ctx, TopicEvents, e)
		case _, more := <-reportNewsletter.Receive:
			if !more {
				return nil
			}
			s.report(ctx)
		}
	}
}

// report publishes all known displays.
func (s *mirrorService) report(ctx context.Context) {
	displays, err := s.displays.GetDisplays(ctx)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "get displays for report", nil))
		return
	}
	s.portal.Publish(ctx, TopicDisplays, event.DisplaysReportEvent{Displays: displays})
}
