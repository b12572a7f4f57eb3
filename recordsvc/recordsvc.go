// Package recordsvc records seen displays and presenting sessions.
package recordsvc

import (
	"context"
	"time"

	"github.com/gobuffalo/nulls"
	"github.com/lefinal/vr-arbiter/dispatcher"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/service"
	"github.com/lefinal/vr-arbiter/store"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/zap"
)

// observeBuffer is the buffer size for observed events. Writing to the
// database is slow compared to event rates, so this is generous.
const observeBuffer = 64

// Store are the dependencies needed for NewRecordService.
type Store interface {
	// RecordDisplaySeen creates the display with the given data or updates the
	// last seen timestamp and capabilities if it is already known.
	RecordDisplaySeen(ctx context.Context, display vr.DisplayData, at time.Time) error
	// StartPresentSession records a new session and returns its id.
	StartPresentSession(ctx context.Context, session store.PresentSession) (int, error)
	// EndPresentSessions ends all open sessions of the display.
	EndPresentSessions(ctx context.Context, displayID vr.DisplayID, at time.Time) (int, error)
}

// Observer provides broadcast display events.
type Observer interface {
	Observe(ctx context.Context, buffer int) <-chan vr.DisplayEvent
}

// Dispatcher is used for retrieving initial displays and owners.
type Dispatcher interface {
	GetDisplays(ctx context.Context) ([]vr.DisplayData, error)
	Stats(ctx context.Context) (dispatcher.Stats, error)
}

// recordService records observed display events in the Store.
type recordService struct {
	logger     *zap.Logger
	store      Store
	observer   Observer
	dispatcher Dispatcher
	now        func() time.Time
}

// NewRecordService creates a new service.Service ready to run.
func NewRecordService(logger *zap.Logger, store Store, observer Observer, dispatcher Dispatcher) service.Service {
	return &recordService{
		logger:     logger,
		store:      store,
		observer:   observer,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Run the service. Displays that are known when starting are recorded as seen.
func (s *recordService) Run(ctx context.Context) error {
	events := s.observer.Observe(ctx, observeBuffer)
	displays, err := s.dispatcher.GetDisplays(ctx)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "get initial displays", nil))
	}
	for _, display := range displays {
		s.recordSeen(ctx, display)
	}
	for e := range events {
		s.handleEvent(ctx, e)
	}
	return nil
}

// handleEvent records the given event.
func (s *recordService) handleEvent(ctx context.Context, e vr.DisplayEvent) {
	switch e.Type {
	case vr.EventConnect:
		s.recordSeen(ctx, e.Display)
	case vr.EventDisconnect:
		s.recordSeen(ctx, e.Display)
		s.endSessions(ctx, e.Display.DisplayID)
	case vr.EventPresentChange:
		if !e.Presenting {
			s.endSessions(ctx, e.Display.DisplayID)
			return
		}
		s.startSession(ctx, e.Display)
	}
}

func (s *recordService) recordSeen(ctx context.Context, display vr.DisplayData) {
	err := s.store.RecordDisplaySeen(ctx, display, s.now())
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "record display seen", errors.Details{
			"display_id":   display.DisplayID,
			"display_name": display.DisplayName,
		}))
	}
}

// startSession records a new session. The presenting context is looked up but
// may be gone already.
func (s *recordService) startSession(ctx context.Context, display vr.DisplayData) {
	session := store.PresentSession{
		DisplayName: display.DisplayName,
		DisplayID:   display.DisplayID,
		Started:     s.now(),
	}
	stats, err := s.dispatcher.Stats(ctx)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "get stats for presenting context", nil))
	} else if owner, ok := stats.Owners[display.DisplayID]; ok {
		session.Context = nulls.NewString(string(owner))
	}
	id, err := s.store.StartPresentSession(ctx, session)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "start present session", errors.Details{"display_id": display.DisplayID}))
		return
	}
	s.logger.Debug("present session started",
		zap.Int("session_id", id),
		zap.Any("display_id", display.DisplayID),
		zap.String("context", session.Context.String))
}

func (s *recordService) endSessions(ctx context.Context, displayID vr.DisplayID) {
	ended, err := s.store.EndPresentSessions(ctx, displayID, s.now())
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "end present sessions", errors.Details{"display_id": displayID}))
		return
	}
	if ended > 0 {
		s.logger.Debug("present sessions ended", zap.Int("count", ended), zap.Any("display_id", displayID))
	}
}
