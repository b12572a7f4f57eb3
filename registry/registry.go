// Package registry holds the set of known VR displays across all hardware
// backends. A Registry is not safe for concurrent use and is owned by the
// dispatcher.
package registry

import (
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// entry is a known display.
type entry struct {
	display hardware.Display
	backend hardware.Backend
	// snapshot is the last metadata reported for the display.
	snapshot vr.DisplayData
}

// Registry answers display enumeration and lookup.
type Registry struct {
	logger *zap.Logger
	// backends holds all successfully initialized backends.
	backends []hardware.Backend
	// lastID is the last handed out display id. Backends may request ids from
	// their own goroutines.
	lastID *atomic.Uint64
	// displays holds all known displays by their id.
	displays map[vr.DisplayID]*entry
	// order holds display ids in the order they became known.
	order []vr.DisplayID
}

// New creates a Registry and probes each of the given backends exactly once.
// Backends that fail to initialize are logged and skipped.
func New(logger *zap.Logger, backends ...hardware.Backend) *Registry {
	r := &Registry{
		logger:   logger,
		backends: make([]hardware.Backend, 0, len(backends)),
		lastID:   atomic.NewUint64(0),
		displays: make(map[vr.DisplayID]*entry),
		order:    make([]vr.DisplayID, 0),
	}
	for _, backend := range backends {
		err := backend.Initialize(r.nextID)
		if err != nil {
			errors.Log(logger, errors.Wrap(err, "initialize backend", errors.Details{"backend": backend.Name()}))
			continue
		}
		r.backends = append(r.backends, backend)
		for _, display := range backend.Displays() {
			r.add(backend, display)
		}
		logger.Debug("backend initialized",
			zap.String("backend", backend.Name()),
			zap.Int("displays", len(backend.Displays())))
	}
	return r
}

// nextID is the hardware.IDSource shared by all backends.
func (r *Registry) nextID() vr.DisplayID {
	return vr.DisplayID(r.lastID.Inc())
}

// add remembers the given display if not already known.
func (r *Registry) add(backend hardware.Backend, display hardware.Display) {
	if _, ok := r.displays[display.ID()]; ok {
		return
	}
	r.displays[display.ID()] = &entry{
		display:  display,
		backend:  backend,
		snapshot: display.Data(),
	}
	r.order = append(r.order, display.ID())
}

// remove forgets the display with the given id.
func (r *Registry) remove(id vr.DisplayID) {
	if _, ok := r.displays[id]; !ok {
		return
	}
	delete(r.displays, id)
	for i, orderedID := range r.order {
		if orderedID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// IsInitialized describes whether at least one backend was initialized.
func (r *Registry) IsInitialized() bool {
	return len(r.backends) > 0
}

// Displays returns the current snapshots of all known displays.
func (r *Registry) Displays() []vr.DisplayData {
	displays := make([]vr.DisplayData, 0, len(r.order))
	for _, id := range r.order {
		displays = append(displays, r.displays[id].snapshot)
	}
	return displays
}

// Display returns the display with the given id. The second return value is
// false if the display is unknown.
func (r *Registry) Display(id vr.DisplayID) (hardware.Display, bool) {
	e, ok := r.displays[id]
	if !ok {
		return nil, false
	}
	return e.display, true
}

// Snapshot returns the last known metadata of the display with the given id.
func (r *Registry) Snapshot(id vr.DisplayID) (vr.DisplayData, bool) {
	e, ok := r.displays[id]
	if !ok {
		return vr.DisplayData{}, false
	}
	return e.snapshot, true
}

// Refresh reads the current metadata of the display with the given id and
// returns it.
func (r *Registry) Refresh(id vr.DisplayID) (vr.DisplayData, bool) {
	e, ok := r.displays[id]
	if !ok {
		return vr.DisplayData{}, false
	}
	e.snapshot = e.display.Data()
	return e.snapshot, true
}

// PollEvents drains all backends and applies the events to the known displays.
// Connected displays are added, disconnected ones removed and snapshots are
// updated for all others. All events are returned, including vr.EventChange.
func (r *Registry) PollEvents() []vr.DisplayEvent {
	events := make([]vr.DisplayEvent, 0)
	for _, backend := range r.backends {
		for _, e := range backend.PollEvents() {
			r.apply(backend, e)
			events = append(events, e)
		}
	}
	return events
}

// apply an event from the given backend.
func (r *Registry) apply(backend hardware.Backend, e vr.DisplayEvent) {
	id := e.Display.DisplayID
	switch e.Type {
	case vr.EventConnect:
		display, ok := displayFromBackend(backend, id)
		if !ok {
			r.logger.Warn("backend reported connect for unknown display",
				zap.String("backend", backend.Name()),
				zap.Any("display_id", id))
			return
		}
		r.add(backend, display)
		r.logger.Info("display connected",
			zap.Any("display_id", id),
			zap.String("display_name", e.Display.DisplayName))
	case vr.EventDisconnect:
		r.remove(id)
		r.logger.Info("display disconnected", zap.Any("display_id", id))
	default:
		known, ok := r.displays[id]
		if !ok {
			return
		}
		known.snapshot = e.Display
	}
}

// displayFromBackend looks up the display with the given id in the backend.
func displayFromBackend(backend hardware.Backend, id vr.DisplayID) (hardware.Display, bool) {
	for _, display := range backend.Displays() {
		if display.ID() == id {
			return display, true
		}
	}
	return nil, false
}

// Gamepads returns the gamepads of all backends.
func (r *Registry) Gamepads() []vr.GamepadState {
	gamepads := make([]vr.GamepadState, 0)
	for _, backend := range r.backends {
		gamepads = append(gamepads, backend.Gamepads()...)
	}
	return gamepads
}
