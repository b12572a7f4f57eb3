// Package arbiter tracks which context holds the exclusive presenting session
// for each display.
//
// An Arbiter is not safe for concurrent use. It is owned by the dispatcher
// which serializes all access. The only objects handed out to other goroutines
// are Capability values which synchronize internally.
package arbiter

import (
	"sort"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/vr"
)

// DisplayLookup returns the display with the given id or false if unknown.
type DisplayLookup func(id vr.DisplayID) (hardware.Display, bool)

// session is a presenting session of a context on a display.
type session struct {
	context    vr.ContextID
	capability *Capability
}

// Arbiter holds presentation ownership.
type Arbiter struct {
	// sessions holds the owning session by display. A display without entry is
	// unowned.
	sessions map[vr.DisplayID]*session
}

// New creates an Arbiter with no owned displays.
func New() *Arbiter {
	return &Arbiter{
		sessions: make(map[vr.DisplayID]*session),
	}
}

// CheckAccess assures that the given context may operate on the display with
// the given id. It fails with errors.KindDeviceNotFound if the display is
// unknown and with errors.KindDeviceBusy if another context owns it. An unowned
// display permits any context.
func (a *Arbiter) CheckAccess(context vr.ContextID, displayID vr.DisplayID, lookup DisplayLookup) (hardware.Display, error) {
	display, ok := lookup(displayID)
	if !ok {
		return nil, errors.NewDeviceNotFoundError(uint64(displayID))
	}
	s, owned := a.sessions[displayID]
	if owned && s.context != context {
		return nil, errors.NewDeviceBusyError(uint64(displayID))
	}
	return display, nil
}

// Acquire grants the presenting session for the given display to the context.
// It must only be called after CheckAccess succeeded. If the context already
// owns the display, the existing Capability is returned and the second return
// value is false.
func (a *Arbiter) Acquire(context vr.ContextID, display hardware.Display) (*Capability, bool) {
	if s, ok := a.sessions[display.ID()]; ok && s.context == context {
		return s.capability, false
	}
	s := &session{
		context:    context,
		capability: newCapability(context, display),
	}
	a.sessions[display.ID()] = s
	return s.capability, true
}

// Release ends the presenting session of the context on the display with the
// given id and invalidates its Capability. It returns false without any effect
// if the context does not own the display.
func (a *Arbiter) Release(context vr.ContextID, displayID vr.DisplayID) bool {
	s, ok := a.sessions[displayID]
	if !ok || s.context != context {
		return false
	}
	s.capability.invalidate()
	delete(a.sessions, displayID)
	return true
}

// ForceRelease ends any presenting session on the display with the given id,
// for example because the display was disconnected. It returns the previous
// owner.
func (a *Arbiter) ForceRelease(displayID vr.DisplayID) (vr.ContextID, bool) {
	s, ok := a.sessions[displayID]
	if !ok {
		return "", false
	}
	s.capability.invalidate()
	delete(a.sessions, displayID)
	return s.context, true
}

// Owner returns the context owning the display with the given id.
func (a *Arbiter) Owner(displayID vr.DisplayID) (vr.ContextID, bool) {
	s, ok := a.sessions[displayID]
	if !ok {
		return "", false
	}
	return s.context, true
}

// Capability returns the Capability of the context for the display with the
// given id. The second return value is false if the context is not owner.
func (a *Arbiter) Capability(context vr.ContextID, displayID vr.DisplayID) (*Capability, bool) {
	s, ok := a.sessions[displayID]
	if !ok || s.context != context {
		return nil, false
	}
	return s.capability, true
}

// OwnedBy returns the ids of all displays owned by the given context in
// ascending order.
func (a *Arbiter) OwnedBy(context vr.ContextID) []vr.DisplayID {
	owned := make([]vr.DisplayID, 0)
	for displayID, s := range a.sessions {
		if s.context == context {
			owned = append(owned, displayID)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i] < owned[j]
	})
	return owned
}

// Owners returns a copy of the ownership map.
func (a *Arbiter) Owners() map[vr.DisplayID]vr.ContextID {
	owners := make(map[vr.DisplayID]vr.ContextID, len(a.sessions))
	for displayID, s := range a.sessions {
		owners[displayID] = s.context
	}
	return owners
}

// Len returns the number of owned displays.
func (a *Arbiter) Len() int {
	return len(a.sessions)
}
