package arbiter

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/hardware"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/atomic"
)

// Capability allows the owner of a presenting session to submit frames to the
// display directly without a round trip through the dispatcher. It is created
// when the session is acquired and invalidated when it ends. A Capability is
// safe for concurrent use.
type Capability struct {
	token   vr.PresentToken
	context vr.ContextID
	display hardware.Display
	// framesSubmitted counts successfully submitted frames.
	framesSubmitted *atomic.Uint64
	// valid is false after invalidate. Submitting holds a read lock so that no
	// frame reaches the display after invalidate returned.
	valid      bool
	validMutex sync.RWMutex
}

func newCapability(context vr.ContextID, display hardware.Display) *Capability {
	return &Capability{
		token:           vr.PresentToken(uuid.New()),
		context:         context,
		display:         display,
		framesSubmitted: atomic.NewUint64(0),
		valid:           true,
	}
}

// Token identifies the Capability.
func (c *Capability) Token() vr.PresentToken {
	return c.token
}

// Context returns the owning context.
func (c *Capability) Context() vr.ContextID {
	return c.context
}

// DisplayID returns the id of the display frames are submitted to.
func (c *Capability) DisplayID() vr.DisplayID {
	return c.display.ID()
}

// Valid describes whether the presenting session is still active.
func (c *Capability) Valid() bool {
	c.validMutex.RLock()
	defer c.validMutex.RUnlock()
	return c.valid
}

// FramesSubmitted returns the number of successfully submitted frames.
func (c *Capability) FramesSubmitted() uint64 {
	return c.framesSubmitted.Load()
}

// SubmitFrame hands the frame to the display. It fails with
// errors.KindNotPresenting once the session ended.
func (c *Capability) SubmitFrame(frame vr.Frame) error {
	c.validMutex.RLock()
	defer c.validMutex.RUnlock()
	if !c.valid {
		return errors.NewNotPresentingError(uint64(c.display.ID()), string(c.context))
	}
	err := c.display.SubmitFrame(frame)
	if err != nil {
		return errors.Wrap(err, "submit frame", errors.Details{"display_id": c.display.ID()})
	}
	c.framesSubmitted.Inc()
	return nil
}

// invalidate ends the Capability. Submissions in progress complete before it
// returns.
func (c *Capability) invalidate() {
	c.validMutex.Lock()
	defer c.validMutex.Unlock()
	c.valid = false
}
