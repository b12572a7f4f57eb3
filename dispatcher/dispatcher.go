// Package dispatcher provides the actor loop that serializes all access to the
// display registry and the arbiter. Any number of callers may issue requests
// concurrently. Each request is handled to completion before the next one is
// taken from the queue and receives exactly one reply.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lefinal/vr-arbiter/arbiter"
	"github.com/lefinal/vr-arbiter/errors"
	"github.com/lefinal/vr-arbiter/fanout"
	"github.com/lefinal/vr-arbiter/metrics"
	"github.com/lefinal/vr-arbiter/pollsched"
	"github.com/lefinal/vr-arbiter/registry"
	"github.com/lefinal/vr-arbiter/vr"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Config for a Dispatcher.
type Config struct {
	// PollInterval is the time between two hardware event polls. Defaults to
	// pollsched.DefaultInterval.
	PollInterval time.Duration
	// ReleaseOnUnregister ends all presenting sessions of a context when it
	// unregisters.
	ReleaseOnUnregister bool
}

// Stats is a snapshot of the dispatcher state.
type Stats struct {
	// RegisteredContexts in ascending order.
	RegisteredContexts []vr.ContextID `json:"registered_contexts"`
	// Displays is the number of known displays.
	Displays int `json:"displays"`
	// Owners holds the owning context of each presenting display.
	Owners map[vr.DisplayID]vr.ContextID `json:"owners"`
	// Polling describes whether the poll scheduler is active.
	Polling bool `json:"polling"`
	// Polls is the number of issued poll requests.
	Polls uint64 `json:"polls"`
}

// Dispatcher is the actor that owns the registry.Registry and the
// arbiter.Arbiter. Run it with Dispatcher.Run.
type Dispatcher struct {
	logger    *zap.Logger
	config    Config
	registry  *registry.Registry
	arbiter   *arbiter.Arbiter
	scheduler *pollsched.Scheduler
	notifier  *fanout.Notifier
	metrics   *metrics.Collector
	// requests is the inbound queue. It is unbuffered so that every accepted
	// request is handled.
	requests chan request
	// done is closed when the loop ended.
	done chan struct{}
	// running is set when Run is called.
	running *atomic.Bool
	// contexts holds all registered contexts. Only accessed by the loop.
	contexts map[vr.ContextID]struct{}
	// lifetime is the context.Context for scheduler polls. Only accessed by the
	// loop.
	lifetime context.Context
}

// New creates a Dispatcher that owns the given registry.Registry.
func New(logger *zap.Logger, config Config, registry *registry.Registry, notifier *fanout.Notifier,
	collector *metrics.Collector) *Dispatcher {
	d := &Dispatcher{
		logger:   logger,
		config:   config,
		registry: registry,
		arbiter:  arbiter.New(),
		notifier: notifier,
		metrics:  collector,
		requests: make(chan request),
		done:     make(chan struct{}),
		running:  atomic.NewBool(false),
		contexts: make(map[vr.ContextID]struct{}),
		lifetime: context.Background(),
	}
	d.scheduler = pollsched.New(logger.Named("poll-scheduler"), d, config.PollInterval)
	d.metrics.SetKnownDisplays(len(registry.Displays()))
	return d
}

// Run the loop until the given context.Context is done or Exit is called.
// Requests that arrive afterwards fail with errors.KindDispatcherClosed.
func (d *Dispatcher) Run(ctx context.Context) error {
	if !d.running.CAS(false, true) {
		return errors.NewInternalError("dispatcher already running", nil)
	}
	lifetime, cancel := context.WithCancel(ctx)
	d.lifetime = lifetime
	defer func() {
		cancel()
		close(d.done)
		d.scheduler.Wait()
		d.logger.Debug("dispatcher stopped")
	}()
	d.logger.Debug("dispatcher running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-d.requests:
			if req.requestType == requestExit {
				return nil
			}
			d.handle(req)
		}
	}
}

// Exit terminates the loop. It blocks until the loop took the request or has
// already ended.
func (d *Dispatcher) Exit() {
	select {
	case <-d.done:
	case d.requests <- request{ctx: context.Background(), requestType: requestExit}:
	}
}

// Done returns a channel that is closed when the loop ended.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// send puts the request into the inbound queue.
func (d *Dispatcher) send(req request) error {
	// A done context always wins over a ready queue.
	if req.ctx.Err() != nil {
		return errors.NewContextAbortedError(string(req.requestType))
	}
	select {
	case <-req.ctx.Done():
		return errors.NewContextAbortedError(string(req.requestType))
	case <-d.done:
		return errors.NewDispatcherClosedError(string(req.requestType))
	case d.requests <- req:
		return nil
	}
}

// call sends the request and waits for the reply.
func call[T any](d *Dispatcher, req request) (T, error) {
	var zero T
	req.reply = make(chan response, 1)
	err := d.send(req)
	if err != nil {
		return zero, err
	}
	var res response
	select {
	case <-req.ctx.Done():
		return zero, errors.NewContextAbortedError(string(req.requestType))
	case res = <-req.reply:
	case <-d.done:
		// Accepted requests are replied to before the loop ends.
		select {
		case res = <-req.reply:
		default:
			return zero, errors.NewDispatcherClosedError(string(req.requestType))
		}
	}
	if res.err != nil {
		return zero, res.err
	}
	value, ok := res.value.(T)
	if !ok {
		return zero, errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindShouldNotHappen,
			Message: fmt.Sprintf("unexpected reply value type %T", res.value),
			Details: errors.Details{"request_type": req.requestType},
		}
	}
	return value, nil
}

// RegisterContext adds the context to the registered ones. It does not wait
// for the request to be handled.
func (d *Dispatcher) RegisterContext(ctx context.Context, contextID vr.ContextID) error {
	return d.send(request{ctx: ctx, requestType: requestRegisterContext, context: contextID})
}

// UnregisterContext removes the context from the registered ones. It does not
// wait for the request to be handled.
func (d *Dispatcher) UnregisterContext(ctx context.Context, contextID vr.ContextID) error {
	return d.send(request{ctx: ctx, requestType: requestUnregisterContext, context: contextID})
}

// PollEvents drains hardware events, fans them out and reports whether any
// context is still registered. It is used by the poll scheduler.
func (d *Dispatcher) PollEvents(ctx context.Context) (bool, error) {
	return call[bool](d, request{ctx: ctx, requestType: requestPollEvents})
}

// GetDisplays returns the snapshots of all known displays.
func (d *Dispatcher) GetDisplays(ctx context.Context) ([]vr.DisplayData, error) {
	return call[[]vr.DisplayData](d, request{ctx: ctx, requestType: requestGetDisplays})
}

// GetFrameData returns pose and matrices of the display bounded by the given
// depth planes.
func (d *Dispatcher) GetFrameData(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID,
	depthNear float64, depthFar float64) (vr.FrameData, error) {
	return call[vr.FrameData](d, request{
		ctx:         ctx,
		requestType: requestGetFrameData,
		context:     contextID,
		displayID:   displayID,
		depthNear:   depthNear,
		depthFar:    depthFar,
	})
}

// ResetPose resets the pose of the display and returns the updated snapshot.
func (d *Dispatcher) ResetPose(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (vr.DisplayData, error) {
	return call[vr.DisplayData](d, request{
		ctx:         ctx,
		requestType: requestResetPose,
		context:     contextID,
		displayID:   displayID,
	})
}

// RequestPresent starts a presenting session of the context on the display.
// Repeated requests of the owner succeed with the same token.
func (d *Dispatcher) RequestPresent(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (vr.PresentToken, error) {
	return call[vr.PresentToken](d, request{
		ctx:         ctx,
		requestType: requestRequestPresent,
		context:     contextID,
		displayID:   displayID,
	})
}

// ExitPresent ends the presenting session of the context on the display.
func (d *Dispatcher) ExitPresent(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) error {
	_, err := call[struct{}](d, request{
		ctx:         ctx,
		requestType: requestExitPresent,
		context:     contextID,
		displayID:   displayID,
	})
	return err
}

// SubmitFrame submits a frame through the dispatcher. Owners that submit at
// high rates should use the arbiter.Capability from Capability instead.
func (d *Dispatcher) SubmitFrame(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID, frame vr.Frame) error {
	_, err := call[struct{}](d, request{
		ctx:         ctx,
		requestType: requestSubmitFrame,
		context:     contextID,
		displayID:   displayID,
		frame:       frame,
	})
	return err
}

// Capability returns the direct submit capability of the owning context.
func (d *Dispatcher) Capability(ctx context.Context, contextID vr.ContextID, displayID vr.DisplayID) (*arbiter.Capability, error) {
	return call[*arbiter.Capability](d, request{
		ctx:         ctx,
		requestType: requestCapability,
		context:     contextID,
		displayID:   displayID,
	})
}

// GetGamepads returns the state of all gamepads.
func (d *Dispatcher) GetGamepads(ctx context.Context) ([]vr.GamepadState, error) {
	return call[[]vr.GamepadState](d, request{ctx: ctx, requestType: requestGetGamepads})
}

// Stats returns a snapshot of the dispatcher state.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	return call[Stats](d, request{ctx: ctx, requestType: requestStats})
}

// handle a single request and reply.
func (d *Dispatcher) handle(req request) {
	if req.reply != nil && req.ctx.Err() != nil {
		d.abandon(req, "caller gone before handling")
		req.reply <- response{err: errors.NewContextAbortedError(string(req.requestType))}
		return
	}
	start := time.Now()
	var res response
	switch req.requestType {
	case requestRegisterContext:
		d.handleRegisterContext(req.context)
	case requestUnregisterContext:
		d.handleUnregisterContext(req.context)
	case requestPollEvents:
		res.value = d.handlePollEvents()
	case requestGetDisplays:
		// Apply pending hardware events first as polling might be idle.
		d.applyHardwareEvents()
		d.startScheduler()
		res.value = d.registry.Displays()
	case requestGetFrameData:
		res.value, res.err = d.handleGetFrameData(req)
	case requestResetPose:
		res.value, res.err = d.handleResetPose(req)
	case requestRequestPresent:
		res.value, res.err = d.handleRequestPresent(req)
	case requestExitPresent:
		res.value, res.err = d.handleExitPresent(req)
	case requestSubmitFrame:
		res.value, res.err = d.handleSubmitFrame(req)
	case requestCapability:
		res.value, res.err = d.ownerCapability(req)
	case requestGetGamepads:
		res.value = d.registry.Gamepads()
	case requestStats:
		res.value = d.stats()
	default:
		res.err = errors.Error{
			Code:    errors.ErrInternal,
			Kind:    errors.KindShouldNotHappen,
			Message: "unsupported request type",
			Details: errors.Details{"request_type": req.requestType},
		}
	}
	d.metrics.ObserveRequest(string(req.requestType), time.Since(start), res.err)
	if res.err != nil {
		res.err = errors.Wrap(res.err, string(req.requestType), errors.Details{
			"context":    req.context,
			"display_id": req.displayID,
		})
	}
	if req.reply == nil {
		if res.err != nil {
			errors.Log(d.logger, res.err)
		}
		return
	}
	if req.ctx.Err() != nil {
		d.abandon(req, "caller gone before reply")
	}
	req.reply <- res
}

// abandon logs that the reply for the request is not received by anyone.
func (d *Dispatcher) abandon(req request, reason string) {
	d.metrics.IncAbandonedReplies()
	errors.Log(d.logger, errors.NewTransportFailureError(reason, errors.Details{
		"request_type": req.requestType,
		"context":      req.context,
		"display_id":   req.displayID,
	}))
}

// contextList returns all registered contexts in ascending order.
func (d *Dispatcher) contextList() []vr.ContextID {
	contexts := make([]vr.ContextID, 0, len(d.contexts))
	for c := range d.contexts {
		contexts = append(contexts, c)
	}
	sort.Slice(contexts, func(i, j int) bool {
		return contexts[i] < contexts[j]
	})
	return contexts
}

// startScheduler activates polling if hardware is available.
func (d *Dispatcher) startScheduler() {
	if d.registry.IsInitialized() {
		d.scheduler.Start(d.lifetime)
	}
}

// notify fans out the event to all registered contexts.
func (d *Dispatcher) notify(e vr.DisplayEvent) {
	broadcast := d.notifier.NotifyAll(d.contextList(), e)
	d.metrics.IncEvents(string(e.Type), broadcast)
}

// notifyPresentChange fans out a vr.EventPresentChange for the display.
func (d *Dispatcher) notifyPresentChange(displayID vr.DisplayID, presenting bool) {
	snapshot, ok := d.registry.Snapshot(displayID)
	if !ok {
		snapshot = vr.DisplayData{DisplayID: displayID}
	}
	d.notify(vr.DisplayEvent{
		Type:       vr.EventPresentChange,
		Display:    snapshot,
		Presenting: presenting,
	})
	d.metrics.SetPresentingDisplays(d.arbiter.Len())
}

func (d *Dispatcher) handleRegisterContext(contextID vr.ContextID) {
	d.contexts[contextID] = struct{}{}
	d.metrics.SetRegisteredContexts(len(d.contexts))
	d.logger.Debug("context registered", zap.Any("context", contextID))
	d.startScheduler()
}

func (d *Dispatcher) handleUnregisterContext(contextID vr.ContextID) {
	if _, ok := d.contexts[contextID]; !ok {
		return
	}
	delete(d.contexts, contextID)
	d.metrics.SetRegisteredContexts(len(d.contexts))
	d.logger.Debug("context unregistered", zap.Any("context", contextID))
	if !d.config.ReleaseOnUnregister {
		return
	}
	for _, displayID := range d.arbiter.OwnedBy(contextID) {
		d.arbiter.Release(contextID, displayID)
		d.logger.Info("released presenting session of unregistered context",
			zap.Any("context", contextID),
			zap.Any("display_id", displayID))
		d.notifyPresentChange(displayID, false)
	}
}

func (d *Dispatcher) handlePollEvents() bool {
	d.metrics.IncPolls()
	d.applyHardwareEvents()
	return len(d.contexts) > 0
}

// applyHardwareEvents drains the registry and fans out each event. Presenting
// sessions of disconnected displays end with vr.EventPresentChange before the
// vr.EventDisconnect is delivered.
func (d *Dispatcher) applyHardwareEvents() {
	for _, e := range d.registry.PollEvents() {
		if e.Type == vr.EventDisconnect {
			if owner, ok := d.arbiter.ForceRelease(e.Display.DisplayID); ok {
				d.logger.Info("ended presenting session of disconnected display",
					zap.Any("context", owner),
					zap.Any("display_id", e.Display.DisplayID))
				d.notify(vr.DisplayEvent{
					Type:       vr.EventPresentChange,
					Display:    e.Display,
					Presenting: false,
				})
				d.metrics.SetPresentingDisplays(d.arbiter.Len())
			}
		}
		d.notify(e)
	}
	d.metrics.SetKnownDisplays(len(d.registry.Displays()))
}

func (d *Dispatcher) handleGetFrameData(req request) (vr.FrameData, error) {
	if !(req.depthNear > 0 && req.depthNear < req.depthFar) {
		return vr.FrameData{}, errors.NewBadRequestError(errors.KindInvalidDepthRange, "invalid depth range",
			errors.Details{"depth_near": req.depthNear, "depth_far": req.depthFar})
	}
	display, err := d.arbiter.CheckAccess(req.context, req.displayID, d.registry.Display)
	if err != nil {
		return vr.FrameData{}, err
	}
	return display.FrameData(req.depthNear, req.depthFar), nil
}

func (d *Dispatcher) handleResetPose(req request) (vr.DisplayData, error) {
	display, err := d.arbiter.CheckAccess(req.context, req.displayID, d.registry.Display)
	if err != nil {
		return vr.DisplayData{}, err
	}
	display.ResetPose()
	snapshot, _ := d.registry.Refresh(req.displayID)
	return snapshot, nil
}

func (d *Dispatcher) handleRequestPresent(req request) (vr.PresentToken, error) {
	display, err := d.arbiter.CheckAccess(req.context, req.displayID, d.registry.Display)
	if err != nil {
		return vr.PresentToken{}, err
	}
	snapshot, _ := d.registry.Snapshot(req.displayID)
	if !snapshot.Capabilities.CanPresent {
		return vr.PresentToken{}, errors.Error{
			Code:    errors.ErrForbidden,
			Kind:    errors.KindDeviceCannotPresent,
			Message: "display cannot present",
			Details: errors.Details{"display_id": req.displayID},
		}
	}
	capability, acquired := d.arbiter.Acquire(req.context, display)
	if acquired {
		d.logger.Info("presenting session started",
			zap.Any("context", req.context),
			zap.Any("display_id", req.displayID))
		d.notifyPresentChange(req.displayID, true)
	}
	return capability.Token(), nil
}

func (d *Dispatcher) handleExitPresent(req request) (struct{}, error) {
	if _, ok := d.registry.Display(req.displayID); !ok {
		return struct{}{}, errors.NewDeviceNotFoundError(uint64(req.displayID))
	}
	if !d.arbiter.Release(req.context, req.displayID) {
		return struct{}{}, errors.NewNotPresentingError(uint64(req.displayID), string(req.context))
	}
	d.logger.Info("presenting session ended",
		zap.Any("context", req.context),
		zap.Any("display_id", req.displayID))
	d.notifyPresentChange(req.displayID, false)
	return struct{}{}, nil
}

// ownerCapability returns the capability of the requesting context.
func (d *Dispatcher) ownerCapability(req request) (*arbiter.Capability, error) {
	if _, ok := d.registry.Display(req.displayID); !ok {
		return nil, errors.NewDeviceNotFoundError(uint64(req.displayID))
	}
	capability, ok := d.arbiter.Capability(req.context, req.displayID)
	if !ok {
		return nil, errors.NewNotPresentingError(uint64(req.displayID), string(req.context))
	}
	return capability, nil
}

func (d *Dispatcher) handleSubmitFrame(req request) (struct{}, error) {
	capability, err := d.ownerCapability(req)
	if err != nil {
		return struct{}{}, err
	}
	return struct{}{}, capability.SubmitFrame(req.frame)
}

func (d *Dispatcher) stats() Stats {
	return Stats{
		RegisteredContexts: d.contextList(),
		Displays:           len(d.registry.Displays()),
		Owners:             d.arbiter.Owners(),
		Polling:            d.scheduler.IsActive(),
		Polls:              d.scheduler.Polls(),
	}
}
