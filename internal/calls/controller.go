package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"webcall/internal/credentials"
	"webcall/internal/telephony"
	"webcall/internal/token"
	"webcall/pkg/logger"
)

var (
	ErrIncompleteCredentials = errors.New("calls: incomplete credentials")
	ErrInvalidFormat         = errors.New("calls: invalid credential format")
	ErrCredentialsRejected   = errors.New("calls: credentials rejected")
	ErrNotConfigured         = errors.New("calls: not configured")
	ErrNotReady              = errors.New("calls: not ready to call")
	ErrNoActiveCall          = errors.New("calls: no active call")
	ErrSuperseded            = errors.New("calls: superseded by a newer request")
	ErrClosed                = errors.New("calls: controller closed")
)

// ParamFrom is the caller identity passed to the provider on connect.
const ParamFrom = "From"

// CredentialStore persists the credential set between sessions.
type CredentialStore interface {
	Load(ctx context.Context) (credentials.Set, credentials.Classification, error)
	Save(ctx context.Context, set credentials.Set) error
	Clear(ctx context.Context) error
}

// TokenSource obtains access tokens. *token.Client satisfies it.
type TokenSource interface {
	Fetch(ctx context.Context, set credentials.Set) (token.Grant, error)
}

type Options struct {
	Store   CredentialStore
	Tokens  TokenSource
	Devices telephony.DeviceFactory

	// Clock defaults to the wall clock.
	Clock Clock
	// ResetDelay is how long call-ended and error are shown. Defaults to 3s.
	ResetDelay time.Duration
	// HistorySize bounds the in-memory call history. Defaults to 20.
	HistorySize int
	Logger      *slog.Logger
}

// Controller owns at most one Device and at most one Call and drives the
// call state machine from user intents and provider events.
type Controller struct {
	store      CredentialStore
	tokens     TokenSource
	devices    telephony.DeviceFactory
	clock      Clock
	resetDelay time.Duration
	history    *History
	log        *slog.Logger

	// initMu serializes device initialization so a new device is only
	// built after the previous one is destroyed.
	initMu sync.Mutex

	mu         sync.Mutex
	state      State
	creds      credentials.Set
	draft      credentials.Set
	device     telephony.Device
	deviceGen  uint64
	call       telephony.Call
	callGen    uint64
	record     *CallRecord
	counter    Task
	counterGen uint64
	reset      Task
	resetGen   uint64
	subs       map[int]chan State
	nextSub    int
	closed     bool
}

const tickInterval = time.Second

func NewController(opts Options) (*Controller, error) {
	if opts.Store == nil || opts.Tokens == nil || opts.Devices == nil {
		return nil, errors.New("calls: store, token source and device factory are required")
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = 3 * time.Second
	}
	return &Controller{
		store:      opts.Store,
		tokens:     opts.Tokens,
		devices:    opts.Devices,
		clock:      opts.Clock,
		resetDelay: opts.ResetDelay,
		history:    NewHistory(opts.HistorySize),
		log:        logger.Component(opts.Logger, "calls"),
		state:      State{Status: StatusIdle, Message: MsgNotConfigured},
		subs:       map[int]chan State{},
	}, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Draft returns the last incomplete set found in storage, secret masked.
func (c *Controller) Draft() credentials.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Controller) History() []CallRecord {
	return c.history.Records()
}

// Subscribe delivers every state change. Slow subscribers only see the
// latest state. cancel must be called to release the channel.
func (c *Controller) Subscribe() (<-chan State, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan State, 8)
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Restore picks up credentials saved by a previous session.
func (c *Controller) Restore(ctx context.Context) error {
	set, class, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("restore credentials: %w", err)
	}

	switch class {
	case credentials.Valid:
		c.mu.Lock()
		c.creds = set
		c.state.Configured = true
		c.publishLocked()
		c.mu.Unlock()
		c.log.Info("credentials restored")
		return c.InitializeDevice(ctx)
	case credentials.Incomplete:
		c.mu.Lock()
		c.draft = set.Masked()
		c.mu.Unlock()
		c.log.Info("incomplete credentials found in storage")
	}
	return nil
}

// Configure validates set, probes the token endpoint with it, and on
// success persists it and initializes the device.
func (c *Controller) Configure(ctx context.Context, set credentials.Set) error {
	set = set.Trimmed()

	if !set.Complete() {
		c.setMessage(MsgIncomplete)
		return ErrIncompleteCredentials
	}
	if !credentials.ValidateFormat(set) {
		c.setMessage(MsgInvalidFormat)
		return ErrInvalidFormat
	}

	if _, err := c.tokens.Fetch(ctx, set); err != nil {
		c.log.Warn("credential probe failed", "err", err)
		c.setMessage("Invalid credentials: " + reason(err))
		return fmt.Errorf("%w: %w", ErrCredentialsRejected, err)
	}

	if err := c.store.Save(ctx, set); err != nil {
		c.setMessage("Could not save credentials: " + err.Error())
		return fmt.Errorf("save credentials: %w", err)
	}

	c.mu.Lock()
	c.creds = set
	c.draft = credentials.Set{}
	c.state.Configured = true
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("credentials configured", "account_id", set.AccountID)
	return c.InitializeDevice(ctx)
}

// InitializeDevice replaces the owned device with a freshly registered one.
func (c *Controller) InitializeDevice(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.state.Configured || !credentials.ValidateFormat(c.creds) {
		c.mu.Unlock()
		return ErrNotConfigured
	}
	set := c.creds
	old := c.detachLocked(OutcomeReset)
	c.deviceGen++
	gen := c.deviceGen
	c.state.Status = StatusIdle
	c.state.Duration = 0
	c.state.CallID = ""
	c.state.Message = MsgInitializing
	c.publishLocked()
	c.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	grant, err := c.tokens.Fetch(ctx, set)
	if err != nil {
		return c.failInit(gen, "Failed to fetch token: "+reason(err), err)
	}

	dev, err := c.devices.NewDevice(grant.Token, telephony.DeviceOptions{Codecs: telephony.DefaultCodecs}, c.deviceHandler(gen))
	if err != nil {
		return c.failInit(gen, "Failed to create device: "+err.Error(), err)
	}

	if err := dev.Register(ctx); err != nil {
		dev.Destroy()
		return c.failInit(gen, "Failed to register device: "+err.Error(), err)
	}

	c.mu.Lock()
	if c.closed || gen != c.deviceGen {
		c.mu.Unlock()
		dev.Destroy()
		return ErrSuperseded
	}
	c.device = dev
	c.state.DeviceReady = true
	c.state.Status = StatusIdle
	c.state.Message = MsgReady
	c.publishLocked()
	c.mu.Unlock()

	c.log.Info("device registered", "identity", grant.Identity)
	return nil
}

// PlaceCall dials out through the owned device.
func (c *Controller) PlaceCall(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.device == nil || c.call != nil || !c.state.CanCall() {
		c.mu.Unlock()
		return ErrNotReady
	}
	dev := c.device
	c.cancelResetLocked()
	c.callGen++
	gen := c.callGen
	c.record = &CallRecord{ID: uuid.NewString(), StartedAt: c.clock.Now()}
	c.state.Status = StatusConnecting
	c.state.Message = MsgConnecting
	c.state.Duration = 0
	c.state.CallID = c.record.ID
	c.publishLocked()
	callID := c.record.ID
	c.mu.Unlock()

	c.log.Info("placing call", "call_id", callID)

	call, err := dev.Connect(ctx, map[string]string{ParamFrom: token.Identity}, c.callHandler(gen))
	if err != nil {
		c.mu.Lock()
		if gen == c.callGen {
			c.applyLocked(telephony.Event{Kind: eventConnectFailed, Err: err})
		}
		c.mu.Unlock()
		c.log.Warn("connect failed", "call_id", callID, "err", err)
		return fmt.Errorf("connect: %w", err)
	}

	c.mu.Lock()
	if gen != c.callGen || c.device != dev {
		// The call already ended or the controller was reset meanwhile.
		c.mu.Unlock()
		call.Disconnect()
		return nil
	}
	c.call = call
	c.mu.Unlock()
	return nil
}

// HangUp asks the active call to disconnect. The state changes when the
// provider reports the disconnect.
func (c *Controller) HangUp() error {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()

	if call == nil {
		return ErrNoActiveCall
	}
	call.Disconnect()
	return nil
}

// Reset forgets the credentials and returns to the initial state.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	dev := c.detachLocked(OutcomeReset)
	c.deviceGen++
	c.cancelResetLocked()
	c.creds = credentials.Set{}
	c.draft = credentials.Set{}
	c.state = State{Status: StatusIdle, Message: MsgNotConfigured}
	c.publishLocked()
	c.mu.Unlock()

	if dev != nil {
		dev.Destroy()
	}
	c.log.Info("controller reset")

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

// Close tears the controller down. Subscriptions are closed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	dev := c.detachLocked(OutcomeReset)
	c.deviceGen++
	c.cancelResetLocked()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.mu.Unlock()

	if dev != nil {
		dev.Destroy()
	}
}

func (c *Controller) deviceHandler(gen uint64) telephony.EventHandler {
	return func(ev telephony.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.deviceGen || c.closed {
			c.log.Debug("dropping event from stale device", "kind", ev.Kind)
			return
		}
		switch ev.Kind {
		case telephony.EventIncoming:
			c.log.Info("ignoring incoming call")
			return
		case telephony.EventDeviceError:
			if c.device == nil {
				// Registration failures are reported by Register.
				return
			}
			c.log.Error("device error", "err", ev.Err)
		}
		c.applyLocked(ev)
	}
}

func (c *Controller) callHandler(gen uint64) telephony.EventHandler {
	return func(ev telephony.Event) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.callGen || c.closed {
			c.log.Debug("dropping event from stale call", "kind", ev.Kind)
			return
		}
		if ev.Kind == telephony.EventCallError {
			c.log.Error("call error", "call_id", c.state.CallID, "err", ev.Err)
		} else {
			c.log.Info("call event", "call_id", c.state.CallID, "kind", ev.Kind)
		}
		c.applyLocked(ev)
	}
}

// applyLocked runs one event through the state machine and carries out
// the effects it asks for.
func (c *Controller) applyLocked(ev telephony.Event) {
	prev := c.state
	next, eff := transition(c.state, ev)
	c.state = next

	if eff.has(effStopCounter) {
		c.stopCounterLocked()
	}
	if eff.has(effStartCounter) {
		c.startCounterLocked()
		if c.record != nil {
			at := c.clock.Now()
			c.record.AnsweredAt = &at
		}
	}
	if eff.has(effReleaseCall) {
		c.finishRecordLocked(outcomeFor(ev.Kind), ev.Err, prev.Duration)
		c.call = nil
		c.callGen++
	}
	if eff.has(effScheduleReset) {
		c.scheduleResetLocked()
	}

	if next != prev {
		c.publishLocked()
	}
}

func (c *Controller) startCounterLocked() {
	c.stopCounterLocked()
	c.counterGen++
	gen := c.counterGen
	c.counter = c.clock.Every(tickInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.counterGen {
			return
		}
		c.applyLocked(telephony.Event{Kind: eventTick})
	})
}

func (c *Controller) stopCounterLocked() {
	if c.counter != nil {
		c.counter.Stop()
		c.counter = nil
	}
	c.counterGen++
}

func (c *Controller) scheduleResetLocked() {
	c.cancelResetLocked()
	gen := c.resetGen
	c.reset = c.clock.AfterFunc(c.resetDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.resetGen {
			return
		}
		c.reset = nil
		c.applyLocked(telephony.Event{Kind: eventResetElapsed})
	})
}

func (c *Controller) cancelResetLocked() {
	if c.reset != nil {
		c.reset.Stop()
		c.reset = nil
	}
	c.resetGen++
}

// detachLocked drops the owned device and call and stops the counter.
// The caller destroys the returned device outside the lock.
func (c *Controller) detachLocked(outcome Outcome) telephony.Device {
	c.stopCounterLocked()
	if c.call != nil || c.record != nil {
		c.finishRecordLocked(outcome, nil, c.state.Duration)
	}
	c.call = nil
	c.callGen++

	dev := c.device
	c.device = nil
	c.state.DeviceReady = false
	return dev
}

func (c *Controller) finishRecordLocked(outcome Outcome, err error, duration int) {
	if c.record == nil {
		return
	}
	r := *c.record
	c.record = nil

	r.EndedAt = c.clock.Now()
	r.Outcome = outcome
	if r.AnsweredAt != nil {
		r.DurationSeconds = duration
	}
	if err != nil {
		r.Error = err.Error()
	}
	c.history.Append(r)
}

func (c *Controller) failInit(gen uint64, msg string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.deviceGen {
		return ErrSuperseded
	}
	c.log.Error("device initialization failed", "err", err)
	c.state.Status = StatusError
	c.state.Message = msg
	c.scheduleResetLocked()
	c.publishLocked()
	return fmt.Errorf("initialize device: %w", err)
}

func (c *Controller) setMessage(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Message == msg {
		return
	}
	c.state.Message = msg
	c.publishLocked()
}

func (c *Controller) publishLocked() {
	s := c.state
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			// Drop the oldest pending state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func reason(err error) string {
	var re *token.ResponseError
	if errors.As(err, &re) {
		return re.Error()
	}
	return err.Error()
}
