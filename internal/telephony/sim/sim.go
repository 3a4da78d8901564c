// Package sim is an in-process stand-in for the calling provider's client
// library. Devices register after a delay and calls are answered by a
// pretend far end, so the client can be driven without network access.
package sim

import (
	"context"
	"errors"
	"sync"
	"time"

	"webcall/internal/telephony"
)

var (
	ErrEmptyToken     = errors.New("sim: token is required")
	ErrDestroyed      = errors.New("sim: device destroyed")
	ErrNotRegistered  = errors.New("sim: device not registered")
	ErrCallInProgress = errors.New("sim: a call is already in progress")
)

type Options struct {
	RegisterDelay time.Duration
	AcceptDelay   time.Duration

	// MaxCallDuration ends an accepted call with a disconnect. Zero means
	// the far end never hangs up.
	MaxCallDuration time.Duration

	// RegisterErr, when set, makes every registration fail with it.
	RegisterErr error

	// RejectCalls makes the far end reject instead of answering.
	RejectCalls bool
}

// Factory implements telephony.DeviceFactory and tracks live devices.
type Factory struct {
	opts Options

	mu      sync.Mutex
	live    int
	created int
	last    *Device
}

func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) NewDevice(token string, opts telephony.DeviceOptions, onEvent telephony.EventHandler) (telephony.Device, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}
	d := &Device{
		factory: f,
		token:   token,
		codecs:  append([]string(nil), opts.Codecs...),
		events:  newSerial(onEvent),
	}
	f.mu.Lock()
	f.live++
	f.created++
	f.last = d
	f.mu.Unlock()
	return d, nil
}

// Live is the number of devices created and not yet destroyed.
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// Created is the number of devices ever created.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Last returns the most recently created device, or nil.
func (f *Factory) Last() *Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Device is a simulated registration.
type Device struct {
	factory *Factory
	token   string
	codecs  []string
	events  *serial

	mu         sync.Mutex
	registered bool
	destroyed  bool
	call       *Call
}

func (d *Device) Codecs() []string { return append([]string(nil), d.codecs...) }

// Token is the access token the device was built with.
func (d *Device) Token() string { return d.token }

func (d *Device) Register(ctx context.Context) error {
	if delay := d.factory.opts.RegisterDelay; delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	if err := d.factory.opts.RegisterErr; err != nil {
		return err
	}
	d.registered = true
	d.events.post(telephony.Event{Kind: telephony.EventRegistered})
	return nil
}

func (d *Device) Connect(ctx context.Context, params map[string]string, onEvent telephony.EventHandler) (telephony.Call, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return nil, ErrDestroyed
	}
	if !d.registered {
		return nil, ErrNotRegistered
	}
	if d.call != nil && !d.call.isEnded() {
		return nil, ErrCallInProgress
	}

	c := &Call{device: d, params: copyParams(params), events: newSerial(onEvent)}
	d.call = c
	c.start(d.factory.opts)
	return c, nil
}

func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.registered = false
	c := d.call
	d.mu.Unlock()

	if c != nil {
		c.end(telephony.EventDisconnect, nil)
	}

	d.factory.mu.Lock()
	d.factory.live--
	d.factory.mu.Unlock()
}

// Destroyed reports whether Destroy was called.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Fail emits a device-level error, as a dropped registration would.
func (d *Device) Fail(err error) {
	d.events.post(telephony.Event{Kind: telephony.EventDeviceError, Err: err})
}

// Call is a simulated outbound call.
type Call struct {
	device *Device
	params map[string]string
	events *serial

	mu     sync.Mutex
	ended  bool
	timers []*time.Timer
}

// Params returns the parameters the call was placed with.
func (c *Call) Params() map[string]string { return copyParams(c.params) }

func (c *Call) start(opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers = append(c.timers, time.AfterFunc(opts.AcceptDelay, func() {
		if opts.RejectCalls {
			c.end(telephony.EventReject, nil)
			return
		}
		c.mu.Lock()
		if c.ended {
			c.mu.Unlock()
			return
		}
		c.events.post(telephony.Event{Kind: telephony.EventAccept})
		if opts.MaxCallDuration > 0 {
			c.timers = append(c.timers, time.AfterFunc(opts.MaxCallDuration, func() {
				c.end(telephony.EventDisconnect, nil)
			}))
		}
		c.mu.Unlock()
	}))
}

func (c *Call) Disconnect() {
	c.end(telephony.EventDisconnect, nil)
}

// Fail ends the call with a call-level error.
func (c *Call) Fail(err error) {
	c.end(telephony.EventCallError, err)
}

func (c *Call) end(kind telephony.EventKind, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.ended = true
	for _, t := range c.timers {
		t.Stop()
	}
	c.events.post(telephony.Event{Kind: kind, Err: err})
}

func (c *Call) isEnded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// serial delivers events in order on a goroutine of its own, never on the
// caller's stack, the way a provider library's event loop does.
type serial struct {
	handler telephony.EventHandler

	mu      sync.Mutex
	queue   []telephony.Event
	running bool
}

func newSerial(h telephony.EventHandler) *serial {
	return &serial{handler: h}
}

func (s *serial) post(ev telephony.Event) {
	if s.handler == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()
	go s.drain()
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.handler(ev)
	}
}
