package calls

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"webcall/internal/credentials"
	"webcall/internal/kvstore"
	"webcall/internal/telephony"
	"webcall/internal/token"
	"webcall/pkg/logger"

	"github.com/stretchr/testify/require"
)

func validSet() credentials.Set {
	return credentials.Set{
		AccountID:     "AC" + strings.Repeat("1", 32),
		APIKeyID:      "SK" + strings.Repeat("2", 32),
		APIKeySecret:  "secret",
		ApplicationID: "AP" + strings.Repeat("3", 32),
	}
}

type fakeTokens struct {
	mu    sync.Mutex
	err   error
	calls int
	hook  func()
}

func (f *fakeTokens) Fetch(_ context.Context, _ credentials.Set) (token.Grant, error) {
	f.mu.Lock()
	f.calls++
	err, hook := f.err, f.hook
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return token.Grant{}, err
	}
	return token.Grant{Token: "tok", Identity: token.Identity}, nil
}

func (f *fakeTokens) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type fakeFactory struct {
	mu          sync.Mutex
	devices     []*fakeDevice
	registerErr error
	maxLive     int
}

func (f *fakeFactory) NewDevice(tok string, opts telephony.DeviceOptions, onEvent telephony.EventHandler) (telephony.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fakeDevice{factory: f, token: tok, opts: opts, onEvent: onEvent}
	f.devices = append(f.devices, d)
	if n := f.liveLocked(); n > f.maxLive {
		f.maxLive = n
	}
	return d, nil
}

func (f *fakeFactory) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveLocked()
}

func (f *fakeFactory) liveLocked() int {
	n := 0
	for _, d := range f.devices {
		if !d.destroyed {
			n++
		}
	}
	return n
}

func (f *fakeFactory) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.devices) == 0 {
		return nil
	}
	return f.devices[len(f.devices)-1]
}

type fakeDevice struct {
	factory *fakeFactory
	token   string
	opts    telephony.DeviceOptions
	onEvent telephony.EventHandler

	registerHook func()
	connectErr   error
	calls        []*fakeCall
	destroyed    bool
}

func (d *fakeDevice) Register(context.Context) error {
	if d.registerHook != nil {
		d.registerHook()
	}
	d.factory.mu.Lock()
	err := d.factory.registerErr
	d.factory.mu.Unlock()
	return err
}

func (d *fakeDevice) Connect(_ context.Context, params map[string]string, onEvent telephony.EventHandler) (telephony.Call, error) {
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	c := &fakeCall{params: params, onEvent: onEvent}
	d.calls = append(d.calls, c)
	return c, nil
}

func (d *fakeDevice) Destroy() {
	d.factory.mu.Lock()
	defer d.factory.mu.Unlock()
	d.destroyed = true
}

func (d *fakeDevice) isDestroyed() bool {
	d.factory.mu.Lock()
	defer d.factory.mu.Unlock()
	return d.destroyed
}

func (d *fakeDevice) emit(kind telephony.EventKind, err error) {
	d.onEvent(telephony.Event{Kind: kind, Err: err})
}

func (d *fakeDevice) lastCall() *fakeCall {
	if len(d.calls) == 0 {
		return nil
	}
	return d.calls[len(d.calls)-1]
}

type fakeCall struct {
	params      map[string]string
	onEvent     telephony.EventHandler
	disconnects int
}

func (c *fakeCall) Disconnect() { c.disconnects++ }

func (c *fakeCall) emit(kind telephony.EventKind, err error) {
	c.onEvent(telephony.Event{Kind: kind, Err: err})
}

type harness struct {
	ctrl    *Controller
	clock   *ManualClock
	tokens  *fakeTokens
	devices *fakeFactory
	store   *credentials.Store
	kv      *kvstore.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv := kvstore.NewMemory()
	store, err := credentials.NewStore(kv, logger.Discard())
	require.NoError(t, err)

	h := &harness{
		clock:   NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		tokens:  &fakeTokens{},
		devices: &fakeFactory{},
		store:   store,
		kv:      kv,
	}
	h.ctrl, err = NewController(Options{
		Store:      store,
		Tokens:     h.tokens,
		Devices:    h.devices,
		Clock:      h.clock,
		ResetDelay: 3 * time.Second,
		Logger:     logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(h.ctrl.Close)
	return h
}

// ready configures the controller and returns the registered device.
func (h *harness) ready(t *testing.T) *fakeDevice {
	t.Helper()
	require.NoError(t, h.ctrl.Configure(context.Background(), validSet()))
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
	require.True(t, h.ctrl.Snapshot().DeviceReady)
	return h.devices.last()
}

// inCall places a call and answers it.
func (h *harness) inCall(t *testing.T) (*fakeDevice, *fakeCall) {
	t.Helper()
	d := h.ready(t)
	require.NoError(t, h.ctrl.PlaceCall(context.Background()))
	c := d.lastCall()
	require.NotNil(t, c)
	c.emit(telephony.EventAccept, nil)
	require.Equal(t, StatusInCall, h.ctrl.Snapshot().Status)
	return d, c
}
