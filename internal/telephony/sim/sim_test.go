package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"webcall/internal/telephony"

	"github.com/stretchr/testify/require"
)

func collector() (telephony.EventHandler, <-chan telephony.Event) {
	ch := make(chan telephony.Event, 16)
	return func(ev telephony.Event) { ch <- ev }, ch
}

func next(t *testing.T, ch <-chan telephony.Event) telephony.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return telephony.Event{}
	}
}

func TestDevice_RegisterConnectDisconnect(t *testing.T) {
	f := NewFactory(Options{})
	devHandler, devEvents := collector()

	d, err := f.NewDevice("tok", telephony.DeviceOptions{Codecs: telephony.DefaultCodecs}, devHandler)
	require.NoError(t, err)
	require.Equal(t, 1, f.Live())

	_, err = d.Connect(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrNotRegistered)

	require.NoError(t, d.Register(context.Background()))
	require.Equal(t, telephony.EventRegistered, next(t, devEvents).Kind)

	callHandler, callEvents := collector()
	c, err := d.Connect(context.Background(), map[string]string{"From": "web-client"}, callHandler)
	require.NoError(t, err)
	require.Equal(t, "web-client", c.(*Call).Params()["From"])
	require.Equal(t, telephony.EventAccept, next(t, callEvents).Kind)

	_, err = d.Connect(context.Background(), nil, callHandler)
	require.ErrorIs(t, err, ErrCallInProgress)

	c.Disconnect()
	require.Equal(t, telephony.EventDisconnect, next(t, callEvents).Kind)

	d.Destroy()
	d.Destroy()
	require.Equal(t, 0, f.Live())
	require.Equal(t, 1, f.Created())
}

func TestDevice_RegisterFailure(t *testing.T) {
	boom := errors.New("token rejected")
	f := NewFactory(Options{RegisterErr: boom})
	d, err := f.NewDevice("tok", telephony.DeviceOptions{}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, d.Register(context.Background()), boom)
}

func TestDevice_RegisterHonoursContext(t *testing.T) {
	f := NewFactory(Options{RegisterDelay: time.Hour})
	d, err := f.NewDevice("tok", telephony.DeviceOptions{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.Register(ctx), context.Canceled)
}

func TestCall_Rejected(t *testing.T) {
	f := NewFactory(Options{RejectCalls: true})
	d, err := f.NewDevice("tok", telephony.DeviceOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Register(context.Background()))

	h, events := collector()
	_, err = d.Connect(context.Background(), nil, h)
	require.NoError(t, err)
	require.Equal(t, telephony.EventReject, next(t, events).Kind)
}

func TestCall_FarEndHangsUp(t *testing.T) {
	f := NewFactory(Options{MaxCallDuration: 10 * time.Millisecond})
	d, err := f.NewDevice("tok", telephony.DeviceOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Register(context.Background()))

	h, events := collector()
	_, err = d.Connect(context.Background(), nil, h)
	require.NoError(t, err)
	require.Equal(t, telephony.EventAccept, next(t, events).Kind)
	require.Equal(t, telephony.EventDisconnect, next(t, events).Kind)
}

func TestDestroy_EndsActiveCall(t *testing.T) {
	f := NewFactory(Options{AcceptDelay: time.Hour})
	d, err := f.NewDevice("tok", telephony.DeviceOptions{}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Register(context.Background()))

	h, events := collector()
	_, err = d.Connect(context.Background(), nil, h)
	require.NoError(t, err)

	d.Destroy()
	require.Equal(t, telephony.EventDisconnect, next(t, events).Kind)
	require.True(t, f.Last().Destroyed())
}

func TestNewDevice_RequiresToken(t *testing.T) {
	_, err := NewFactory(Options{}).NewDevice("", telephony.DeviceOptions{}, nil)
	require.ErrorIs(t, err, ErrEmptyToken)
}
