package calls

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"webcall/internal/credentials"
	"webcall/internal/telephony"
	"webcall/internal/token"

	"github.com/stretchr/testify/require"
)

func TestConfigure_IncompleteIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	set := validSet()
	set.APIKeySecret = "  "

	err := h.ctrl.Configure(context.Background(), set)
	require.ErrorIs(t, err, ErrIncompleteCredentials)

	s := h.ctrl.Snapshot()
	require.Equal(t, MsgIncomplete, s.Message)
	require.Equal(t, StatusIdle, s.Status)
	require.False(t, s.Configured)

	_, ok, _ := h.kv.Get(context.Background(), credentials.StorageKey)
	require.False(t, ok)
	require.Zero(t, h.tokens.calls)
}

func TestConfigure_InvalidFormatIsNotPersisted(t *testing.T) {
	h := newHarness(t)
	set := validSet()
	set.AccountID = "XX123"

	err := h.ctrl.Configure(context.Background(), set)
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.Equal(t, MsgInvalidFormat, h.ctrl.Snapshot().Message)

	_, ok, _ := h.kv.Get(context.Background(), credentials.StorageKey)
	require.False(t, ok)
}

func TestConfigure_ProbeFailureReportsReason(t *testing.T) {
	h := newHarness(t)
	h.tokens.setErr(&token.ResponseError{StatusCode: http.StatusBadRequest, Message: token.MissingCredentialsMessage})

	err := h.ctrl.Configure(context.Background(), validSet())
	require.ErrorIs(t, err, ErrCredentialsRejected)

	s := h.ctrl.Snapshot()
	require.Equal(t, "Invalid credentials: "+token.MissingCredentialsMessage, s.Message)
	require.False(t, s.Configured)
	require.Zero(t, h.devices.live())

	_, ok, _ := h.kv.Get(context.Background(), credentials.StorageKey)
	require.False(t, ok)
}

func TestConfigure_SuccessPersistsAndRegisters(t *testing.T) {
	h := newHarness(t)
	d := h.ready(t)

	s := h.ctrl.Snapshot()
	require.True(t, s.Configured)
	require.Equal(t, MsgReady, s.Message)
	require.Equal(t, "tok", d.token)
	require.Equal(t, []string{"opus", "pcmu"}, d.opts.Codecs)

	got, class, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, credentials.Valid, class)
	require.Equal(t, validSet(), got)
}

func TestCall_DurationAndDelayedReset(t *testing.T) {
	h := newHarness(t)
	d := h.ready(t)

	require.NoError(t, h.ctrl.PlaceCall(context.Background()))
	s := h.ctrl.Snapshot()
	require.Equal(t, StatusConnecting, s.Status)
	require.Equal(t, MsgConnecting, s.Message)
	require.NotEmpty(t, s.CallID)

	c := d.lastCall()
	require.Equal(t, map[string]string{ParamFrom: "web-client"}, c.params)

	c.emit(telephony.EventAccept, nil)
	require.Equal(t, StatusInCall, h.ctrl.Snapshot().Status)
	require.Equal(t, 0, h.ctrl.Snapshot().Duration)

	h.clock.Advance(12 * time.Second)
	require.Equal(t, 12, h.ctrl.Snapshot().Duration)

	c.emit(telephony.EventDisconnect, nil)
	s = h.ctrl.Snapshot()
	require.Equal(t, StatusCallEnded, s.Status)
	require.Equal(t, 12, s.Duration)

	h.clock.Advance(2 * time.Second)
	s = h.ctrl.Snapshot()
	require.Equal(t, StatusCallEnded, s.Status)
	require.Equal(t, 12, s.Duration, "counter must be stopped")

	h.clock.Advance(time.Second)
	s = h.ctrl.Snapshot()
	require.Equal(t, StatusIdle, s.Status)
	require.Equal(t, 0, s.Duration)
	require.Equal(t, MsgReady, s.Message)
	require.Empty(t, s.CallID)
	require.Zero(t, h.clock.Pending())

	hist := h.ctrl.History()
	require.Len(t, hist, 1)
	require.Equal(t, OutcomeCompleted, hist[0].Outcome)
	require.Equal(t, 12, hist[0].DurationSeconds)
	require.NotNil(t, hist[0].AnsweredAt)
}

func TestCall_TerminalEventsEndTheCall(t *testing.T) {
	cases := []struct {
		kind    telephony.EventKind
		message string
		outcome Outcome
	}{
		{telephony.EventCancel, MsgCallCanceled, OutcomeCanceled},
		{telephony.EventReject, MsgCallRejected, OutcomeRejected},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			h := newHarness(t)
			d := h.ready(t)
			require.NoError(t, h.ctrl.PlaceCall(context.Background()))

			d.lastCall().emit(tc.kind, nil)
			s := h.ctrl.Snapshot()
			require.Equal(t, StatusCallEnded, s.Status)
			require.Equal(t, tc.message, s.Message)
			require.Equal(t, tc.outcome, h.ctrl.History()[0].Outcome)

			h.clock.Advance(3 * time.Second)
			require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
		})
	}
}

func TestCall_ErrorRecoversToIdle(t *testing.T) {
	h := newHarness(t)
	_, c := h.inCall(t)

	c.emit(telephony.EventCallError, errors.New("media failure"))
	s := h.ctrl.Snapshot()
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, "Error: media failure", s.Message)

	h.clock.Advance(3 * time.Second)
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
	require.True(t, h.ctrl.Snapshot().CanCall())

	require.NoError(t, h.ctrl.PlaceCall(context.Background()))
}

func TestCall_ConnectFailure(t *testing.T) {
	h := newHarness(t)
	d := h.ready(t)
	d.connectErr = errors.New("no media")

	err := h.ctrl.PlaceCall(context.Background())
	require.Error(t, err)

	s := h.ctrl.Snapshot()
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, "Error: no media", s.Message)
	require.Equal(t, OutcomeFailed, h.ctrl.History()[0].Outcome)

	h.clock.Advance(3 * time.Second)
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
}

func TestPlaceCall_RequiresReadyIdleDevice(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.ctrl.PlaceCall(context.Background()), ErrNotReady)

	h.ready(t)
	require.NoError(t, h.ctrl.PlaceCall(context.Background()))
	require.ErrorIs(t, h.ctrl.PlaceCall(context.Background()), ErrNotReady)
	require.Len(t, h.devices.last().calls, 1)
}

func TestHangUp(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.ctrl.HangUp(), ErrNoActiveCall)

	_, c := h.inCall(t)
	require.NoError(t, h.ctrl.HangUp())
	require.Equal(t, 1, c.disconnects)
	require.Equal(t, StatusInCall, h.ctrl.Snapshot().Status, "state follows the disconnect event")

	c.emit(telephony.EventDisconnect, nil)
	require.Equal(t, StatusCallEnded, h.ctrl.Snapshot().Status)
	require.ErrorIs(t, h.ctrl.HangUp(), ErrNoActiveCall)
}

func TestTransition_OnlyTerminalEventsLeaveInCall(t *testing.T) {
	inCall := State{Status: StatusInCall, Duration: 5, Configured: true, DeviceReady: true}
	kinds := []telephony.EventKind{
		telephony.EventRegistered,
		telephony.EventIncoming,
		telephony.EventAccept,
		eventTick,
		eventResetElapsed,
	}
	for _, k := range kinds {
		next, _ := transition(inCall, telephony.Event{Kind: k})
		require.Equal(t, StatusInCall, next.Status, "kind %s", k)
	}

	for _, k := range []telephony.EventKind{telephony.EventDisconnect, telephony.EventCancel, telephony.EventReject} {
		next, eff := transition(inCall, telephony.Event{Kind: k})
		require.Equal(t, StatusCallEnded, next.Status)
		require.True(t, eff.has(effStopCounter|effScheduleReset))
	}
	next, _ := transition(inCall, telephony.Event{Kind: telephony.EventCallError, Err: errors.New("x")})
	require.Equal(t, StatusError, next.Status)
}

func TestInitializeDevice_KeepsOneDevice(t *testing.T) {
	h := newHarness(t)
	first := h.ready(t)

	require.NoError(t, h.ctrl.InitializeDevice(context.Background()))
	second := h.devices.last()

	require.NotSame(t, first, second)
	require.True(t, first.isDestroyed())
	require.Equal(t, 1, h.devices.live())
	require.Equal(t, 1, h.devices.maxLive)

	// Events from the replaced device are ignored.
	first.emit(telephony.EventDeviceError, errors.New("stale"))
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
	require.Equal(t, MsgReady, h.ctrl.Snapshot().Message)
}

func TestInitializeDevice_ConcurrentCallsKeepOneDevice(t *testing.T) {
	h := newHarness(t)
	h.ready(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.ctrl.InitializeDevice(context.Background())
		}()
	}
	wg.Wait()

	require.Equal(t, 1, h.devices.live())
	require.Equal(t, 1, h.devices.maxLive)
	require.True(t, h.ctrl.Snapshot().DeviceReady)
}

func TestInitializeDevice_RequiresConfiguration(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.ctrl.InitializeDevice(context.Background()), ErrNotConfigured)
}

func TestInitializeDevice_ResetWhileInFlight(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(context.Background(), validSet()))

	var once sync.Once
	h.tokens.hook = func() {
		once.Do(func() { require.NoError(t, h.ctrl.Reset(context.Background())) })
	}

	err := h.ctrl.Restore(context.Background())
	require.ErrorIs(t, err, ErrSuperseded)
	require.Zero(t, h.devices.live())

	s := h.ctrl.Snapshot()
	require.False(t, s.Configured)
	require.False(t, s.DeviceReady)
	require.Equal(t, MsgNotConfigured, s.Message)
}

func TestInitializeDevice_RegistrationFailure(t *testing.T) {
	h := newHarness(t)
	h.devices.registerErr = errors.New("registration refused")

	err := h.ctrl.Configure(context.Background(), validSet())
	require.Error(t, err)

	s := h.ctrl.Snapshot()
	require.Equal(t, StatusError, s.Status)
	require.Equal(t, "Failed to register device: registration refused", s.Message)
	require.True(t, s.Configured)
	require.Zero(t, h.devices.live())

	h.clock.Advance(3 * time.Second)
	s = h.ctrl.Snapshot()
	require.Equal(t, StatusIdle, s.Status)
	require.Equal(t, MsgDeviceOffline, s.Message)
	require.ErrorIs(t, h.ctrl.PlaceCall(context.Background()), ErrNotReady)
}

func TestDeviceError_RecoversToIdle(t *testing.T) {
	h := newHarness(t)
	d := h.ready(t)

	d.emit(telephony.EventIncoming, nil)
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)

	d.emit(telephony.EventDeviceError, errors.New("token expired"))
	require.Equal(t, StatusError, h.ctrl.Snapshot().Status)
	require.Equal(t, "Error: token expired", h.ctrl.Snapshot().Message)

	h.clock.Advance(3 * time.Second)
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)
}

func TestReset_ClearsEverything(t *testing.T) {
	h := newHarness(t)
	d, c := h.inCall(t)
	h.clock.Advance(4 * time.Second)

	require.NoError(t, h.ctrl.Reset(context.Background()))

	require.Equal(t, State{Status: StatusIdle, Message: MsgNotConfigured}, h.ctrl.Snapshot())
	require.True(t, d.isDestroyed())
	require.Zero(t, h.clock.Pending())

	_, class, err := h.store.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, credentials.Absent, class)

	// Late events from the old call change nothing.
	c.emit(telephony.EventDisconnect, nil)
	require.Equal(t, StatusIdle, h.ctrl.Snapshot().Status)

	hist := h.ctrl.History()
	require.Len(t, hist, 1)
	require.Equal(t, OutcomeReset, hist[0].Outcome)
	require.Equal(t, 4, hist[0].DurationSeconds)
}

func TestReset_CancelsPendingReset(t *testing.T) {
	h := newHarness(t)
	_, c := h.inCall(t)
	c.emit(telephony.EventDisconnect, nil)
	require.Equal(t, 1, h.clock.Pending())

	require.NoError(t, h.ctrl.Reset(context.Background()))
	require.Zero(t, h.clock.Pending())
}

func TestRestore(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.store.Save(context.Background(), validSet()))

		require.NoError(t, h.ctrl.Restore(context.Background()))
		s := h.ctrl.Snapshot()
		require.True(t, s.Configured)
		require.True(t, s.DeviceReady)
	})

	t.Run("placeholder", func(t *testing.T) {
		h := newHarness(t)
		set := validSet()
		set.APIKeySecret = credentials.Placeholder
		require.NoError(t, h.store.Save(context.Background(), set))

		require.NoError(t, h.ctrl.Restore(context.Background()))
		require.False(t, h.ctrl.Snapshot().Configured)
		require.Zero(t, h.devices.live())

		_, ok, _ := h.kv.Get(context.Background(), credentials.StorageKey)
		require.False(t, ok)
	})

	t.Run("incomplete", func(t *testing.T) {
		h := newHarness(t)
		set := validSet()
		set.ApplicationID = ""
		require.NoError(t, h.store.Save(context.Background(), set))

		require.NoError(t, h.ctrl.Restore(context.Background()))
		require.False(t, h.ctrl.Snapshot().Configured)
		require.Equal(t, set.AccountID, h.ctrl.Draft().AccountID)
		require.Equal(t, credentials.Placeholder, h.ctrl.Draft().APIKeySecret)
	})
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t)
	ch, cancel := h.ctrl.Subscribe()

	first := <-ch
	require.Equal(t, MsgNotConfigured, first.Message)

	h.ready(t)
	var last State
	for {
		select {
		case s := <-ch:
			last = s
			continue
		default:
		}
		break
	}
	require.Equal(t, MsgReady, last.Message)

	cancel()
	cancel()
	_, open := <-ch
	require.False(t, open)
}

func TestClose_DestroysDevice(t *testing.T) {
	h := newHarness(t)
	d := h.ready(t)
	ch, _ := h.ctrl.Subscribe()

	h.ctrl.Close()
	require.True(t, d.isDestroyed())
	require.ErrorIs(t, h.ctrl.PlaceCall(context.Background()), ErrClosed)

	for range ch {
	}
}
