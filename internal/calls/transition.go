package calls

import (
	"errors"

	"webcall/internal/telephony"
)

// Internal event kinds produced by the controller's own timers.
const (
	eventTick          telephony.EventKind = "tick"
	eventResetElapsed  telephony.EventKind = "reset-elapsed"
	eventConnectFailed telephony.EventKind = "connect-failed"
)

// effect is a side effect requested by transition and carried out by the
// controller while it holds its lock.
type effect uint8

const (
	effStartCounter effect = 1 << iota
	effStopCounter
	effReleaseCall
	effScheduleReset
)

func (e effect) has(f effect) bool { return e&f != 0 }

// transition is the pure state machine. It never touches the provider.
func transition(s State, ev telephony.Event) (State, effect) {
	switch ev.Kind {
	case telephony.EventAccept:
		if s.Status != StatusConnecting {
			return s, 0
		}
		s.Status = StatusInCall
		s.Duration = 0
		s.Message = MsgInCall
		return s, effStartCounter

	case telephony.EventDisconnect, telephony.EventCancel, telephony.EventReject:
		if s.Status != StatusConnecting && s.Status != StatusInCall {
			return s, effReleaseCall
		}
		s.Status = StatusCallEnded
		s.Message = endedMessage(ev.Kind)
		return s, effStopCounter | effReleaseCall | effScheduleReset

	case telephony.EventCallError, eventConnectFailed:
		s.Status = StatusError
		s.Message = errorMessage(ev.Err)
		return s, effStopCounter | effReleaseCall | effScheduleReset

	case telephony.EventDeviceError:
		s.Status = StatusError
		s.Message = errorMessage(ev.Err)
		return s, effStopCounter | effScheduleReset

	case telephony.EventRegistered:
		if s.Status == StatusIdle && s.DeviceReady {
			s.Message = MsgReady
		}
		return s, 0

	case eventTick:
		if s.Status == StatusInCall {
			s.Duration++
		}
		return s, 0

	case eventResetElapsed:
		if s.Status != StatusCallEnded && s.Status != StatusError {
			return s, 0
		}
		s.Status = StatusIdle
		s.Duration = 0
		s.CallID = ""
		s.Message = idleMessage(s)
		return s, 0
	}
	return s, 0
}

func endedMessage(kind telephony.EventKind) string {
	switch kind {
	case telephony.EventCancel:
		return MsgCallCanceled
	case telephony.EventReject:
		return MsgCallRejected
	default:
		return MsgCallEnded
	}
}

func errorMessage(err error) string {
	if err == nil {
		err = errors.New("unknown error")
	}
	return "Error: " + err.Error()
}

func idleMessage(s State) string {
	switch {
	case s.DeviceReady:
		return MsgReady
	case s.Configured:
		return MsgDeviceOffline
	default:
		return MsgNotConfigured
	}
}

func outcomeFor(kind telephony.EventKind) Outcome {
	switch kind {
	case telephony.EventDisconnect:
		return OutcomeCompleted
	case telephony.EventCancel:
		return OutcomeCanceled
	case telephony.EventReject:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
