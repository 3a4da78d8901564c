package ui

import (
	"fmt"
	"time"

	"webcall/internal/calls"
)

// Tone is the colour family of the status banner.
type Tone string

const (
	ToneNeutral Tone = "neutral"
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneDanger  Tone = "danger"
)

// Intents accepted by the server.
const (
	IntentCall   = "call"
	IntentHangUp = "hangup"
)

type Button struct {
	Label   string `json:"label"`
	Intent  string `json:"intent,omitempty"`
	Enabled bool   `json:"enabled"`
}

type RecentCall struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  string        `json:"duration"`
	Outcome   calls.Outcome `json:"outcome"`
}

// View is everything the page needs to draw one state.
type View struct {
	Status     calls.Status `json:"status"`
	Banner     string       `json:"banner"`
	Tone       Tone         `json:"tone"`
	Timer      string       `json:"timer"`
	ShowTimer  bool         `json:"showTimer"`
	Button     Button       `json:"button"`
	ShowForm   bool         `json:"showForm"`
	Configured bool         `json:"configured"`
	Recent     []RecentCall `json:"recent,omitempty"`
}

// Render maps a controller state to a view. It is pure.
func Render(s calls.State) View {
	v := View{
		Status:     s.Status,
		Banner:     s.Message,
		Timer:      FormatDuration(s.Duration),
		ShowTimer:  s.Status == calls.StatusInCall || s.Status == calls.StatusCallEnded,
		ShowForm:   !s.Configured,
		Configured: s.Configured,
	}

	switch s.Status {
	case calls.StatusIdle:
		v.Tone = ToneNeutral
		if s.DeviceReady {
			v.Tone = ToneSuccess
		}
		v.Button = Button{Label: "Call", Intent: IntentCall, Enabled: s.CanCall()}
	case calls.StatusConnecting:
		v.Tone = ToneInfo
		v.Button = Button{Label: "Connecting..."}
	case calls.StatusInCall:
		v.Tone = ToneSuccess
		v.Button = Button{Label: "Hang up", Intent: IntentHangUp, Enabled: true}
	case calls.StatusCallEnded:
		v.Tone = ToneInfo
		v.Button = Button{Label: "Call"}
	case calls.StatusError:
		v.Tone = ToneDanger
		v.Button = Button{Label: "Call"}
	}
	return v
}

// WithHistory attaches recent calls, newest first.
func (v View) WithHistory(records []calls.CallRecord) View {
	v.Recent = make([]RecentCall, 0, len(records))
	for _, r := range records {
		v.Recent = append(v.Recent, RecentCall{
			ID:        r.ID,
			StartedAt: r.StartedAt,
			Duration:  FormatDuration(r.DurationSeconds),
			Outcome:   r.Outcome,
		})
	}
	return v
}

// FormatDuration renders whole seconds as mm:ss. Minutes are not capped.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
