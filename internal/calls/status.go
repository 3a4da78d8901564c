package calls

// Status is the single value driving what the UI shows and allows.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusInCall     Status = "in-call"
	StatusCallEnded  Status = "call-ended"
	StatusError      Status = "error"
)

// State is a snapshot of the controller.
type State struct {
	Status  Status `json:"status"`
	Message string `json:"message"`

	// Duration counts whole seconds since the call was answered.
	Duration int `json:"duration"`

	// Configured is true once a credential set passed the token probe.
	Configured bool `json:"configured"`

	// DeviceReady is true while a registered device is owned.
	DeviceReady bool `json:"deviceReady"`

	// CallID identifies the current call in logs and history.
	CallID string `json:"callId,omitempty"`
}

// CanCall reports whether a new call may be placed.
func (s State) CanCall() bool {
	return s.Status == StatusIdle && s.DeviceReady
}

// Messages shown in the status banner.
const (
	MsgNotConfigured = "Enter your Twilio credentials to get started"
	MsgIncomplete    = "Please fill in all credential fields"
	MsgInvalidFormat = "Invalid credential format: check the AC, SK and AP identifiers"
	MsgInitializing  = "Initializing device..."
	MsgReady         = "Ready to call"
	MsgDeviceOffline = "Device offline, save your credentials again to retry"
	MsgConnecting    = "Connecting..."
	MsgInCall        = "Call in progress"
	MsgCallEnded     = "Call ended"
	MsgCallCanceled  = "Call canceled"
	MsgCallRejected  = "Call rejected"
)
