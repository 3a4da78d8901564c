package telephony

import "context"

// The calling provider's client library sits behind these interfaces.
//
// Rules:
// - No signaling or media code lives in this repository; adapters only
//   translate the library's callbacks into Events.
// - Event handlers may be invoked from any goroutine.

// EventKind is the closed set of lifecycle events the controller consumes.
type EventKind string

const (
	// Device events.
	EventRegistered  EventKind = "registered"
	EventDeviceError EventKind = "device-error"
	EventIncoming    EventKind = "incoming"

	// Call events.
	EventAccept     EventKind = "accept"
	EventDisconnect EventKind = "disconnect"
	EventCancel     EventKind = "cancel"
	EventReject     EventKind = "reject"
	EventCallError  EventKind = "call-error"
)

// Event is one tagged callback from a Device or a Call.
type Event struct {
	Kind EventKind
	Err  error
}

// Terminal reports whether the event ends a call.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventDisconnect, EventCancel, EventReject, EventCallError:
		return true
	default:
		return false
	}
}

type EventHandler func(Event)

// DefaultCodecs is the fixed codec preference order.
var DefaultCodecs = []string{"opus", "pcmu"}

type DeviceOptions struct {
	Codecs []string
}

// DeviceFactory builds a Device from an access token. Device events are
// delivered to onEvent for the whole lifetime of the device.
type DeviceFactory interface {
	NewDevice(token string, opts DeviceOptions, onEvent EventHandler) (Device, error)
}

// Device is one registration with the calling backend.
type Device interface {
	// Register blocks until the backend accepts or refuses the registration.
	Register(ctx context.Context) error

	// Connect starts an outbound call. Call events go to onEvent.
	Connect(ctx context.Context, params map[string]string, onEvent EventHandler) (Call, error)

	// Destroy unregisters and releases the device. Safe to call twice.
	Destroy()
}

// Call is one outbound voice session.
type Call interface {
	// Disconnect asks the call to end; completion is signalled by EventDisconnect.
	Disconnect()
}
