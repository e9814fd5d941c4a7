package synthesis

// Kind tags which case of an Outcome is populated.
type Kind int

const (
	Succeeded Kind = iota + 1
	Canceled
	TimedOut
	TransportFailed
	Unauthorized
)

func (k Kind) String() string {
	switch k {
	case Succeeded:
		return "succeeded"
	case Canceled:
		return "canceled"
	case TimedOut:
		return "timed_out"
	case TransportFailed:
		return "transport_failed"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Outcome is the result of one synthesis attempt. Audio and MIMEType are
// set only for Succeeded; Reason and ErrorCode only for Canceled and
// Unauthorized. Detail is diagnostic and is never sent to callers.
type Outcome struct {
	Kind      Kind
	Audio     []byte
	MIMEType  string
	Reason    string
	ErrorCode string
	Detail    string
	TraceID   string
}

// State is a step in the per-request lifecycle.
type State string

const (
	StateReceived        State = "received"
	StateValidating      State = "validating"
	StateRejected        State = "rejected"
	StateSynthesizing    State = "synthesizing"
	StateSucceeded       State = "succeeded"
	StateCanceled        State = "canceled"
	StateTimedOut        State = "timed_out"
	StateTransportFailed State = "transport_failed"
	StateUnauthorized    State = "unauthorized"
	StateResponded       State = "responded"
)

// Terminal returns the terminal state the outcome leaves the request in.
func (o Outcome) Terminal() State {
	switch o.Kind {
	case Succeeded:
		return StateSucceeded
	case Canceled:
		return StateCanceled
	case TimedOut:
		return StateTimedOut
	case TransportFailed:
		return StateTransportFailed
	case Unauthorized:
		return StateUnauthorized
	default:
		return StateRejected
	}
}
