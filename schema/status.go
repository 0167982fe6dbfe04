package schema

// RecordStatus is the lifecycle state of one output record.
type RecordStatus int

const (
	// StatusPending indicates no frame has reported progress yet.
	StatusPending RecordStatus = iota
	// StatusRunning indicates the backend reported the key as executing.
	StatusRunning
	// StatusSuccess indicates the key finished with exit code zero.
	StatusSuccess
	// StatusFailed indicates the key finished unsuccessfully or the stream was lost.
	StatusFailed
)

// Wire status codes used by the execution backend.
const (
	WireRunning = -2
	WireSuccess = 0
	WireFailed  = 1

	// WireDispatchFailed is reported by result polling when the run never started.
	WireDispatchFailed = -1
)

// StatusFromWire translates a backend status code.
// -2 is running, 0 is success and any other value is a failure.
func StatusFromWire(code int) RecordStatus {
	switch code {
	case WireRunning:
		return StatusRunning
	case WireSuccess:
		return StatusSuccess
	default:
		return StatusFailed
	}
}

// WireCode encodes a status for the wire. Pending has no wire form.
func WireCode(status RecordStatus) (int, bool) {
	switch status {
	case StatusRunning:
		return WireRunning, true
	case StatusSuccess:
		return WireSuccess, true
	case StatusFailed:
		return WireFailed, true
	default:
		return 0, false
	}
}

// Terminal reports whether the status is final.
func (s RecordStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Rank orders statuses by lifecycle progress.
func (s RecordStatus) Rank() int {
	switch s {
	case StatusRunning:
		return 1
	case StatusSuccess, StatusFailed:
		return 2
	default:
		return 0
	}
}

func (s RecordStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ConnState is the state of the stream connection.
type ConnState int

const (
	// ConnConnecting indicates the transport handshake is in progress.
	ConnConnecting ConnState = iota
	// ConnOpen indicates the handshake completed.
	ConnOpen
	// ConnClosed is terminal.
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
