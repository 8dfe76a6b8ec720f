package domain

import "time"

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallStatus advances monotonically ringing -> accepted -> connected,
// with ended reachable from any of them.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallAccepted  CallStatus = "accepted"
	CallConnected CallStatus = "connected"
	CallEnded     CallStatus = "ended"
)

// Call tracks one two-party call from invitation through termination.
type Call struct {
	ID          string
	CallerID    SessionID
	CallerName  string
	CalleeID    SessionID
	CalleeName  string
	Type        CallType
	Status      CallStatus
	CreatedAt   time.Time
	ConnectedAt time.Time
}

// Party reports whether sid is one of the two call parties.
func (c *Call) Party(sid SessionID) bool {
	return c.CallerID == sid || c.CalleeID == sid
}

// Other returns the counterpart of sid, assuming sid is a party.
func (c *Call) Other(sid SessionID) SessionID {
	if c.CallerID == sid {
		return c.CalleeID
	}
	return c.CallerID
}

// PartyName returns the display name recorded for sid at call creation.
func (c *Call) PartyName(sid SessionID) string {
	if c.CallerID == sid {
		return c.CallerName
	}
	return c.CalleeName
}

// Duration is the connected time at now, zero if never connected.
func (c *Call) Duration(now time.Time) time.Duration {
	if c.ConnectedAt.IsZero() {
		return 0
	}
	return now.Sub(c.ConnectedAt)
}
