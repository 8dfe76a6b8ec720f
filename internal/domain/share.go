package domain

import "time"

// ShareState is a snapshot of the single screen-share slot.
type ShareState struct {
	Active   bool
	HostID   SessionID
	HostName string
}

// ShareRequest is an ephemeral ask from a non-presenter to take over the
// slot from the current host. It lives until accept, deny, timeout or
// host disconnect.
type ShareRequest struct {
	ID            string
	RequesterID   SessionID
	RequesterName string
	TargetHostID  SessionID
	CreatedAt     time.Time
}
