// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
	"time"
)

const MaxNameLen = 36

var (
	ErrNameEmpty   = errors.New("display name empty")
	ErrNameTooLong = errors.New("display name too long")
)

// SessionID identifies one live connection. IDs are connection-scoped
// and never reused.
type SessionID string

func (s SessionID) String() string { return string(s) }

// Short returns the id prefix used in logs and generated names.
func (s SessionID) Short() string {
	if len(s) > 6 {
		return string(s[:6])
	}
	return string(s)
}

// ShortID truncates an engine-generated id for log fields. Engines are
// free to return ids of any length.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Participant is the profile attached to one live connection.
type Participant struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// NewParticipant builds a profile with a generated placeholder name
// derived from the connection id.
func NewParticipant(sid SessionID) *Participant {
	return &Participant{
		Name:     DefaultName(sid),
		JoinedAt: time.Now(),
	}
}

func DefaultName(sid SessionID) string {
	id := string(sid)
	if len(id) > 4 {
		id = id[:4]
	}
	return "User-" + id
}

func (p *Participant) SetName(name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}
