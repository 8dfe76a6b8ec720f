package core

import "github.com/massepaul19/share-screen-in-local/internal/domain"

// Session binds a participant profile and its transport endpoint.
// This is what the registry stores and coordinators fan out to.
type Session interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}

type session struct {
	meta *domain.Participant
	conn SignalConnection
}

func NewSession(meta *domain.Participant, conn SignalConnection) Session {
	return &session{meta: meta, conn: conn}
}

func (s *session) Meta() *domain.Participant { return s.meta }
func (s *session) Signal() SignalConnection  { return s.conn }
