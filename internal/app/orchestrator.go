package app

import (
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// Orchestrator bundles the coordinators behind one handle for the
// transport layer and owns the ordered disconnect cascade.
type Orchestrator struct {
	Registry *Registry
	Share    *ShareCoordinator
	Calls    *CallCoordinator
	Rooms    *RoomRegistry
	Relay    *Relay
}

func NewOrchestrator(reg *Registry, share *ShareCoordinator, calls *CallCoordinator, rooms *RoomRegistry, relay *Relay) *Orchestrator {
	return &Orchestrator{
		Registry: reg,
		Share:    share,
		Calls:    calls,
		Rooms:    rooms,
		Relay:    relay,
	}
}

// OnDisconnect tears down everything sid touched. Sharing first so the
// room sees the host slot free before anything else, then calls, room
// membership, relay links, and finally the connection record itself.
func (o *Orchestrator) OnDisconnect(sid domain.SessionID) {
	log.Info().Str("module", "app").Str("sid", sid.Short()).Msg("session disconnect cascade")
	o.Share.OnDisconnect(sid)
	o.Calls.OnDisconnect(sid)
	o.Rooms.OnDisconnect(sid)
	o.Relay.OnDisconnect(sid)
	o.Registry.Unbind(sid)
	o.Registry.Broadcast(struct {
		Type  string `json:"type"`
		Count int    `json:"count"`
	}{"user-count-update", o.Registry.Count()})
}
