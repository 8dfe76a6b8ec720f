package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// WorkerPool hands out engine workers for new rooms. Implemented by
// sfu.Pool and injected here.
type WorkerPool interface {
	Next() string
}

type transportHandle struct {
	id        string
	direction domain.TransportDirection
}

type producerHandle struct {
	id     string
	kind   domain.MediaKind
	paused bool
}

type consumerHandle struct {
	id            string
	producerID    string
	producerOwner domain.SessionID
	kind          domain.MediaKind
}

// roomParticipant owns its resource handles exclusively, keyed by
// handle id for O(1) release.
type roomParticipant struct {
	name       string
	joinedAt   time.Time
	transports map[string]*transportHandle
	producers  map[string]*producerHandle
	consumers  map[string]*consumerHandle
}

func newRoomParticipant(name string) *roomParticipant {
	return &roomParticipant{
		name:       name,
		joinedAt:   time.Now(),
		transports: make(map[string]*transportHandle),
		producers:  make(map[string]*producerHandle),
		consumers:  make(map[string]*consumerHandle),
	}
}

type sfuRoom struct {
	id           domain.RoomID
	kind         domain.RoomKind
	workerID     string
	routerID     string
	capabilities json.RawMessage
	createdAt    time.Time
	participants map[domain.SessionID]*roomParticipant
}

// RoomPeer is the read-only view of a room member handed to joiners.
type RoomPeer struct {
	ID   domain.SessionID `json:"socketId"`
	Name string           `json:"name"`
}

// JoinResult is what a joiner needs to start negotiating: the router
// capabilities and the peers whose media they may consume.
type JoinResult struct {
	RTPCapabilities json.RawMessage `json:"rtpCapabilities"`
	Participants    []RoomPeer      `json:"participants"`
}

// RoomStats is the REST-facing room summary.
type RoomStats struct {
	RoomID       domain.RoomID   `json:"roomId"`
	Kind         domain.RoomKind `json:"kind"`
	Participants int             `json:"participantCount"`
	UptimeSec    int64           `json:"uptime"`
}

// RoomRegistry creates and destroys logical rooms, each bound to one
// engine worker, and tracks per-room participants and their resource
// handles. Engine calls never run while the registry lock is held; a
// handle is recorded only after the engine call succeeded, so a
// failure leaves no partial resource registered.
type RoomRegistry struct {
	reg    *Registry
	engine core.MediaEngine
	pool   WorkerPool

	mu    sync.Mutex
	rooms map[domain.RoomID]*sfuRoom
}

func NewRoomRegistry(reg *Registry, engine core.MediaEngine, pool WorkerPool) *RoomRegistry {
	return &RoomRegistry{
		reg:    reg,
		engine: engine,
		pool:   pool,
		rooms:  make(map[domain.RoomID]*sfuRoom),
	}
}

// Join registers sid in the room, creating it on the next worker when
// it does not exist yet. Requesting an existing roomId returns the
// existing room. Existing members are notified; the joiner gets the
// router capabilities and the current peer set back.
func (rr *RoomRegistry) Join(ctx context.Context, sid domain.SessionID, name string, roomID domain.RoomID, kind domain.RoomKind) (JoinResult, error) {
	if name == "" {
		name = rr.reg.Name(sid)
	}

	if _, err := rr.getOrCreate(ctx, roomID, kind); err != nil {
		return JoinResult{}, err
	}

	rr.mu.Lock()
	// The room may have been destroyed between creation and now.
	room, ok := rr.rooms[roomID]
	if !ok {
		rr.mu.Unlock()
		return JoinResult{}, core.ErrNotFound
	}
	room.participants[sid] = newRoomParticipant(name)
	peers := make([]RoomPeer, 0, len(room.participants)-1)
	members := make([]domain.SessionID, 0, len(room.participants)-1)
	for psid, p := range room.participants {
		if psid == sid {
			continue
		}
		peers = append(peers, RoomPeer{ID: psid, Name: p.name})
		members = append(members, psid)
	}
	caps := room.capabilities
	rr.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("kind", string(kind)).Str("name", name).Msg("participant joined")
	rr.notify(members, struct {
		Type     string           `json:"type"`
		SocketID domain.SessionID `json:"socketId"`
		Name     string           `json:"name"`
	}{roomEvent(kind, "participant-joined"), sid, name})

	return JoinResult{RTPCapabilities: caps, Participants: peers}, nil
}

func (rr *RoomRegistry) getOrCreate(ctx context.Context, roomID domain.RoomID, kind domain.RoomKind) (*sfuRoom, error) {
	rr.mu.Lock()
	if room, ok := rr.rooms[roomID]; ok {
		rr.mu.Unlock()
		return room, nil
	}
	rr.mu.Unlock()

	workerID := rr.pool.Next()
	info, err := rr.engine.CreateRouter(ctx, workerID)
	if err != nil {
		return nil, &core.EngineError{Op: "create-router", Err: err}
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()
	if room, ok := rr.rooms[roomID]; ok {
		// Lost the creation race; discard ours.
		rr.engine.CloseRouter(info.ID)
		return room, nil
	}
	room := &sfuRoom{
		id:           roomID,
		kind:         kind,
		workerID:     workerID,
		routerID:     info.ID,
		capabilities: info.RTPCapabilities,
		createdAt:    time.Now(),
		participants: make(map[domain.SessionID]*roomParticipant),
	}
	rr.rooms[roomID] = room
	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("kind", string(kind)).Str("worker", domain.ShortID(workerID)).Msg("room created")
	return room, nil
}

// CreateTransport negotiates one directional transport for sid.
func (rr *RoomRegistry) CreateTransport(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, direction domain.TransportDirection) (core.TransportInfo, error) {
	rr.mu.Lock()
	room, _, err := rr.lookupLocked(roomID, sid)
	if err != nil {
		rr.mu.Unlock()
		return core.TransportInfo{}, err
	}
	routerID := room.routerID
	rr.mu.Unlock()

	info, err := rr.engine.CreateTransport(ctx, routerID, direction)
	if err != nil {
		return core.TransportInfo{}, &core.EngineError{Op: "create-transport", Err: err}
	}

	rr.mu.Lock()
	_, participant, err := rr.lookupLocked(roomID, sid)
	if err != nil {
		rr.mu.Unlock()
		rr.engine.CloseTransport(info.ID)
		return core.TransportInfo{}, err
	}
	participant.transports[info.ID] = &transportHandle{id: info.ID, direction: direction}
	rr.mu.Unlock()
	return info, nil
}

// ConnectTransport finalizes the DTLS handshake of an owned transport.
func (rr *RoomRegistry) ConnectTransport(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, transportID string, dtlsParameters json.RawMessage) error {
	rr.mu.Lock()
	_, participant, err := rr.lookupLocked(roomID, sid)
	if err == nil {
		if _, ok := participant.transports[transportID]; !ok {
			err = fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
		}
	}
	rr.mu.Unlock()
	if err != nil {
		return err
	}

	if err := rr.engine.ConnectTransport(ctx, transportID, dtlsParameters); err != nil {
		return &core.EngineError{Op: "connect-transport", Err: err}
	}
	return nil
}

// Produce claims an outbound media slot on an owned transport and
// announces the new producer to the rest of the room.
func (rr *RoomRegistry) Produce(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, transportID string, kind domain.MediaKind, rtpParameters json.RawMessage) (string, error) {
	rr.mu.Lock()
	room, participant, err := rr.lookupLocked(roomID, sid)
	if err == nil {
		if _, ok := participant.transports[transportID]; !ok {
			err = fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
		}
	}
	var roomKind domain.RoomKind
	if err == nil {
		roomKind = room.kind
	}
	rr.mu.Unlock()
	if err != nil {
		return "", err
	}

	producerID, err := rr.engine.CreateProducer(ctx, transportID, kind, rtpParameters)
	if err != nil {
		return "", &core.EngineError{Op: "produce", Err: err}
	}

	rr.mu.Lock()
	_, participant, err = rr.lookupLocked(roomID, sid)
	if err != nil {
		rr.mu.Unlock()
		rr.engine.CloseProducer(producerID)
		return "", err
	}
	participant.producers[producerID] = &producerHandle{id: producerID, kind: kind}
	members := rr.otherMembersLocked(roomID, sid)
	rr.mu.Unlock()

	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("producer", domain.ShortID(producerID)).Str("kind", string(kind)).Msg("producer created")
	rr.notify(members, struct {
		Type       string           `json:"type"`
		ProducerID string           `json:"producerId"`
		SocketID   domain.SessionID `json:"socketId"`
		Kind       domain.MediaKind `json:"kind"`
	}{roomEvent(roomKind, "new-producer"), producerID, sid, kind})
	return producerID, nil
}

// Consume subscribes sid to another participant's producer after the
// capability compatibility check. The consumer is created paused.
func (rr *RoomRegistry) Consume(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	rr.mu.Lock()
	room, participant, err := rr.lookupLocked(roomID, sid)
	var owner domain.SessionID
	var routerID string
	if err == nil {
		if _, ok := participant.transports[transportID]; !ok {
			err = fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
		}
	}
	if err == nil {
		routerID = room.routerID
		owner, err = room.producerOwnerLocked(producerID, sid)
	}
	rr.mu.Unlock()
	if err != nil {
		return core.ConsumerInfo{}, err
	}

	if !rr.engine.CanConsume(routerID, producerID, rtpCapabilities) {
		return core.ConsumerInfo{}, core.ErrCannotConsume
	}
	info, err := rr.engine.CreateConsumer(ctx, transportID, producerID, rtpCapabilities)
	if err != nil {
		return core.ConsumerInfo{}, &core.EngineError{Op: "consume", Err: err}
	}

	rr.mu.Lock()
	room, participant, err = rr.lookupLocked(roomID, sid)
	if err == nil {
		// The producer owner may have left during the engine call.
		if _, stillErr := room.producerOwnerLocked(producerID, sid); stillErr != nil {
			err = stillErr
		}
	}
	if err != nil {
		rr.mu.Unlock()
		rr.engine.CloseConsumer(info.ID)
		return core.ConsumerInfo{}, err
	}
	participant.consumers[info.ID] = &consumerHandle{
		id:            info.ID,
		producerID:    producerID,
		producerOwner: owner,
		kind:          info.Kind,
	}
	rr.mu.Unlock()
	return info, nil
}

// producerOwnerLocked finds which other participant owns producerID.
func (r *sfuRoom) producerOwnerLocked(producerID string, except domain.SessionID) (domain.SessionID, error) {
	for sid, p := range r.participants {
		if sid == except {
			continue
		}
		if _, ok := p.producers[producerID]; ok {
			return sid, nil
		}
	}
	return "", fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
}

// ResumeConsumer unpauses an owned consumer.
func (rr *RoomRegistry) ResumeConsumer(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, consumerID string) error {
	rr.mu.Lock()
	_, participant, err := rr.lookupLocked(roomID, sid)
	if err == nil {
		if _, ok := participant.consumers[consumerID]; !ok {
			err = fmt.Errorf("consumer %s: %w", consumerID, core.ErrNotFound)
		}
	}
	rr.mu.Unlock()
	if err != nil {
		return err
	}
	if err := rr.engine.ResumeConsumer(ctx, consumerID); err != nil {
		return &core.EngineError{Op: "resume-consumer", Err: err}
	}
	return nil
}

// PauseProducer mutes an owned producer and tells the room.
func (rr *RoomRegistry) PauseProducer(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, producerID string) error {
	return rr.setProducerPaused(ctx, sid, roomID, producerID, true)
}

// ResumeProducer unmutes an owned producer and tells the room.
func (rr *RoomRegistry) ResumeProducer(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, producerID string) error {
	return rr.setProducerPaused(ctx, sid, roomID, producerID, false)
}

func (rr *RoomRegistry) setProducerPaused(ctx context.Context, sid domain.SessionID, roomID domain.RoomID, producerID string, paused bool) error {
	rr.mu.Lock()
	room, participant, err := rr.lookupLocked(roomID, sid)
	var handle *producerHandle
	if err == nil {
		var ok bool
		if handle, ok = participant.producers[producerID]; !ok {
			err = fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
		}
	}
	var roomKind domain.RoomKind
	if err == nil {
		roomKind = room.kind
	}
	rr.mu.Unlock()
	if err != nil {
		return err
	}

	op := rr.engine.ResumeProducer
	event := "producer-resumed"
	if paused {
		op = rr.engine.PauseProducer
		event = "producer-paused"
	}
	if err := op(ctx, producerID); err != nil {
		return &core.EngineError{Op: event, Err: err}
	}

	rr.mu.Lock()
	handle.paused = paused
	members := rr.otherMembersLocked(roomID, sid)
	rr.mu.Unlock()

	rr.notify(members, struct {
		Type       string           `json:"type"`
		SocketID   domain.SessionID `json:"socketId"`
		ProducerID string           `json:"producerId"`
	}{roomEvent(roomKind, event), sid, producerID})
	return nil
}

// Leave releases all of sid's resources in the room: its producers
// (cascading closure of consumers elsewhere referencing them, which is
// re-broadcast to the affected peers), its own consumers and
// transports. The room is destroyed when it becomes empty.
func (rr *RoomRegistry) Leave(sid domain.SessionID, roomID domain.RoomID) {
	rr.mu.Lock()
	room, participant, err := rr.lookupLocked(roomID, sid)
	if err != nil {
		rr.mu.Unlock()
		return
	}

	owned := make(map[string]struct{}, len(participant.producers))
	for id := range participant.producers {
		owned[id] = struct{}{}
	}

	// Cascade: detach every consumer elsewhere fed by this
	// participant's producers.
	type closedConsumer struct {
		owner      domain.SessionID
		consumerID string
	}
	var cascaded []closedConsumer
	for psid, p := range room.participants {
		if psid == sid {
			continue
		}
		for cid, c := range p.consumers {
			if _, ok := owned[c.producerID]; ok {
				delete(p.consumers, cid)
				cascaded = append(cascaded, closedConsumer{owner: psid, consumerID: cid})
			}
		}
	}

	ownConsumers := make([]string, 0, len(participant.consumers))
	for id := range participant.consumers {
		ownConsumers = append(ownConsumers, id)
	}
	ownTransports := make([]string, 0, len(participant.transports))
	for id := range participant.transports {
		ownTransports = append(ownTransports, id)
	}

	delete(room.participants, sid)
	members := rr.otherMembersLocked(roomID, sid)
	kind := room.kind
	empty := len(room.participants) == 0
	routerID := room.routerID
	if empty {
		delete(rr.rooms, roomID)
	}
	rr.mu.Unlock()

	for id := range owned {
		rr.engine.CloseProducer(id)
	}
	for _, cc := range cascaded {
		rr.engine.CloseConsumer(cc.consumerID)
		rr.reg.SendTo(cc.owner, struct {
			Type       string `json:"type"`
			ConsumerID string `json:"consumerId"`
		}{roomEvent(kind, "producer-closed"), cc.consumerID})
	}
	for _, id := range ownConsumers {
		rr.engine.CloseConsumer(id)
	}
	for _, id := range ownTransports {
		rr.engine.CloseTransport(id)
	}

	log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Str("sid", sid.Short()).Msg("participant left")
	rr.notify(members, struct {
		Type     string           `json:"type"`
		SocketID domain.SessionID `json:"socketId"`
	}{roomEvent(kind, "participant-left"), sid})

	if empty {
		rr.engine.CloseRouter(routerID)
		log.Info().Str("module", "app.rooms").Str("room", string(roomID)).Msg("empty room destroyed")
	}
}

// OnDisconnect removes sid from every room it is in.
func (rr *RoomRegistry) OnDisconnect(sid domain.SessionID) {
	rr.mu.Lock()
	var member []domain.RoomID
	for id, room := range rr.rooms {
		if _, ok := room.participants[sid]; ok {
			member = append(member, id)
		}
	}
	rr.mu.Unlock()
	for _, id := range member {
		rr.Leave(sid, id)
	}
}

// Stats summarizes the active rooms for the REST surface.
func (rr *RoomRegistry) Stats() []RoomStats {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	out := make([]RoomStats, 0, len(rr.rooms))
	for _, room := range rr.rooms {
		out = append(out, RoomStats{
			RoomID:       room.id,
			Kind:         room.kind,
			Participants: len(room.participants),
			UptimeSec:    int64(time.Since(room.createdAt).Seconds()),
		})
	}
	return out
}

// Shutdown closes every remaining router. Called on process exit.
func (rr *RoomRegistry) Shutdown() {
	rr.mu.Lock()
	routers := make([]string, 0, len(rr.rooms))
	for id, room := range rr.rooms {
		routers = append(routers, room.routerID)
		delete(rr.rooms, id)
	}
	rr.mu.Unlock()
	for _, id := range routers {
		rr.engine.CloseRouter(id)
	}
}

func (rr *RoomRegistry) lookupLocked(roomID domain.RoomID, sid domain.SessionID) (*sfuRoom, *roomParticipant, error) {
	room, ok := rr.rooms[roomID]
	if !ok {
		return nil, nil, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	participant, ok := room.participants[sid]
	if !ok {
		return nil, nil, fmt.Errorf("participant %s: %w", sid.Short(), core.ErrNotFound)
	}
	return room, participant, nil
}

func (rr *RoomRegistry) otherMembersLocked(roomID domain.RoomID, sid domain.SessionID) []domain.SessionID {
	room, ok := rr.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.SessionID, 0, len(room.participants))
	for psid := range room.participants {
		if psid != sid {
			out = append(out, psid)
		}
	}
	return out
}

func (rr *RoomRegistry) notify(members []domain.SessionID, v any) {
	for _, sid := range members {
		rr.reg.SendTo(sid, v)
	}
}

// roomEvent builds the kind-prefixed protocol event name, e.g.
// "video-participant-joined" or "new-audio-producer".
func roomEvent(kind domain.RoomKind, suffix string) string {
	if suffix == "new-producer" {
		return fmt.Sprintf("new-%s-producer", kind)
	}
	return fmt.Sprintf("%s-%s", kind, suffix)
}
