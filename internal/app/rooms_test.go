package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/massepaul19/share-screen-in-local/internal/app/sfu"
	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

func newRoomFixture(t *testing.T) (*Registry, *RoomRegistry) {
	t.Helper()
	reg := NewRegistry()
	engine := sfu.NewEngine()
	pool, err := sfu.NewPool(context.Background(), engine, 2)
	require.NoError(t, err)
	return reg, NewRoomRegistry(reg, engine, pool)
}

// joinAndProduce gets sid into the room with a connected send transport
// and one producer of the given kind.
func joinAndProduce(t *testing.T, rooms *RoomRegistry, sid domain.SessionID, roomID domain.RoomID, kind domain.MediaKind) string {
	t.Helper()
	ctx := context.Background()
	_, err := rooms.Join(ctx, sid, "", roomID, domain.RoomVideoKind)
	require.NoError(t, err)
	tr, err := rooms.CreateTransport(ctx, sid, roomID, domain.TransportSend)
	require.NoError(t, err)
	require.NoError(t, rooms.ConnectTransport(ctx, sid, roomID, tr.ID, json.RawMessage(`{"role":"client"}`)))
	producerID, err := rooms.Produce(ctx, sid, roomID, tr.ID, kind, json.RawMessage(`{"codecs":[]}`))
	require.NoError(t, err)
	return producerID
}

func TestJoinCreatesRoomAndAnnounces(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	aConn := bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	res, err := rooms.Join(ctx, "a", "Alice", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	require.NotEmpty(t, res.RTPCapabilities)
	require.Empty(t, res.Participants)

	res, err = rooms.Join(ctx, "b", "Bob", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	require.Len(t, res.Participants, 1)
	require.Equal(t, domain.SessionID("a"), res.Participants[0].ID)
	require.Equal(t, "Alice", res.Participants[0].Name)

	joined := aConn.last("video-participant-joined")
	require.NotNil(t, joined)
	require.Equal(t, "Bob", joined["name"])

	// same roomId maps to the same room
	require.Len(t, rooms.Stats(), 1)
	require.Equal(t, 2, rooms.Stats()[0].Participants)
}

func TestAudioRoomEventNames(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	aConn := bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	_, err := rooms.Join(ctx, "a", "Alice", "lounge", domain.RoomAudioKind)
	require.NoError(t, err)
	_, err = rooms.Join(ctx, "b", "Bob", "lounge", domain.RoomAudioKind)
	require.NoError(t, err)

	require.NotNil(t, aConn.last("audio-participant-joined"))

	tr, err := rooms.CreateTransport(ctx, "b", "lounge", domain.TransportSend)
	require.NoError(t, err)
	require.NoError(t, rooms.ConnectTransport(ctx, "b", "lounge", tr.ID, json.RawMessage(`{"role":"client"}`)))
	_, err = rooms.Produce(ctx, "b", "lounge", tr.ID, domain.MediaAudio, json.RawMessage(`{"codecs":[]}`))
	require.NoError(t, err)

	require.NotNil(t, aConn.last("new-audio-producer"))
}

func TestProduceAnnouncesToOthersOnly(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	aConn := bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	_, err := rooms.Join(context.Background(), "b", "Bob", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	joinAndProduce(t, rooms, "b", "r1", domain.MediaVideo)

	require.Equal(t, 1, aConn.count("new-video-producer"))
	produced := aConn.last("new-video-producer")
	require.Equal(t, "b", produced["socketId"])
	// b joined after a produced and is never told about its own producer
	require.Zero(t, bConn.count("new-video-producer"))
}

func TestConsumeFlow(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	producerID := joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	res, err := rooms.Join(ctx, "b", "Bob", "r1", domain.RoomVideoKind)
	require.NoError(t, err)

	recv, err := rooms.CreateTransport(ctx, "b", "r1", domain.TransportRecv)
	require.NoError(t, err)
	require.NoError(t, rooms.ConnectTransport(ctx, "b", "r1", recv.ID, json.RawMessage(`{"role":"client"}`)))

	info, err := rooms.Consume(ctx, "b", "r1", recv.ID, producerID, res.RTPCapabilities)
	require.NoError(t, err)
	require.Equal(t, producerID, info.ProducerID)
	require.Equal(t, domain.MediaVideo, info.Kind)

	require.NoError(t, rooms.ResumeConsumer(ctx, "b", "r1", info.ID))

	// capabilities without a video codec cannot consume a video producer
	audioOnly := json.RawMessage(`{"codecs":[{"mimeType":"audio/opus"}]}`)
	_, err = rooms.Consume(ctx, "b", "r1", recv.ID, producerID, audioOnly)
	require.ErrorIs(t, err, core.ErrCannotConsume)
}

func TestConsumeOwnProducerRejected(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")

	producerID := joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	recv, err := rooms.CreateTransport(ctx, "a", "r1", domain.TransportRecv)
	require.NoError(t, err)

	_, err = rooms.Consume(ctx, "a", "r1", recv.ID, producerID, json.RawMessage(`{"codecs":[{"mimeType":"video/VP8"}]}`))
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestPauseResumeProducerBroadcast(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	producerID := joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	_, err := rooms.Join(ctx, "b", "Bob", "r1", domain.RoomVideoKind)
	require.NoError(t, err)

	require.NoError(t, rooms.PauseProducer(ctx, "a", "r1", producerID))
	paused := bConn.last("video-producer-paused")
	require.NotNil(t, paused)
	require.Equal(t, producerID, paused["producerId"])

	require.NoError(t, rooms.ResumeProducer(ctx, "a", "r1", producerID))
	require.NotNil(t, bConn.last("video-producer-resumed"))

	// only the owner may pause
	require.ErrorIs(t, rooms.PauseProducer(ctx, "b", "r1", producerID), core.ErrNotFound)
}

func TestLeaveCascadesConsumers(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")
	cConn := bind(reg, "c", "Cara")

	// a owns two producers; b consumes both, c consumes one, so three
	// consumers elsewhere reference a's media
	videoProducer := joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	aSend, err := rooms.CreateTransport(ctx, "a", "r1", domain.TransportSend)
	require.NoError(t, err)
	audioProducer, err := rooms.Produce(ctx, "a", "r1", aSend.ID, domain.MediaAudio, json.RawMessage(`{"codecs":[]}`))
	require.NoError(t, err)

	consume := func(sid domain.SessionID, producerID string) string {
		res, err := rooms.Join(ctx, sid, "", "r1", domain.RoomVideoKind)
		require.NoError(t, err)
		recv, err := rooms.CreateTransport(ctx, sid, "r1", domain.TransportRecv)
		require.NoError(t, err)
		info, err := rooms.Consume(ctx, sid, "r1", recv.ID, producerID, res.RTPCapabilities)
		require.NoError(t, err)
		return info.ID
	}
	bVideo := consume("b", videoProducer)
	bAudio := consume("b", audioProducer)
	cVideo := consume("c", videoProducer)

	rooms.Leave("a", "r1")

	bClosed := map[any]bool{}
	for _, fr := range bConn.all("video-producer-closed") {
		bClosed[fr["consumerId"]] = true
	}
	require.Equal(t, map[any]bool{bVideo: true, bAudio: true}, bClosed)
	require.Equal(t, 1, cConn.count("video-producer-closed"))
	require.Equal(t, cVideo, cConn.last("video-producer-closed")["consumerId"])

	left := bConn.last("video-participant-left")
	require.NotNil(t, left)
	require.Equal(t, "a", left["socketId"])

	// the cascaded consumers are gone
	require.ErrorIs(t, rooms.ResumeConsumer(ctx, "b", "r1", bVideo), core.ErrNotFound)
	require.Equal(t, 2, rooms.Stats()[0].Participants)
}

func TestEmptyRoomDestroyed(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")

	joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)
	require.Len(t, rooms.Stats(), 1)

	rooms.Leave("a", "r1")
	require.Empty(t, rooms.Stats())

	// joining again builds a fresh room
	res, err := rooms.Join(ctx, "a", "Alice", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	require.NotEmpty(t, res.RTPCapabilities)
}

func TestDisconnectLeavesEveryRoom(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	_, err := rooms.Join(ctx, "a", "Alice", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	_, err = rooms.Join(ctx, "a", "Alice", "r2", domain.RoomAudioKind)
	require.NoError(t, err)
	_, err = rooms.Join(ctx, "b", "Bob", "r1", domain.RoomVideoKind)
	require.NoError(t, err)

	rooms.OnDisconnect("a")

	require.NotNil(t, bConn.last("video-participant-left"))
	require.Len(t, rooms.Stats(), 1)
	require.Equal(t, 1, rooms.Stats()[0].Participants)
}

// failingEngine rejects transport creation to exercise the no-partial-
// state guarantee.
type failingEngine struct {
	*sfu.Engine
}

func (f *failingEngine) CreateTransport(ctx context.Context, routerID string, direction domain.TransportDirection) (core.TransportInfo, error) {
	return core.TransportInfo{}, errors.New("worker crashed")
}

func TestEngineFailureLeavesNoPartialState(t *testing.T) {
	reg := NewRegistry()
	engine := &failingEngine{Engine: sfu.NewEngine()}
	pool, err := sfu.NewPool(context.Background(), engine, 1)
	require.NoError(t, err)
	rooms := NewRoomRegistry(reg, engine, pool)
	ctx := context.Background()
	bind(reg, "a", "Alice")

	_, err = rooms.Join(ctx, "a", "Alice", "r1", domain.RoomVideoKind)
	require.NoError(t, err)

	_, err = rooms.CreateTransport(ctx, "a", "r1", domain.TransportSend)
	var engineErr *core.EngineError
	require.ErrorAs(t, err, &engineErr)

	// nothing was registered for the failed call
	require.ErrorIs(t, rooms.ConnectTransport(ctx, "a", "r1", "bogus", json.RawMessage(`{"role":"client"}`)), core.ErrNotFound)
}

// shortIDEngine returns one-character handles; the registry must not
// assume engine id length anywhere, log fields included.
type shortIDEngine struct{}

func (shortIDEngine) CreateWorker(context.Context) (string, error) { return "w", nil }
func (shortIDEngine) CreateRouter(context.Context, string) (core.RouterInfo, error) {
	return core.RouterInfo{ID: "r", RTPCapabilities: json.RawMessage(`{"codecs":[]}`)}, nil
}
func (shortIDEngine) CloseRouter(string) {}
func (shortIDEngine) CreateTransport(context.Context, string, domain.TransportDirection) (core.TransportInfo, error) {
	return core.TransportInfo{ID: "t"}, nil
}
func (shortIDEngine) ConnectTransport(context.Context, string, json.RawMessage) error { return nil }
func (shortIDEngine) CloseTransport(string)                                           {}
func (shortIDEngine) CreateProducer(context.Context, string, domain.MediaKind, json.RawMessage) (string, error) {
	return "p", nil
}
func (shortIDEngine) PauseProducer(context.Context, string) error     { return nil }
func (shortIDEngine) ResumeProducer(context.Context, string) error    { return nil }
func (shortIDEngine) CloseProducer(string)                            {}
func (shortIDEngine) CanConsume(string, string, json.RawMessage) bool { return true }
func (shortIDEngine) CreateConsumer(context.Context, string, string, json.RawMessage) (core.ConsumerInfo, error) {
	return core.ConsumerInfo{ID: "c", ProducerID: "p", Kind: domain.MediaVideo}, nil
}
func (shortIDEngine) ResumeConsumer(context.Context, string) error { return nil }
func (shortIDEngine) CloseConsumer(string)                         {}

func TestRoomRegistryAcceptsShortEngineIDs(t *testing.T) {
	reg := NewRegistry()
	engine := shortIDEngine{}
	pool, err := sfu.NewPool(context.Background(), engine, 1)
	require.NoError(t, err)
	rooms := NewRoomRegistry(reg, engine, pool)
	ctx := context.Background()
	bind(reg, "a", "Alice")

	_, err = rooms.Join(ctx, "a", "Alice", "r1", domain.RoomVideoKind)
	require.NoError(t, err)
	tr, err := rooms.CreateTransport(ctx, "a", "r1", domain.TransportSend)
	require.NoError(t, err)
	_, err = rooms.Produce(ctx, "a", "r1", tr.ID, domain.MediaVideo, json.RawMessage(`{"codecs":[]}`))
	require.NoError(t, err)
}

func TestRoomOperationsRequireMembership(t *testing.T) {
	reg, rooms := newRoomFixture(t)
	ctx := context.Background()
	bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	joinAndProduce(t, rooms, "a", "r1", domain.MediaVideo)

	// b never joined r1
	_, err := rooms.CreateTransport(ctx, "b", "r1", domain.TransportSend)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = rooms.CreateTransport(ctx, "a", "nope", domain.TransportSend)
	require.ErrorIs(t, err, core.ErrNotFound)
}
