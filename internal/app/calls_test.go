package app

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

func newCallFixture(t *testing.T, ringTimeout time.Duration) (*Registry, *CallCoordinator) {
	t.Helper()
	reg := NewRegistry()
	return reg, NewCallCoordinator(reg, ringTimeout, 2*time.Minute)
}

func TestInitiateRingsCallee(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)
	require.Equal(t, domain.CallRinging, call.Status)
	require.Equal(t, "Bob", call.CalleeName)
	require.Contains(t, call.ID, "p2pcall_")

	incoming := bConn.last("p2p-incoming-call")
	require.NotNil(t, incoming)
	require.Equal(t, call.ID, incoming["callId"])
	require.Equal(t, "Alice", incoming["callerName"])
	require.Equal(t, "video", incoming["callType"])
}

func TestInitiateToGonePeer(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")

	_, err := calls.Initiate("a", "ghost", domain.CallAudio)
	require.ErrorIs(t, err, core.ErrPeerNotFound)
}

func TestBusyCalleeCreatesNoState(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")
	bind(reg, "c", "Cara")
	bind(reg, "d", "Dana")

	_, err := calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)

	_, err = calls.Initiate("c", "b", domain.CallAudio)
	require.ErrorIs(t, err, core.ErrConflict)
	var busy *core.BusyError
	require.ErrorAs(t, err, &busy)
	require.Equal(t, "Bob", busy.Name)

	// the busy attempt left nothing behind: b saw exactly one ring and
	// c is free to call someone else
	require.Equal(t, 1, bConn.count("p2p-incoming-call"))
	_, err = calls.Initiate("c", "d", domain.CallAudio)
	require.NoError(t, err)
}

func TestAcceptFlow(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	aConn := bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)

	_, err = calls.Accept("a", call.ID)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = calls.Accept("b", "nope")
	require.ErrorIs(t, err, core.ErrNotFound)

	accepted, err := calls.Accept("b", call.ID)
	require.NoError(t, err)
	require.Equal(t, domain.CallAccepted, accepted.Status)

	notified := aConn.last("p2p-call-accepted")
	require.NotNil(t, notified)
	require.Equal(t, "Bob", notified["receiverName"])

	// accepting twice observes the mutated status
	_, err = calls.Accept("b", call.ID)
	require.ErrorIs(t, err, core.ErrConflict)
}

func TestRingTimeoutFiresOnce(t *testing.T) {
	reg, calls := newCallFixture(t, 20*time.Millisecond)
	aConn := bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return aConn.count("p2p-call-timeout") == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, bConn.count("p2p-call-cancelled"))

	// the timed-out call is gone and the callee is free again
	_, err = calls.Accept("b", call.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
	_, err = calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)
}

func TestAcceptStopsRingTimer(t *testing.T) {
	reg, calls := newCallFixture(t, 20*time.Millisecond)
	aConn := bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)
	_, err = calls.Accept("b", call.ID)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.Zero(t, aConn.count("p2p-call-timeout"))
}

func TestRejectNotifiesCaller(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	aConn := bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)

	// only the addressed callee may reject
	calls.Reject("a", call.ID)
	require.Zero(t, aConn.count("p2p-call-rejected"))

	calls.Reject("b", call.ID)
	rejected := aConn.last("p2p-call-rejected")
	require.NotNil(t, rejected)
	require.Equal(t, "Bob", rejected["receiverName"])
}

func TestEndReportsDuration(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)
	_, err = calls.Accept("b", call.ID)
	require.NoError(t, err)

	// the first relayed answer marks the call connected
	calls.RelayAnswer("b", call.ID, "a", json.RawMessage(`{"sdp":"x"}`))
	time.Sleep(15 * time.Millisecond)
	calls.End("a", call.ID)

	ended := bConn.last("p2p-call-ended")
	require.NotNil(t, ended)
	require.Equal(t, "Alice", ended["endedBy"])
	require.GreaterOrEqual(t, ended["duration"].(float64), float64(10))
}

func TestEndNeverConnectedDurationZero(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)
	calls.End("a", call.ID)

	ended := bConn.last("p2p-call-ended")
	require.NotNil(t, ended)
	require.EqualValues(t, 0, ended["duration"])
}

func TestRelayRetagsSender(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	aConn := bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)

	calls.RelayOffer("a", call.ID, "b", json.RawMessage(`{"sdp":"o"}`))
	offer := bConn.last("p2p-call-offer")
	require.NotNil(t, offer)
	require.Equal(t, "a", offer["from"])

	calls.RelayCandidate("b", call.ID, "a", json.RawMessage(`{"candidate":"c"}`))
	cand := aConn.last("p2p-call-ice-candidate")
	require.NotNil(t, cand)
	require.Equal(t, "b", cand["from"])

	// a non-party cannot use the relay
	calls.RelayOffer("ghost", call.ID, "b", json.RawMessage(`{}`))
	require.Equal(t, 1, bConn.count("p2p-call-offer"))
}

func TestDisconnectEndsCalls(t *testing.T) {
	reg, calls := newCallFixture(t, time.Minute)
	bind(reg, "a", "Alice")
	bConn := bind(reg, "b", "Bob")
	bind(reg, "c", "Cara")

	call, err := calls.Initiate("a", "b", domain.CallVideo)
	require.NoError(t, err)
	_, err = calls.Accept("b", call.ID)
	require.NoError(t, err)

	calls.OnDisconnect("a")

	ended := bConn.last("p2p-call-ended")
	require.NotNil(t, ended)
	require.Equal(t, "disconnected", ended["reason"])

	// b is no longer busy
	_, err = calls.Initiate("c", "b", domain.CallAudio)
	require.NoError(t, err)
}

func TestSweepPurgesStaleRinging(t *testing.T) {
	reg, calls := newCallFixture(t, time.Hour)
	bind(reg, "a", "Alice")
	bind(reg, "b", "Bob")

	call, err := calls.Initiate("a", "b", domain.CallAudio)
	require.NoError(t, err)

	calls.sweepOnce(time.Now().Add(3 * time.Minute))

	_, err = calls.Accept("b", call.ID)
	require.ErrorIs(t, err, core.ErrNotFound)
}
