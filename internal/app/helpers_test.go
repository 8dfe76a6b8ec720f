package app

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/massepaul19/share-screen-in-local/internal/app/sfu"
	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// fakeConn captures every frame a coordinator pushes at a session.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

// events returns the envelope type of every captured frame, in order.
func (f *fakeConn) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, fr := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(fr, &env) == nil {
			out = append(out, env.Type)
		}
	}
	return out
}

// last decodes the most recent frame of the given type, or nil.
func (f *fakeConn) last(typ string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var m map[string]any
		if json.Unmarshal(f.frames[i], &m) != nil {
			continue
		}
		if m["type"] == typ {
			return m
		}
	}
	return nil
}

// all decodes every captured frame of the given type, in order.
func (f *fakeConn) all(typ string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, fr := range f.frames {
		var m map[string]any
		if json.Unmarshal(fr, &m) != nil {
			continue
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

// count reports how many frames of the given type were captured.
func (f *fakeConn) count(typ string) int {
	n := 0
	for _, e := range f.events() {
		if e == typ {
			n++
		}
	}
	return n
}

func newOrchestratorFixture(t *testing.T, reg *Registry) *Orchestrator {
	t.Helper()
	engine := sfu.NewEngine()
	pool, err := sfu.NewPool(context.Background(), engine, 1)
	require.NoError(t, err)
	share := NewShareCoordinator(reg, time.Second, time.Second)
	calls := NewCallCoordinator(reg, time.Second, time.Minute)
	rooms := NewRoomRegistry(reg, engine, pool)
	return NewOrchestrator(reg, share, calls, rooms, NewRelay(reg))
}

func bind(reg *Registry, sid domain.SessionID, name string) *fakeConn {
	conn := &fakeConn{}
	meta := domain.NewParticipant(sid)
	if name != "" {
		meta.Name = name
	}
	reg.Bind(sid, core.NewSession(meta, conn), nil)
	return conn
}
