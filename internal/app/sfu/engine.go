// Package sfu is the in-process implementation of the media engine
// boundary. It models routers, transports, producers and consumers as
// handle bookkeeping with codec-compatibility checks; the actual
// forwarding runs inside the engine workers.
package sfu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/massepaul19/share-screen-in-local/internal/core"
	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// routerCodec is one entry of the router RTP capabilities advertised to
// joining participants.
type routerCodec struct {
	Kind      domain.MediaKind `json:"kind"`
	MimeType  string           `json:"mimeType"`
	ClockRate uint32           `json:"clockRate"`
	Channels  uint16           `json:"channels,omitempty"`
}

func defaultCodecs() []routerCodec {
	caps := []webrtc.RTPCodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000},
		{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
	}
	out := make([]routerCodec, 0, len(caps))
	for _, c := range caps {
		out = append(out, routerCodec{
			Kind:      kindOfMime(c.MimeType),
			MimeType:  c.MimeType,
			ClockRate: c.ClockRate,
			Channels:  c.Channels,
		})
	}
	return out
}

func kindOfMime(mime string) domain.MediaKind {
	if strings.HasPrefix(strings.ToLower(mime), "audio/") {
		return domain.MediaAudio
	}
	return domain.MediaVideo
}

type router struct {
	id       string
	workerID string
	caps     json.RawMessage
}

type transport struct {
	id        string
	routerID  string
	direction domain.TransportDirection
	connected bool
}

type producer struct {
	id          string
	transportID string
	routerID    string
	kind        domain.MediaKind
	paused      bool
}

type consumer struct {
	id          string
	transportID string
	routerID    string
	producerID  string
	kind        domain.MediaKind
	paused      bool
}

// Engine implements core.MediaEngine in-process. Handles are tracked
// under one lock; no call blocks on I/O.
type Engine struct {
	mu         sync.Mutex
	workers    map[string]struct{}
	routers    map[string]*router
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer
}

func NewEngine() *Engine {
	return &Engine{
		workers:    make(map[string]struct{}),
		routers:    make(map[string]*router),
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}
}

func (e *Engine) CreateWorker(_ context.Context) (string, error) {
	id := uuid.NewString()
	e.mu.Lock()
	e.workers[id] = struct{}{}
	e.mu.Unlock()
	log.Info().Str("module", "sfu").Str("worker", domain.ShortID(id)).Msg("worker created")
	return id, nil
}

func (e *Engine) CreateRouter(_ context.Context, workerID string) (core.RouterInfo, error) {
	caps, err := json.Marshal(struct {
		Codecs []routerCodec `json:"codecs"`
	}{defaultCodecs()})
	if err != nil {
		return core.RouterInfo{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.workers[workerID]; !ok {
		return core.RouterInfo{}, fmt.Errorf("worker %s: %w", workerID, core.ErrNotFound)
	}
	r := &router{id: uuid.NewString(), workerID: workerID, caps: caps}
	e.routers[r.id] = r
	return core.RouterInfo{ID: r.id, RTPCapabilities: caps}, nil
}

func (e *Engine) CloseRouter(routerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.routers, routerID)
	for id, t := range e.transports {
		if t.routerID == routerID {
			delete(e.transports, id)
		}
	}
	for id, p := range e.producers {
		if p.routerID == routerID {
			delete(e.producers, id)
		}
	}
	for id, c := range e.consumers {
		if c.routerID == routerID {
			delete(e.consumers, id)
		}
	}
}

func (e *Engine) CreateTransport(_ context.Context, routerID string, direction domain.TransportDirection) (core.TransportInfo, error) {
	ice, err := json.Marshal(struct {
		UsernameFragment string `json:"usernameFragment"`
		Password         string `json:"password"`
	}{uuid.NewString()[:8], uuid.NewString()})
	if err != nil {
		return core.TransportInfo{}, err
	}
	dtls := json.RawMessage(`{"role":"auto","fingerprints":[]}`)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.routers[routerID]; !ok {
		return core.TransportInfo{}, fmt.Errorf("router %s: %w", routerID, core.ErrNotFound)
	}
	t := &transport{id: uuid.NewString(), routerID: routerID, direction: direction}
	e.transports[t.id] = t
	return core.TransportInfo{
		ID:             t.id,
		ICEParameters:  ice,
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: dtls,
	}, nil
}

func (e *Engine) ConnectTransport(_ context.Context, transportID string, dtlsParameters json.RawMessage) error {
	if len(dtlsParameters) == 0 {
		return fmt.Errorf("connect transport %s: missing dtls parameters", transportID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	t.connected = true
	return nil
}

func (e *Engine) CloseTransport(transportID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.transports, transportID)
	for id, p := range e.producers {
		if p.transportID == transportID {
			delete(e.producers, id)
		}
	}
	for id, c := range e.consumers {
		if c.transportID == transportID {
			delete(e.consumers, id)
		}
	}
}

func (e *Engine) CreateProducer(_ context.Context, transportID string, kind domain.MediaKind, rtpParameters json.RawMessage) (string, error) {
	if len(rtpParameters) == 0 {
		return "", fmt.Errorf("produce on %s: missing rtp parameters", transportID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return "", fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	p := &producer{id: uuid.NewString(), transportID: transportID, routerID: t.routerID, kind: kind}
	e.producers[p.id] = p
	return p.id, nil
}

func (e *Engine) PauseProducer(_ context.Context, producerID string) error {
	return e.setProducerPaused(producerID, true)
}

func (e *Engine) ResumeProducer(_ context.Context, producerID string) error {
	return e.setProducerPaused(producerID, false)
}

func (e *Engine) setProducerPaused(producerID string, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.producers[producerID]
	if !ok {
		return fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	p.paused = paused
	return nil
}

// CloseProducer removes the producer and every consumer fed by it.
func (e *Engine) CloseProducer(producerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.producers, producerID)
	for id, c := range e.consumers {
		if c.producerID == producerID {
			delete(e.consumers, id)
		}
	}
}

// CanConsume checks that the consumer capabilities include a codec for
// the producer's kind on the same router.
func (e *Engine) CanConsume(routerID, producerID string, rtpCapabilities json.RawMessage) bool {
	e.mu.Lock()
	p, ok := e.producers[producerID]
	e.mu.Unlock()
	if !ok || p.routerID != routerID {
		return false
	}

	var caps struct {
		Codecs []struct {
			MimeType string `json:"mimeType"`
		} `json:"codecs"`
	}
	if err := json.Unmarshal(rtpCapabilities, &caps); err != nil {
		return false
	}
	for _, c := range caps.Codecs {
		if kindOfMime(c.MimeType) == p.kind {
			return true
		}
	}
	return false
}

// CreateConsumer returns a paused consumer; the owner resumes it once
// their client is ready to receive.
func (e *Engine) CreateConsumer(_ context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (core.ConsumerInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.transports[transportID]
	if !ok {
		return core.ConsumerInfo{}, fmt.Errorf("transport %s: %w", transportID, core.ErrNotFound)
	}
	p, ok := e.producers[producerID]
	if !ok {
		return core.ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, core.ErrNotFound)
	}
	params, err := json.Marshal(struct {
		Codecs []routerCodec `json:"codecs"`
	}{codecsOfKind(p.kind)})
	if err != nil {
		return core.ConsumerInfo{}, err
	}
	c := &consumer{
		id:          uuid.NewString(),
		transportID: transportID,
		routerID:    t.routerID,
		producerID:  producerID,
		kind:        p.kind,
		paused:      true,
	}
	e.consumers[c.id] = c
	return core.ConsumerInfo{
		ID:            c.id,
		ProducerID:    producerID,
		Kind:          c.kind,
		RTPParameters: params,
	}, nil
}

func codecsOfKind(kind domain.MediaKind) []routerCodec {
	var out []routerCodec
	for _, c := range defaultCodecs() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) ResumeConsumer(_ context.Context, consumerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.consumers[consumerID]
	if !ok {
		return fmt.Errorf("consumer %s: %w", consumerID, core.ErrNotFound)
	}
	c.paused = false
	return nil
}

func (e *Engine) CloseConsumer(consumerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.consumers, consumerID)
}
