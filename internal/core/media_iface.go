package core

import (
	"context"
	"encoding/json"

	"github.com/massepaul19/share-screen-in-local/internal/domain"
)

// RouterInfo describes the media router bound to one room.
type RouterInfo struct {
	ID              string
	RTPCapabilities json.RawMessage
}

// TransportInfo carries the negotiation parameters a client needs to
// connect one transport. The coordination core never inspects them.
type TransportInfo struct {
	ID             string          `json:"id"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

// ConsumerInfo is returned by CreateConsumer; the consumer starts paused
// and must be resumed explicitly by its owner.
type ConsumerInfo struct {
	ID            string           `json:"id"`
	ProducerID    string           `json:"producerId"`
	Kind          domain.MediaKind `json:"kind"`
	RTPParameters json.RawMessage  `json:"rtpParameters"`
}

// MediaEngine is the boundary to the external media-forwarding engine.
// All parameter blobs are opaque: they are relayed between clients and
// the engine as-is. Every call is handle-scoped; the engine owns the
// actual media state.
type MediaEngine interface {
	CreateWorker(ctx context.Context) (string, error)

	CreateRouter(ctx context.Context, workerID string) (RouterInfo, error)
	CloseRouter(routerID string)

	CreateTransport(ctx context.Context, routerID string, direction domain.TransportDirection) (TransportInfo, error)
	ConnectTransport(ctx context.Context, transportID string, dtlsParameters json.RawMessage) error
	CloseTransport(transportID string)

	CreateProducer(ctx context.Context, transportID string, kind domain.MediaKind, rtpParameters json.RawMessage) (string, error)
	PauseProducer(ctx context.Context, producerID string) error
	ResumeProducer(ctx context.Context, producerID string) error
	CloseProducer(producerID string)

	// CanConsume checks codec capability compatibility before a consumer
	// may be created for the given producer.
	CanConsume(routerID, producerID string, rtpCapabilities json.RawMessage) bool
	CreateConsumer(ctx context.Context, transportID, producerID string, rtpCapabilities json.RawMessage) (ConsumerInfo, error)
	ResumeConsumer(ctx context.Context, consumerID string) error
	CloseConsumer(consumerID string)
}
