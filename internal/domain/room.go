package domain

type (
	RoomID   string
	RoomKind string
)

const (
	RoomAudioKind RoomKind = "audio"
	RoomVideoKind RoomKind = "video"
)

// MediaKind is the kind of a single media track claim.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// TransportDirection distinguishes the two negotiated channels each room
// participant holds, one per direction.
type TransportDirection string

const (
	TransportSend TransportDirection = "send"
	TransportRecv TransportDirection = "recv"
)
