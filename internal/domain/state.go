package domain

// State is the lifecycle state of a call session.
type State string

const (
	StateIdle         State = "idle"
	StateCreatingRoom State = "creating-room"
	StateAwaitingPeer State = "awaiting-peer"
	StateNegotiating  State = "negotiating"
	StateActive       State = "active"
	StateEnding       State = "ending"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions happen without a new Start.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// ConnectionState mirrors the peer connection state machine.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// TrackKind is the media kind of a track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)
