package domain

import "context"

// RoomAllocator creates and deletes call rooms.
type RoomAllocator interface {
	// CreateRoom allocates a room. exclude names the room the caller just
	// left, which the service should not hand back; empty on a first start.
	CreateRoom(ctx context.Context, exclude string) (*Room, error)
	DeleteRoom(ctx context.Context, roomID string) error
}

// Signaler exchanges room-scoped messages with the signaling transport.
type Signaler interface {
	Connect(ctx context.Context) error
	JoinRoom(roomID, participantID string) error
	Send(msg SignalingMessage) error
	OnMessage(handler func(SignalingMessage))
	// OnDisconnect is called once if the channel drops without LeaveRoom.
	OnDisconnect(handler func(error))
	LeaveRoom() error
}
