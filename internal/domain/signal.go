package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a SignalingMessage.
type MessageType string

const (
	MessageJoinRoom     MessageType = "join-room"
	MessageLeaveRoom    MessageType = "leave-room"
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessageUserJoined   MessageType = "user-joined"
	MessageUserLeft     MessageType = "user-left"
)

// SignalingMessage is the room-scoped envelope exchanged with the signaling
// transport. UserID is always the sender.
type SignalingMessage struct {
	Type   MessageType     `json:"type"`
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// NewMessage builds a message with data marshaled as JSON. A nil data
// produces an empty payload.
func NewMessage(t MessageType, roomID, userID string, data any) (SignalingMessage, error) {
	msg := SignalingMessage{Type: t, RoomID: roomID, UserID: userID}
	if data == nil {
		return msg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return msg, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	msg.Data = raw
	return msg, nil
}

// SDP decodes the session description carried by an offer or answer.
func (m SignalingMessage) SDP() (SDPPayload, error) {
	var p SDPPayload
	if m.Type != MessageOffer && m.Type != MessageAnswer {
		return p, fmt.Errorf("%s message carries no session description", m.Type)
	}
	if err := json.Unmarshal(m.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	if p.Type == "" {
		p.Type = string(m.Type)
	}
	return p, nil
}

// Candidate decodes the ICE candidate carried by an ice-candidate message.
func (m SignalingMessage) Candidate() (ICECandidatePayload, error) {
	var c ICECandidatePayload
	if m.Type != MessageICECandidate {
		return c, fmt.Errorf("%s message carries no candidate", m.Type)
	}
	if err := json.Unmarshal(m.Data, &c); err != nil {
		return c, fmt.Errorf("decode ice-candidate: %w", err)
	}
	return c, nil
}
