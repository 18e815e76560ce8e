package webrtc

import (
	"errors"
	"fmt"
	"time"

	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// chatLabel names the data channel carrying in-call chat.
const chatLabel = "chat"

// ErrChatUnavailable is returned when the chat channel is not open.
var ErrChatUnavailable = errors.New("chat channel not open")

// ChatMessage is one in-call text message.
type ChatMessage struct {
	From   string    `msgpack:"from"`
	Text   string    `msgpack:"text"`
	SentAt time.Time `msgpack:"sentAt"`
}

func encodeChat(m ChatMessage) ([]byte, error) {
	data, err := msgpack.Marshal(&m)
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}
	return data, nil
}

func decodeChat(data []byte) (ChatMessage, error) {
	var m ChatMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode chat: %w", err)
	}
	return m, nil
}

func (p *Peer) bindChat(dc *pion.DataChannel) {
	p.mu.Lock()
	p.chat = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		log.Debug().Str("module", "webrtc").Msg("chat channel opened")
	})
	dc.OnMessage(func(msg pion.DataChannelMessage) {
		if msg.IsString {
			return
		}
		m, err := decodeChat(msg.Data)
		if err != nil {
			log.Warn().Str("module", "webrtc").Err(err).Msg("dropping chat message")
			return
		}
		if p.handlers.OnChat != nil {
			p.handlers.OnChat(m)
		}
	})
}

// SendChat sends text to the remote participant over the chat channel.
func (p *Peer) SendChat(text string) (ChatMessage, error) {
	p.mu.Lock()
	dc := p.chat
	p.mu.Unlock()

	if dc == nil || dc.ReadyState() != pion.DataChannelStateOpen {
		return ChatMessage{}, ErrChatUnavailable
	}

	m := ChatMessage{From: p.participantID, Text: text, SentAt: time.Now().UTC()}
	data, err := encodeChat(m)
	if err != nil {
		return ChatMessage{}, err
	}
	if err := dc.Send(data); err != nil {
		return ChatMessage{}, fmt.Errorf("send chat: %w", err)
	}
	return m, nil
}
