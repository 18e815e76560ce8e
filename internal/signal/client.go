package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"strangercall/native/internal/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client manages the WebSocket connection to the signaling server.
// It is scoped to a single room: messages for any other room are dropped.
type Client struct {
	serverURL string
	dialer    *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	roomID        string
	participantID string
	joined        bool
	leaving       bool
	handler       func(domain.SignalingMessage)
	onDisconnect  func(error)

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a new signaling client.
func NewClient(serverURL string) *Client {
	return &Client{
		serverURL: serverURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		closed: make(chan struct{}),
	}
}

// SetHandshakeTimeout bounds the websocket handshake of Connect.
func (c *Client) SetHandshakeTimeout(d time.Duration) {
	if d > 0 {
		c.dialer.HandshakeTimeout = d
	}
}

// Connect dials the signaling WebSocket and starts the read and ping loops.
// Failures are reported as SignalingUnreachable and never retried here.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return domain.NewError(domain.KindSignalingUnreachable, "connect", fmt.Errorf("parse signal server: %w", err))
	}

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	select {
	case <-c.closed:
		return domain.ErrClosed
	default:
	}

	log.Debug().Str("module", "signal").Str("url", u.String()).Msg("connecting")

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return domain.NewError(domain.KindSignalingUnreachable, "connect", fmt.Errorf("websocket dial: %w", err))
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// OnMessage registers the handler for messages of the joined room.
func (c *Client) OnMessage(handler func(domain.SignalingMessage)) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// OnDisconnect registers the handler called when the connection drops
// without LeaveRoom.
func (c *Client) OnDisconnect(handler func(error)) {
	c.mu.Lock()
	c.onDisconnect = handler
	c.mu.Unlock()
}

// JoinRoom announces presence in roomID. The server notifies the other
// occupants; this client never receives its own join.
func (c *Client) JoinRoom(roomID, participantID string) error {
	// Joined before the write so a reply racing the write is not dropped.
	c.mu.Lock()
	c.roomID = roomID
	c.participantID = participantID
	c.joined = true
	c.mu.Unlock()

	msg, _ := domain.NewMessage(domain.MessageJoinRoom, roomID, participantID, nil)
	if err := c.write(msg); err != nil {
		c.mu.Lock()
		c.joined = false
		c.mu.Unlock()
		return fmt.Errorf("join room %s: %w", roomID, err)
	}

	log.Info().Str("module", "signal").Str("room", roomID).Str("participant", participantID).Msg("joined room")
	return nil
}

// Send delivers msg fire-and-forget. Empty room and sender fields are
// filled from the joined room.
func (c *Client) Send(msg domain.SignalingMessage) error {
	c.mu.Lock()
	if msg.RoomID == "" {
		msg.RoomID = c.roomID
	}
	if msg.UserID == "" {
		msg.UserID = c.participantID
	}
	c.mu.Unlock()

	return c.write(msg)
}

// LeaveRoom announces departure, then closes the channel. It is a no-op
// when the client never joined or never connected, and safe to repeat.
func (c *Client) LeaveRoom() error {
	c.mu.Lock()
	conn := c.conn
	joined := c.joined
	roomID, participantID := c.roomID, c.participantID
	c.leaving = true
	c.joined = false
	c.mu.Unlock()

	var sendErr error
	if conn != nil && joined {
		msg, _ := domain.NewMessage(domain.MessageLeaveRoom, roomID, participantID, nil)
		sendErr = c.write(msg)
		if sendErr == nil {
			log.Info().Str("module", "signal").Str("room", roomID).Msg("left room")
		}
	}

	c.close()
	if sendErr != nil {
		return fmt.Errorf("leave room %s: %w", roomID, sendErr)
	}
	return nil
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		c.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()
		conn.Close()
	})
}

func (c *Client) write(msg domain.SignalingMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	select {
	case <-c.closed:
		return domain.ErrClosed
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return domain.ErrNotConnected
	}

	log.Trace().Str("module", "signal").RawJSON("msg", data).Msg(">>>")
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	var readErr error
	defer func() {
		c.mu.Lock()
		leaving := c.leaving
		onDisconnect := c.onDisconnect
		c.mu.Unlock()

		c.close()

		if !leaving && onDisconnect != nil {
			log.Warn().Str("module", "signal").Err(readErr).Msg("connection lost")
			onDisconnect(domain.NewError(domain.KindSignalingUnreachable, "read", readErr))
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		log.Trace().Str("module", "signal").Bytes("msg", data).Msg("<<<")

		var msg domain.SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Str("module", "signal").Err(err).Msg("unmarshal error")
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg domain.SignalingMessage) {
	c.mu.Lock()
	joined := c.joined
	roomID, self := c.roomID, c.participantID
	handler := c.handler
	c.mu.Unlock()

	switch {
	case !joined:
		log.Debug().Str("module", "signal").Str("type", string(msg.Type)).Msg("dropping message, not in a room")
		return
	case msg.RoomID != roomID:
		log.Debug().Str("module", "signal").Str("type", string(msg.Type)).Str("room", msg.RoomID).Msg("dropping message for foreign room")
		return
	case msg.UserID == self:
		return
	case handler == nil:
		return
	}

	handler(msg)
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeWait),
			)
			c.mu.Unlock()
			if err != nil {
				log.Debug().Str("module", "signal").Err(err).Msg("ping error")
				return
			}
		}
	}
}
