package signal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"strangercall/native/internal/domain"

	"github.com/gorilla/websocket"
)

// testServer accepts one websocket connection and exposes what it receives.
type testServer struct {
	srv      *httptest.Server
	received chan domain.SignalingMessage
	conns    chan *websocket.Conn
	// onJoin, when set, runs on the server goroutine as soon as a join
	// arrives.
	onJoin func(conn *websocket.Conn, join domain.SignalingMessage)
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		received: make(chan domain.SignalingMessage, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		ts.conns <- conn
		for {
			var msg domain.SignalingMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == domain.MessageJoinRoom && ts.onJoin != nil {
				ts.onJoin(conn, msg)
			}
			ts.received <- msg
		}
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ts.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
	}
	return nil
}

func (ts *testServer) next(t *testing.T) domain.SignalingMessage {
	t.Helper()
	select {
	case m := <-ts.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return domain.SignalingMessage{}
}

func connectAndJoin(t *testing.T, ts *testServer, room, self string) (*Client, *websocket.Conn) {
	t.Helper()
	c := NewClient(ts.url())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.LeaveRoom() })
	server := ts.conn(t)
	if err := c.JoinRoom(room, self); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return c, server
}

func TestJoinRoom_SendsJoin(t *testing.T) {
	ts := newTestServer(t)
	connectAndJoin(t, ts, "room-a", "alice")

	msg := ts.next(t)
	if msg.Type != domain.MessageJoinRoom || msg.RoomID != "room-a" || msg.UserID != "alice" {
		t.Errorf("unexpected join message %+v", msg)
	}
	if len(msg.Data) != 0 {
		t.Errorf("expected empty payload, got %s", msg.Data)
	}
}

func TestJoinRoom_ImmediateReplyDelivered(t *testing.T) {
	ts := newTestServer(t)
	ts.onJoin = func(conn *websocket.Conn, join domain.SignalingMessage) {
		conn.WriteJSON(domain.SignalingMessage{Type: domain.MessageOffer, RoomID: join.RoomID, UserID: "bob"})
	}

	c := NewClient(ts.url())
	got := make(chan domain.SignalingMessage, 1)
	c.OnMessage(func(m domain.SignalingMessage) { got <- m })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.LeaveRoom() })
	ts.conn(t)

	if err := c.JoinRoom("room-a", "alice"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}

	select {
	case m := <-got:
		if m.Type != domain.MessageOffer || m.UserID != "bob" {
			t.Errorf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("offer sent in reply to the join was dropped")
	}
}

func TestJoinRoom_FailedWriteLeavesRoom(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")
	got := make(chan domain.SignalingMessage, 1)
	c.OnMessage(func(m domain.SignalingMessage) { got <- m })

	if err := c.JoinRoom("room-a", "alice"); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	c.dispatch(domain.SignalingMessage{Type: domain.MessageOffer, RoomID: "room-a", UserID: "bob"})
	select {
	case m := <-got:
		t.Errorf("a failed join must not deliver messages, got %+v", m)
	default:
	}
}

func TestSend_FillsRoomAndSender(t *testing.T) {
	ts := newTestServer(t)
	c, _ := connectAndJoin(t, ts, "room-a", "alice")
	ts.next(t)

	msg, _ := domain.NewMessage(domain.MessageOffer, "", "", domain.SDPPayload{Type: "offer", SDP: "v=0"})
	if err := c.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := ts.next(t)
	if got.RoomID != "room-a" || got.UserID != "alice" || got.Type != domain.MessageOffer {
		t.Errorf("unexpected message %+v", got)
	}
}

func TestOnMessage_DropsForeignRoomAndSelf(t *testing.T) {
	ts := newTestServer(t)
	c, server := connectAndJoin(t, ts, "room-a", "alice")

	got := make(chan domain.SignalingMessage, 4)
	c.OnMessage(func(m domain.SignalingMessage) { got <- m })

	server.WriteJSON(domain.SignalingMessage{Type: domain.MessageUserJoined, RoomID: "room-b", UserID: "mallory"})
	server.WriteJSON(domain.SignalingMessage{Type: domain.MessageUserJoined, RoomID: "room-a", UserID: "alice"})
	server.WriteJSON(domain.SignalingMessage{Type: domain.MessageUserJoined, RoomID: "room-a", UserID: "bob"})

	select {
	case m := <-got:
		if m.UserID != "bob" || m.RoomID != "room-a" {
			t.Errorf("expected bob in room-a first, got %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	select {
	case m := <-got:
		t.Errorf("unexpected extra message %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnMessage_ArrivalOrder(t *testing.T) {
	ts := newTestServer(t)
	c, server := connectAndJoin(t, ts, "room-a", "alice")

	got := make(chan domain.SignalingMessage, 8)
	c.OnMessage(func(m domain.SignalingMessage) { got <- m })

	order := []domain.MessageType{domain.MessageOffer, domain.MessageICECandidate, domain.MessageICECandidate, domain.MessageUserLeft}
	for _, typ := range order {
		server.WriteJSON(domain.SignalingMessage{Type: typ, RoomID: "room-a", UserID: "bob"})
	}

	for i, want := range order {
		select {
		case m := <-got:
			if m.Type != want {
				t.Errorf("message %d: expected %s, got %s", i, want, m.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestLeaveRoom_NeverJoinedIsNoop(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")

	if err := c.LeaveRoom(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := c.LeaveRoom(); err != nil {
		t.Errorf("expected nil on second call, got %v", err)
	}
}

func TestLeaveRoom_SendsLeaveThenCloses(t *testing.T) {
	ts := newTestServer(t)
	c, _ := connectAndJoin(t, ts, "room-a", "alice")
	ts.next(t)

	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) { disconnected <- err })

	if err := c.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}

	msg := ts.next(t)
	if msg.Type != domain.MessageLeaveRoom || msg.RoomID != "room-a" {
		t.Errorf("unexpected leave message %+v", msg)
	}

	if err := c.Send(domain.SignalingMessage{Type: domain.MessageOffer}); !errors.Is(err, domain.ErrClosed) {
		t.Errorf("expected ErrClosed after leave, got %v", err)
	}

	select {
	case err := <-disconnected:
		t.Errorf("disconnect handler should not fire on leave, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOnDisconnect_ServerDrop(t *testing.T) {
	ts := newTestServer(t)
	c, server := connectAndJoin(t, ts, "room-a", "alice")

	disconnected := make(chan error, 1)
	c.OnDisconnect(func(err error) { disconnected <- err })

	server.Close()

	select {
	case err := <-disconnected:
		if domain.KindOf(err) != domain.KindSignalingUnreachable {
			t.Errorf("expected signaling unreachable, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ts := newTestServer(t)
	url := ts.url()
	ts.srv.Close()

	err := NewClient(url).Connect(context.Background())
	if domain.KindOf(err) != domain.KindSignalingUnreachable {
		t.Errorf("expected signaling unreachable, got %v", err)
	}
}

func TestSend_NotConnected(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")
	if err := c.Send(domain.SignalingMessage{Type: domain.MessageOffer}); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
