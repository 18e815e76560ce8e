package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"strangercall/native/internal/domain"
	"strangercall/native/internal/session"
	"strangercall/native/internal/webrtc"

	tea "github.com/charmbracelet/bubbletea"
)

// mockController records calls for verification.
type mockController struct {
	events  chan session.Event
	snap    session.Snapshot
	started int
	next    int
	stopped int
	chats   []string
	toggles map[domain.TrackKind]bool
}

func newMockController() *mockController {
	return &mockController{
		events:  make(chan session.Event),
		toggles: make(map[domain.TrackKind]bool),
	}
}

func (m *mockController) Start(context.Context) error        { m.started++; return nil }
func (m *mockController) SwitchToNext(context.Context) error { m.next++; return nil }
func (m *mockController) Stop() error                        { m.stopped++; return nil }
func (m *mockController) ToggleTrack(kind domain.TrackKind, enabled bool) {
	m.toggles[kind] = enabled
}
func (m *mockController) SendChat(text string) error {
	m.chats = append(m.chats, text)
	return nil
}
func (m *mockController) RetryMedia(context.Context) error { return nil }
func (m *mockController) Events() <-chan session.Event     { return m.events }
func (m *mockController) Snapshot() session.Snapshot       { return m.snap }

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel() (*CallModel, *mockController) {
	ctl := newMockController()
	m := NewCallModel(context.Background(), ctl)
	m.Update(tea.WindowSizeMsg{Width: 400, Height: 40})
	return m, ctl
}

func TestUpdate_StateEventShowsRoom(t *testing.T) {
	m, ctl := newTestModel()
	ctl.snap = session.Snapshot{RoomID: "room-1234", LocalRoom: true}

	_, cmd := m.Update(eventMsg{Kind: session.EventStateChanged, State: domain.StateAwaitingPeer})
	if cmd == nil {
		t.Error("expected the model to keep listening for events")
	}

	view := m.View()
	if !strings.Contains(view, "room-1234") || !strings.Contains(view, "awaiting-peer") {
		t.Errorf("expected room and state in view, got:\n%s", view)
	}
}

func TestUpdate_ToggleKeys(t *testing.T) {
	m, ctl := newTestModel()

	m.Update(key("a"))
	if on, ok := ctl.toggles[domain.TrackAudio]; !ok || on {
		t.Error("expected audio disabled")
	}
	m.Update(key("v"))
	m.Update(key("v"))
	if on := ctl.toggles[domain.TrackVideo]; !on {
		t.Error("expected video re-enabled")
	}
}

func TestUpdate_NextAndStop(t *testing.T) {
	m, ctl := newTestModel()
	m.Update(eventMsg{Kind: session.EventStateChanged, State: domain.StateActive})

	_, cmd := m.Update(key("n"))
	if cmd == nil {
		t.Fatal("expected a command for next")
	}
	cmd()
	if ctl.next != 1 {
		t.Errorf("expected SwitchToNext, got %d calls", ctl.next)
	}

	_, cmd = m.Update(key("s"))
	cmd()
	if ctl.stopped != 1 {
		t.Errorf("expected Stop while active, got %d calls", ctl.stopped)
	}

	m.Update(eventMsg{Kind: session.EventStateChanged, State: domain.StateClosed})
	_, cmd = m.Update(key("s"))
	cmd()
	if ctl.started != 1 {
		t.Errorf("expected Start once closed, got %d calls", ctl.started)
	}
}

func TestUpdate_ChatInput(t *testing.T) {
	m, ctl := newTestModel()

	m.Update(key("enter"))
	if !m.input.Focused() {
		t.Fatal("expected enter to focus the chat input")
	}
	m.Update(key("hi"))

	_, cmd := m.Update(key("enter"))
	if cmd == nil {
		t.Fatal("expected a send command")
	}
	cmd()
	if len(ctl.chats) != 1 || ctl.chats[0] != "hi" {
		t.Errorf("expected chat sent, got %v", ctl.chats)
	}

	m.Update(key("n"))
	if ctl.next != 0 {
		t.Error("keys typed into the chat input must not trigger actions")
	}
}

func TestUpdate_ChatEventsAndPeerLeft(t *testing.T) {
	m, _ := newTestModel()
	m.Update(eventMsg{Kind: session.EventUserJoined, Peer: "bob"})
	m.Update(eventMsg{Kind: session.EventChat, Chat: webrtc.ChatMessage{From: "bob", Text: "hello there"}})

	if !strings.Contains(m.View(), "hello there") {
		t.Error("expected chat line in view")
	}

	m.Update(eventMsg{Kind: session.EventUserLeft, Peer: "bob"})
	if m.peer != "" || len(m.chat) != 0 {
		t.Error("expected peer and chat cleared after the peer left")
	}
}

func TestView_ErrorShowsRemediation(t *testing.T) {
	m, _ := newTestModel()
	err := domain.NewError(domain.KindPermissionDenied, "acquire local media", errors.New("denied"))

	m.Update(eventMsg{Kind: session.EventError, Err: err})

	if !strings.Contains(m.View(), domain.KindPermissionDenied.Remediation()) {
		t.Error("expected remediation text in view")
	}
}

func TestUpdate_QuitStopsSession(t *testing.T) {
	m, ctl := newTestModel()

	_, cmd := m.Update(key("ctrl+c"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(stoppedMsg); !ok {
		t.Error("expected stoppedMsg")
	}
	if ctl.stopped != 1 {
		t.Errorf("expected Stop on quit, got %d calls", ctl.stopped)
	}
}
