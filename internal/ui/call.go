package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"strangercall/native/internal/domain"
	"strangercall/native/internal/session"
	"strangercall/native/internal/webrtc"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxChatLines = 8

// Controller is the session surface driven by the call screen.
type Controller interface {
	Start(ctx context.Context) error
	SwitchToNext(ctx context.Context) error
	Stop() error
	ToggleTrack(kind domain.TrackKind, enabled bool)
	SendChat(text string) error
	RetryMedia(ctx context.Context) error
	Events() <-chan session.Event
	Snapshot() session.Snapshot
}

type eventMsg session.Event

type opResultMsg struct {
	op  string
	err error
}

type stoppedMsg struct{}

// CallModel is the bubbletea model of a running call.
type CallModel struct {
	ctx context.Context
	ctl Controller

	state       domain.State
	roomID      string
	localRoom   bool
	peer        string
	hasLocal    bool
	placeholder bool
	hasRemote   bool
	audioOn     bool
	videoOn     bool
	lastErr     error
	chat        []webrtc.ChatMessage

	input    textinput.Model
	spinner  spinner.Model
	width    int
	quitting bool
}

// NewCallModel creates the call screen for ctl. The session starts as
// soon as the program runs.
func NewCallModel(ctx context.Context, ctl Controller) *CallModel {
	in := textinput.New()
	in.Placeholder = "say hi"
	in.CharLimit = 500
	in.Prompt = "> "

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallModel{
		ctx:     ctx,
		ctl:     ctl,
		state:   domain.StateIdle,
		audioOn: true,
		videoOn: true,
		input:   in,
		spinner: s,
		width:   80,
	}
}

// Run shows the call screen until the user quits or ctx is cancelled.
func Run(ctx context.Context, ctl Controller, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewCallModel(ctx, ctl), opts...)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run call screen: %w", err)
	}
	return nil
}

func (m *CallModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.waitForEvent(),
		m.run("start", func() error { return m.ctl.Start(m.ctx) }),
	)
}

func (m *CallModel) waitForEvent() tea.Cmd {
	events := m.ctl.Events()
	return func() tea.Msg {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			return eventMsg(e)
		case <-m.ctx.Done():
			return nil
		}
	}
}

// run executes a session operation off the UI goroutine.
func (m *CallModel) run(op string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return opResultMsg{op: op, err: fn()}
	}
}

func (m *CallModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(10, msg.Width-8)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(session.Event(msg))
		return m, m.waitForEvent()

	case opResultMsg:
		if msg.err != nil && !errors.Is(msg.err, context.Canceled) {
			m.lastErr = fmt.Errorf("%s: %w", msg.op, msg.err)
		}

	case stoppedMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *CallModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.quit()
	}

	if m.input.Focused() {
		switch msg.String() {
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" {
				return m, nil
			}
			return m, m.run("chat", func() error { return m.ctl.SendChat(text) })
		case "esc":
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m.quit()
	case "n":
		return m, m.run("next", func() error { return m.ctl.SwitchToNext(m.ctx) })
	case "a":
		m.audioOn = !m.audioOn
		m.ctl.ToggleTrack(domain.TrackAudio, m.audioOn)
	case "v":
		m.videoOn = !m.videoOn
		m.ctl.ToggleTrack(domain.TrackVideo, m.videoOn)
	case "r":
		return m, m.run("camera", func() error { return m.ctl.RetryMedia(m.ctx) })
	case "s":
		if m.state.Terminal() || m.state == domain.StateIdle {
			m.lastErr = nil
			return m, m.run("start", func() error { return m.ctl.Start(m.ctx) })
		}
		return m, m.run("stop", m.ctl.Stop)
	case "enter":
		return m, m.input.Focus()
	}
	return m, nil
}

func (m *CallModel) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	return m, func() tea.Msg {
		m.ctl.Stop()
		return stoppedMsg{}
	}
}

func (m *CallModel) apply(e session.Event) {
	switch e.Kind {
	case session.EventStateChanged:
		m.state = e.State
		snap := m.ctl.Snapshot()
		m.roomID, m.localRoom = snap.RoomID, snap.LocalRoom
		if e.State == domain.StateCreatingRoom {
			m.chat = nil
		}
		if e.State == domain.StateClosed {
			m.hasLocal, m.placeholder = false, false
		}
	case session.EventLocalMedia:
		m.hasLocal = e.Local != nil
		m.placeholder = e.Local != nil && e.Local.Placeholder()
		m.audioOn, m.videoOn = true, true
	case session.EventRemoteMedia:
		m.hasRemote = e.Remote != nil
	case session.EventRemoteMediaCleared:
		m.hasRemote = false
	case session.EventUserJoined:
		m.peer = e.Peer
	case session.EventUserLeft:
		m.peer = ""
		m.chat = nil
	case session.EventChat:
		m.chat = append(m.chat, e.Chat)
		if len(m.chat) > maxChatLines {
			m.chat = m.chat[len(m.chat)-maxChatLines:]
		}
	case session.EventError:
		m.lastErr = e.Err
	}
}

func (m *CallModel) View() string {
	if m.quitting {
		return MutedStyle.Render("hanging up...") + "\n"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("strangercall") + "  " + StatusStyle.Render(string(m.state)))
	if m.busy() {
		b.WriteString(" " + m.spinner.View())
	}
	b.WriteString("\n\n")

	var info strings.Builder
	room := m.roomID
	if room == "" {
		room = "-"
	}
	if m.localRoom {
		room += MutedStyle.Render(" (local)")
	}
	fmt.Fprintf(&info, "%s room  %s\n", IconRoom, room)
	peer := MutedStyle.Render("waiting for a stranger")
	if m.peer != "" {
		peer = PeerStyle.Render(m.peer)
	}
	fmt.Fprintf(&info, "%s peer  %s\n", IconPeer, peer)
	fmt.Fprintf(&info, "camera %s  mic %s  remote %s", m.cameraStatus(), onOff(m.hasLocal && m.audioOn), onOff(m.hasRemote))
	b.WriteString(BoxStyle.Render(info.String()) + "\n")

	if m.lastErr != nil {
		b.WriteString(ErrorBoxStyle.Render(m.errorText()) + "\n")
	}

	if len(m.chat) > 0 {
		b.WriteString("\n")
		for _, c := range m.chat {
			from := PeerStyle.Render(c.From)
			b.WriteString(fmt.Sprintf("%s %s %s\n", MutedStyle.Render(c.SentAt.Format("15:04")), from, c.Text))
		}
	}
	if m.input.Focused() {
		b.WriteString("\n" + m.input.View() + "\n")
	}

	b.WriteString(FooterStyle.Render("n next · a mic · v camera · r retry camera · s start/stop · enter chat · q quit"))
	return lipgloss.NewStyle().Width(m.width).Render(b.String()) + "\n"
}

func (m *CallModel) busy() bool {
	switch m.state {
	case domain.StateCreatingRoom, domain.StateAwaitingPeer, domain.StateNegotiating, domain.StateEnding:
		return true
	}
	return false
}

func (m *CallModel) cameraStatus() string {
	switch {
	case !m.hasLocal:
		return ErrorStyle.Render(IconOff)
	case m.placeholder:
		return WarningStyle.Render("placeholder")
	}
	return onOff(m.videoOn)
}

func (m *CallModel) errorText() string {
	kind := domain.KindOf(m.lastErr)
	if kind == domain.KindUnknown {
		return ErrorStyle.Render(m.lastErr.Error())
	}
	return ErrorStyle.Render(IconWarning+" "+kind.Remediation()) + "\n" + MutedStyle.Render(m.lastErr.Error())
}

func onOff(on bool) string {
	if on {
		return SuccessStyle.Render(IconOn)
	}
	return MutedStyle.Render(IconOff)
}
