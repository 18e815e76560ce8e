package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"strangercall/native/internal/api"
	"strangercall/native/internal/domain"
	"strangercall/native/internal/media"
	"strangercall/native/internal/relay"
	"strangercall/native/internal/signal"
	"strangercall/native/internal/webrtc"
)

func newRelaySession(t *testing.T, srv *httptest.Server, participant string) *Session {
	t.Helper()
	engine, err := webrtc.NewEngine(webrtc.Config{IncludeLoopback: true, ParticipantID: participant})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	s := New(Deps{
		Rooms:     api.NewClient(srv.URL, nil),
		Signaling: func() domain.Signaler { return signal.NewClient(wsURL) },
		Peers:     EnginePeers(engine),
		Media:     media.NewAcquirer(media.PlaceholderDevice{}, media.AcquirerConfig{Secure: true}),
	}, Options{ParticipantID: participant, NegotiationTimeout: 15 * time.Second})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_TwoPeersReachActive(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real peer connections")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := relay.NewHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(relay.NewServer(hub).Router())
	defer srv.Close()

	alice := newRelaySession(t, srv, "alice")
	bob := newRelaySession(t, srv, "bob")

	if err := alice.Start(ctx); err != nil {
		t.Fatalf("alice Start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := bob.Start(ctx); err != nil {
		t.Fatalf("bob Start: %v", err)
	}

	if a, b := alice.Snapshot().RoomID, bob.Snapshot().RoomID; a != b {
		t.Fatalf("expected both callers in one room, got %s and %s", a, b)
	}

	for _, s := range []*Session{alice, bob} {
		deadline := time.Now().Add(15 * time.Second)
		for s.State() != domain.StateActive {
			if time.Now().After(deadline) {
				t.Fatalf("%s: expected active, got %s", s.ParticipantID(), s.State())
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	for _, s := range []*Session{alice, bob} {
		deadline := time.Now().Add(10 * time.Second)
		for {
			snap := s.Snapshot()
			if snap.Local != nil && snap.Remote != nil && snap.Remote.Live() {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s: expected local and live remote media, got %+v", s.ParticipantID(), snap)
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := bob.Stop(); err != nil {
		t.Fatalf("bob Stop: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for alice.State() != domain.StateAwaitingPeer {
		if time.Now().After(deadline) {
			t.Fatalf("expected alice back to awaiting-peer, got %s", alice.State())
		}
		time.Sleep(20 * time.Millisecond)
	}
	if alice.Snapshot().Remote != nil {
		t.Error("expected alice's remote media cleared")
	}
}
