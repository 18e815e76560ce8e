package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"strangercall/native/internal/domain"
)

func TestCreateRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/rooms" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.MaxParticipants != 2 {
			t.Errorf("expected maxParticipants 2, got %d", req.MaxParticipants)
		}
		if req.Timeout != DefaultRoomTimeout.Milliseconds() {
			t.Errorf("expected timeout %d, got %d", DefaultRoomTimeout.Milliseconds(), req.Timeout)
		}
		if req.Exclude != "old-room" {
			t.Errorf("expected exclude old-room, got %q", req.Exclude)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(createRoomResponse{RoomID: "abc123", URL: "https://call.example.com/r/abc123"})
	}))
	defer srv.Close()

	room, err := NewClient(srv.URL+"/", nil).CreateRoom(context.Background(), "old-room")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if room.ID != "abc123" || room.Local {
		t.Errorf("unexpected room %+v", room)
	}
}

func TestCreateRoom_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(errorResponse{Error: "no capacity"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).CreateRoom(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.KindOf(err) != domain.KindRoomAllocationFailed {
		t.Errorf("expected room allocation kind, got %s", domain.KindOf(err))
	}
}

func TestCreateRoom_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, nil).CreateRoom(context.Background(), "")
	if domain.KindOf(err) != domain.KindRoomAllocationFailed {
		t.Errorf("expected room allocation kind, got %v", err)
	}
}

func TestDeleteRoom(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		deleted = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if err := c.DeleteRoom(context.Background(), "abc123"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if deleted != "/api/rooms/abc123" {
		t.Errorf("unexpected path %q", deleted)
	}
}

func TestDeleteRoom_SkipsLocalRooms(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)

	room := LocalRoom()
	if !room.Local || !IsLocalRoom(room.ID) {
		t.Fatalf("expected local room, got %+v", room)
	}
	if err := c.DeleteRoom(context.Background(), room.ID); err != nil {
		t.Errorf("expected local room delete to be skipped, got %v", err)
	}
	if LocalRoom().ID == room.ID {
		t.Error("expected distinct local room ids")
	}
}
