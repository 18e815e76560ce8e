package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	// The relay is a development server; any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type createRoomRequest struct {
	MaxParticipants int    `json:"maxParticipants"`
	Timeout         int64  `json:"timeout"`
	Exclude         string `json:"exclude,omitempty"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
	URL    string `json:"url"`
}

// Server exposes the room API and the signaling websocket of a Hub.
type Server struct {
	hub *Hub
}

// NewServer creates a Server for hub.
func NewServer(hub *Hub) *Server {
	return &Server{hub: hub}
}

// Router returns the HTTP routes of the relay.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Route("/api/rooms", func(r chi.Router) {
		r.Post("/", s.createRoom)
		r.Delete("/{roomID}", s.deleteRoom)
	})
	r.Get("/ws", s.serveWS)

	return r
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid room request")
			return
		}
	}

	room, err := s.hub.AllocateRoom(r.Context(), req.MaxParticipants, time.Duration(req.Timeout)*time.Millisecond, req.Exclude)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createRoomResponse{
		RoomID: room.ID,
		URL:    "/rooms/" + room.ID,
	})
}

func (s *Server) deleteRoom(w http.ResponseWriter, r *http.Request) {
	found, err := s.hub.DeleteRoom(r.Context(), chi.URLParam(r, "roomID"))
	switch {
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case !found:
		writeError(w, http.StatusNotFound, "room not found")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Str("module", "relay").Err(err).Msg("websocket upgrade")
		return
	}

	c := newClient(s.hub, conn)
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Str("module", "relay").Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("module", "relay").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
