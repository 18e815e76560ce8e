package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"strangercall/native/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// LocalRoomPrefix marks room ids synthesized without the allocation service.
const LocalRoomPrefix = "room-"

// DefaultRoomTimeout is how long the service keeps an allocated room.
const DefaultRoomTimeout = 30 * time.Minute

type createRoomRequest struct {
	MaxParticipants int    `json:"maxParticipants"`
	Timeout         int64  `json:"timeout"`
	Exclude         string `json:"exclude,omitempty"`
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
	URL    string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client allocates rooms from the room allocation service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client for the service at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// CreateRoom asks the service for a two-participant room other than
// exclude.
func (c *Client) CreateRoom(ctx context.Context, exclude string) (*domain.Room, error) {
	body, err := json.Marshal(createRoomRequest{
		MaxParticipants: 2,
		Timeout:         DefaultRoomTimeout.Milliseconds(),
		Exclude:         exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	respBody, err := c.do(req, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, domain.NewError(domain.KindRoomAllocationFailed, "create room", err)
	}

	var room createRoomResponse
	if err := json.Unmarshal(respBody, &room); err != nil {
		return nil, domain.NewError(domain.KindRoomAllocationFailed, "create room", fmt.Errorf("unmarshal response: %w", err))
	}
	if room.RoomID == "" {
		return nil, domain.NewError(domain.KindRoomAllocationFailed, "create room", fmt.Errorf("response has no room id"))
	}

	log.Debug().Str("module", "api").Str("room", room.RoomID).Msg("room allocated")
	return &domain.Room{ID: room.RoomID, URL: room.URL}, nil
}

// DeleteRoom releases a room. Locally synthesized rooms are skipped.
func (c *Client) DeleteRoom(ctx context.Context, roomID string) error {
	if roomID == "" || IsLocalRoom(roomID) {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/rooms/"+url.PathEscape(roomID), nil)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}

	if _, err := c.do(req, http.StatusOK, http.StatusNoContent, http.StatusNotFound); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, accept ...int) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	for _, code := range accept {
		if resp.StatusCode == code {
			return respBody, nil
		}
	}

	var e errorResponse
	if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, e.Error)
	}
	return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
}

// LocalRoom synthesizes a room for degraded, non-federated mode.
func LocalRoom() *domain.Room {
	return &domain.Room{
		ID:    LocalRoomPrefix + uuid.NewString()[:8],
		Local: true,
	}
}

// IsLocalRoom reports whether roomID was produced by LocalRoom.
func IsLocalRoom(roomID string) bool {
	return strings.HasPrefix(roomID, LocalRoomPrefix)
}
