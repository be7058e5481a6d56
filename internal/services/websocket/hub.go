package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"webcamd/internal/model"
)

// FrameEvent is broadcast to viewers whenever a camera's live frame set
// changes.
type FrameEvent struct {
	Type       string                       `json:"type"`
	Camera     string                       `json:"camera"`
	Name       string                       `json:"name,omitempty"`
	CapturedAt time.Time                    `json:"captured_at"`
	Variants   map[string]map[string]string `json:"variants"`
}

// HubService fans promotion events out to connected websocket viewers.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	// done is closed when Serve returns; handlers still holding a
	// connection must not wait on a loop that is gone.
	done     chan struct{}
	stopOnce sync.Once
	mutex    sync.RWMutex
	log      zerolog.Logger
}

func NewHubService(log zerolog.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Serve runs the hub until ctx is cancelled. It satisfies suture.Service.
func (h *HubService) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info().Int("clients", n).Msg("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			n := len(h.clients)
			h.mutex.Unlock()
			h.log.Info().Int("clients", n).Msg("Client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Warn().Err(err).Msg("Error sending message")
					delete(h.clients, client)
					client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *HubService) String() string {
	return "websocket-hub"
}

// Register adds a viewer. After the hub has stopped the connection is
// closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Broadcast queues a message for every viewer; it drops the message when
// the queue is full rather than stall a pipeline invocation.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn().Msg("Broadcast queue full, dropping event")
	}
}

// NotifyPromoted publishes a frame event for a newly promoted live set.
func (h *HubService) NotifyPromoted(cam model.Camera, res model.PipelineResult) {
	msg, err := json.Marshal(FrameEvent{
		Type:       "frame",
		Camera:     cam.ID(),
		Name:       cam.Name,
		CapturedAt: res.CapturedAt,
		Variants:   res.Variants,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode frame event")
		return
	}
	h.Broadcast(msg)
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *HubService) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}
