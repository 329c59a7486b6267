package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"baton/internal/saga"

	"github.com/gorilla/websocket"
)

// StateChange is the dashboard notification for one committed transition.
type StateChange struct {
	SagaType      saga.Type  `json:"saga_type"`
	CorrelationID string     `json:"correlation_id"`
	State         saga.State `json:"state"`
	FailedStep    string     `json:"failed_step,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	Version       int64      `json:"version"`
	At            time.Time  `json:"at"`
}

// Hub manages WebSocket dashboard clients and broadcasts saga state changes
// to them.
type Hub struct {
	connections map[*websocket.Conn]struct{}
	Register    chan *websocket.Conn
	Unregister  chan *websocket.Conn
	Broadcast   chan []byte
	mu          sync.Mutex
}

// NewHub constructs a Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*websocket.Conn]struct{}),
		Register:    make(chan *websocket.Conn),
		Unregister:  make(chan *websocket.Conn),
		Broadcast:   make(chan []byte, 64),
	}
}

// StateChanged implements the engine's notifier: it fans the committed
// transition out to connected dashboards. A full broadcast buffer drops the
// notification; the feed is advisory, persisted state is authoritative.
func (h *Hub) StateChanged(inst saga.Instance) {
	msg, err := json.Marshal(StateChange{
		SagaType:      inst.SagaType,
		CorrelationID: inst.CorrelationID,
		State:         inst.CurrentState,
		FailedStep:    inst.FailedStep,
		FailureReason: inst.FailureReason,
		Version:       inst.Version,
		At:            inst.UpdatedAt,
	})
	if err != nil {
		return
	}
	select {
	case h.Broadcast <- msg:
	default:
	}
}

// Run processes register/unregister/broadcast events.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.Register:
			h.mu.Lock()
			h.connections[conn] = struct{}{}
			h.mu.Unlock()
		case conn := <-h.Unregister:
			h.mu.Lock()
			delete(h.connections, conn)
			h.mu.Unlock()
			conn.Close()
		case msg := <-h.Broadcast:
			h.mu.Lock()
			for conn := range h.connections {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					conn.Close()
					delete(h.connections, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler upgrades dashboard connections and registers them with the hub.
func Handler(hub *Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register <- conn
	})
}
