package hub

import (
	"encoding/json"
	"net/http"
	"sync"

	"qms/queue-ticketing/internal/events"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

const sendBuffer = 16

// Subscription selects which counter a display follows. A zero CounterID
// follows every counter; a paused subscription receives nothing.
type Subscription struct {
	CounterID int64
	Paused    bool
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	CounterID int64  `json:"counter_id"`
}

// Source is anything that can stream queue events to the hub.
type Source interface {
	Subscribe(handler func(events.Message)) func()
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues payload for every client whose subscription matches
// counterID. Slow clients lose the message rather than block the hub.
func (h *Hub) Broadcast(payload []byte, counterID int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, counterID) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop message for slow client", zap.String("client_id", client.ID))
		}
	}
}

// Attach forwards every event from src to matching clients. The returned
// function detaches the hub.
func (h *Hub) Attach(src Source) func() {
	return src.Subscribe(func(msg events.Message) {
		payload, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("encode event", zap.String("event", msg.Event), zap.Error(err))
			return
		}
		h.Broadcast(payload, msg.CounterID)
	})
}

// Handler serves the SockJS endpoint for live displays under prefix.
func (h *Hub) Handler(prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, h.serveSession)
}

func (h *Hub) serveSession(session sockjs.Session) {
	client := &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}
	h.Register(client)
	defer h.Unregister(client)

	go func() {
		for msg := range client.Send {
			if err := session.Send(string(msg)); err != nil {
				return
			}
		}
	}()

	for {
		msg, err := session.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		if parsed.Action == "unsubscribe" {
			h.UpdateSubscription(client, Subscription{Paused: true})
			continue
		}
		h.UpdateSubscription(client, Subscription{CounterID: parsed.CounterID})
	}
}

// all_queues_reset carries no counter and reaches every active subscriber.
func match(sub Subscription, counterID int64) bool {
	if sub.Paused {
		return false
	}
	if sub.CounterID == 0 || counterID == 0 {
		return true
	}
	return sub.CounterID == counterID
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	if msg.CounterID < 0 {
		return SubscribeMessage{}, false
	}
	return msg, true
}
