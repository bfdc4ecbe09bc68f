package notification

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/timebank/timebank-api/internal/domain/escrow"
	"github.com/timebank/timebank-api/internal/pkg/metrics"
)

// EventsChannel carries escrow events between API instances.
const EventsChannel = "ledger:events"

// Message is the payload pushed to a websocket client.
type Message struct {
	Type escrow.EventType `json:"type"`
	Data escrow.Event     `json:"data"`
}

type fanoutMessage struct {
	Recipients       []uuid.UUID     `json:"recipients"`
	Payload          json.RawMessage `json:"payload"`
	SenderInstanceID string          `json:"sender_instance_id"`
}

// Connection represents a WebSocket connection
type Connection struct {
	MemberID uuid.UUID
	Conn     *websocket.Conn
	Send     chan []byte
}

// Hub keeps the websocket connections of this instance and delivers escrow events to the
// participants they concern. With Redis configured, events are also fanned out to other
// instances, which deliver them to their own connections.
type Hub struct {
	connections map[uuid.UUID]map[*Connection]bool

	redis  *redis.Client
	pubsub *redis.PubSub

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
	publishFn  func(ctx context.Context, channel string, payload []byte) error
}

// NewHub creates a hub. redisClient may be nil for single-instance delivery.
func NewHub(redisClient *redis.Client) *Hub {
	return NewHubWithInstanceID(redisClient, uuid.NewString())
}

// NewHubWithInstanceID creates a hub with an explicit instance identifier.
func NewHubWithInstanceID(redisClient *redis.Client, instanceID string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[uuid.UUID]map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  instanceID,
	}

	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, EventsChannel)
		h.publishFn = func(ctx context.Context, channel string, payload []byte) error {
			return redisClient.Publish(ctx, channel, payload).Err()
		}
	}

	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			if h.connections[conn.MemberID] == nil {
				h.connections[conn.MemberID] = make(map[*Connection]bool)
			}
			h.connections[conn.MemberID][conn] = true
			h.mu.Unlock()
			metrics.AddWSConnections(1)
			log.Debug().Str("member_id", conn.MemberID.String()).Msg("Member connected to WebSocket")

		case conn := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.connections[conn.MemberID]; ok {
				if _, exists := conns[conn]; exists {
					delete(conns, conn)
					close(conn.Send)
					metrics.AddWSConnections(-1)
				}
				if len(conns) == 0 {
					delete(h.connections, conn.MemberID)
				}
			}
			h.mu.Unlock()
			log.Debug().Str("member_id", conn.MemberID.String()).Msg("Member disconnected from WebSocket")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleFanout(msg.Payload)
		}
	}
}

func (h *Hub) handleFanout(payload string) {
	var msg fanoutMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		log.Warn().Err(err).Msg("Malformed escrow event on fan-out channel")
		return
	}
	if msg.SenderInstanceID == h.instanceID {
		return
	}
	for _, memberID := range msg.Recipients {
		h.sendLocal(memberID, msg.Payload)
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Publish delivers a committed escrow event to both participants on every instance.
func (h *Hub) Publish(ctx context.Context, event escrow.Event) {
	data, err := json.Marshal(Message{Type: event.Type, Data: event})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal escrow event")
		return
	}

	recipients := event.Recipients()
	for _, memberID := range recipients {
		h.sendLocal(memberID, data)
	}

	if h.publishFn == nil {
		return
	}
	payload, err := json.Marshal(fanoutMessage{
		Recipients:       recipients,
		Payload:          data,
		SenderInstanceID: h.instanceID,
	})
	if err != nil {
		return
	}
	if err := h.publishFn(ctx, EventsChannel, payload); err != nil {
		log.Warn().Err(err).
			Str("escrow_id", event.EscrowID.String()).
			Str("event_type", string(event.Type)).
			Msg("Redis publish failed, event delivered locally only")
	}
}

func (h *Hub) sendLocal(memberID uuid.UUID, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections[memberID] {
		select {
		case conn.Send <- data:
			metrics.RecordWSEvent(true)
		default:
			metrics.RecordWSEvent(false)
			log.Warn().Str("member_id", memberID.String()).Msg("WebSocket send buffer full")
		}
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.connections {
		total += len(conns)
	}
	return total
}

// Shutdown stops the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}
