// Package chatws fans chat events out to connected clients. Each open
// conversation maps to a room keyed by conversation id; a connection may hold
// membership in several rooms at once. Delivery is best-effort at-most-once:
// slow consumers are dropped, full queues are logged and skipped, and no event
// is ever retried.
package chatws

import (
	"encoding/json"
	"log"
	"time"

	"github.com/xAleksandar/tonight-app-sub003/internal/models"
	"github.com/xAleksandar/tonight-app-sub003/internal/services"
)

const (
	EventMessage       = "message"
	EventReadReceipt   = "read_receipt"
	EventTypingStart   = "typing_start"
	EventTypingStop    = "typing_stop"
	EventStatusChanged = "status_changed"
	EventJoined        = "joined"
	EventLeft          = "left"
	EventError         = "error"
)

// Event is the wire envelope for everything the server pushes. Only the
// fields relevant to the event type are populated.
type Event struct {
	Type           string               `json:"type"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Message        *models.Message      `json:"message,omitempty"`
	ReaderID       string               `json:"reader_id,omitempty"`
	Receipts       []models.ReadReceipt `json:"receipts,omitempty"`
	SenderID       string               `json:"sender_id,omitempty"`
	SenderName     string               `json:"sender_name,omitempty"`
	UserID         string               `json:"user_id,omitempty"`
	Status         string               `json:"status,omitempty"`
	Error          string               `json:"error,omitempty"`
	Timestamp      string               `json:"timestamp,omitempty"`
}

type roomOp struct {
	client *Client
	room   string
}

// envelope is a pending delivery. When sender is set the payload is a relay
// from that client: it is delivered only if the sender is a member of the
// room, and never echoed back to them. userID additionally targets that
// user's connections even when they are not in the room.
type envelope struct {
	room    string
	sender  *Client
	userID  string
	payload []byte
}

type Hub struct {
	clients     map[string]map[*Client]struct{}
	rooms       map[string]map[*Client]struct{}
	clientRooms map[*Client]map[string]struct{}
	register    chan *Client
	unregister  chan *Client
	join        chan roomOp
	leave       chan roomOp
	broadcast   chan *envelope
	done        chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		rooms:       make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		join:        make(chan roomOp),
		leave:       make(chan roomOp),
		broadcast:   make(chan *envelope, 64),
		done:        make(chan struct{}),
	}
}

// Run owns all membership state; it is the only goroutine that touches the
// maps, so joins, leaves, and fan-outs never race.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			h.dropClient(client)
		case op := <-h.join:
			h.addToRoom(op.client, op.room)
		case op := <-h.leave:
			h.removeFromRoom(op.client, op.room, true)
		case env := <-h.broadcast:
			h.fanOut(env)
		case <-h.done:
			return
		}
	}
}

// Stop terminates Run. Called once on shutdown; events published afterwards
// are dropped.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Join(client *Client, room string) {
	select {
	case h.join <- roomOp{client: client, room: room}:
	case <-h.done:
	}
}

func (h *Hub) Leave(client *Client, room string) {
	select {
	case h.leave <- roomOp{client: client, room: room}:
	case <-h.done:
	}
}

// Relay forwards a typing notification from one room member to the rest.
func (h *Hub) Relay(client *Client, room string, eventType string) {
	h.enqueue(&Event{
		Type:           eventType,
		ConversationID: room,
		SenderID:       client.userID,
		SenderName:     client.name,
		Timestamp:      services.FormatChatTimestamp(time.Now()),
	}, &envelope{room: room, sender: client})
}

// BroadcastMessage pushes a freshly persisted message to the conversation
// room.
func (h *Hub) BroadcastMessage(conversationID string, message *models.Message) {
	h.enqueue(&Event{
		Type:           EventMessage,
		ConversationID: conversationID,
		Message:        message,
		Timestamp:      services.FormatChatTimestamp(message.CreatedAt),
	}, &envelope{room: conversationID})
}

// BroadcastReadReceipts pushes the receipts newly created by a mark-read
// call.
func (h *Hub) BroadcastReadReceipts(conversationID string, readerID string, receipts []models.ReadReceipt) {
	h.enqueue(&Event{
		Type:           EventReadReceipt,
		ConversationID: conversationID,
		ReaderID:       readerID,
		Receipts:       receipts,
		Timestamp:      services.FormatChatTimestamp(time.Now()),
	}, &envelope{room: conversationID})
}

// BroadcastStatusChange announces a join-request transition. Besides the room
// it also targets the affected user's connections directly: a participant
// whose request was just accepted cannot have joined the room yet, and this
// event is what tells their client to unlock the composer.
func (h *Hub) BroadcastStatusChange(conversationID string, userID string, status string) {
	h.enqueue(&Event{
		Type:           EventStatusChanged,
		ConversationID: conversationID,
		UserID:         userID,
		Status:         status,
		Timestamp:      services.FormatChatTimestamp(time.Now()),
	}, &envelope{room: conversationID, userID: userID})
}

// enqueue marshals and queues an event without ever blocking the caller.
// Encode failures and a full queue are logged and swallowed; the originating
// operation has already succeeded by the time it broadcasts.
func (h *Hub) enqueue(event *Event, env *envelope) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("chat hub encode %s event: %v", event.Type, err)
		return
	}
	env.payload = payload
	select {
	case h.broadcast <- env:
	case <-h.done:
	default:
		log.Printf("chat hub dropped %s event for conversation %s", event.Type, env.room)
	}
}

func (h *Hub) fanOut(env *envelope) {
	members := h.rooms[env.room]
	if env.sender != nil {
		if _, member := members[env.sender]; !member {
			return
		}
	}
	for client := range members {
		if client == env.sender {
			continue
		}
		h.sendToClient(client, env.payload)
	}
	if env.userID == "" {
		return
	}
	for client := range h.clients[env.userID] {
		if _, member := members[client]; member {
			continue
		}
		h.sendToClient(client, env.payload)
	}
}

func (h *Hub) addToRoom(client *Client, room string) {
	if !h.registered(client) {
		return
	}

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}

	joined, ok := h.clientRooms[client]
	if !ok {
		joined = make(map[string]struct{})
		h.clientRooms[client] = joined
	}
	joined[room] = struct{}{}

	h.ack(client, EventJoined, room)
}

func (h *Hub) removeFromRoom(client *Client, room string, ack bool) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.clientRooms[client]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(h.clientRooms, client)
		}
	}
	if ack {
		h.ack(client, EventLeft, room)
	}
}

// dropClient removes every trace of a client. Membership goes first so no
// later fan-out can touch the closed send channel.
func (h *Hub) dropClient(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; !exists {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
	for room := range h.clientRooms[client] {
		h.removeFromRoom(client, room, false)
	}
	close(client.send)
}

func (h *Hub) registered(client *Client) bool {
	set, ok := h.clients[client.userID]
	if !ok {
		return false
	}
	_, exists := set[client]
	return exists
}

func (h *Hub) ack(client *Client, eventType string, room string) {
	payload, err := json.Marshal(&Event{
		Type:           eventType,
		ConversationID: room,
		Timestamp:      services.FormatChatTimestamp(time.Now()),
	})
	if err != nil {
		log.Printf("chat hub encode %s event: %v", eventType, err)
		return
	}
	h.sendToClient(client, payload)
}

func (h *Hub) sendToClient(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.dropClient(client)
	}
}
