package models

import "time"

const (
	ConversationPending  = "pending"
	ConversationAccepted = "accepted"
	ConversationRejected = "rejected"
)

// Conversation is the chat-side projection of a join request. The row is
// created and transitioned by the join-request service; this service only
// reads it.
type Conversation struct {
	ID            string    `json:"id"`
	EventID       string    `json:"event_id"`
	HostID        string    `json:"host_id"`
	ParticipantID string    `json:"participant_id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"created_at"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
}

// ReadReceipt records that a reader has seen a message. Rows are insert-only
// and unique per (message, reader).
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	ReaderID  string    `json:"reader_id"`
	ReadAt    time.Time `json:"read_at"`
}

type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}
