package repository

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
)

// MaxContentRunes bounds message content length after trimming.
const MaxContentRunes = 1000

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content too long")
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create trims and validates content, then persists the message. The id is
// assigned here; created_at and the insertion-order seq are assigned by the
// database.
func (r *MessageRepository) Create(
	ctx context.Context,
	conversationID string,
	senderID string,
	content string,
) (*models.Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentRunes {
		return nil, ErrContentTooLong
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, sender_id, content, created_at
	`

	var message models.Message
	err := r.db.QueryRow(ctx, query, uuid.New().String(), conversationID, senderID, trimmed).Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListByConversation returns every message in the conversation, oldest first.
// Equal timestamps are ordered by insertion (seq).
func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID string,
) ([]models.Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var message models.Message
		if err := rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.SenderID,
			&message.Content,
			&message.CreatedAt,
		); err != nil {
			return nil, err
		}

		messages = append(messages, message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}

// MarkRead inserts receipts for every message in the conversation the reader
// did not send and has not yet marked, and returns exactly the receipts that
// were newly created. ON CONFLICT DO NOTHING keeps the call idempotent under
// repeats and concurrent reader sessions.
func (r *MessageRepository) MarkRead(
	ctx context.Context,
	conversationID string,
	readerID string,
) ([]models.ReadReceipt, error) {
	query := `
		INSERT INTO message_reads (message_id, reader_id)
		SELECT m.id, $2
		FROM messages m
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		ON CONFLICT (message_id, reader_id) DO NOTHING
		RETURNING message_id, reader_id, read_at
	`

	rows, err := r.db.Query(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]models.ReadReceipt, 0)
	for rows.Next() {
		var receipt models.ReadReceipt
		if err := rows.Scan(&receipt.MessageID, &receipt.ReaderID, &receipt.ReadAt); err != nil {
			return nil, err
		}

		receipts = append(receipts, receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return receipts, nil
}

// AttachReceipts loads the read receipts for the given messages and attaches
// them to each message's ReadBy, preserving message order.
func (r *MessageRepository) AttachReceipts(
	ctx context.Context,
	messages []models.Message,
) ([]models.Message, error) {
	if len(messages) == 0 {
		return messages, nil
	}

	messageIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		messageIDs = append(messageIDs, message.ID)
	}

	query := `
		SELECT message_id, reader_id, read_at
		FROM message_reads
		WHERE message_id = ANY($1)
		ORDER BY read_at ASC
	`

	rows, err := r.db.Query(ctx, query, messageIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMessage := make(map[string][]models.ReadReceipt)
	for rows.Next() {
		var receipt models.ReadReceipt
		if err := rows.Scan(&receipt.MessageID, &receipt.ReaderID, &receipt.ReadAt); err != nil {
			return nil, err
		}

		byMessage[receipt.MessageID] = append(byMessage[receipt.MessageID], receipt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		messages[i].ReadBy = byMessage[messages[i].ID]
	}

	return messages, nil
}
