package repository

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx so repositories can run
// standalone or inside a transaction owned by a service.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ConversationRepository struct {
	db DBTX
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) GetByID(ctx context.Context, conversationID string) (*models.Conversation, error) {
	query := `
		SELECT id, event_id, host_id, participant_id, status, created_at, updated_at
		FROM conversations
		WHERE id = $1
	`

	var conversation models.Conversation
	err := r.db.QueryRow(ctx, query, conversationID).Scan(
		&conversation.ID,
		&conversation.EventID,
		&conversation.HostID,
		&conversation.ParticipantID,
		&conversation.Status,
		&conversation.CreatedAt,
		&conversation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &conversation, nil
}

// ListAcceptedForUser returns the caller's accepted conversations ordered by
// most recent activity, each with its latest message and the count of peer
// messages the caller has not yet marked read.
func (r *ConversationRepository) ListAcceptedForUser(
	ctx context.Context,
	userID string,
	limit int,
	offset int,
) ([]models.ConversationSummary, int, error) {
	totalQuery := `
		SELECT COUNT(*)
		FROM conversations
		WHERE status = 'accepted' AND (host_id = $1 OR participant_id = $1)
	`

	var total int
	if err := r.db.QueryRow(ctx, totalQuery, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT
			c.id,
			c.event_id,
			c.host_id,
			c.participant_id,
			c.status,
			c.created_at,
			c.updated_at,
			lm.id,
			lm.conversation_id,
			lm.sender_id,
			lm.content,
			lm.created_at,
			COALESCE(uc.unread_count, 0)
		FROM conversations c
		LEFT JOIN LATERAL (
			SELECT id, conversation_id, sender_id, content, created_at
			FROM messages
			WHERE conversation_id = c.id
			ORDER BY created_at DESC, seq DESC
			LIMIT 1
		) lm ON TRUE
		LEFT JOIN LATERAL (
			SELECT COUNT(*) AS unread_count
			FROM messages m
			WHERE m.conversation_id = c.id
			  AND m.sender_id <> $1
			  AND NOT EXISTS (
				SELECT 1
				FROM message_reads r
				WHERE r.message_id = m.id AND r.reader_id = $1
			  )
		) uc ON TRUE
		WHERE c.status = 'accepted' AND (c.host_id = $1 OR c.participant_id = $1)
		ORDER BY COALESCE(lm.created_at, c.updated_at) DESC, c.id DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	summaries := make([]models.ConversationSummary, 0)
	for rows.Next() {
		var summary models.ConversationSummary
		var messageID sql.NullString
		var messageConversationID sql.NullString
		var messageSenderID sql.NullString
		var messageContent sql.NullString
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.EventID,
			&summary.HostID,
			&summary.ParticipantID,
			&summary.Status,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&messageID,
			&messageConversationID,
			&messageSenderID,
			&messageContent,
			&messageCreatedAt,
			&summary.UnreadCount,
		); err != nil {
			return nil, 0, err
		}

		if messageID.Valid {
			summary.LastMessage = &models.Message{
				ID:             messageID.String,
				ConversationID: messageConversationID.String,
				SenderID:       messageSenderID.String,
				Content:        messageContent.String,
				CreatedAt:      messageCreatedAt.Time,
			}
		}

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return summaries, total, nil
}

func (r *ConversationRepository) Touch(ctx context.Context, conversationID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET updated_at = NOW()
		WHERE id = $1
	`, conversationID)
	return err
}
