package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
)

const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

var (
	ErrConversationNotFound    = errors.New("conversation not found")
	ErrNotConversationMember   = errors.New("not a conversation member")
	ErrConversationNotAccepted = errors.New("join request not accepted")
	ErrConversationBlocked     = errors.New("conversation blocked")
	ErrInvalidInput            = errors.New("invalid input")
)

type conversationGetter interface {
	GetByID(ctx context.Context, conversationID string) (*models.Conversation, error)
}

type blockChecker interface {
	IsBlocked(ctx context.Context, userA string, userB string) (bool, error)
}

// ChatAccess is the resolved view of one caller's rights on a conversation.
type ChatAccess struct {
	Conversation *models.Conversation
	Role         string
	PeerID       string
}

// AccessResolver decides whether a caller may use a conversation for chat
// right now. Conversation status and block state are read fresh on every
// call, never cached.
type AccessResolver struct {
	conversations conversationGetter
	blocks        blockChecker
}

func NewAccessResolver(conversations conversationGetter, blocks blockChecker) *AccessResolver {
	return &AccessResolver{
		conversations: conversations,
		blocks:        blocks,
	}
}

// Resolve checks, in order: the conversation exists, the caller is one of its
// two parties, the join request is accepted, and no block exists between the
// parties. The order decides which error a caller sees; handlers and the
// gateway rely on it.
func (r *AccessResolver) Resolve(ctx context.Context, conversationID string, callerID string) (*ChatAccess, error) {
	conversation, err := r.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	access := &ChatAccess{Conversation: conversation}
	switch callerID {
	case conversation.HostID:
		access.Role = RoleHost
		access.PeerID = conversation.ParticipantID
	case conversation.ParticipantID:
		access.Role = RoleParticipant
		access.PeerID = conversation.HostID
	default:
		return nil, ErrNotConversationMember
	}

	if conversation.Status != models.ConversationAccepted {
		return nil, ErrConversationNotAccepted
	}

	// A block silences the whole thread for both sides, so the pair is
	// checked regardless of which party is calling.
	blocked, err := r.blocks.IsBlocked(ctx, conversation.HostID, conversation.ParticipantID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrConversationBlocked
	}

	return access, nil
}
