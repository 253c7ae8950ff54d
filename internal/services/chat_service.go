package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
	"github.com/xAleksandar/tonight-app-sub003/internal/repository"
)

// RateLimitedError reports a denied send and how long the sender must wait
// before the window admits another message.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds)
}

type accessResolver interface {
	Resolve(ctx context.Context, conversationID string, callerID string) (*ChatAccess, error)
}

type sendAdmitter interface {
	Admit(senderID string) bool
	SecondsUntilReset(senderID string) int
}

// chatBroadcaster is the real-time fan-out surface. Implementations never
// block and never fail the calling operation; delivery is best-effort.
type chatBroadcaster interface {
	BroadcastMessage(conversationID string, message *models.Message)
	BroadcastReadReceipts(conversationID string, readerID string, receipts []models.ReadReceipt)
	BroadcastStatusChange(conversationID string, userID string, status string)
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ChatService is the façade handlers call for every chat operation. It
// composes access resolution, rate limiting, the message store, and the
// real-time gateway.
type ChatService struct {
	db               txBeginner
	conversationRepo *repository.ConversationRepository
	messageRepo      *repository.MessageRepository
	resolver         accessResolver
	limiter          sendAdmitter
	broadcaster      chatBroadcaster
}

func NewChatService(
	db txBeginner,
	conversationRepo *repository.ConversationRepository,
	messageRepo *repository.MessageRepository,
	resolver accessResolver,
	limiter sendAdmitter,
	broadcaster chatBroadcaster,
) *ChatService {
	return &ChatService{
		db:               db,
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		resolver:         resolver,
		limiter:          limiter,
		broadcaster:      broadcaster,
	}
}

// SendOptions carries the trusted-caller knobs for SendMessage. Handlers
// always pass the zero value; SkipRateLimit is reserved for system-initiated
// fan-out and is never bound to request input.
type SendOptions struct {
	SkipRateLimit bool
}

// SendMessage admits the sender against the rate limiter, resolves access,
// persists the message, and broadcasts it to the conversation room. The
// broadcast is best-effort: once the message is committed the send has
// succeeded.
func (s *ChatService) SendMessage(
	ctx context.Context,
	conversationID string,
	senderID string,
	content string,
	opts SendOptions,
) (*models.Message, error) {
	if conversationID == "" || senderID == "" {
		return nil, ErrInvalidInput
	}

	if !opts.SkipRateLimit && !s.limiter.Admit(senderID) {
		return nil, &RateLimitedError{RetryAfterSeconds: s.limiter.SecondsUntilReset(senderID)}
	}

	if _, err := s.resolver.Resolve(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txConversationRepo := repository.NewConversationRepository(tx)

	message, err := txMessageRepo.Create(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	if err := txConversationRepo.Touch(ctx, conversationID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.broadcaster.BroadcastMessage(conversationID, message)

	return message, nil
}

// ListMessages returns the conversation's full transcript, oldest first, each
// message carrying its read receipts.
func (s *ChatService) ListMessages(
	ctx context.Context,
	conversationID string,
	callerID string,
) ([]models.Message, error) {
	if conversationID == "" || callerID == "" {
		return nil, ErrInvalidInput
	}

	if _, err := s.resolver.Resolve(ctx, conversationID, callerID); err != nil {
		return nil, err
	}

	messages, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	return s.messageRepo.AttachReceipts(ctx, messages)
}

// MarkRead marks every peer message in the conversation as read by the caller
// and returns how many were newly marked. The read-receipt broadcast only
// goes out when something actually changed.
func (s *ChatService) MarkRead(
	ctx context.Context,
	conversationID string,
	readerID string,
) (int, error) {
	if conversationID == "" || readerID == "" {
		return 0, ErrInvalidInput
	}

	if _, err := s.resolver.Resolve(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	receipts, err := s.messageRepo.MarkRead(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}

	if len(receipts) > 0 {
		s.broadcaster.BroadcastReadReceipts(conversationID, readerID, receipts)
	}

	return len(receipts), nil
}

// ListConversations returns the caller's accepted conversations with unread
// counts, newest activity first.
func (s *ChatService) ListConversations(
	ctx context.Context,
	userID string,
	page int,
	limit int,
) ([]models.ConversationSummary, int, error) {
	if userID == "" || page <= 0 || limit <= 0 {
		return nil, 0, ErrInvalidInput
	}

	return s.conversationRepo.ListAcceptedForUser(ctx, userID, limit, (page-1)*limit)
}

// SendHostAnnouncement fans one host message out to many conversations. The
// announcement is admitted against the rate limiter once; the per-conversation
// sends then bypass it so a single action is not throttled by its own fan-out.
// Conversations the host cannot currently chat in are skipped, not errors.
func (s *ChatService) SendHostAnnouncement(
	ctx context.Context,
	hostID string,
	conversationIDs []string,
	content string,
) (int, error) {
	if hostID == "" || len(conversationIDs) == 0 {
		return 0, ErrInvalidInput
	}

	if !s.limiter.Admit(hostID) {
		return 0, &RateLimitedError{RetryAfterSeconds: s.limiter.SecondsUntilReset(hostID)}
	}

	sent := 0
	for _, conversationID := range conversationIDs {
		access, err := s.resolver.Resolve(ctx, conversationID, hostID)
		if err != nil {
			if isAccessDenial(err) {
				continue
			}
			return sent, err
		}
		if access.Role != RoleHost {
			continue
		}
		if _, err := s.SendMessage(ctx, conversationID, hostID, content, SendOptions{SkipRateLimit: true}); err != nil {
			if isAccessDenial(err) {
				continue
			}
			return sent, err
		}
		sent++
	}

	return sent, nil
}

// NotifyStatusChange pushes a join-request status transition to the
// conversation room. The transition itself is owned by the join-request
// service; this is its event-bus entry point into the chat transport.
func (s *ChatService) NotifyStatusChange(conversationID string, userID string, status string) {
	s.broadcaster.BroadcastStatusChange(conversationID, userID, status)
}

// AnnounceStatus re-reads a conversation and pushes its stored status to the
// room and to the participant's other connections. Only the host may announce;
// broadcasting the persisted status rather than caller input keeps the event
// honest even when the caller races a concurrent transition.
func (s *ChatService) AnnounceStatus(ctx context.Context, conversationID string, callerID string) (string, error) {
	if conversationID == "" || callerID == "" {
		return "", ErrInvalidInput
	}

	conversation, err := s.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrConversationNotFound
		}
		return "", fmt.Errorf("failed to load conversation: %w", err)
	}
	if conversation.HostID != callerID {
		return "", ErrNotConversationMember
	}

	s.NotifyStatusChange(conversationID, conversation.ParticipantID, conversation.Status)
	return conversation.Status, nil
}

func isAccessDenial(err error) bool {
	return errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrNotConversationMember) ||
		errors.Is(err, ErrConversationNotAccepted) ||
		errors.Is(err, ErrConversationBlocked)
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339)
}
