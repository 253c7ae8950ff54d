package handlers

import (
	"context"
	"errors"
	"strconv"
	"strings"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/xAleksandar/tonight-app-sub003/internal/models"
	"github.com/xAleksandar/tonight-app-sub003/internal/repository"
	"github.com/xAleksandar/tonight-app-sub003/internal/services"
	chatws "github.com/xAleksandar/tonight-app-sub003/internal/websocket"
	"github.com/xAleksandar/tonight-app-sub003/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, userID string, page int, limit int) ([]models.ConversationSummary, int, error)
	ListMessages(ctx context.Context, conversationID string, callerID string) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID string, senderID string, content string, opts services.SendOptions) (*models.Message, error)
	MarkRead(ctx context.Context, conversationID string, readerID string) (int, error)
	SendHostAnnouncement(ctx context.Context, hostID string, conversationIDs []string, content string) (int, error)
	AnnounceStatus(ctx context.Context, conversationID string, callerID string) (string, error)
}

type roomAccessResolver interface {
	Resolve(ctx context.Context, conversationID string, callerID string) (*services.ChatAccess, error)
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	resolver  roomAccessResolver
	jwtSecret string
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

type announcementRequest struct {
	ConversationIDs []string `json:"conversation_ids"`
	Content         string   `json:"content"`
}

func NewChatHandler(service chatApplicationService, hub *chatws.Hub, resolver roomAccessResolver, jwtSecret string) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		resolver:  resolver,
		jwtSecret: jwtSecret,
	}
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	page := parsePositiveInt(c.Query("page"), 1)
	limit := parsePositiveInt(c.Query("limit"), defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	conversations, total, err := h.service.ListConversations(c.Context(), userID, page, limit)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"pagination":    buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := conversationIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	messages, err := h.service.ListMessages(c.Context(), conversationID, userID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"messages": messages})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := conversationIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	message, err := h.service.SendMessage(c.Context(), conversationID, userID, req.Content, services.SendOptions{})
	if err != nil {
		return mapChatError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := conversationIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	marked, err := h.service.MarkRead(c.Context(), conversationID, userID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"marked": marked})
}

// SendAnnouncement fans one message out to every conversation the caller
// hosts. Conversations the caller cannot reach are skipped, not failed.
func (h *ChatHandler) SendAnnouncement(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	var req announcementRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if len(req.ConversationIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "At least one conversation id is required"})
	}

	sent, err := h.service.SendHostAnnouncement(c.Context(), userID, req.ConversationIDs, req.Content)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"sent": sent})
}

// AnnounceStatus pushes the conversation's current join-request status to the
// participant after the host accepts or rejects.
func (h *ChatHandler) AnnounceStatus(c *fiber.Ctx) error {
	userID, err := currentUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
	}

	conversationID, err := conversationIDParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid conversation id"})
	}

	status, err := h.service.AnnounceStatus(c.Context(), conversationID, userID)
	if err != nil {
		return mapChatError(c, err)
	}

	return c.JSON(fiber.Map{"status": status})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("display_name", claims.DisplayName)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	name, _ := conn.Locals("display_name").(string)
	client := chatws.NewClient(h.hub, conn, userID, name)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(h.resolver)
}

// parseWSClaims pulls the bearer token for an upgrade request. The auth
// cookie wins, then the token query parameter, then the Authorization header.
func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Cookies("auth_token"))
	if tokenString == "" {
		tokenString = strings.TrimSpace(c.Query("token"))
	}
	if tokenString == "" {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func currentUserID(c *fiber.Ctx) (string, error) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return "", errors.New("missing user id")
	}
	return userID, nil
}

func conversationIDParam(c *fiber.Ctx) (string, error) {
	conversationID := strings.TrimSpace(c.Params("id"))
	if conversationID == "" {
		return "", errors.New("missing conversation id")
	}
	return conversationID, nil
}

// mapChatError translates service errors to HTTP statuses. Blocked pairs and
// non-members both read as a plain Forbidden so the block is not disclosed.
func mapChatError(c *fiber.Ctx, err error) error {
	var rateErr *services.RateLimitedError
	switch {
	case errors.Is(err, services.ErrConversationNotFound), errors.Is(err, pgx.ErrNoRows):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Conversation not found"})
	case errors.Is(err, services.ErrNotConversationMember), errors.Is(err, services.ErrConversationBlocked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Forbidden"})
	case errors.Is(err, services.ErrConversationNotAccepted):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Join request not accepted"})
	case errors.Is(err, repository.ErrEmptyContent):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message content is required"})
	case errors.Is(err, repository.ErrContentTooLong):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Message content too long"})
	case errors.Is(err, services.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	case errors.As(err, &rateErr):
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(rateErr.RetryAfterSeconds))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":       "Too many messages, slow down",
			"retry_after": rateErr.RetryAfterSeconds,
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process chat request"})
	}
}
