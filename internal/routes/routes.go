package routes

import (
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	fiberlimiter "github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xAleksandar/tonight-app-sub003/internal/config"
	"github.com/xAleksandar/tonight-app-sub003/internal/handlers"
	"github.com/xAleksandar/tonight-app-sub003/internal/middleware"
	"github.com/xAleksandar/tonight-app-sub003/internal/ratelimit"
	"github.com/xAleksandar/tonight-app-sub003/internal/repository"
	"github.com/xAleksandar/tonight-app-sub003/internal/services"
	chatws "github.com/xAleksandar/tonight-app-sub003/internal/websocket"
)

// RegisterRoutes wires the chat stack. The hub and the send limiter are built
// by the caller so shutdown can stop them after the HTTP server drains.
func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool, hub *chatws.Hub, limiter *ratelimit.Limiter) error {
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	blockRepo := repository.NewBlockRepository(db)

	resolver := services.NewAccessResolver(conversationRepo, blockRepo)
	chatService := services.NewChatService(db, conversationRepo, messageRepo, resolver, limiter, hub)
	chatHandler := handlers.NewChatHandler(chatService, hub, resolver, cfg.JWTSecret)

	api := app.Group("/api")
	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	chats := authProtected.Group("/chats")
	chats.Get("", chatHandler.ListConversations)
	chats.Post("/announcements", chatHandler.SendAnnouncement)
	chats.Get("/:id/messages", chatHandler.GetMessages)
	chats.Post("/:id/messages", chatHandler.SendMessage)
	chats.Post("/:id/read", chatHandler.MarkRead)
	chats.Post("/:id/status-events", chatHandler.AnnounceStatus)

	// Upgrade attempts are throttled per client IP; message sends have their
	// own per-sender limiter inside the service.
	app.Use("/ws", fiberlimiter.New(fiberlimiter.Config{
		Max:        30,
		Expiration: time.Minute,
	}), chatHandler.WebSocketAuth)
	app.Get("/ws", websocket.New(chatHandler.HandleWebSocket))

	return registerDocsRoutes(app, cfg)
}
