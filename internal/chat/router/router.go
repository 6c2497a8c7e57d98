package router

import (
	"context"
	"strconv"

	"chat_delivery_service/internal/chat/app"
	"chat_delivery_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册聊天相关的路由
func RegisterRoutes(r *fiber.App, ws *app.ChatWebsocketHandler, syncUC *app.InboxSyncUseCase, cm *app.ConnectionManager) {
	r.Use(middlewares.JWTMiddleware())

	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		ws.HandleConnection(context.Background(), c)
	}))

	// REST catch-up: same data the server pushes right after connect, for
	// clients that prefer to pull
	r.Get("/sync", func(c *fiber.Ctx) error {
		userID, ok := c.Locals(middlewares.TokenMemberID).(string)
		if !ok || userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing identity"})
		}
		list, err := syncUC.Sync(c.Context(), userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(list)
	})

	// 聊天室歷史訊息分頁 (scrollback)
	r.Get("/chats/:chatID/history", func(c *fiber.Ctx) error {
		before, _ := strconv.ParseInt(c.Query("before", "0"), 10, 64)
		limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
		messages, err := syncUC.History(c.Context(), c.Params("chatID"), before, limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"items": messages, "count": len(messages)})
	})

	r.Get("/ws/stats", func(c *fiber.Ctx) error {
		return c.JSON(cm.ConnectionStats())
	})
}
