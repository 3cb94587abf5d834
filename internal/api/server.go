package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/keyhaven/messaging-service/internal/auth"
	"github.com/keyhaven/messaging-service/internal/config"
	"github.com/keyhaven/messaging-service/internal/service"
	"github.com/keyhaven/messaging-service/internal/ws"
)

type Server struct {
	svc *service.ConversationService
	hub *ws.Hub
	log *zap.SugaredLogger
}

func NewServer(cfg *config.Config, svc *service.ConversationService, hub *ws.Hub, jv *auth.Validator, rdb *redis.Client, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{svc: svc, hub: hub, log: log}

	app.Use(fiberlogger.New())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1/messaging")
	api.Use(JWTAuthMiddleware(jv))

	rl := NewRateLimiter(rdb, "messaging:rl", cfg.RateLimit.PerMinute, time.Minute)
	api.Use(rl.Handler())

	api.Post("/messages", s.sendMessage)
	api.Delete("/messages/:msg_id", s.deleteMessage)
	api.Get("/threads", s.listThreads)
	api.Get("/threads/ensure", s.ensureThread)
	api.Get("/threads/:thread_id", s.getThread)
	api.Get("/threads/:thread_id/messages", s.getConversation)
	api.Put("/threads/:thread_id/read", s.markThreadRead)
	api.Get("/ws", websocket.New(s.wsHandler()))

	return app
}

func JWTAuthMiddleware(jv *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get("Authorization"))
		if err != nil {
			// websocket clients cannot set headers; accept the token as a
			// query parameter on the upgrade request only
			if q := c.Query("token"); q != "" && websocket.IsWebSocketUpgrade(c) {
				token = q
			} else {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing auth"})
			}
		}
		userID, err := jv.Validate(token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

// wsHandler joins the caller's per-user channel; every event addressed to
// that user is pushed down this connection until it drops.
func (s *Server) wsHandler() func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		userID, _ := conn.Locals("user_id").(string)
		if userID == "" {
			_ = conn.Close()
			return
		}

		client := ws.NewClient(userID, conn)
		s.hub.Register(client)
		s.log.Debugw("ws connected", "user_id", userID)
		defer func() {
			s.hub.Unregister(client)
			client.Close()
			_ = conn.Close()
			s.log.Debugw("ws disconnected", "user_id", userID)
		}()

		go client.WritePump()

		// inbound frames are ignored; the read loop only detects close
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
