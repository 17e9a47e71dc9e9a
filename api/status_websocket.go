package api

import (
	"atelier/auth"
	svc "atelier/services"
	"atelier/util"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// RegisterStatusWebsocket registers the prediction status stream. Clients
// connect once and receive a frame for every status transition of their
// predictions.
func RegisterStatusWebsocket(app *fiber.App) {
	app.Use("/api/ws/status", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			// the upgraded handler has no fiber context, stash the user ID
			c.Locals("ws_user_id", auth.UserID(c))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/api/ws/status", websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("ws_user_id").(string)
		if userID == "" {
			userID = auth.AnonymousUser
		}

		sock := svc.GetSocketService()
		connID := sock.Register(userID, conn)
		defer func() {
			sock.Unregister(userID, connID)
			conn.Close()
			util.LogInfo("Status WebSocket connection closed", logrus.Fields{
				"userID": userID,
				"connID": connID,
			})
		}()

		// the stream is push-only; reads only surface the client closing
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}
