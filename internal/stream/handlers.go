package stream

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SnapshotFunc renders the current state sent to a viewer on connect. An
// error closes the socket, e.g. for an unknown tracking reference.
type SnapshotFunc func(ctx context.Context, ref string) ([]byte, error)

func RegisterRoutes(r fiber.Router, hub *Hub, initial SnapshotFunc) {
	r.Get("/ws/:ref", websocket.New(func(c *websocket.Conn) {
		ref := c.Params("ref")

		var first []byte
		if initial != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			payload, err := initial(ctx, ref)
			cancel()
			if err != nil {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid tracking reference"))
				return
			}
			first = payload
		}

		client := hub.Register(ref)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			if first != nil {
				if err := c.WriteMessage(websocket.TextMessage, first); err != nil {
					return
				}
			}
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
