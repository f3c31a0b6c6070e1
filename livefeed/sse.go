package livefeed

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const sseKeepAlive = 15 * time.Second

// StreamSSE streams every broadcast to the client as server-sent events.
func (h *Hub) StreamSSE(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	remote := c.IP()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		sub := h.Subscribe()
		defer h.Unsubscribe(sub)

		ticker := time.NewTicker(sseKeepAlive)
		defer ticker.Stop()

		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeSSE(w, msg); err != nil {
					logrus.Warnf("[LiveFeed] Dropping SSE client %s: %v", remote, err)
					return
				}
				if err := w.Flush(); err != nil {
					// client went away
					return
				}

			case <-ticker.C:
				w.WriteString(":\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}

func writeSSE(w io.Writer, msg Message) error {
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Event, err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Event, payload)
	return err
}
