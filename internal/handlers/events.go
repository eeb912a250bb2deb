package handlers

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ahmetk3436/autoremedy/internal/events"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

type EventHandler struct {
	hub *events.Hub
}

func NewEventHandler(hub *events.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// UpgradeCheck rejects plain HTTP requests to the feed.
func (h *EventHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// Stream relays hub events to the client as JSON text frames. ?types=
// narrows the feed to a comma-separated list of event types.
func (h *EventHandler) Stream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		wanted := map[string]bool{}
		for _, t := range strings.Split(c.Query("types"), ",") {
			if t = strings.TrimSpace(t); t != "" {
				wanted[t] = true
			}
		}

		feed, cancel := h.hub.Subscribe()
		defer cancel()
		slog.Info("Event feed connected", "subscribers", h.hub.SubscriberCount())

		// The client only sends control frames; a read error means it left.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case ev, ok := <-feed:
				if !ok {
					return
				}
				if len(wanted) > 0 && !wanted[ev.Type] {
					continue
				}
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteJSON(ev); err != nil {
					slog.Debug("Event feed write failed", "error", err)
					return
				}
			case <-ping.C:
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-closed:
				slog.Info("Event feed disconnected")
				return
			}
		}
	})
}
