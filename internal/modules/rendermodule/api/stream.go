package api

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/mantonx/loopforge/internal/errors"
	"github.com/mantonx/loopforge/internal/events"
)

const (
	streamBuffer  = 256
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	maxReplay     = 100
)

// StreamEvents handles GET /api/v1/render/events
//
// Upgrades to a websocket and forwards render lifecycle events as JSON bus
// events. ?slot=layer1_streamA limits the stream to one slot and ?recent=N
// replays up to N already delivered events first. A client that cannot keep
// up loses events rather than slowing the bus.
func (h *Handler) StreamEvents(c *gin.Context) {
	if h.bus == nil {
		apperrors.NewUnavailableError("Event stream is unavailable", nil).ToGinResponse(c)
		return
	}

	filter := events.EventFilter{
		Types:   events.RenderJobEvents,
		Sources: []string{events.SourceRender},
	}
	if slot := c.Query("slot"); slot != "" {
		filter.Targets = []string{slot}
	}
	replay, _ := strconv.Atoi(c.Query("recent"))
	if replay > maxReplay {
		replay = maxReplay
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	queue := make(chan events.Event, streamBuffer)
	var dropped atomic.Int64

	sub, err := h.bus.Subscribe("ws-"+clientID, filter, func(ev events.Event) error {
		select {
		case queue <- ev:
		default:
			dropped.Add(1)
		}
		return nil
	})
	if err != nil {
		h.logger.Warn("failed to subscribe websocket client", "client_id", clientID, "error", err)
		return
	}
	defer func() {
		if err := h.bus.Unsubscribe(sub.ID); err != nil {
			h.logger.Debug("failed to unsubscribe websocket client", "client_id", clientID, "error", err)
		}
		h.logger.Debug("websocket client disconnected", "client_id", clientID, "dropped", dropped.Load())
	}()

	h.logger.Debug("websocket client connected", "client_id", clientID, "slot", c.Query("slot"))

	if replay > 0 {
		for _, ev := range h.bus.Recent(filter, replay) {
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}

	// Client messages are ignored; reading surfaces the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev := <-queue:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
