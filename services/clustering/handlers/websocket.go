// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/solgraph/services/clustering/events"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
}

// HandleEventsWebSocket streams engine events to a websocket client.
//
// Description:
//
//	Each connection owns a subscription of the given size. Incoming frames
//	are discarded; the stream ends when the client disconnects or the
//	subscription is closed.
func HandleEventsWebSocket(bus *events.Bus, buffer int, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sub := bus.Subscribe(buffer)
		defer bus.Unsubscribe(sub)
		logger.Info("event stream client connected", "subscribers", bus.Subscribers())

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				logger.Info("event stream client disconnected")
				return
			case ev, ok := <-sub.C():
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteJSON(ev); err != nil {
					logger.Warn("failed to write event", "error", err)
					return
				}
			}
		}
	}
}
