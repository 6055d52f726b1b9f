/*
Copyright (C) 2026 Wren Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/wrenlabs/bassline/internal/events"
	"github.com/wrenlabs/bassline/internal/playback"
)

// stateMessage is one websocket frame pushed to UI clients.
type stateMessage struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Snapshot  playback.Snapshot `json:"snapshot"`
	Event     events.Payload    `json:"event,omitempty"`
}

// handleStateSocket streams player snapshots to a UI client. Frames go out
// on a fixed cadence plus immediately on player events, so position and
// bass intensity stay smooth without the client polling.
func (a *API) handleStateSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	if a.metrics != nil {
		a.metrics.StateClients.Inc()
		defer a.metrics.StateClients.Dec()
	}

	subscriptions := []events.EventType{
		events.EventNowPlaying,
		events.EventPlaybackState,
		events.EventPlaybackBlocked,
		events.EventTrackEnded,
		events.EventGraphFailed,
		events.EventLoadError,
		events.EventScanComplete,
	}
	channels := make([]events.Subscriber, 0, len(subscriptions))
	for _, et := range subscriptions {
		channels = append(channels, a.bus.Subscribe(et))
	}
	defer func() {
		for i, et := range subscriptions {
			a.bus.Unsubscribe(et, channels[i])
		}
	}()

	merged := make(chan events.Payload, 16)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	for _, ch := range channels {
		go func(ch events.Subscriber) {
			for {
				select {
				case payload, ok := <-ch:
					if !ok {
						return
					}
					select {
					case merged <- payload:
					default:
					}
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}

	a.logger.Debug().Str("remote", r.RemoteAddr).Msg("state websocket connected")

	if err := a.writeState(ctx, conn, "snapshot", nil); err != nil {
		return
	}

	ticker := time.NewTicker(a.statePush)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return

		case <-ticker.C:
			if err := a.writeState(ctx, conn, "snapshot", nil); err != nil {
				return
			}

		case payload := <-merged:
			if err := a.writeState(ctx, conn, "event", payload); err != nil {
				return
			}
		}
	}
}

func (a *API) writeState(ctx context.Context, conn *ws.Conn, msgType string, event events.Payload) error {
	msg := stateMessage{
		Type:      msgType,
		Timestamp: time.Now(),
		Snapshot:  a.player.Snapshot(),
		Event:     event,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, ws.MessageText, data); err != nil {
		a.logger.Debug().Err(err).Msg("state websocket write failed")
		return err
	}
	return nil
}
