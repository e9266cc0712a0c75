package ws

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/colabhq/syncrelay/internal/core"
	"github.com/colabhq/syncrelay/internal/domain"
	"github.com/colabhq/syncrelay/internal/metrics"
)

const writeWait = 5 * time.Second

func (ctl *SyncWSController) writePump(ctx context.Context, c *wsPeerConn) {
	ticker := time.NewTicker(ctl.Cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "ws").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SyncWSController) readPump(ctx context.Context, name domain.SessionName, sess core.SessionService, id core.ConnID, c *wsPeerConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("session", string(name)).Str("conn", string(id)).Msg("readPump closing")
		c.Close()
		ctl.Hub.Leave(name, sess, id)
		metrics.ConnectionsOpen.Dec()
	}()

	c.conn.SetReadLimit(ctl.Cfg.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))
	})

	limiter := newFrameLimiter(ctl.Cfg.RateLimit, ctl.Cfg.RateWindow)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			mt, data, err := c.conn.ReadMessage()
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					metrics.IdleClosed.Inc()
					log.Info().Str("module", "ws").Str("conn", string(id)).Msg("idle timeout, closing")
				} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			// Any inbound traffic proves liveness, not just pongs.
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.Cfg.IdleTimeout))

			if mt != websocket.BinaryMessage {
				log.Warn().Str("module", "ws").Str("conn", string(id)).Int("type", mt).Msg("non-binary frame, closing")
				return
			}
			if !limiter.Allow() {
				log.Warn().Str("module", "ws").Str("conn", string(id)).Msg("frame rate exceeded, closing")
				return
			}

			replies, err := ctl.Hub.HandleFrame(sess, id, data)
			if err != nil {
				log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("protocol violation, closing")
				return
			}
			for _, reply := range replies {
				if err := c.TrySend(reply); err != nil {
					log.Warn().Err(err).Str("module", "ws").Str("conn", string(id)).Msg("reply send failed, closing")
					return
				}
			}
		}
	}
}
