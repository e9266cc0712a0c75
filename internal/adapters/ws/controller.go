package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/colabhq/syncrelay/internal/app"
	"github.com/colabhq/syncrelay/internal/config"
	"github.com/colabhq/syncrelay/internal/core"
	"github.com/colabhq/syncrelay/internal/domain"
	"github.com/colabhq/syncrelay/internal/metrics"
)

// SyncWSController accepts document-sync connections. Per-connection
// lifecycle: parse the session name from the target, upgrade, run the
// handshake, then pump frames until close.
type SyncWSController struct {
	Hub *app.Hub
	Cfg *config.Config
}

func NewSyncWSController(hub *app.Hub, cfg *config.Config) *SyncWSController {
	return &SyncWSController{Hub: hub, Cfg: cfg}
}

// The relay performs no origin or identity checks; access control
// belongs to the surrounding application.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SyncWSController) HandleSync(ctx context.Context, c *gin.Context) {
	name, err := domain.ParseSessionName(c.Param("session"))
	if err != nil {
		log.Warn().Err(err).Str("module", "ws").Str("raw", c.Param("session")).Msg("rejected session name")
		c.AbortWithStatus(http.StatusBadRequest)
		return
	}

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("upgrade failed")
		return
	}

	id := core.ConnID(uuid.NewString())
	meta, err := domain.NewPeer(c.Query("name"), c.Query("color"))
	if err != nil {
		meta, _ = domain.NewPeer("", "")
	}
	log.Info().Str("module", "ws").Str("session", string(name)).Str("conn", string(id)).Msg("new sync connection")

	conn := newPeerConn(sock, ctl.Cfg.SendBuffer)
	sess, frames := ctl.Hub.Join(name, id, core.NewPeerSession(meta, conn))
	for _, f := range frames {
		// The pumps have not started yet, so the queue must hold the
		// whole handshake. A peer that cannot even receive its step1
		// and awareness replay has no usable connection.
		if err := conn.TrySend(f); err != nil {
			log.Warn().Err(err).Str("module", "ws").Str("session", string(name)).Str("conn", string(id)).Msg("handshake send failed, closing")
			conn.Close()
			ctl.Hub.Leave(name, sess, id)
			return
		}
	}

	metrics.ConnectionsOpen.Inc()
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go ctl.readPump(ctx, name, sess, id, conn)
}
