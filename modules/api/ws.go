package api

import (
	"context"
	"time"

	"github.com/bestorange88/IM/config"
	"github.com/bestorange88/IM/modules/registry"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// frameTimeout bounds the work done for a single inbound frame, including
// persistence and token verification.
const frameTimeout = 5 * time.Second

// frameSession is the protocol side of one websocket: a chat or a signaling
// session.
type frameSession interface {
	HandleFrame(ctx context.Context, data []byte) error
	Close(ctx context.Context)
}

type sessionFactory func(conn *registry.Conn) frameSession

// socketServer pumps websocket frames into sessions.
type socketServer struct {
	socket config.SocketConfig
	logger types.Logger
}

// upgradeOnly rejects plain HTTP requests on websocket routes.
func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

func (s *socketServer) handler(kind string, open sessionFactory) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		s.serve(kind, c, open)
	})
}

// serve owns one websocket until it closes. Writes happen only in the
// connection's write pump; this goroutine only reads.
func (s *socketServer) serve(kind string, c *websocket.Conn, open sessionFactory) {
	conn := registry.NewConn(c, registry.ConnOptions{
		SendQueueSize: s.socket.SendQueueSize,
		WriteTimeout:  s.socket.WriteTimeout,
		PingInterval:  s.socket.PingInterval(),
		Logger:        s.logger,
	})
	go conn.WritePump()

	session := open(conn)
	s.logger.Debug("Socket opened", "kind", kind, "connID", conn.ID())

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		session.Close(ctx)
		cancel()
		conn.Close()
		<-conn.Done()
		s.logger.Debug("Socket closed", "kind", kind, "connID", conn.ID(), "identity", conn.Identity())
	}()

	if s.socket.ReadLimit > 0 {
		c.SetReadLimit(s.socket.ReadLimit)
	}
	if s.socket.PongWait > 0 {
		_ = c.SetReadDeadline(time.Now().Add(s.socket.PongWait))
		c.SetPongHandler(func(string) error {
			return c.SetReadDeadline(time.Now().Add(s.socket.PongWait))
		})
	}

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("Socket read ended", "kind", kind, "connID", conn.ID(), "error", err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		err = session.HandleFrame(ctx, data)
		cancel()
		if err != nil {
			s.logger.Debug("Closing socket", "kind", kind, "connID", conn.ID(), "reason", err)
			return
		}
	}
}
