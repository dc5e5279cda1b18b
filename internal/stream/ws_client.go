package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

// WSClient wraps a websocket connection as a hub subscriber.
type WSClient struct {
	conn      *websocket.Conn
	log       zerolog.Logger
	closeOnce sync.Once
}

func NewWSClient(conn *websocket.Conn, log zerolog.Logger) *WSClient {
	return &WSClient{conn: conn, log: log}
}

func (c *WSClient) Send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn().Err(err).Msg("websocket send failed")
		c.Close()
		return err
	}
	return nil
}

// ReadLoop discards inbound frames until the peer disconnects. Control frames are handled by gorilla.
func (c *WSClient) ReadLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

func (c *WSClient) Close() {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
}
