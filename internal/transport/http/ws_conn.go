package http

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/protocol"
)

// wsConnection adapts a websocket to hub.Connection. Writes go through a buffered
// channel drained by writeLoop, so a slow peer never blocks the hub.
type wsConnection struct {
	id        string
	conn      *websocket.Conn
	writeWait time.Duration
	logger    *zap.Logger

	mu          sync.Mutex
	send        chan protocol.Envelope
	closed      bool
	initialSent bool
}

func newWSConnection(id string, conn *websocket.Conn, buffer int, writeWait time.Duration, logger *zap.Logger) *wsConnection {
	return &wsConnection{
		id:        id,
		conn:      conn,
		writeWait: writeWait,
		logger:    logger,
		send:      make(chan protocol.Envelope, buffer),
	}
}

func (c *wsConnection) ID() string { return c.id }

// Send queues a snapshot. The first one is typed snapshot.initial.
func (c *wsConnection) Send(snapshot domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgType := protocol.TypeSnapshotUpdate
	if !c.initialSent {
		msgType = protocol.TypeSnapshotInitial
	}
	env, err := protocol.Encode(msgType, snapshot)
	if err != nil {
		return err
	}
	if err := c.enqueueLocked(env); err != nil {
		return err
	}
	c.initialSent = true
	return nil
}

// reply queues a non-snapshot message for this peer only.
func (c *wsConnection) reply(msgType string, payload any) {
	env, err := protocol.Encode(msgType, payload)
	if err != nil {
		c.logger.Error("encode reply", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enqueueLocked(env); err != nil {
		c.logger.Debug("reply dropped", zap.String("type", msgType), zap.Error(err))
	}
}

func (c *wsConnection) replyError(err error) {
	c.reply(protocol.TypeError, protocol.ErrorPayload{Code: protocol.ErrorCode(err), Message: err.Error()})
}

// enqueueLocked never blocks. A full buffer means the peer is not keeping up; the
// connection is closed and the caller gets ErrTransportSend.
func (c *wsConnection) enqueueLocked(env protocol.Envelope) error {
	if c.closed {
		return fmt.Errorf("connection %s closed: %w", c.id, domain.ErrTransportSend)
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.closeLocked()
		return fmt.Errorf("connection %s outbound buffer full: %w", c.id, domain.ErrTransportSend)
	}
}

// Close stops accepting messages; writeLoop flushes what is queued and exits.
func (c *wsConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *wsConnection) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// writeLoop is the only writer of the websocket.
func (c *wsConnection) writeLoop() {
	defer c.conn.Close()
	for env := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
		if err := c.conn.WriteJSON(env); err != nil {
			c.logger.Debug("ws write", zap.String("connection_id", c.id), zap.Error(err))
			c.Close()
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.writeWait))
}
