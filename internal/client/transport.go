package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/protocol"
)

// Transport carries protocol messages between a Client and the hub.
type Transport interface {
	Send(ctx context.Context, msgType string, payload any) error
	// Snapshots is closed once the connection is gone.
	Snapshots() <-chan domain.Snapshot
	Close() error
}

const (
	defaultWriteWait = 10 * time.Second
	snapshotBuffer   = 16
)

// WebSocketTransport is a Transport over a gorilla/websocket connection.
type WebSocketTransport struct {
	conn      *websocket.Conn
	logger    *zap.Logger
	writeMu   sync.Mutex
	snapshots chan domain.Snapshot
	closeOnce sync.Once
}

// DialWebSocket connects to url and starts reading server messages.
func DialWebSocket(ctx context.Context, url string, logger *zap.Logger) (*WebSocketTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	t := &WebSocketTransport{
		conn:      conn,
		logger:    logger,
		snapshots: make(chan domain.Snapshot, snapshotBuffer),
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocketTransport) Snapshots() <-chan domain.Snapshot { return t.snapshots }

func (t *WebSocketTransport) Send(ctx context.Context, msgType string, payload any) error {
	env, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteWait)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(deadline)
	if err := t.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", msgType, errors.Join(domain.ErrTransportSend, err))
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *WebSocketTransport) readLoop() {
	defer close(t.snapshots)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("transport read", zap.Error(err))
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("undecodable server message", zap.Error(err))
			continue
		}
		switch env.Type {
		case protocol.TypeSnapshotInitial, protocol.TypeSnapshotUpdate:
			var snap domain.Snapshot
			if err := protocol.Decode(env, &snap); err != nil {
				t.logger.Warn("bad snapshot", zap.Error(err))
				continue
			}
			t.deliver(snap)
		case protocol.TypeError:
			var p protocol.ErrorPayload
			_ = protocol.Decode(env, &p)
			t.logger.Warn("server rejected message", zap.String("code", p.Code), zap.String("message", p.Message))
		default:
			t.logger.Debug("ignored server message", zap.String("type", env.Type))
		}
	}
}

// deliver never blocks the reader; when the consumer lags the oldest snapshot is dropped.
func (t *WebSocketTransport) deliver(snap domain.Snapshot) {
	for {
		select {
		case t.snapshots <- snap:
			return
		default:
		}
		select {
		case <-t.snapshots:
		default:
		}
	}
}
