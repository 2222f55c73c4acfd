package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"live-leaderboard-service/internal/app"
	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/protocol"
)

// WSOptions tunes per-connection behaviour.
type WSOptions struct {
	SendBuffer   int
	WriteWait    time.Duration
	InboundRate  float64
	InboundBurst int
}

func DefaultWSOptions() WSOptions {
	return WSOptions{
		SendBuffer:   32,
		WriteWait:    5 * time.Second,
		InboundRate:  20,
		InboundBurst: 40,
	}
}

type WSHandler struct {
	service  *app.LeaderboardService
	logger   *zap.Logger
	opts     WSOptions
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.LeaderboardService, logger *zap.Logger, opts WSOptions) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

var errRateLimited = fmt.Errorf("too many messages: %w", domain.ErrMalformedUpdate)

// ServeWS upgrades the request and attaches the socket to the evaluation's hub.
// The participant identity is taken from the query string as given.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	evaluationID := q.Get("evaluationId")
	who := app.Identity{ParticipantID: q.Get("participantId"), DisplayName: q.Get("name")}
	if evaluationID == "" || who.ParticipantID == "" {
		http.Error(w, "missing evaluationId or participantId", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConnection(uuid.NewString(), ws, h.opts.SendBuffer, h.opts.WriteWait, h.logger)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		conn.writeLoop()
	}()
	defer func() {
		conn.Close()
		<-writerDone
	}()

	log := h.logger.With(
		zap.String("evaluation_id", evaluationID),
		zap.String("participant_id", who.ParticipantID),
		zap.String("connection_id", conn.ID()),
	)

	// Hub sends outlive the request context, so the read loop gets its own.
	ctx := context.WithoutCancel(r.Context())
	if err := h.service.Connect(ctx, evaluationID, conn); err != nil {
		log.Info("connect rejected", zap.Error(err))
		conn.replyError(err)
		return
	}
	log.Info("participant connected")
	defer func() {
		h.service.Disconnect(ctx, evaluationID, conn)
		log.Info("participant disconnected")
	}()

	limiter := rate.NewLimiter(rate.Limit(h.opts.InboundRate), h.opts.InboundBurst)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read", zap.Error(err))
			}
			return
		}
		if !limiter.Allow() {
			conn.replyError(errRateLimited)
			continue
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			conn.replyError(fmt.Errorf("bad frame: %v: %w", err, domain.ErrMalformedUpdate))
			continue
		}
		if err := h.dispatch(ctx, evaluationID, who, conn, env); err != nil {
			log.Debug("inbound rejected", zap.String("type", env.Type), zap.Error(err))
			conn.replyError(err)
		}
	}
}

func (h *WSHandler) dispatch(ctx context.Context, evaluationID string, who app.Identity, conn *wsConnection, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeScoreUpdate:
		var u protocol.ScoreUpdate
		if err := protocol.Decode(env, &u); err != nil {
			return err
		}
		return h.service.UpdateScore(ctx, evaluationID, who, u.ParticipantID, u.Score, u.AnsweredQuestions)

	case protocol.TypeParticipantUpsert:
		var entry domain.RankEntry
		if err := protocol.Decode(env, &entry); err != nil {
			return err
		}
		return h.service.UpsertParticipant(ctx, evaluationID, who, entry)

	case protocol.TypeSnapshotRequest:
		return h.service.RequestSnapshot(ctx, evaluationID, conn)

	default:
		return fmt.Errorf("unsupported message type %q: %w", env.Type, domain.ErrMalformedUpdate)
	}
}
