package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"live-leaderboard-service/internal/app"
	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/protocol"
)

// NewRouter mounts the HTTP API, the websocket endpoint and metrics.
func NewRouter(service *app.LeaderboardService, ws *WSHandler, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	api := &api{service: service, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Route("/evaluations/{evaluationID}", func(r chi.Router) {
		r.Get("/", api.evaluation)
		r.Get("/leaderboard", api.leaderboard)
		r.Get("/participants/{participantID}", api.participant)
	})
	r.Get("/ws", ws.ServeWS)
	return r
}

type api struct {
	service *app.LeaderboardService
	logger  *zap.Logger
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (a *api) evaluation(w http.ResponseWriter, r *http.Request) {
	eval, err := a.service.Evaluation(r.Context(), chi.URLParam(r, "evaluationID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eval)
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	top := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "top must be a non-negative integer", http.StatusBadRequest)
			return
		}
		top = n
	}
	snap, err := a.service.Leaderboard(r.Context(), chi.URLParam(r, "evaluationID"), top)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) participant(w http.ResponseWriter, r *http.Request) {
	entry, err := a.service.Participant(r.Context(), chi.URLParam(r, "evaluationID"), chi.URLParam(r, "participantID"))
	if err != nil {
		a.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEvaluationNotFound), errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	default:
		a.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, protocol.ErrorPayload{Code: protocol.ErrorCode(err), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
