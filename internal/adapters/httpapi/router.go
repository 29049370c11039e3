package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/posmon/internal/adapters/storage"
	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/monitor"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Monitor es la parte del loop que expone la API.
type Monitor interface {
	Tracked() []domain.TrackedPosition
	TriggerNow(ctx context.Context) (*monitor.UpdateResult, error)
	Running() bool
	LastHeartbeat() time.Time
}

// PositionReader da acceso de lectura al store.
type PositionReader interface {
	GetPosition(ctx context.Context, id int64) (domain.Position, error)
	History(ctx context.Context, positionID int64) ([]storage.HistoryEntry, error)
}

// Deps son los colaboradores del router. Positions y WebSocket son opcionales.
type Deps struct {
	Monitor   Monitor
	Positions PositionReader
	WebSocket http.Handler
}

type handler struct {
	deps Deps
}

// NewRouter monta las rutas:
//
//	GET  /healthz
//	GET  /metrics
//	GET  /ws
//	GET  /api/positions
//	GET  /api/positions/{id}
//	POST /api/refresh
func NewRouter(deps Deps) *mux.Router {
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.Use(recovery, logging)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/positions", h.listPositions).Methods(http.MethodGet)
	if deps.Positions != nil {
		api.HandleFunc("/positions/{id:[0-9]+}", h.getPosition).Methods(http.MethodGet)
	}
	api.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)
	return r
}

type healthResponse struct {
	Status        string    `json:"status"`
	Running       bool      `json:"running"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Running:       h.deps.Monitor.Running(),
		LastHeartbeat: h.deps.Monitor.LastHeartbeat(),
	})
}

func (h *handler) listPositions(w http.ResponseWriter, _ *http.Request) {
	tracked := h.deps.Monitor.Tracked()
	if tracked == nil {
		tracked = []domain.TrackedPosition{}
	}
	writeJSON(w, http.StatusOK, tracked)
}

type positionResponse struct {
	Position domain.Position        `json:"position"`
	History  []storage.HistoryEntry `json:"history"`
}

func (h *handler) getPosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	p, err := h.deps.Positions.GetPosition(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		slog.Error("get position failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history, err := h.deps.Positions.History(r.Context(), id)
	if err != nil {
		slog.Error("get position history failed", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if history == nil {
		history = []storage.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: p, History: history})
}

type refreshResponse struct {
	Checked     int                       `json:"checked"`
	Updated     int                       `json:"updated"`
	Errors      []string                  `json:"errors"`
	Transitions []domain.StatusTransition `json:"transitions"`
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Monitor.TriggerNow(r.Context())
	if errors.Is(err, monitor.ErrTickInProgress) {
		writeError(w, http.StatusConflict, "tick in progress")
		return
	}
	if err != nil {
		slog.Error("manual refresh failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := refreshResponse{
		Checked:     res.Checked,
		Updated:     res.Updated,
		Errors:      make([]string, 0, len(res.Errors)),
		Transitions: res.Transitions,
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	if out.Transitions == nil {
		out.Transitions = []domain.StatusTransition{}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
