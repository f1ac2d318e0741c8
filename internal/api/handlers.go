package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/models"
	"github.com/kanna-karuppasamy/sensor-anomaly-relay/internal/websocket"
)

const (
	defaultAnomalyLimit = 20
	maxAnomalyLimit     = 500
	checkTimeout        = 2 * time.Second
)

// Check reports the health of one dependency
type Check func(ctx context.Context) error

// AnomalyLister serves recently recorded anomalies
type AnomalyLister interface {
	Recent(ctx context.Context, topic string, limit int) ([]models.AnomalyRecord, error)
}

// Handler serves the ops endpoints. Optional collaborators left nil disable
// their routes.
type Handler struct {
	checks    map[string]Check
	anomalies AnomalyLister
	hub       *websocket.Hub
}

// NewHandler creates a handler with the given health checks
func NewHandler(checks map[string]Check, anomalies AnomalyLister, hub *websocket.Hub) *Handler {
	return &Handler{checks: checks, anomalies: anomalies, hub: hub}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HandleHealth runs every check and answers 503 if any fails
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

// HandleAnomalies lists recent anomalies for the topic query parameter
func (h *Handler) HandleAnomalies(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		http.Error(w, "Bad Request: topic is required", http.StatusBadRequest)
		return
	}

	limit := defaultAnomalyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "Bad Request: limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAnomalyLimit)
	}

	records, err := h.anomalies.Recent(r.Context(), topic, limit)
	if err != nil {
		log.Printf("Error listing anomalies for %s: %v", topic, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"topic": topic, "anomalies": records})
}

// HandleWebSocket upgrades connections and registers clients with the hub
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(h.hub, w, r)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
