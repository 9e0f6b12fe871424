package httpapi

import (
	"context"
	"net/http"
	"time"

	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

// NodeStore is what the node's read API needs from the durable store.
type NodeStore interface {
	QueryMeasurements(ctx context.Context, q store.MeasurementQuery) ([]station.Measurement, error)
	ListCommands(ctx context.Context, limit int) ([]station.Command, error)
	Stats(ctx context.Context) (store.Stats, error)
}

type stationView struct {
	StationID       string     `json:"station_id"`
	Type            string     `json:"type"`
	LastValue       *float64   `json:"last_value"`
	Flag            bool       `json:"flag"`
	LastTimestamp   *time.Time `json:"last_timestamp"`
	IntervalMinutes float64    `json:"interval_minutes"`
	Suspended       bool       `json:"suspended"`
}

type measurementView struct {
	StationID string    `json:"station_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Aux1      float64   `json:"aux1"`
	Aux2      float64   `json:"aux2"`
	Flag      bool      `json:"flag"`
	Quality   string    `json:"quality"`
}

type commandView struct {
	ID              string    `json:"id"`
	TargetStationID string    `json:"target_station_id,omitempty"`
	TargetType      string    `json:"target_type,omitempty"`
	Action          string    `json:"action"`
	NumericValue    float64   `json:"numeric_value"`
	IssuedAt        time.Time `json:"issued_at"`
}

type nodeHandlers struct {
	registry *station.Registry
	store    NodeStore
}

// RegisterNodeRoutes adds the node read API to mux.
func RegisterNodeRoutes(mux *http.ServeMux, registry *station.Registry, st NodeStore) {
	h := &nodeHandlers{registry: registry, store: st}
	mux.HandleFunc("GET /api/stations", h.stations)
	mux.HandleFunc("GET /api/measurements", h.measurements)
	mux.HandleFunc("GET /api/commands", h.commands)
	mux.HandleFunc("GET /api/health", h.health)
}

func (h *nodeHandlers) stations(w http.ResponseWriter, _ *http.Request) {
	all := h.registry.All()
	out := make([]stationView, 0, len(all))
	for _, s := range all {
		out = append(out, stationView{
			StationID:       s.ID,
			Type:            string(s.Type),
			LastValue:       s.LastValue,
			Flag:            s.Flag,
			LastTimestamp:   optionalTime(s.LastTimestamp),
			IntervalMinutes: s.IntervalMinutes,
			Suspended:       s.Suspended,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *nodeHandlers) measurements(w http.ResponseWriter, r *http.Request) {
	rq, err := parseRange(r.URL.Query())
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ms, err := h.store.QueryMeasurements(r.Context(), store.MeasurementQuery{
		StationID: r.URL.Query().Get("station"),
		From:      rq.From,
		To:        rq.To,
		Limit:     rq.Limit,
	})
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to query measurements")
		return
	}
	out := make([]measurementView, 0, len(ms))
	for _, m := range ms {
		out = append(out, measurementView{
			StationID: m.StationID,
			Type:      string(m.Type),
			Timestamp: m.Timestamp,
			Value:     m.Value,
			Aux1:      m.Aux1,
			Aux2:      m.Aux2,
			Flag:      m.Flag,
			Quality:   m.Quality,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *nodeHandlers) commands(w http.ResponseWriter, r *http.Request) {
	rq, err := parseRange(r.URL.Query())
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	cmds, err := h.store.ListCommands(r.Context(), rq.Limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list commands")
		return
	}
	out := make([]commandView, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, commandView{
			ID:              c.ID,
			TargetStationID: c.TargetStationID,
			TargetType:      string(c.TargetType),
			Action:          string(c.Action),
			NumericValue:    c.NumericValue,
			IssuedAt:        c.IssuedAt,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

func (h *nodeHandlers) health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "failed to read store")
		return
	}
	states := h.registry.All()
	suspended := 0
	for _, s := range states {
		if s.Suspended {
			suspended++
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"healthy":            true,
		"stations":           len(states),
		"suspended_stations": suspended,
		"measurements":       stats.Measurements,
		"last_measurement":   optionalTime(stats.LastMeasurement),
	})
}
