package httpapi

import (
	"errors"
	"net/http"
	"time"

	"meteomesh/internal/central"
)

type nodeView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Location     string    `json:"location,omitempty"`
	Latitude     *float64  `json:"latitude,omitempty"`
	Longitude    *float64  `json:"longitude,omitempty"`
	Online       bool      `json:"online"`
	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`
	Stations     int       `json:"stations"`
}

type remoteStationView struct {
	NodeID          string     `json:"node_id"`
	StationID       string     `json:"station_id"`
	Type            string     `json:"type"`
	Active          bool       `json:"active"`
	LastMeasurement *time.Time `json:"last_measurement"`
	LastValue       float64    `json:"last_value"`
	Quality         string     `json:"quality"`
}

type remoteMeasurementView struct {
	NodeID                 string    `json:"node_id"`
	StationID              string    `json:"station_id"`
	Timestamp              time.Time `json:"timestamp"`
	Temperature            float64   `json:"temperature"`
	Humidity               float64   `json:"humidity"`
	AirPressure            float64   `json:"air_pressure"`
	PrecipitationIntensity float64   `json:"precipitation_intensity"`
	Quality                string    `json:"quality"`
}

type centralHandlers struct {
	manager *central.Manager
	data    *central.DataService
}

// RegisterCentralRoutes adds the central read API to mux.
func RegisterCentralRoutes(mux *http.ServeMux, manager *central.Manager, data *central.DataService) {
	h := &centralHandlers{manager: manager, data: data}
	mux.HandleFunc("GET /api/nodes", h.nodes)
	mux.HandleFunc("GET /api/nodes/{id}/stations", h.nodeStations)
	mux.HandleFunc("GET /api/stations", h.stations)
	mux.HandleFunc("GET /api/measurements", h.measurements)
}

func (h *centralHandlers) nodes(w http.ResponseWriter, _ *http.Request) {
	nodes := h.manager.GetAllNodes()
	out := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeView{
			ID:           n.ID,
			Name:         n.Name,
			URL:          n.URL,
			Location:     n.Location,
			Latitude:     n.Latitude,
			Longitude:    n.Longitude,
			Online:       n.IsOnline,
			LastSeen:     n.LastSeen,
			RegisteredAt: n.RegisteredAt,
			Stations:     len(n.Stations),
		})
	}
	c := h.manager.Counts()
	WriteJSON(w, http.StatusOK, map[string]any{
		"nodes":           out,
		"total_nodes":     c.Nodes,
		"online_nodes":    c.OnlineNodes,
		"total_stations":  c.Stations,
		"active_stations": c.ActiveStations,
	})
}

func (h *centralHandlers) nodeStations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := h.manager.GetNode(id); !ok {
		WriteError(w, http.StatusNotFound, "unknown node "+id)
		return
	}
	WriteJSON(w, http.StatusOK, stationViews(h.manager.GetStationsForNode(id)))
}

func (h *centralHandlers) stations(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, stationViews(h.manager.GetAllStations()))
}

func (h *centralHandlers) measurements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rq, err := parseRange(q)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var ms []central.Measurement
	if nodeID := q.Get("node"); nodeID != "" {
		ms, err = h.data.FetchFromNode(r.Context(), nodeID, central.Query{
			StationID:  q.Get("station"),
			From:       rq.From,
			To:         rq.To,
			MaxRecords: rq.Limit,
		})
		if errors.Is(err, central.ErrUnknownNode) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
	} else {
		ms = h.data.FetchFromAllNodes(r.Context(), rq.From, rq.To, rq.Limit)
	}

	out := make([]remoteMeasurementView, 0, len(ms))
	for _, m := range ms {
		out = append(out, remoteMeasurementView{
			NodeID:                 m.NodeID,
			StationID:              m.StationID,
			Timestamp:              m.Timestamp,
			Temperature:            m.Temperature,
			Humidity:               m.Humidity,
			AirPressure:            m.AirPressure,
			PrecipitationIntensity: m.PrecipitationIntensity,
			Quality:                m.Quality,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

func stationViews(stations []central.Station) []remoteStationView {
	out := make([]remoteStationView, 0, len(stations))
	for _, s := range stations {
		out = append(out, remoteStationView{
			NodeID:          s.NodeID,
			StationID:       s.StationID,
			Type:            s.Type,
			Active:          s.IsActive,
			LastMeasurement: optionalTime(s.LastMeasurement),
			LastValue:       s.LastValue,
			Quality:         s.Quality,
		})
	}
	return out
}
