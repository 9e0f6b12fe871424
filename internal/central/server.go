package central

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meteomesh/internal/meshpb"
)

const HeartbeatIntervalSeconds = 120

// Server implements meshpb.CentralServerServer.
type Server struct {
	manager *Manager
	data    *DataService
	logger  *slog.Logger
}

func NewServer(manager *Manager, data *DataService, logger *slog.Logger) *Server {
	return &Server{manager: manager, data: data, logger: logger.With("component", "central_rpc")}
}

func (s *Server) RegisterLocalNode(_ context.Context, req *meshpb.RegisterNodeRequest) (*meshpb.RegisterNodeResponse, error) {
	if req.NodeID == "" {
		return &meshpb.RegisterNodeResponse{
			Success:                  false,
			Message:                  "Registration failed: node id is required",
			HeartbeatIntervalSeconds: HeartbeatIntervalSeconds,
		}, nil
	}
	s.logger.Info("node registration request", "node_id", req.NodeID, "name", req.NodeName, "url", req.NodeURL)
	s.manager.RegisterNode(Registration{
		ID:        req.NodeID,
		Name:      req.NodeName,
		URL:       req.NodeURL,
		Location:  req.Location,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	})
	return &meshpb.RegisterNodeResponse{
		Success:                  true,
		Message:                  "Node registered successfully",
		AssignedNodeID:           req.NodeID,
		HeartbeatIntervalSeconds: HeartbeatIntervalSeconds,
	}, nil
}

func (s *Server) SendHeartbeat(_ context.Context, req *meshpb.HeartbeatRequest) (*meshpb.HeartbeatResponse, error) {
	stations := make([]Station, 0, len(req.Stations))
	active := 0
	for _, st := range req.Stations {
		stations = append(stations, Station{
			NodeID:          req.NodeID,
			StationID:       st.StationID,
			Name:            st.Name,
			Type:            st.Type,
			IsActive:        st.IsActive,
			LastMeasurement: time.Unix(st.LastMeasurement, 0).UTC(),
			LastValue:       st.LastValue,
			Quality:         st.Quality,
		})
		if st.IsActive {
			active++
		}
	}
	s.manager.UpdateNodeStations(req.NodeID, stations)
	s.manager.UpdateNodeStatus(req.NodeID, true)

	s.logger.Debug("heartbeat",
		"node_id", req.NodeID,
		"stations", len(stations),
		"active", active,
		"suspended", len(stations)-active,
		"cpu", req.Status.CPUUsage,
		"streams", req.Status.ActiveConnections,
	)
	return &meshpb.HeartbeatResponse{Acknowledged: true, NextHeartbeatSeconds: HeartbeatIntervalSeconds}, nil
}

// GetNodeData queries one node, or all online nodes when no node id is
// given, and groups the result by station.
func (s *Server) GetNodeData(ctx context.Context, req *meshpb.NodeDataRequest) (*meshpb.NodeDataResponse, error) {
	var from, to time.Time
	if req.FromTimestamp > 0 {
		from = time.Unix(req.FromTimestamp, 0).UTC()
	}
	if req.ToTimestamp > 0 {
		to = time.Unix(req.ToTimestamp, 0).UTC()
	}
	maxRecords := int(req.MaxRecords)
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}

	var ms []Measurement
	if req.NodeID == "" {
		ms = s.data.FetchFromAllNodes(ctx, from, to, maxRecords)
	} else {
		var err error
		ms, err = s.data.FetchFromNode(ctx, req.NodeID, Query{StationID: req.StationID, From: from, To: to, MaxRecords: maxRecords})
		if err != nil {
			s.logger.Warn("node data request failed", "node_id", req.NodeID, "error", err)
			return &meshpb.NodeDataResponse{Success: false, Message: fmt.Sprintf("Data retrieval failed: %v", err)}, nil
		}
	}

	return &meshpb.NodeDataResponse{
		Success:      true,
		Message:      "Data retrieved successfully",
		TotalRecords: int32(len(ms)),
		Stations:     GroupByStation(ms),
	}, nil
}

// GroupByStation groups measurements per node and station, in order of
// first appearance.
func GroupByStation(ms []Measurement) []meshpb.StationData {
	type key struct{ node, station string }
	index := make(map[key]int)
	var out []meshpb.StationData
	for _, m := range ms {
		k := key{m.NodeID, m.StationID}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, meshpb.StationData{NodeID: m.NodeID, StationID: m.StationID})
		}
		out[i].Measurements = append(out[i].Measurements, m.Wire())
	}
	return out
}
