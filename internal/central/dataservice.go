package central

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"meteomesh/internal/meshpb"
	"meteomesh/internal/metrics"
	"meteomesh/internal/rpc"
)

const (
	DefaultMaxRecords   = 500
	DefaultQueryTimeout = 30 * time.Second
	DefaultProbeTimeout = 15 * time.Second
)

var ErrUnknownNode = errors.New("unknown node")

// Measurement is a node measurement projected into per-quantity columns.
type Measurement struct {
	NodeID                 string
	StationID              string
	Timestamp              time.Time
	Temperature            float64
	Humidity               float64
	AirPressure            float64
	PrecipitationIntensity float64
	Quality                string
}

// MapRecord projects a node record by its station type. Lidar records carry
// precipitation, falling back to the raw value.
func MapRecord(nodeID string, r meshpb.MeasurementRecord) Measurement {
	m := Measurement{
		NodeID:    nodeID,
		StationID: r.StationID,
		Timestamp: time.Unix(r.Timestamp, 0).UTC(),
		Quality:   r.Quality,
	}
	switch r.StationType {
	case "Temperature":
		m.Temperature = r.Value
	case "Humidity":
		m.Humidity = r.Value
	case "Pressure":
		m.AirPressure = r.Value
	case "Lidar":
		m.PrecipitationIntensity = r.Value
		if r.PrecipitationIntensity > 0 {
			m.PrecipitationIntensity = r.PrecipitationIntensity
		}
	}
	return m
}

func (m Measurement) Wire() meshpb.MeasurementData {
	return meshpb.MeasurementData{
		NodeID:                 m.NodeID,
		StationID:              m.StationID,
		Timestamp:              m.Timestamp.Unix(),
		Temperature:            m.Temperature,
		Humidity:               m.Humidity,
		AirPressure:            m.AirPressure,
		PrecipitationIntensity: m.PrecipitationIntensity,
		Quality:                m.Quality,
	}
}

// Query selects measurements. Zero times do not filter.
type Query struct {
	StationID  string
	From       time.Time
	To         time.Time
	MaxRecords int
}

// DialFunc opens a client for a node URL. The closer releases the connection.
type DialFunc func(url string) (meshpb.LocalNodeDataClient, io.Closer, error)

// DialNode connects with rpc.Dial.
func DialNode(url string) (meshpb.LocalNodeDataClient, io.Closer, error) {
	conn, err := rpc.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	return meshpb.NewLocalNodeDataClient(conn), conn, nil
}

type nodeConn struct {
	url    string
	client meshpb.LocalNodeDataClient
	closer io.Closer
}

// DataService queries local nodes on behalf of the central server. Node
// connections are opened on first use and dropped after any RPC error.
type DataService struct {
	manager      *Manager
	dial         DialFunc
	queryTimeout time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	mu    sync.Mutex
	conns map[string]*nodeConn
}

type DataServiceOption func(*DataService)

func WithDialer(d DialFunc) DataServiceOption {
	return func(s *DataService) { s.dial = d }
}

func WithTimeouts(query, probe time.Duration) DataServiceOption {
	return func(s *DataService) {
		if query > 0 {
			s.queryTimeout = query
		}
		if probe > 0 {
			s.probeTimeout = probe
		}
	}
}

func NewDataService(manager *Manager, logger *slog.Logger, opts ...DataServiceOption) *DataService {
	s := &DataService{
		manager:      manager,
		dial:         DialNode,
		queryTimeout: DefaultQueryTimeout,
		probeTimeout: DefaultProbeTimeout,
		logger:       logger.With("component", "node_data"),
		conns:        make(map[string]*nodeConn),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FetchFromAllNodes queries every online node concurrently, splitting
// maxRecords evenly between them, and returns the newest maxRecords overall.
// A failing node contributes nothing.
func (s *DataService) FetchFromAllNodes(ctx context.Context, from, to time.Time, maxRecords int) []Measurement {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	var targets []string
	for _, n := range s.manager.GetAllNodes() {
		if n.IsOnline && n.URL != "" {
			targets = append(targets, n.ID)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	perNode := max(1, maxRecords/len(targets))

	results := make([][]Measurement, len(targets))
	var g errgroup.Group
	for i, id := range targets {
		g.Go(func() error {
			ms, err := s.FetchFromNode(ctx, id, Query{From: from, To: to, MaxRecords: perNode})
			if err != nil {
				s.logger.Warn("node query failed", "node_id", id, "error", err)
				return nil
			}
			results[i] = ms
			return nil
		})
	}
	_ = g.Wait()

	var all []Measurement
	for _, r := range results {
		all = append(all, r...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if len(all) > maxRecords {
		all = all[:maxRecords]
	}
	return all
}

// FetchFromNode queries one node. A response with success=false yields no
// measurements and no error.
func (s *DataService) FetchFromNode(ctx context.Context, nodeID string, q Query) ([]Measurement, error) {
	if q.MaxRecords <= 0 {
		q.MaxRecords = DefaultMaxRecords
	}
	client, err := s.client(nodeID)
	if err != nil {
		return nil, err
	}

	req := &meshpb.QueryMeasurementsRequest{StationID: q.StationID, MaxRecords: int32(q.MaxRecords)}
	if !q.From.IsZero() {
		req.FromTimestamp = q.From.Unix()
	}
	if !q.To.IsZero() {
		req.ToTimestamp = q.To.Unix()
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	resp, err := client.QueryMeasurements(ctx, req)
	if err != nil {
		s.invalidate(nodeID)
		metrics.NodeQueryFailures.WithLabelValues(nodeID, "QueryMeasurements").Inc()
		return nil, fmt.Errorf("query node %s: %w", nodeID, err)
	}
	if !resp.Success {
		s.logger.Debug("node query unsuccessful", "node_id", nodeID, "message", resp.Message)
		return nil, nil
	}
	s.manager.UpdateNodeStatus(nodeID, true)

	out := make([]Measurement, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, MapRecord(nodeID, r))
	}
	return out, nil
}

// FetchStationsFromNode asks a node for its stations and records them with
// the manager.
func (s *DataService) FetchStationsFromNode(ctx context.Context, nodeID string) ([]Station, error) {
	client, err := s.client(nodeID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	resp, err := client.GetStations(ctx, &meshpb.GetStationsRequest{})
	if err != nil {
		s.invalidate(nodeID)
		metrics.NodeQueryFailures.WithLabelValues(nodeID, "GetStations").Inc()
		return nil, fmt.Errorf("list stations on node %s: %w", nodeID, err)
	}
	if !resp.Success {
		return nil, nil
	}

	stations := make([]Station, 0, len(resp.Stations))
	for _, st := range resp.Stations {
		stations = append(stations, Station{
			NodeID:          nodeID,
			StationID:       st.StationID,
			Name:            st.StationID,
			Type:            st.StationType,
			IsActive:        st.IsActive,
			LastMeasurement: time.Unix(st.LastUpdate, 0).UTC(),
			LastValue:       st.LastValue,
			Quality:         st.Quality,
		})
	}
	s.manager.UpdateNodeStations(nodeID, stations)
	return stations, nil
}

// Close releases every cached connection.
func (s *DataService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		if err := c.closer.Close(); err != nil {
			s.logger.Debug("close node connection", "node_id", id, "error", err)
		}
		delete(s.conns, id)
	}
}

func (s *DataService) client(nodeID string) (meshpb.LocalNodeDataClient, error) {
	node, ok := s.manager.GetNode(nodeID)
	if !ok || node.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[nodeID]; ok {
		if c.url == node.URL {
			return c.client, nil
		}
		// re-registered under a new address
		_ = c.closer.Close()
		delete(s.conns, nodeID)
	}
	client, closer, err := s.dial(node.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to node %s: %w", nodeID, err)
	}
	s.conns[nodeID] = &nodeConn{url: node.URL, client: client, closer: closer}
	return client, nil
}

func (s *DataService) invalidate(nodeID string) {
	s.mu.Lock()
	c, ok := s.conns[nodeID]
	delete(s.conns, nodeID)
	s.mu.Unlock()
	if ok {
		if err := c.closer.Close(); err != nil {
			s.logger.Debug("close node connection", "node_id", nodeID, "error", err)
		}
	}
}
