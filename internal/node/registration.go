package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"meteomesh/internal/clock"
	"meteomesh/internal/config"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/metrics"
	"meteomesh/internal/rpc"
	"meteomesh/internal/store"
)

const (
	DefaultHeartbeatInterval = 120 * time.Second
	centralCallTimeout       = 15 * time.Second
)

var Capabilities = []string{"Temperature", "Humidity", "Pressure", "Lidar"}

// StatusStore supplies the heartbeat payload.
type StatusStore interface {
	ListStations(ctx context.Context) ([]store.Station, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Registration registers the node with the central server and keeps it
// informed with periodic heartbeats.
type Registration struct {
	cfg     config.Node
	store   StatusStore
	clock   clock.Clock
	streams func() int32
	logger  *slog.Logger

	client     meshpb.CentralServerClient
	interval   time.Duration
	startedAt  time.Time
	registered atomic.Bool
}

type RegistrationOption func(*Registration)

// WithCentralClient replaces the connection dialed from cfg.CentralURL.
func WithCentralClient(c meshpb.CentralServerClient) RegistrationOption {
	return func(r *Registration) { r.client = c }
}

// WithActiveStreams reports the number of open command streams in heartbeats.
func WithActiveStreams(f func() int32) RegistrationOption {
	return func(r *Registration) { r.streams = f }
}

func NewRegistration(cfg config.Node, st StatusStore, c clock.Clock, logger *slog.Logger, opts ...RegistrationOption) *Registration {
	r := &Registration{
		cfg:      cfg,
		store:    st,
		clock:    c,
		streams:  func() int32 { return 0 },
		logger:   logger.With("component", "registration"),
		interval: cfg.HeartbeatInterval,
	}
	if r.interval <= 0 {
		r.interval = DefaultHeartbeatInterval
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registration) Registered() bool { return r.registered.Load() }

// NodeID is the identifier the node registers under.
func (r *Registration) NodeID() string { return "NODE_" + r.cfg.NodeID }

// Run registers and then sends heartbeats until ctx is done. It returns nil
// immediately when no central server is configured. A failed registration
// is retried on the next heartbeat tick.
func (r *Registration) Run(ctx context.Context) error {
	if r.client == nil {
		if r.cfg.CentralURL == "" {
			r.logger.Info("no central server configured, registration disabled")
			return nil
		}
		conn, err := rpc.Dial(r.cfg.CentralURL)
		if err != nil {
			return fmt.Errorf("connect to central: %w", err)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				r.logger.Warn("close central connection", "error", err)
			}
		}()
		r.client = meshpb.NewCentralServerClient(conn)
	}

	r.startedAt = r.clock.Now()
	r.register(ctx)

	ticker := time.NewTicker(clock.RealInterval(r.clock, r.interval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.registered.Load() {
				r.register(ctx)
				continue
			}
			if err := r.Heartbeat(ctx); err != nil {
				r.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

func (r *Registration) register(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, centralCallTimeout)
	defer cancel()
	resp, err := r.client.RegisterLocalNode(ctx, &meshpb.RegisterNodeRequest{
		NodeID:       r.NodeID(),
		NodeName:     r.cfg.Name,
		NodeURL:      r.cfg.PublicURL,
		Location:     r.cfg.Location,
		Latitude:     r.cfg.Latitude,
		Longitude:    r.cfg.Longitude,
		StartupTime:  r.startedAt.Unix(),
		Capabilities: Capabilities,
	})
	if err != nil {
		r.logger.Warn("registration failed", "central", r.cfg.CentralURL, "error", err)
		return
	}
	if !resp.Success {
		r.logger.Warn("registration rejected", "message", resp.Message)
		return
	}
	r.registered.Store(true)
	r.logger.Info("registered with central server",
		"node_id", resp.AssignedNodeID,
		"heartbeat_seconds", resp.HeartbeatIntervalSeconds,
	)
}

// Heartbeat sends one status report.
func (r *Registration) Heartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, centralCallTimeout)
	defer cancel()
	req, err := r.heartbeatRequest(ctx)
	if err != nil {
		metrics.HeartbeatsSent.WithLabelValues("error").Inc()
		return err
	}
	resp, err := r.client.SendHeartbeat(ctx, req)
	if err != nil {
		metrics.HeartbeatsSent.WithLabelValues("error").Inc()
		return err
	}
	if !resp.Acknowledged {
		metrics.HeartbeatsSent.WithLabelValues("rejected").Inc()
		return fmt.Errorf("heartbeat not acknowledged")
	}
	metrics.HeartbeatsSent.WithLabelValues("ok").Inc()
	r.logger.Debug("heartbeat sent", "stations", len(req.Stations))
	return nil
}

func (r *Registration) heartbeatRequest(ctx context.Context) (*meshpb.HeartbeatRequest, error) {
	rows, err := r.store.ListStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("measurement stats: %w", err)
	}

	st := meshpb.NodeStatus{
		IsHealthy:         true,
		ActiveConnections: r.streams(),
		TotalMeasurements: stats.Measurements,
	}
	if !stats.LastMeasurement.IsZero() {
		st.LastDataReceived = stats.LastMeasurement.Unix()
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		st.CPUUsage = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemoryUsage = vm.UsedPercent
	}

	summaries := make([]meshpb.StationSummary, 0, len(rows))
	for _, row := range rows {
		s := meshpb.StationSummary{
			StationID:       row.ID,
			Name:            row.ID,
			Type:            string(row.Type),
			IsActive:        !row.Suspended,
			LastMeasurement: row.LastUpdated.Unix(),
			Quality:         "Good",
		}
		if row.LastValue != nil {
			s.LastValue = *row.LastValue
		}
		summaries = append(summaries, s)
	}
	return &meshpb.HeartbeatRequest{NodeID: r.NodeID(), Status: st, Stations: summaries}, nil
}
