package central

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"meteomesh/internal/clock"
)

const (
	DefaultDiscoveryInterval = 60 * time.Second
	discoveryBackoff         = 30 * time.Second
)

// StationProber lists a node's stations.
type StationProber interface {
	FetchStationsFromNode(ctx context.Context, nodeID string) ([]Station, error)
}

// Discovery periodically probes every known node and records whether it
// answered with stations.
type Discovery struct {
	manager  *Manager
	prober   StationProber
	clock    clock.Clock
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

func NewDiscovery(manager *Manager, prober StationProber, c clock.Clock, interval time.Duration, logger *slog.Logger) *Discovery {
	if interval <= 0 {
		interval = DefaultDiscoveryInterval
	}
	return &Discovery{
		manager:  manager,
		prober:   prober,
		clock:    c,
		interval: interval,
		backoff:  discoveryBackoff,
		logger:   logger.With("component", "discovery"),
	}
}

// Run probes on every tick until ctx is done. A panicking round is logged
// and followed by a shorter wait.
func (d *Discovery) Run(ctx context.Context) error {
	d.logger.Info("node discovery started", "interval", d.interval)
	defer d.logger.Info("node discovery stopped")

	for {
		wait := clock.RealInterval(d.clock, d.interval)
		if err := d.safeProbe(ctx); err != nil {
			d.logger.Error("node discovery round failed", "error", err)
			wait = clock.RealInterval(d.clock, d.backoff)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (d *Discovery) safeProbe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	d.ProbeAll(ctx)
	return nil
}

// ProbeAll checks every node concurrently. A node is online only if it
// returns at least one station.
func (d *Discovery) ProbeAll(ctx context.Context) {
	nodes := d.manager.GetAllNodes()
	d.logger.Debug("probing nodes", "count", len(nodes))

	var g errgroup.Group
	for _, n := range nodes {
		g.Go(func() error {
			stations, err := d.probe(ctx, n.ID)
			switch {
			case err != nil:
				d.manager.UpdateNodeStatus(n.ID, false)
				d.logger.Debug("node probe failed", "node_id", n.ID, "error", err)
			case len(stations) == 0:
				d.manager.UpdateNodeStatus(n.ID, false)
				d.logger.Debug("node returned no stations", "node_id", n.ID)
			default:
				d.manager.UpdateNodeStatus(n.ID, true)
				d.logger.Debug("node healthy", "node_id", n.ID, "stations", len(stations))
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Discovery) probe(ctx context.Context, id string) (stations []Station, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return d.prober.FetchStationsFromNode(ctx, id)
}
