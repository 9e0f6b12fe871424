package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"meteomesh/internal/central"
	"meteomesh/internal/clock"
	"meteomesh/internal/config"
	"meteomesh/internal/httpapi"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/rpc"
)

// RunCentral runs the central server: node registration and heartbeats,
// periodic discovery, and the aggregated data API.
func RunCentral(ctx context.Context, cfg config.Central, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"grpcAddr", cfg.GRPCAddr,
		"discoveryInterval", cfg.DiscoveryInterval,
		"nodeOfflineAfter", cfg.NodeOfflineAfter,
		"simulation", cfg.Simulation.Enabled,
		"simSpeed", cfg.Simulation.Speed,
	)

	clk := clock.New(cfg.Simulation.Enabled, cfg.Simulation.StartTime, cfg.Simulation.Speed)
	manager := central.NewManager(clk, cfg.NodeOfflineAfter, logger)
	data := central.NewDataService(manager, logger, central.WithTimeouts(cfg.NodeQueryTimeout, cfg.NodeProbeTimeout))
	defer data.Close()
	discovery := central.NewDiscovery(manager, data, clk, cfg.DiscoveryInterval, logger)

	grpcSrv, err := rpc.NewServer(cfg.Base, logger)
	if err != nil {
		return err
	}
	meshpb.RegisterCentralServerServer(grpcSrv, central.NewServer(manager, data, logger))
	rpc.EnableMetrics(grpcSrv)

	mux := httpapi.NewMux(nil)
	httpapi.RegisterCentralRoutes(mux, manager, data)
	httpSrv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveGRPC(gctx, grpcSrv, cfg.GRPCAddr, logger) })
	g.Go(func() error { return serveHTTP(gctx, httpSrv, logger) })
	g.Go(func() error { return discovery.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
