package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"meteomesh/internal/clock"
	"meteomesh/internal/config"
	"meteomesh/internal/db"
	"meteomesh/internal/delivery"
	"meteomesh/internal/httpapi"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/metrics"
	"meteomesh/internal/migrate"
	"meteomesh/internal/mqtt"
	"meteomesh/internal/node"
	"meteomesh/internal/rpc"
	"meteomesh/internal/rules"
	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

const mqttConnectTimeout = 5 * time.Second

// RunNode runs a local node: station ingress and control streams, the rule
// engine, the data service queried by the central server, registration and
// the optional MQTT bridge.
func RunNode(ctx context.Context, cfg config.Node, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"nodeID", cfg.NodeID,
		"httpAddr", cfg.HTTPAddr,
		"grpcAddr", cfg.GRPCAddr,
		"publicURL", cfg.PublicURL,
		"centralURL", cfg.CentralURL,
		"sqlitePath", cfg.DB.Path,
		"deliveryMode", cfg.DeliveryMode,
		"ruleTick", cfg.RuleTick,
		"simulation", cfg.Simulation.Enabled,
		"simSpeed", cfg.Simulation.Speed,
		"mqttBroker", cfg.MQTT.Broker,
	)

	dbConn, err := db.Open(cfg.DB, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()
	if err := migrate.Run(ctx, dbConn); err != nil {
		return err
	}

	st := store.New(dbConn)
	if cfg.Simulation.Enabled && cfg.Simulation.ResetDB {
		if err := st.Reset(ctx); err != nil {
			return err
		}
		logger.Info("simulation database reset")
	}

	registry := station.NewRegistry()
	restored, err := node.RestoreRegistry(ctx, registry, st)
	if err != nil {
		return err
	}
	logger.Info("station registry restored", "stations", restored)

	clk := clock.New(cfg.Simulation.Enabled, cfg.Simulation.StartTime, cfg.Simulation.Speed)
	queue := delivery.New(cfg.DeliveryMode, 0)
	metrics.SetPendingSource(queue.Len)

	ingress := node.NewIngress(registry, st, clk, cfg.DefaultIntervalMinutes, logger)
	control := node.NewControl(registry, queue, clk, cfg.DeliveryPoll, logger)
	data := node.NewData(st, logger)

	engineOpts := []rules.Option{
		rules.WithRecorder(st),
		rules.WithTick(cfg.RuleTick),
		rules.WithLogger(logger),
	}
	var mq *mqtt.Client
	if cfg.MQTT.Enabled() {
		// Created before Connect so the first CONNACK already subscribes.
		mq = mqtt.NewClient(cfg.MQTT, ingress, logger)
		engineOpts = append(engineOpts, rules.WithMirror(mq))
	}
	engine := rules.NewEngine(registry, queue, clk, engineOpts...)

	grpcSrv, err := rpc.NewServer(cfg.Base, logger)
	if err != nil {
		return err
	}
	meshpb.RegisterStationIngressServer(grpcSrv, ingress)
	meshpb.RegisterStationControlServer(grpcSrv, control)
	meshpb.RegisterLocalNodeDataServer(grpcSrv, data)
	rpc.EnableMetrics(grpcSrv)

	registration := node.NewRegistration(cfg, st, clk, logger, node.WithActiveStreams(control.ActiveStreams))

	if mq != nil {
		connectCtx, cancel := context.WithTimeout(ctx, mqttConnectTimeout)
		err := mq.Connect(connectCtx)
		cancel()
		if err != nil {
			logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
		}
		defer mq.Disconnect()
	}

	mux := httpapi.NewMux(st.Ping)
	httpapi.RegisterNodeRoutes(mux, registry, st)
	httpSrv := httpapi.NewServer(cfg.HTTPAddr, mux, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveGRPC(gctx, grpcSrv, cfg.GRPCAddr, logger) })
	g.Go(func() error { return serveHTTP(gctx, httpSrv, logger) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return registration.Run(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
