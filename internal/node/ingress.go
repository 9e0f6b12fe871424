// Package node implements the local node's side of the mesh: measurement
// ingress, command streaming to stations, the data API queried by the central
// server, and registration with it.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meteomesh/internal/clock"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/metrics"
	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

var ErrInvalidMeasurement = errors.New("invalid measurement")

// MeasurementStore is the durable side of ingress.
type MeasurementStore interface {
	Ingest(ctx context.Context, m station.Measurement, defaultInterval float64, now time.Time) (store.Station, error)
}

// Ingress validates measurements and records them durably and in the
// registry. It serves the StationIngress RPC and the MQTT bridge.
type Ingress struct {
	registry        *station.Registry
	store           MeasurementStore
	clock           clock.Clock
	defaultInterval float64
	logger          *slog.Logger
}

func NewIngress(registry *station.Registry, st MeasurementStore, c clock.Clock, defaultInterval float64, logger *slog.Logger) *Ingress {
	return &Ingress{
		registry:        registry,
		store:           st,
		clock:           c,
		defaultInterval: defaultInterval,
		logger:          logger.With("component", "ingress"),
	}
}

// Accept records m. The station type may be in any case. Nothing is changed
// when validation or the durable write fails.
func (in *Ingress) Accept(ctx context.Context, m station.Measurement, source string) error {
	if strings.TrimSpace(m.StationID) == "" {
		metrics.MeasurementsRejected.WithLabelValues("station_id").Inc()
		return fmt.Errorf("%w: station id is required", ErrInvalidMeasurement)
	}
	typ, err := station.ParseType(string(m.Type))
	if err != nil {
		metrics.MeasurementsRejected.WithLabelValues("station_type").Inc()
		return fmt.Errorf("%w: %w", ErrInvalidMeasurement, err)
	}
	m.Type = typ
	if m.Timestamp.IsZero() {
		m.Timestamp = in.clock.Now()
	}

	row, err := in.store.Ingest(ctx, m, in.defaultInterval, in.clock.Now())
	if err != nil {
		metrics.PersistenceFailures.WithLabelValues("measurement").Inc()
		return fmt.Errorf("store measurement for %s: %w", m.StationID, err)
	}
	in.registry.Upsert(m, row.IntervalMinutes)
	metrics.MeasurementsAccepted.WithLabelValues(string(typ), source).Inc()

	in.logger.Debug("measurement accepted",
		"station_id", m.StationID,
		"type", typ,
		"value", m.Value,
		"flag", m.Flag,
		"source", source,
	)
	return nil
}

// SubmitMeasurement implements meshpb.StationIngressServer. Failures are
// reported in the response, never as RPC errors.
func (in *Ingress) SubmitMeasurement(ctx context.Context, req *meshpb.SubmitMeasurementRequest) (*meshpb.SubmitMeasurementResponse, error) {
	m := station.Measurement{
		StationID: req.StationID,
		Type:      station.Type(req.StationType),
		Value:     req.Value,
		Aux1:      req.Aux1,
		Aux2:      req.Aux2,
		Flag:      req.Flag,
		Quality:   req.Quality,
	}
	if req.TimestampUnix > 0 {
		m.Timestamp = time.Unix(req.TimestampUnix, 0).UTC()
	}

	if err := in.Accept(ctx, m, "grpc"); err != nil {
		if errors.Is(err, ErrInvalidMeasurement) {
			in.logger.Warn("measurement rejected", "station_id", req.StationID, "type", req.StationType, "error", err)
		} else {
			in.logger.Error("measurement not stored", "station_id", req.StationID, "error", err)
		}
		return &meshpb.SubmitMeasurementResponse{Success: false, Message: err.Error()}, nil
	}
	return &meshpb.SubmitMeasurementResponse{Success: true, Message: "OK"}, nil
}
