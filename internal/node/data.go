package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meteomesh/internal/meshpb"
	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

const (
	DefaultMaxRecords = 500
	MaxRecordsLimit   = 1000
)

// DataStore is the read side of the node store.
type DataStore interface {
	QueryMeasurements(ctx context.Context, q store.MeasurementQuery) ([]station.Measurement, error)
	ListStations(ctx context.Context) ([]store.Station, error)
	Stats(ctx context.Context) (store.Stats, error)
}

// Data serves the LocalNodeData API the central server fans out to.
type Data struct {
	store  DataStore
	logger *slog.Logger
}

func NewData(st DataStore, logger *slog.Logger) *Data {
	return &Data{store: st, logger: logger.With("component", "data")}
}

// ClampLimit maps a requested record count onto [1, MaxRecordsLimit], with
// non-positive values meaning DefaultMaxRecords.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxRecords
	case n > MaxRecordsLimit:
		return MaxRecordsLimit
	default:
		return n
	}
}

func (d *Data) QueryMeasurements(ctx context.Context, req *meshpb.QueryMeasurementsRequest) (*meshpb.QueryMeasurementsResponse, error) {
	q := store.MeasurementQuery{
		StationID: req.StationID,
		Limit:     ClampLimit(int(req.MaxRecords)),
	}
	if req.FromTimestamp > 0 {
		q.From = time.Unix(req.FromTimestamp, 0).UTC()
	}
	if req.ToTimestamp > 0 {
		q.To = time.Unix(req.ToTimestamp, 0).UTC()
	}

	ms, err := d.store.QueryMeasurements(ctx, q)
	if err != nil {
		d.logger.Error("query measurements", "station_id", req.StationID, "error", err)
		return &meshpb.QueryMeasurementsResponse{Success: false, Message: fmt.Sprintf("query failed: %v", err)}, nil
	}

	records := make([]meshpb.MeasurementRecord, 0, len(ms))
	for _, m := range ms {
		rec := meshpb.MeasurementRecord{
			Timestamp:   m.Timestamp.Unix(),
			StationID:   m.StationID,
			StationType: string(m.Type),
			Value:       m.Value,
			Aux1:        m.Aux1,
			Aux2:        m.Aux2,
			Quality:     m.Quality,
		}
		if m.Type == station.Lidar {
			rec.PrecipitationIntensity = m.Value
		}
		records = append(records, rec)
	}
	return &meshpb.QueryMeasurementsResponse{
		Success:    true,
		Message:    "OK",
		TotalCount: int32(len(records)),
		Records:    records,
	}, nil
}

func (d *Data) GetStations(ctx context.Context, _ *meshpb.GetStationsRequest) (*meshpb.GetStationsResponse, error) {
	rows, err := d.store.ListStations(ctx)
	if err != nil {
		d.logger.Error("list stations", "error", err)
		return &meshpb.GetStationsResponse{Success: false, Message: fmt.Sprintf("list stations failed: %v", err)}, nil
	}
	return &meshpb.GetStationsResponse{Success: true, Message: "OK", Stations: StationInfos(rows)}, nil
}

func (d *Data) GetHealthStatus(ctx context.Context, _ *meshpb.HealthStatusRequest) (*meshpb.HealthStatusResponse, error) {
	rows, err := d.store.ListStations(ctx)
	if err != nil {
		return &meshpb.HealthStatusResponse{IsHealthy: false, StatusMessage: err.Error()}, nil
	}
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return &meshpb.HealthStatusResponse{IsHealthy: false, StatusMessage: err.Error()}, nil
	}
	resp := &meshpb.HealthStatusResponse{
		IsHealthy:        true,
		StationCount:     int32(len(rows)),
		MeasurementCount: stats.Measurements,
		StatusMessage:    "OK",
	}
	if !stats.LastMeasurement.IsZero() {
		resp.LastMeasurementTime = stats.LastMeasurement.Unix()
	}
	return resp, nil
}

// StationInfos converts store rows to their wire form.
func StationInfos(rows []store.Station) []meshpb.StationInfo {
	out := make([]meshpb.StationInfo, 0, len(rows))
	for _, r := range rows {
		info := meshpb.StationInfo{
			StationID:   r.ID,
			StationType: string(r.Type),
			IsActive:    !r.Suspended,
			LastUpdate:  r.LastUpdated.Unix(),
			Quality:     "Good",
		}
		if r.LastValue != nil {
			info.LastValue = *r.LastValue
		}
		out = append(out, info)
	}
	return out
}

// RestoreRegistry seeds reg with every station in the durable store, so
// suspension and interval survive a restart.
func RestoreRegistry(ctx context.Context, reg *station.Registry, st DataStore) (int, error) {
	rows, err := st.ListStations(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stations: %w", err)
	}
	n := 0
	for _, r := range rows {
		if reg.Restore(station.State{
			ID:              r.ID,
			Type:            r.Type,
			LastValue:       r.LastValue,
			Flag:            r.ReportedFlag,
			LastTimestamp:   r.LastUpdated,
			IntervalMinutes: r.IntervalMinutes,
			Suspended:       r.Suspended,
		}) {
			n++
		}
	}
	return n, nil
}
