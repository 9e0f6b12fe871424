// Package store is the node's durable record of stations, measurements and
// issued commands, kept in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meteomesh/internal/station"
)

//go:embed sql/upsert-station.sql
var upsertStationSQL string

//go:embed sql/get-station.sql
var getStationSQL string

//go:embed sql/list-stations.sql
var listStationsSQL string

//go:embed sql/insert-measurement.sql
var insertMeasurementSQL string

//go:embed sql/query-measurements.sql
var queryMeasurementsSQL string

//go:embed sql/count-measurements.sql
var countMeasurementsSQL string

//go:embed sql/insert-command.sql
var insertCommandSQL string

//go:embed sql/list-commands.sql
var listCommandsSQL string

//go:embed sql/set-suspended.sql
var setSuspendedSQL string

//go:embed sql/set-interval.sql
var setIntervalSQL string

//go:embed sql/reset.sql
var resetSQL string

var ErrStationNotFound = errors.New("station not found")

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Station is the durable station row. LastFlag is DerivedFlag of the latest
// measurement; ReportedFlag is its flag as sent, which the rule engine uses.
type Station struct {
	ID              string
	Type            station.Type
	IntervalMinutes float64
	Suspended       bool
	LastValue       *float64
	LastFlag        bool
	ReportedFlag    bool
	LastUpdated     time.Time
}

// MeasurementQuery filters QueryMeasurements. Empty fields do not filter.
type MeasurementQuery struct {
	StationID string
	From      time.Time
	To        time.Time
	Limit     int
}

// Stats summarizes the measurement table.
type Stats struct {
	Measurements int64
	// LastMeasurement is zero when there are no measurements.
	LastMeasurement time.Time
}

type SQLiteStore struct {
	db *sql.DB
}

func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// DerivedFlag is the flag stored for a station row. Lidar stations report
// rain through their value, so any positive reading counts.
func DerivedFlag(m station.Measurement) bool {
	return m.Flag || (m.Type == station.Lidar && m.Value > 0)
}

// Ingest upserts the station row and appends the measurement in a single
// transaction. New stations start with defaultInterval.
func (s *SQLiteStore) Ingest(ctx context.Context, m station.Measurement, defaultInterval float64, now time.Time) (Station, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Station{}, fmt.Errorf("begin ingest: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, upsertStationSQL,
		sql.Named("id", m.StationID),
		sql.Named("type", string(m.Type)),
		sql.Named("interval", defaultInterval),
		sql.Named("value", m.Value),
		sql.Named("flag", DerivedFlag(m)),
		sql.Named("reported", m.Flag),
		sql.Named("updated", formatTime(now)),
	)
	if err != nil {
		return Station{}, fmt.Errorf("upsert station %q: %w", m.StationID, err)
	}

	quality := m.Quality
	if quality == "" {
		quality = "Good"
	}
	_, err = tx.ExecContext(ctx, insertMeasurementSQL,
		m.StationID, formatTime(m.Timestamp), m.Value, m.Aux1, m.Aux2, m.Flag, quality)
	if err != nil {
		return Station{}, fmt.Errorf("insert measurement: %w", err)
	}

	row, err := scanStation(tx.QueryRowContext(ctx, getStationSQL, m.StationID))
	if err != nil {
		return Station{}, err
	}
	if err := tx.Commit(); err != nil {
		return Station{}, fmt.Errorf("commit ingest: %w", err)
	}
	return row, nil
}

// RecordCommand writes the command to the audit log and applies it to the
// matching station rows.
func (s *SQLiteStore) RecordCommand(ctx context.Context, cmd station.Command) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin command: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertCommandSQL,
		cmd.ID, cmd.TargetStationID, string(cmd.TargetType), string(cmd.Action), cmd.NumericValue, formatTime(cmd.IssuedAt))
	if err != nil {
		return fmt.Errorf("insert command %s: %w", cmd.ID, err)
	}

	target := []any{sql.Named("id", cmd.TargetStationID), sql.Named("type", string(cmd.TargetType))}
	switch cmd.Action {
	case station.ActionSuspend, station.ActionResume:
		_, err = tx.ExecContext(ctx, setSuspendedSQL, append(target, sql.Named("suspended", cmd.Action == station.ActionSuspend))...)
	case station.ActionSetInterval:
		_, err = tx.ExecContext(ctx, setIntervalSQL, append(target, sql.Named("interval", cmd.NumericValue))...)
	}
	if err != nil {
		return fmt.Errorf("apply command %s: %w", cmd.ID, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetStation(ctx context.Context, id string) (Station, error) {
	return scanStation(s.db.QueryRowContext(ctx, getStationSQL, id))
}

func (s *SQLiteStore) ListStations(ctx context.Context) ([]Station, error) {
	rows, err := s.db.QueryContext(ctx, listStationsSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close stations rows", "error", err)
		}
	}()
	var out []Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// QueryMeasurements returns measurements newest first, each tagged with its
// station's type.
func (s *SQLiteStore) QueryMeasurements(ctx context.Context, q MeasurementQuery) ([]station.Measurement, error) {
	var from, to string
	if !q.From.IsZero() {
		from = formatTime(q.From)
	}
	if !q.To.IsZero() {
		to = formatTime(q.To)
	}
	rows, err := s.db.QueryContext(ctx, queryMeasurementsSQL,
		sql.Named("station", q.StationID),
		sql.Named("from", from),
		sql.Named("to", to),
		sql.Named("limit", q.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close measurement rows", "error", err)
		}
	}()

	var out []station.Measurement
	for rows.Next() {
		var m station.Measurement
		var typ, ts string
		if err := rows.Scan(&m.StationID, &typ, &ts, &m.Value, &m.Aux1, &m.Aux2, &m.Flag, &m.Quality); err != nil {
			return nil, err
		}
		m.Type = station.Type(typ)
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var last string
	if err := s.db.QueryRowContext(ctx, countMeasurementsSQL).Scan(&st.Measurements, &last); err != nil {
		return Stats{}, err
	}
	if last != "" {
		t, err := parseTime(last)
		if err != nil {
			return Stats{}, err
		}
		st.LastMeasurement = t
	}
	return st, nil
}

// ListCommands returns the most recent audit log entries.
func (s *SQLiteStore) ListCommands(ctx context.Context, limit int) ([]station.Command, error) {
	rows, err := s.db.QueryContext(ctx, listCommandsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close command rows", "error", err)
		}
	}()
	var out []station.Command
	for rows.Next() {
		var c station.Command
		var typ, action, issued string
		if err := rows.Scan(&c.ID, &c.TargetStationID, &typ, &action, &c.NumericValue, &issued); err != nil {
			return nil, err
		}
		c.TargetType = station.Type(typ)
		c.Action = station.Action(action)
		if c.IssuedAt, err = parseTime(issued); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Reset deletes all rows. Used when a simulation starts from scratch.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, resetSQL); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(r rowScanner) (Station, error) {
	var st Station
	var typ, updated string
	var last sql.NullFloat64
	err := r.Scan(&st.ID, &typ, &st.IntervalMinutes, &st.Suspended, &last, &st.LastFlag, &st.ReportedFlag, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Station{}, ErrStationNotFound
	}
	if err != nil {
		return Station{}, err
	}
	st.Type = station.Type(typ)
	if last.Valid {
		v := last.Float64
		st.LastValue = &v
	}
	if st.LastUpdated, err = parseTime(updated); err != nil {
		return Station{}, err
	}
	return st, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t2, nil
	}
	return t, nil
}
