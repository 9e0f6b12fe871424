package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"google.golang.org/grpc"

	"meteomesh/internal/central"
	"meteomesh/internal/clock"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/migrate"
	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

var t0 = time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"foo": "bar"})

	if got := w.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("Code = %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil || got["foo"] != "bar" {
		t.Errorf("body = %v, err = %v", got, err)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "invalid input")

	var got map[string]any
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got["error"] != "Bad Request" || got["message"] != "invalid input" {
		t.Errorf("body = %v", got)
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name   string
		health HealthFunc
		want   int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func(context.Context) error { return nil }, http.StatusOK},
		{"unhealthy", func(context.Context) error { return errors.New("db gone") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewServer("", NewMux(tt.health), quietLogger()).Handler)
			defer srv.Close()
			resp, err := http.Get(srv.URL + "/healthz")
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		query   string
		want    rangeQuery
		wantErr bool
	}{
		{"", rangeQuery{Limit: defaultLimit}, false},
		{"from=2025-08-30T10:00:00Z&limit=5", rangeQuery{From: t0, Limit: 5}, false},
		{"to=2025-08-30T10:00:00Z&limit=1000", rangeQuery{To: t0, Limit: 1000}, false},
		{"limit=0", rangeQuery{}, true},
		{"limit=1001", rangeQuery{}, true},
		{"limit=abc", rangeQuery{}, true},
		{"from=yesterday", rangeQuery{}, true},
		{"from=2025-08-30T10:00:00Z&to=2025-08-30T09:00:00Z", rangeQuery{}, true},
	}
	for _, tt := range tests {
		q, _ := url.ParseQuery(tt.query)
		got, err := parseRange(q)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseRange(%q) error = nil", tt.query)
			}
			continue
		}
		if err != nil || !got.From.Equal(tt.want.From) || !got.To.Equal(tt.want.To) || got.Limit != tt.want.Limit {
			t.Errorf("parseRange(%q) = %+v, %v; want %+v", tt.query, got, err, tt.want)
		}
	}
}

func setupNode(t *testing.T) *httptest.Server {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	if err := migrate.Run(context.Background(), db); err != nil {
		t.Fatal(err)
	}
	st := store.New(db)
	reg := station.NewRegistry()
	for i, m := range []station.Measurement{
		{StationID: "P1", Type: station.Pressure, Timestamp: t0, Value: 945, Quality: "Good"},
		{StationID: "P1", Type: station.Pressure, Timestamp: t0.Add(time.Minute), Value: 944, Quality: "Good"},
		{StationID: "H1", Type: station.Humidity, Timestamp: t0.Add(2 * time.Minute), Value: 60, Quality: "Good"},
	} {
		row, err := st.Ingest(context.Background(), m, 15, t0.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatal(err)
		}
		reg.Upsert(m, row.IntervalMinutes)
	}
	cmd := station.Command{ID: "c1", TargetType: station.Humidity, Action: station.ActionSuspend, IssuedAt: t0}
	reg.ApplyCommand(cmd)
	if err := st.RecordCommand(context.Background(), cmd); err != nil {
		t.Fatal(err)
	}

	mux := NewMux(st.Ping)
	RegisterNodeRoutes(mux, reg, st)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, u string, wantStatus int, v any) {
	t.Helper()
	resp, err := http.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", u, resp.StatusCode, wantStatus)
	}
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", u, err)
		}
	}
}

func TestNodeRoutes(t *testing.T) {
	srv := setupNode(t)

	var stations []stationView
	getJSON(t, srv.URL+"/api/stations", http.StatusOK, &stations)
	if len(stations) != 2 || stations[0].StationID != "H1" || !stations[0].Suspended || stations[1].Suspended {
		t.Errorf("stations = %+v", stations)
	}

	var ms []measurementView
	getJSON(t, srv.URL+"/api/measurements?station=P1&limit=1", http.StatusOK, &ms)
	if len(ms) != 1 || ms[0].Value != 944 {
		t.Errorf("measurements = %+v", ms)
	}
	getJSON(t, srv.URL+"/api/measurements?limit=5000", http.StatusBadRequest, nil)

	var cmds []commandView
	getJSON(t, srv.URL+"/api/commands", http.StatusOK, &cmds)
	if len(cmds) != 1 || cmds[0].Action != "Suspend" {
		t.Errorf("commands = %+v", cmds)
	}

	var health map[string]any
	getJSON(t, srv.URL+"/api/health", http.StatusOK, &health)
	if health["measurements"] != float64(3) || health["suspended_stations"] != float64(1) {
		t.Errorf("health = %v", health)
	}

	getJSON(t, srv.URL+"/healthz", http.StatusOK, nil)
}

type unreachable struct{}

func (unreachable) Close() error { return nil }

func (unreachable) QueryMeasurements(context.Context, *meshpb.QueryMeasurementsRequest, ...grpc.CallOption) (*meshpb.QueryMeasurementsResponse, error) {
	return nil, errors.New("unreachable")
}

func (unreachable) GetStations(context.Context, *meshpb.GetStationsRequest, ...grpc.CallOption) (*meshpb.GetStationsResponse, error) {
	return nil, errors.New("unreachable")
}

func (unreachable) GetHealthStatus(context.Context, *meshpb.HealthStatusRequest, ...grpc.CallOption) (*meshpb.HealthStatusResponse, error) {
	return nil, errors.New("unreachable")
}

func TestCentralRoutes(t *testing.T) {
	m := central.NewManager(clock.NewManual(t0), 5*time.Minute, quietLogger())
	m.RegisterNode(central.Registration{ID: "NODE_1", Name: "One", URL: "http://n1"})
	m.UpdateNodeStations("NODE_1", []central.Station{{StationID: "T1", Type: "Temperature", IsActive: true}})
	ds := central.NewDataService(m, quietLogger(), central.WithDialer(func(string) (meshpb.LocalNodeDataClient, io.Closer, error) {
		return unreachable{}, unreachable{}, nil
	}))
	defer ds.Close()

	mux := NewMux(nil)
	RegisterCentralRoutes(mux, m, ds)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var nodes struct {
		Nodes       []nodeView `json:"nodes"`
		OnlineNodes int        `json:"online_nodes"`
	}
	getJSON(t, srv.URL+"/api/nodes", http.StatusOK, &nodes)
	if len(nodes.Nodes) != 1 || nodes.Nodes[0].Stations != 1 || nodes.OnlineNodes != 1 {
		t.Errorf("nodes = %+v", nodes)
	}

	var stations []remoteStationView
	getJSON(t, srv.URL+"/api/nodes/NODE_1/stations", http.StatusOK, &stations)
	if len(stations) != 1 || stations[0].NodeID != "NODE_1" {
		t.Errorf("stations = %+v", stations)
	}
	getJSON(t, srv.URL+"/api/nodes/NODE_9/stations", http.StatusNotFound, nil)
	getJSON(t, srv.URL+"/api/stations", http.StatusOK, &stations)

	var ms []remoteMeasurementView
	getJSON(t, srv.URL+"/api/measurements", http.StatusOK, &ms)
	if len(ms) != 0 {
		t.Errorf("measurements = %+v", ms)
	}
	getJSON(t, srv.URL+"/api/measurements?node=NODE_1", http.StatusBadGateway, nil)
	getJSON(t, srv.URL+"/api/measurements?node=NODE_9", http.StatusNotFound, nil)
}
