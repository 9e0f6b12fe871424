package node

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"meteomesh/internal/clock"
	"meteomesh/internal/config"
	"meteomesh/internal/delivery"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/migrate"
	"meteomesh/internal/rules"
	"meteomesh/internal/station"
	"meteomesh/internal/store"
)

var t0 = time.Date(2025, 8, 30, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrate.Run(context.Background(), db))
	return store.New(db)
}

func dial(t *testing.T, register func(*grpc.Server)) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestIngress_acceptUpdatesStoreAndRegistry(t *testing.T) {
	st := setupStore(t)
	reg := station.NewRegistry()
	in := NewIngress(reg, st, clock.NewManual(t0), 15, quietLogger())
	ctx := context.Background()

	err := in.Accept(ctx, station.Measurement{StationID: "P1", Type: "pressure", Value: 940}, "test")
	require.NoError(t, err)

	s, ok := reg.TryGet("P1")
	require.True(t, ok)
	assert.Equal(t, station.Pressure, s.Type)
	assert.Equal(t, 15.0, s.IntervalMinutes)
	require.NotNil(t, s.LastValue)
	assert.Equal(t, 940.0, *s.LastValue)
	assert.True(t, s.LastTimestamp.Equal(t0), "missing timestamp defaults to clock time")

	row, err := st.GetStation(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, station.Pressure, row.Type)
}

func TestIngress_rejectsInvalid(t *testing.T) {
	st := setupStore(t)
	reg := station.NewRegistry()
	in := NewIngress(reg, st, clock.NewManual(t0), 15, quietLogger())

	tests := []struct {
		name string
		m    station.Measurement
	}{
		{"empty id", station.Measurement{Type: station.Humidity}},
		{"unknown type", station.Measurement{StationID: "X1", Type: "Radar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := in.Accept(context.Background(), tt.m, "test")
			assert.ErrorIs(t, err, ErrInvalidMeasurement)
		})
	}
	assert.Equal(t, 0, reg.Len())
}

type failingStore struct{}

func (failingStore) Ingest(context.Context, station.Measurement, float64, time.Time) (store.Station, error) {
	return store.Station{}, errors.New("disk full")
}

func TestIngress_durableFailureLeavesRegistryUntouched(t *testing.T) {
	reg := station.NewRegistry()
	in := NewIngress(reg, failingStore{}, clock.NewManual(t0), 15, quietLogger())

	conn := dial(t, func(s *grpc.Server) { meshpb.RegisterStationIngressServer(s, in) })
	resp, err := meshpb.NewStationIngressClient(conn).SubmitMeasurement(context.Background(), &meshpb.SubmitMeasurementRequest{
		StationID: "T1", StationType: "Temperature", Value: 20,
	})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "disk full")
	assert.Equal(t, 0, reg.Len())
}

func TestSubmitMeasurement_overGRPC(t *testing.T) {
	st := setupStore(t)
	reg := station.NewRegistry()
	in := NewIngress(reg, st, clock.NewManual(t0), 15, quietLogger())
	conn := dial(t, func(s *grpc.Server) { meshpb.RegisterStationIngressServer(s, in) })
	client := meshpb.NewStationIngressClient(conn)

	resp, err := client.SubmitMeasurement(context.Background(), &meshpb.SubmitMeasurementRequest{
		StationID: "L1", StationType: "LIDAR", TimestampUnix: t0.Unix(), Value: 2.5, Aux1: 800,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success, resp.Message)

	resp, err = client.SubmitMeasurement(context.Background(), &meshpb.SubmitMeasurementRequest{StationID: "L2", StationType: "sonar"})
	require.NoError(t, err)
	assert.False(t, resp.Success)

	s, ok := reg.TryGet("L1")
	require.True(t, ok)
	assert.Equal(t, station.Lidar, s.Type)
}

func streamClient(t *testing.T, ctl *Control) meshpb.StationControlClient {
	conn := dial(t, func(s *grpc.Server) { meshpb.RegisterStationControlServer(s, ctl) })
	return meshpb.NewStationControlClient(conn)
}

func TestStreamCommands_deliversPublishedCommand(t *testing.T) {
	reg := station.NewRegistry()
	q := delivery.NewMailbox(0)
	ctl := NewControl(reg, q, clock.NewManual(t0), time.Hour, quietLogger())
	client := streamClient(t, ctl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamCommands(ctx, &meshpb.StreamCommandsRequest{StationID: "H1", StationType: "Humidity"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ctl.ActiveStreams() == 1 }, 2*time.Second, 10*time.Millisecond)
	q.Publish(station.Command{ID: "c1", TargetType: station.Humidity, Action: station.ActionSetInterval, NumericValue: 7.5, IssuedAt: t0})

	cmd, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "c1", cmd.CommandID)
	assert.Equal(t, "SetInterval", cmd.Action)
	assert.Equal(t, 7.5, cmd.NumericValue)
}

func TestStreamCommands_suspendedStationGetsInitialSuspend(t *testing.T) {
	reg := station.NewRegistry()
	reg.Upsert(station.Measurement{StationID: "T1", Type: station.Temperature, Timestamp: t0}, 15)
	reg.ApplyCommand(station.Command{TargetStationID: "T1", Action: station.ActionSuspend})

	ctl := NewControl(reg, delivery.NewMailbox(0), clock.NewManual(t0), time.Hour, quietLogger())
	client := streamClient(t, ctl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamCommands(ctx, &meshpb.StreamCommandsRequest{StationID: "T1", StationType: "Temperature"})
	require.NoError(t, err)

	cmd, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Suspend", cmd.Action)
	assert.Equal(t, "T1", cmd.TargetStationID)
	assert.NotEmpty(t, cmd.CommandID)
}

func TestStreamCommands_initialSuspendNotRepeated(t *testing.T) {
	reg := station.NewRegistry()
	reg.Upsert(station.Measurement{StationID: "H1", Type: station.Humidity, Timestamp: t0}, 15)
	suspend := station.Command{ID: "s1", TargetType: station.Humidity, Action: station.ActionSuspend, IssuedAt: t0}
	reg.ApplyCommand(suspend)
	q := delivery.NewMailbox(0)
	q.Publish(suspend)

	ctl := NewControl(reg, q, clock.NewManual(t0), 20*time.Millisecond, quietLogger())
	client := streamClient(t, ctl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamCommands(ctx, &meshpb.StreamCommandsRequest{StationID: "H1", StationType: "Humidity"})
	require.NoError(t, err)

	cmd, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "Suspend", cmd.Action)

	// Let a few polls drain the retained s1 before anything new arrives.
	time.Sleep(100 * time.Millisecond)
	q.Publish(station.Command{ID: "r1", TargetStationID: "H1", Action: station.ActionResume, IssuedAt: t0})
	q.Publish(station.Command{ID: "s2", TargetStationID: "H1", Action: station.ActionSuspend, IssuedAt: t0})

	var got []string
	for len(got) < 2 {
		cmd, err := stream.Recv()
		require.NoError(t, err)
		got = append(got, cmd.CommandID)
	}
	assert.Equal(t, []string{"r1", "s2"}, got)
}

func TestStreamCommands_invalidRequest(t *testing.T) {
	ctl := NewControl(station.NewRegistry(), delivery.NewMailbox(0), clock.NewManual(t0), 0, quietLogger())
	client := streamClient(t, ctl)

	for _, req := range []*meshpb.StreamCommandsRequest{
		{StationType: "Temperature"},
		{StationID: "T1", StationType: "Sonar"},
	} {
		stream, err := client.StreamCommands(context.Background(), req)
		require.NoError(t, err)
		_, err = stream.Recv()
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	}
}

func TestStreamCommands_sharedQueuePolls(t *testing.T) {
	reg := station.NewRegistry()
	q := delivery.NewSharedQueue()
	ctl := NewControl(reg, q, clock.NewManual(t0), 20*time.Millisecond, quietLogger())
	client := streamClient(t, ctl)

	q.Publish(station.Command{ID: "c9", TargetStationID: "P1", Action: station.ActionResume, IssuedAt: t0})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamCommands(ctx, &meshpb.StreamCommandsRequest{StationID: "P1", StationType: "Pressure"})
	require.NoError(t, err)
	cmd, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "c9", cmd.CommandID)
}

func seedData(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	for i, m := range []station.Measurement{
		{StationID: "T1", Type: station.Temperature, Timestamp: t0, Value: 20, Quality: "Good"},
		{StationID: "L1", Type: station.Lidar, Timestamp: t0.Add(time.Minute), Value: 3.5, Aux1: 500, Quality: "Good"},
		{StationID: "T1", Type: station.Temperature, Timestamp: t0.Add(2 * time.Minute), Value: 21, Quality: "Good"},
	} {
		_, err := st.Ingest(ctx, m, 15, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
}

func TestData_queryMeasurements(t *testing.T) {
	st := setupStore(t)
	seedData(t, st)
	d := NewData(st, quietLogger())

	resp, err := d.QueryMeasurements(context.Background(), &meshpb.QueryMeasurementsRequest{})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Len(t, resp.Records, 3)
	assert.Equal(t, int32(3), resp.TotalCount)
	assert.Equal(t, 21.0, resp.Records[0].Value, "newest first")
	assert.Equal(t, 3.5, resp.Records[1].PrecipitationIntensity)
	assert.Zero(t, resp.Records[0].PrecipitationIntensity)

	resp, err = d.QueryMeasurements(context.Background(), &meshpb.QueryMeasurementsRequest{StationID: "T1", MaxRecords: 1})
	require.NoError(t, err)
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "T1", resp.Records[0].StationID)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxRecords, ClampLimit(0))
	assert.Equal(t, DefaultMaxRecords, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxRecordsLimit, ClampLimit(5000))
}

func TestData_stationsAndHealth(t *testing.T) {
	st := setupStore(t)
	seedData(t, st)
	require.NoError(t, st.RecordCommand(context.Background(), station.Command{ID: "s1", TargetStationID: "L1", Action: station.ActionSuspend, IssuedAt: t0}))
	d := NewData(st, quietLogger())

	resp, err := d.GetStations(context.Background(), &meshpb.GetStationsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Stations, 2)
	active := map[string]bool{}
	for _, s := range resp.Stations {
		active[s.StationID] = s.IsActive
	}
	assert.Equal(t, map[string]bool{"L1": false, "T1": true}, active)

	health, err := d.GetHealthStatus(context.Background(), &meshpb.HealthStatusRequest{})
	require.NoError(t, err)
	assert.True(t, health.IsHealthy)
	assert.Equal(t, int32(2), health.StationCount)
	assert.Equal(t, int64(3), health.MeasurementCount)
	assert.Equal(t, t0.Add(2*time.Minute).Unix(), health.LastMeasurementTime)
}

type fakeCentral struct {
	mu         sync.Mutex
	registers  []*meshpb.RegisterNodeRequest
	heartbeats []*meshpb.HeartbeatRequest
	failFirst  bool
}

func (f *fakeCentral) RegisterLocalNode(_ context.Context, in *meshpb.RegisterNodeRequest, _ ...grpc.CallOption) (*meshpb.RegisterNodeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers = append(f.registers, in)
	if f.failFirst && len(f.registers) == 1 {
		return nil, status.Error(codes.Unavailable, "down")
	}
	return &meshpb.RegisterNodeResponse{Success: true, AssignedNodeID: in.NodeID, HeartbeatIntervalSeconds: 120}, nil
}

func (f *fakeCentral) SendHeartbeat(_ context.Context, in *meshpb.HeartbeatRequest, _ ...grpc.CallOption) (*meshpb.HeartbeatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats = append(f.heartbeats, in)
	return &meshpb.HeartbeatResponse{Acknowledged: true, NextHeartbeatSeconds: 120}, nil
}

func (f *fakeCentral) GetNodeData(context.Context, *meshpb.NodeDataRequest, ...grpc.CallOption) (*meshpb.NodeDataResponse, error) {
	return &meshpb.NodeDataResponse{}, nil
}

func (f *fakeCentral) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registers), len(f.heartbeats)
}

func nodeConfig() config.Node {
	lat := 50.06
	return config.Node{
		NodeID:            "7",
		Name:              "Krakow",
		PublicURL:         "http://node7:5001",
		CentralURL:        "http://central:5000",
		Latitude:          &lat,
		HeartbeatInterval: 120 * time.Second,
	}
}

func TestRegistration_noCentralIsNoop(t *testing.T) {
	cfg := nodeConfig()
	cfg.CentralURL = ""
	r := NewRegistration(cfg, setupStore(t), clock.NewManual(t0), quietLogger())
	require.NoError(t, r.Run(context.Background()))
	assert.False(t, r.Registered())
}

func TestRegistration_registersThenHeartbeats(t *testing.T) {
	st := setupStore(t)
	seedData(t, st)
	central := &fakeCentral{}

	// 120s of simulated time at 1200x is 100ms real.
	c := clock.NewManual(t0)
	c.SetSpeed(1200)
	r := NewRegistration(nodeConfig(), st, c, quietLogger(),
		WithCentralClient(central),
		WithActiveStreams(func() int32 { return 3 }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, hb := central.counts()
		return hb >= 1
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	central.mu.Lock()
	defer central.mu.Unlock()
	reg := central.registers[0]
	assert.Equal(t, "NODE_7", reg.NodeID)
	assert.Equal(t, "http://node7:5001", reg.NodeURL)
	assert.Equal(t, Capabilities, reg.Capabilities)
	require.NotNil(t, reg.Latitude)
	assert.Nil(t, reg.Longitude)

	hb := central.heartbeats[0]
	assert.Equal(t, "NODE_7", hb.NodeID)
	assert.Equal(t, int32(3), hb.Status.ActiveConnections)
	assert.Equal(t, int64(3), hb.Status.TotalMeasurements)
	assert.Len(t, hb.Stations, 2)
}

func TestRegistration_retriesOnNextTick(t *testing.T) {
	central := &fakeCentral{failFirst: true}
	c := clock.NewManual(t0)
	c.SetSpeed(1200)
	r := NewRegistration(nodeConfig(), setupStore(t), c, quietLogger(), WithCentralClient(central))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, r.Registered, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	regs, _ := central.counts()
	assert.GreaterOrEqual(t, regs, 2)
}

func TestRestoreRegistry(t *testing.T) {
	st := setupStore(t)
	seedData(t, st)
	require.NoError(t, st.RecordCommand(context.Background(), station.Command{ID: "i1", TargetType: station.Lidar, Action: station.ActionSetInterval, NumericValue: 7.5, IssuedAt: t0}))

	reg := station.NewRegistry()
	n, err := RestoreRegistry(context.Background(), reg, st)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	l1, ok := reg.TryGet("L1")
	require.True(t, ok)
	assert.Equal(t, 7.5, l1.IntervalMinutes)
	assert.False(t, l1.Flag, "registry keeps the flag as sent")
}

func TestRestoreRegistry_sameRuleOutcome(t *testing.T) {
	tests := []struct {
		name      string
		lidarFlag bool
	}{
		{"dry lidar with positive value", false},
		{"raining lidar", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := setupStore(t)
			live := station.NewRegistry()
			in := NewIngress(live, st, clock.NewManual(t0), 15, quietLogger())
			ctx := context.Background()

			require.NoError(t, in.Accept(ctx, station.Measurement{StationID: "L1", Type: station.Lidar, Timestamp: t0, Value: 1.25, Flag: tt.lidarFlag}, "grpc"))
			require.NoError(t, in.Accept(ctx, station.Measurement{StationID: "H1", Type: station.Humidity, Timestamp: t0, Value: 60}, "grpc"))

			restored := station.NewRegistry()
			_, err := RestoreRegistry(ctx, restored, st)
			require.NoError(t, err)

			assert.Equal(t, rules.Decide(live.All()), rules.Decide(restored.All()))
		})
	}
}
