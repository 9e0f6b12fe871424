package node

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meteomesh/internal/clock"
	"meteomesh/internal/delivery"
	"meteomesh/internal/meshpb"
	"meteomesh/internal/metrics"
	"meteomesh/internal/station"
)

const DefaultPollInterval = time.Second

// Control streams pending commands to connected stations.
type Control struct {
	registry *station.Registry
	queue    delivery.Queue
	clock    clock.Clock
	poll     time.Duration
	logger   *slog.Logger
	open     atomic.Int32
}

func NewControl(registry *station.Registry, queue delivery.Queue, c clock.Clock, poll time.Duration, logger *slog.Logger) *Control {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Control{
		registry: registry,
		queue:    queue,
		clock:    c,
		poll:     poll,
		logger:   logger.With("component", "control"),
	}
}

// ActiveStreams is the number of currently open command streams.
func (c *Control) ActiveStreams() int32 {
	return c.open.Load()
}

// StreamCommands implements meshpb.StationControlServer. A station that is
// suspended when it connects gets a Suspend command straight away.
func (c *Control) StreamCommands(req *meshpb.StreamCommandsRequest, stream grpc.ServerStreamingServer[meshpb.ControlCommand]) error {
	if req.StationID == "" {
		return status.Error(codes.InvalidArgument, "station id is required")
	}
	typ, err := station.ParseType(req.StationType)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx := stream.Context()
	logger := c.logger.With("station_id", req.StationID)

	c.open.Add(1)
	metrics.CommandStreams.Inc()
	defer func() {
		c.open.Add(-1)
		metrics.CommandStreams.Dec()
	}()

	sub := c.queue.Subscribe(req.StationID, typ)
	defer sub.Close()
	logger.Info("command stream opened", "type", typ)

	// toldSuspended tracks what this stream last told the station, so a
	// retained Suspend is not repeated after the initial one.
	toldSuspended := false
	if st, ok := c.registry.TryGet(req.StationID); ok && st.Suspended {
		initial := station.Command{
			ID:              uuid.NewString(),
			TargetStationID: req.StationID,
			Action:          station.ActionSuspend,
			IssuedAt:        c.clock.Now(),
		}
		if err := c.send(stream, initial); err != nil {
			return err
		}
		toldSuspended = true
	}

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("command stream closed")
			return nil
		case <-ticker.C:
		case <-sub.Ready():
		}
		for _, cmd := range sub.Pending() {
			switch cmd.Action {
			case station.ActionSuspend:
				if toldSuspended {
					logger.Debug("station already suspended, skipping", "command_id", cmd.ID)
					continue
				}
				toldSuspended = true
			case station.ActionResume:
				toldSuspended = false
			}
			if err := c.send(stream, cmd); err != nil {
				logger.Warn("command send failed", "command_id", cmd.ID, "error", err)
				return err
			}
		}
	}
}

func (c *Control) send(stream grpc.ServerStreamingServer[meshpb.ControlCommand], cmd station.Command) error {
	if err := stream.Send(ToWire(cmd)); err != nil {
		return err
	}
	metrics.CommandsDelivered.Inc()
	c.logger.Debug("command delivered", "command_id", cmd.ID, "station_id", cmd.TargetStationID, "action", cmd.Action)
	return nil
}

func ToWire(cmd station.Command) *meshpb.ControlCommand {
	return &meshpb.ControlCommand{
		CommandID:       cmd.ID,
		TargetStationID: cmd.TargetStationID,
		TargetType:      string(cmd.TargetType),
		Action:          string(cmd.Action),
		NumericValue:    cmd.NumericValue,
		IssuedUnix:      cmd.IssuedAt.Unix(),
	}
}
