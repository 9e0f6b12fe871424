// Package rules derives control commands from the current station state.
package rules

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"meteomesh/internal/clock"
	"meteomesh/internal/metrics"
	"meteomesh/internal/station"
)

const (
	PressureHighThreshold = 950.0
	IntervalPressureHigh  = 7.5
	IntervalNormal        = 15.0
	intervalEpsilon       = 0.01

	DefaultTick = 10 * time.Second
)

// Publisher receives every issued command for delivery to stations.
type Publisher interface {
	Publish(cmd station.Command)
}

// Recorder persists issued commands. Failures are logged, never retried.
type Recorder interface {
	RecordCommand(ctx context.Context, cmd station.Command) error
}

// Mirror forwards issued commands to an additional best-effort channel.
type Mirror interface {
	PublishCommand(ctx context.Context, cmd station.Command) error
}

type Engine struct {
	registry  *station.Registry
	publisher Publisher
	recorder  Recorder
	mirror    Mirror
	clock     clock.Clock
	tick      time.Duration
	logger    *slog.Logger
	newID     func() string
}

type Option func(*Engine)

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithMirror(m Mirror) Option { return func(e *Engine) { e.mirror = m } }

// WithTick sets the evaluation period in simulated time.
func WithTick(d time.Duration) Option { return func(e *Engine) { e.tick = d } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func NewEngine(registry *station.Registry, publisher Publisher, c clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		registry:  registry,
		publisher: publisher,
		clock:     c,
		tick:      DefaultTick,
		logger:    slog.Default(),
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "rules")
	return e
}

// Run evaluates the rules on every tick until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	period := clock.RealInterval(e.clock, e.tick)
	e.logger.Info("rule engine started", "tick", e.tick, "real_tick", period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("rule engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.safeEvaluate(ctx)
		}
	}
}

func (e *Engine) safeEvaluate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule evaluation panicked", "panic", r)
		}
	}()
	e.Evaluate(ctx)
}

// Evaluate runs one pass over the registry and emits the resulting commands.
func (e *Engine) Evaluate(ctx context.Context) []station.Command {
	cmds := Decide(e.registry.All())
	now := e.clock.Now()
	for i := range cmds {
		cmds[i].ID = e.newID()
		cmds[i].IssuedAt = now
		e.emit(ctx, cmds[i])
	}
	return cmds
}

// Decide returns the commands needed to bring stations in line with the
// rules. Humidity stations are suspended while any Lidar station reports
// rain; Temperature stations measure faster while any Pressure station reads
// above the threshold. Only changes produce commands.
func Decide(states []station.State) []station.Command {
	var lidarRain, pressureHigh bool
	for _, s := range states {
		switch s.Type {
		case station.Lidar:
			lidarRain = lidarRain || s.Flag
		case station.Pressure:
			if s.LastValue != nil && *s.LastValue > PressureHighThreshold {
				pressureHigh = true
			}
		}
	}

	desiredInterval := IntervalNormal
	if pressureHigh {
		desiredInterval = IntervalPressureHigh
	}

	var out []station.Command
	for _, s := range states {
		switch s.Type {
		case station.Humidity:
			if lidarRain && !s.Suspended {
				out = append(out, station.Command{TargetStationID: s.ID, Action: station.ActionSuspend})
			} else if !lidarRain && s.Suspended {
				out = append(out, station.Command{TargetStationID: s.ID, Action: station.ActionResume})
			}
		case station.Temperature:
			if math.Abs(s.IntervalMinutes-desiredInterval) > intervalEpsilon {
				out = append(out, station.Command{TargetStationID: s.ID, Action: station.ActionSetInterval, NumericValue: desiredInterval})
			}
		}
	}
	return out
}

// emit applies the command in memory first so the next tick sees it, then
// hands it to delivery, then persists.
func (e *Engine) emit(ctx context.Context, cmd station.Command) {
	e.registry.ApplyCommand(cmd)
	e.publisher.Publish(cmd)
	metrics.CommandsIssued.WithLabelValues(string(cmd.Action)).Inc()

	e.logger.Info("command issued",
		"command_id", cmd.ID,
		"station_id", cmd.TargetStationID,
		"target_type", cmd.TargetType,
		"action", cmd.Action,
		"value", cmd.NumericValue,
	)

	if e.recorder != nil {
		if err := e.recorder.RecordCommand(ctx, cmd); err != nil {
			metrics.PersistenceFailures.WithLabelValues("command").Inc()
			e.logger.Warn("persist command failed", "command_id", cmd.ID, "error", err)
		}
	}
	if e.mirror != nil {
		if err := e.mirror.PublishCommand(ctx, cmd); err != nil {
			e.logger.Warn("mirror command failed", "command_id", cmd.ID, "error", err)
		}
	}
}
