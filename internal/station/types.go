package station

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Type string

const (
	Temperature Type = "Temperature"
	Humidity    Type = "Humidity"
	Pressure    Type = "Pressure"
	Lidar       Type = "Lidar"
	Wind        Type = "Wind"
)

var knownTypes = []Type{Temperature, Humidity, Pressure, Lidar, Wind}

var ErrUnknownType = errors.New("unknown station type")

// ParseType matches s against the known station types, ignoring case.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	for _, t := range knownTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Is compares station types case-insensitively.
func (t Type) Is(other Type) bool {
	return strings.EqualFold(string(t), string(other))
}

// Measurement is one reading submitted by a station.
type Measurement struct {
	StationID string
	Type      Type
	Timestamp time.Time
	Value     float64
	// Aux1 and Aux2 carry type-specific extras, e.g. visibility for Lidar.
	Aux1    float64
	Aux2    float64
	Flag    bool
	Quality string
}

// State is the last known state of a station. Values stored in the registry
// are never mutated in place.
type State struct {
	ID              string
	Type            Type
	LastValue       *float64
	Flag            bool
	LastTimestamp   time.Time
	IntervalMinutes float64
	Suspended       bool
}

type Action string

const (
	ActionSuspend     Action = "Suspend"
	ActionResume      Action = "Resume"
	ActionSetInterval Action = "SetInterval"
)

// Command is a control instruction for one station, or for every station of
// TargetType when TargetStationID is empty.
type Command struct {
	ID              string
	TargetStationID string
	TargetType      Type
	Action          Action
	NumericValue    float64
	IssuedAt        time.Time
}

// Matches reports whether the command is addressed to the given station.
func (c Command) Matches(stationID string, t Type) bool {
	if c.TargetStationID != "" {
		return c.TargetStationID == stationID
	}
	return c.TargetType != "" && c.TargetType.Is(t)
}

// Apply returns s with the command's effect applied.
func (s State) Apply(cmd Command) State {
	switch cmd.Action {
	case ActionSuspend:
		s.Suspended = true
	case ActionResume:
		s.Suspended = false
	case ActionSetInterval:
		s.IntervalMinutes = cmd.NumericValue
	}
	return s
}
