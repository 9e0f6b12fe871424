package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"meteomesh/internal/station"
)

// Telemetry is the JSON body stations publish to stations/<id>/telemetry.
type Telemetry struct {
	StationID string    `json:"station_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Aux1      float64   `json:"aux1"`
	Aux2      float64   `json:"aux2"`
	Flag      bool      `json:"flag"`
	Quality   string    `json:"quality"`
}

type commandPayload struct {
	CommandID       string  `json:"command_id"`
	TargetStationID string  `json:"target_station_id,omitempty"`
	TargetType      string  `json:"target_type,omitempty"`
	Action          string  `json:"action"`
	NumericValue    float64 `json:"numeric_value"`
	IssuedAt        string  `json:"issued_at"`
}

// ParseTelemetry decodes a telemetry message. The station id defaults to
// the topic segment before "/telemetry"; type validation is left to ingress.
func ParseTelemetry(topic string, payload []byte) (station.Measurement, error) {
	var t Telemetry
	if err := json.Unmarshal(payload, &t); err != nil {
		return station.Measurement{}, fmt.Errorf("decode telemetry: %w", err)
	}
	if t.StationID == "" {
		t.StationID = stationFromTopic(topic)
	}
	if t.StationID == "" {
		return station.Measurement{}, fmt.Errorf("station_id is required")
	}
	if t.Type == "" {
		return station.Measurement{}, fmt.Errorf("type is required")
	}
	return station.Measurement{
		StationID: t.StationID,
		Type:      station.Type(t.Type),
		Timestamp: t.Timestamp.UTC(),
		Value:     t.Value,
		Aux1:      t.Aux1,
		Aux2:      t.Aux2,
		Flag:      t.Flag,
		Quality:   t.Quality,
	}, nil
}

func stationFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[len(parts)-1] == "telemetry" {
		return parts[len(parts)-2]
	}
	return ""
}

// CommandTopic is <prefix>/<station id>/commands, or
// <prefix>/type/<type>/commands for broadcasts.
func CommandTopic(prefix string, cmd station.Command) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if cmd.TargetStationID != "" {
		return prefix + "/" + cmd.TargetStationID + "/commands"
	}
	return prefix + "/type/" + strings.ToLower(string(cmd.TargetType)) + "/commands"
}

func EncodeCommand(cmd station.Command) ([]byte, error) {
	b, err := json.Marshal(commandPayload{
		CommandID:       cmd.ID,
		TargetStationID: cmd.TargetStationID,
		TargetType:      string(cmd.TargetType),
		Action:          string(cmd.Action),
		NumericValue:    cmd.NumericValue,
		IssuedAt:        cmd.IssuedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("encode command %s: %w", cmd.ID, err)
	}
	return b, nil
}
