package meshpb

// Timestamps on the wire are Unix seconds; 0 means unset.

type RegisterNodeRequest struct {
	NodeID       string   `json:"nodeId"`
	NodeName     string   `json:"nodeName"`
	NodeURL      string   `json:"nodeUrl"`
	Location     string   `json:"location,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	StartupTime  int64    `json:"startupTime"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type RegisterNodeResponse struct {
	Success                  bool   `json:"success"`
	Message                  string `json:"message"`
	AssignedNodeID           string `json:"assignedNodeId"`
	HeartbeatIntervalSeconds int32  `json:"heartbeatIntervalSeconds"`
}

type NodeStatus struct {
	IsHealthy         bool    `json:"isHealthy"`
	CPUUsage          float64 `json:"cpuUsage"`
	MemoryUsage       float64 `json:"memoryUsage"`
	ActiveConnections int32   `json:"activeConnections"`
	LastDataReceived  int64   `json:"lastDataReceived"`
	TotalMeasurements int64   `json:"totalMeasurements"`
}

type StationSummary struct {
	StationID       string  `json:"stationId"`
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	IsActive        bool    `json:"isActive"`
	LastMeasurement int64   `json:"lastMeasurement"`
	LastValue       float64 `json:"lastValue"`
	Quality         string  `json:"quality"`
}

type HeartbeatRequest struct {
	NodeID   string           `json:"nodeId"`
	Status   NodeStatus       `json:"status"`
	Stations []StationSummary `json:"stations,omitempty"`
}

type HeartbeatResponse struct {
	Acknowledged         bool  `json:"acknowledged"`
	NextHeartbeatSeconds int32 `json:"nextHeartbeatSeconds"`
}

type NodeDataRequest struct {
	NodeID        string `json:"nodeId,omitempty"`
	StationID     string `json:"stationId,omitempty"`
	FromTimestamp int64  `json:"fromTimestamp"`
	ToTimestamp   int64  `json:"toTimestamp"`
	MaxRecords    int32  `json:"maxRecords"`
}

// MeasurementData is one measurement projected into per-quantity columns.
type MeasurementData struct {
	NodeID                 string  `json:"nodeId"`
	StationID              string  `json:"stationId"`
	Timestamp              int64   `json:"timestamp"`
	Temperature            float64 `json:"temperature"`
	Humidity               float64 `json:"humidity"`
	AirPressure            float64 `json:"airPressure"`
	PrecipitationIntensity float64 `json:"precipitationIntensity"`
	Quality                string  `json:"quality"`
}

// StationData groups the measurements of one station.
type StationData struct {
	NodeID       string            `json:"nodeId"`
	StationID    string            `json:"stationId"`
	Measurements []MeasurementData `json:"measurements"`
}

type NodeDataResponse struct {
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
	TotalRecords int32         `json:"totalRecords"`
	Stations     []StationData `json:"stations,omitempty"`
}

type SubmitMeasurementRequest struct {
	StationID     string  `json:"stationId"`
	StationType   string  `json:"stationType"`
	TimestampUnix int64   `json:"timestampUnix"`
	Value         float64 `json:"value"`
	Aux1          float64 `json:"aux1"`
	Aux2          float64 `json:"aux2"`
	Flag          bool    `json:"flag"`
	Quality       string  `json:"quality"`
}

type SubmitMeasurementResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type StreamCommandsRequest struct {
	StationID   string `json:"stationId"`
	StationType string `json:"stationType"`
}

type ControlCommand struct {
	CommandID       string  `json:"commandId"`
	TargetStationID string  `json:"targetStationId,omitempty"`
	TargetType      string  `json:"targetType,omitempty"`
	Action          string  `json:"action"`
	NumericValue    float64 `json:"numericValue"`
	IssuedUnix      int64   `json:"issuedUnix"`
}

type QueryMeasurementsRequest struct {
	StationID     string `json:"stationId,omitempty"`
	FromTimestamp int64  `json:"fromTimestamp"`
	ToTimestamp   int64  `json:"toTimestamp"`
	MaxRecords    int32  `json:"maxRecords"`
}

type MeasurementRecord struct {
	Timestamp              int64   `json:"timestamp"`
	StationID              string  `json:"stationId"`
	StationType            string  `json:"stationType"`
	Value                  float64 `json:"value"`
	Aux1                   float64 `json:"aux1"`
	Aux2                   float64 `json:"aux2"`
	Quality                string  `json:"quality"`
	PrecipitationIntensity float64 `json:"precipitationIntensity"`
}

type QueryMeasurementsResponse struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	TotalCount int32               `json:"totalCount"`
	Records    []MeasurementRecord `json:"records,omitempty"`
}

type GetStationsRequest struct{}

type StationInfo struct {
	StationID   string  `json:"stationId"`
	StationType string  `json:"stationType"`
	IsActive    bool    `json:"isActive"`
	LastUpdate  int64   `json:"lastUpdate"`
	LastValue   float64 `json:"lastValue"`
	Quality     string  `json:"quality"`
}

type GetStationsResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Stations []StationInfo `json:"stations,omitempty"`
}

type HealthStatusRequest struct{}

type HealthStatusResponse struct {
	IsHealthy           bool   `json:"isHealthy"`
	StationCount        int32  `json:"stationCount"`
	MeasurementCount    int64  `json:"measurementCount"`
	LastMeasurementTime int64  `json:"lastMeasurementTime"`
	StatusMessage       string `json:"statusMessage"`
}
