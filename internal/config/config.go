package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Base is shared by the node and central processes.
type Base struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string
	GRPCAddr string

	// TLSCertFile and TLSKeyFile enable TLS on the gRPC listener when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

type Simulation struct {
	Enabled   bool
	StartTime time.Time
	Speed     float64
	// ResetDB clears the node's tables on startup while simulating.
	ResetDB bool
}

type DB struct {
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool
}

// MQTT is optional; an empty Broker disables it.
type MQTT struct {
	Broker             string
	Port               int
	ClientID           string
	TelemetryTopic     string
	CommandTopicPrefix string
}

func (m MQTT) Enabled() bool { return m.Broker != "" }

type Node struct {
	Base
	Simulation Simulation
	DB         DB
	MQTT       MQTT

	NodeID    string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
	// PublicURL is the address the central server uses to reach this node.
	PublicURL string
	// CentralURL empty disables registration and heartbeats.
	CentralURL string

	RuleTick               time.Duration
	HeartbeatInterval      time.Duration
	DeliveryMode           string
	DeliveryPoll           time.Duration
	DefaultIntervalMinutes float64
}

type Central struct {
	Base
	Simulation Simulation

	DiscoveryInterval time.Duration
	NodeOfflineAfter  time.Duration
	NodeQueryTimeout  time.Duration
	NodeProbeTimeout  time.Duration
}

func LoadNodeFromEnv() (Node, error) {
	base, err := loadBase(":8081", ":5001")
	if err != nil {
		return Node{}, err
	}
	sim, err := loadSimulation()
	if err != nil {
		return Node{}, err
	}
	db, err := loadDB()
	if err != nil {
		return Node{}, err
	}
	mq, err := loadMQTT()
	if err != nil {
		return Node{}, err
	}

	nodeID := envOr("NODE_ID", "1")
	cfg := Node{
		Base:       base,
		Simulation: sim,
		DB:         db,
		MQTT:       mq,
		NodeID:     nodeID,
		Name:       envOr("NODE_NAME", "Local Node "+nodeID),
		Location:   envOr("NODE_LOCATION", ""),
		PublicURL:  envOr("NODE_PUBLIC_URL", "http://localhost"+base.GRPCAddr),
		CentralURL: envOr("CENTRAL_URL", ""),
	}

	if cfg.Latitude, err = optionalFloat("NODE_LATITUDE"); err != nil {
		return Node{}, err
	}
	if cfg.Longitude, err = optionalFloat("NODE_LONGITUDE"); err != nil {
		return Node{}, err
	}
	if cfg.RuleTick, err = duration("RULE_TICK", "10s"); err != nil {
		return Node{}, err
	}
	if cfg.HeartbeatInterval, err = duration("HEARTBEAT_INTERVAL", "120s"); err != nil {
		return Node{}, err
	}
	if cfg.DeliveryPoll, err = duration("DELIVERY_POLL", "1s"); err != nil {
		return Node{}, err
	}

	cfg.DeliveryMode = strings.ToLower(envOr("DELIVERY_MODE", "mailbox"))
	switch cfg.DeliveryMode {
	case "mailbox", "shared":
	default:
		return Node{}, fmt.Errorf("invalid DELIVERY_MODE %q (allowed: mailbox, shared)", cfg.DeliveryMode)
	}

	intervalStr := envOr("DEFAULT_INTERVAL_MINUTES", "15")
	cfg.DefaultIntervalMinutes, err = strconv.ParseFloat(intervalStr, 64)
	if err != nil {
		return Node{}, fmt.Errorf("invalid DEFAULT_INTERVAL_MINUTES %q: %w", intervalStr, err)
	}
	if cfg.DefaultIntervalMinutes <= 0 {
		return Node{}, fmt.Errorf("invalid DEFAULT_INTERVAL_MINUTES %q: must be positive", intervalStr)
	}

	return cfg, nil
}

func LoadCentralFromEnv() (Central, error) {
	base, err := loadBase(":8080", ":5000")
	if err != nil {
		return Central{}, err
	}
	sim, err := loadSimulation()
	if err != nil {
		return Central{}, err
	}
	cfg := Central{Base: base, Simulation: sim}

	if cfg.DiscoveryInterval, err = duration("DISCOVERY_INTERVAL", "60s"); err != nil {
		return Central{}, err
	}
	if cfg.NodeOfflineAfter, err = duration("NODE_OFFLINE_AFTER", "5m"); err != nil {
		return Central{}, err
	}
	if cfg.NodeQueryTimeout, err = duration("NODE_QUERY_TIMEOUT", "30s"); err != nil {
		return Central{}, err
	}
	if cfg.NodeProbeTimeout, err = duration("NODE_PROBE_TIMEOUT", "15s"); err != nil {
		return Central{}, err
	}
	return cfg, nil
}

func loadBase(defaultHTTP, defaultGRPC string) (Base, error) {
	appEnv := envOr("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Base{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Base{}, err
	}

	b := Base{
		AppEnv:      appEnv,
		LogLevel:    level,
		HTTPAddr:    envOr("HTTP_ADDR", defaultHTTP),
		GRPCAddr:    envOr("GRPC_ADDR", defaultGRPC),
		TLSCertFile: envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:  envOr("TLS_KEY_FILE", ""),
	}
	if (b.TLSCertFile == "") != (b.TLSKeyFile == "") {
		return Base{}, fmt.Errorf("TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	return b, nil
}

func loadSimulation() (Simulation, error) {
	var s Simulation
	var err error
	if s.Enabled, err = boolean("SIM_ENABLED", false); err != nil {
		return Simulation{}, err
	}
	if s.ResetDB, err = boolean("SIM_RESET_DB", false); err != nil {
		return Simulation{}, err
	}

	speedStr := envOr("SIM_SPEED", "1")
	s.Speed, err = strconv.ParseFloat(speedStr, 64)
	if err != nil {
		return Simulation{}, fmt.Errorf("invalid SIM_SPEED %q: %w", speedStr, err)
	}
	if s.Speed <= 0 {
		s.Speed = 1
	}

	if startStr := envOr("SIM_START_TIME", ""); startStr != "" {
		s.StartTime, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			return Simulation{}, fmt.Errorf("invalid SIM_START_TIME %q: %w", startStr, err)
		}
	}
	return s, nil
}

func loadDB() (DB, error) {
	d := DB{
		DSN:  envOr("DB_DSN", ""),
		Path: envOr("SQLITE_PATH", "data/meteomesh.db"),
	}
	var err error
	if d.MaxOpenConns, err = integer("DB_MAX_OPEN_CONNS", "1"); err != nil {
		return DB{}, err
	}
	if d.MaxIdleConns, err = integer("DB_MAX_IDLE_CONNS", "1"); err != nil {
		return DB{}, err
	}
	if d.ConnMaxLifetime, err = duration("DB_CONN_MAX_LIFETIME", "0s"); err != nil {
		return DB{}, err
	}
	if d.LogSQL, err = boolean("DB_LOG_SQL", false); err != nil {
		return DB{}, err
	}
	return d, nil
}

func loadMQTT() (MQTT, error) {
	m := MQTT{
		Broker:             envOr("MQTT_BROKER", ""),
		ClientID:           envOr("MQTT_CLIENT_ID", "meteomesh-node"),
		TelemetryTopic:     envOr("MQTT_TELEMETRY_TOPIC", "stations/+/telemetry"),
		CommandTopicPrefix: envOr("MQTT_COMMAND_TOPIC_PREFIX", "stations"),
	}
	var err error
	if m.Port, err = integer("MQTT_PORT", "1883"); err != nil {
		return MQTT{}, err
	}
	return m, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func duration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func integer(key, def string) (int, error) {
	s := envOr(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func boolean(key string, def bool) (bool, error) {
	s := envOr(key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func optionalFloat(key string) (*float64, error) {
	s := envOr(key, "")
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return &f, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
