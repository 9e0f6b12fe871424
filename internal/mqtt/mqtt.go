// Package mqtt bridges station telemetry published over MQTT into node
// ingress, and mirrors issued commands back to the stations' topics.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"meteomesh/internal/config"
	"meteomesh/internal/station"
)

const (
	qos            = byte(1)
	acceptTimeout  = 5 * time.Second
	publishTimeout = 5 * time.Second
)

// Acceptor records a measurement. node.Ingress implements it.
type Acceptor interface {
	Accept(ctx context.Context, m station.Measurement, source string) error
}

// Client owns one broker connection used for both directions.
type Client struct {
	client    mqtt.Client
	cfg       config.MQTT
	acceptor  Acceptor
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient prepares a client. Telemetry is handed to acceptor once
// Connect has subscribed; a nil acceptor only publishes.
func NewClient(cfg config.MQTT, acceptor Acceptor, logger *slog.Logger) *Client {
	c := &Client{
		cfg:      cfg,
		acceptor: acceptor,
		logger:   logger.With("component", "mqtt"),
		stopCh:   make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mc mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", cfg.Broker, "port", cfg.Port)
		// Clean sessions drop subscriptions on reconnect.
		if c.acceptor != nil {
			if err := c.subscribe(mc); err != nil {
				c.logger.Error("mqtt subscribe failed", "error", err)
			}
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the first connection to the broker.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("mqtt client stopped")
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for !token.WaitTimeout(poll) {
		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			c.client.Disconnect(0)
			return fmt.Errorf("mqtt client stopped")
		default:
		}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *Client) subscribe(mc mqtt.Client) error {
	topic := c.cfg.TelemetryTopic
	token := mc.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleTelemetry(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	c.logger.Info("subscribed to telemetry", "topic", topic, "qos", qos)
	return nil
}

func (c *Client) handleTelemetry(topic string, payload []byte) {
	m, err := ParseTelemetry(topic, payload)
	if err != nil {
		c.logger.Warn("invalid telemetry message", "topic", topic, "error", err, "payload", string(payload))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), acceptTimeout)
	defer cancel()
	if err := c.acceptor.Accept(ctx, m, "mqtt"); err != nil {
		c.logger.Warn("telemetry rejected", "topic", topic, "station_id", m.StationID, "error", err)
	}
}

// PublishCommand mirrors cmd to its station topic, or to the type topic for
// broadcasts. It implements rules.Mirror.
func (c *Client) PublishCommand(ctx context.Context, cmd station.Command) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	payload, err := EncodeCommand(cmd)
	if err != nil {
		return err
	}
	topic := CommandTopic(c.cfg.CommandTopicPrefix, cmd)
	token := c.client.Publish(topic, qos, false, payload)

	timeout := publishTimeout
	if d, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(d))
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.acceptor != nil && c.IsConnected() {
		c.client.Unsubscribe(c.cfg.TelemetryTopic).WaitTimeout(2 * time.Second)
	}
	c.client.Disconnect(250)
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
