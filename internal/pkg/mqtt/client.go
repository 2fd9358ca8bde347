package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	DefaultPort     int    = 1883
	DefaultClientID string = "integration-ekokarta"

	topicPrefix    string        = "ekokarta"
	publishTimeout time.Duration = 5 * time.Second
)

var (
	ErrNotConnected = errors.New("mqtt client not connected")
	ErrStopped      = errors.New("mqtt client stopped")
)

type Config struct {
	Broker   string
	Port     int
	ClientID string
}

func (cfg Config) BrokerURL() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("tcp://%s:%d", cfg.Broker, port)
}

// Topic returns the state topic of one measurement key of a station.
func Topic(stationID, key string) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, stationID, key)
}

type Client struct {
	client    mqtt.Client
	cfg       Config
	log       zerolog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(ctx context.Context, cfg Config) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}

	c := &Client{
		cfg:    cfg,
		log:    logging.GetFromContext(ctx).With().Str("broker", cfg.BrokerURL()).Logger(),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		c.log.Info().Msg("mqtt connected")
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.log.Warn().Err(err).Msg("mqtt connection lost")
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect waits for the initial connection to the broker, or until ctx is done or the
// client is disconnected.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()

	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return ErrStopped
		default:
		}
	}
}

// Publish marshals payload to JSON and publishes it as a retained message, so that new
// subscribers get the current state right away.
func (c *Client) Publish(ctx context.Context, topic string, payload any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}

	token := c.client.Publish(topic, 1, true, data)

	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	log := logging.GetFromContext(ctx)
	log.Debug().Str("topic", topic).Msg("published state")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. Connect returns ErrStopped after it has been called.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.log.Info().Msg("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
