// Package broker bridges internal quality-assured events to an external
// MQTT broker for out-of-process consumers.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/observability/metrics"
)

// Client is the minimal broker surface the bridge needs.
type Client interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	Disconnect()
}

type client struct {
	settings conf.BrokerSettings

	mu              sync.Mutex
	internalClient  mqtt.Client
	lastConnAttempt time.Time
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once

	metrics *metrics.BrokerMetrics
	logger  *slog.Logger
}

const reconnectCooldown = 5 * time.Second

// NewClient creates an MQTT client from settings. brokerMetrics may be nil.
func NewClient(settings *conf.Settings, brokerMetrics *metrics.BrokerMetrics) Client {
	c := &client{
		settings:      settings.Broker,
		reconnectStop: make(chan struct{}),
		metrics:       brokerMetrics,
		logger:        logging.ForService("broker"),
	}
	if c.logger == nil {
		c.logger = slog.Default().With("service", "broker")
	}
	return c
}

// Connect establishes the broker connection, resolving the hostname first
// so DNS failures surface as such instead of opaque timeouts.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastConnAttempt) < reconnectCooldown {
		return fmt.Errorf("connection attempt too recent, last attempt was %v ago", time.Since(c.lastConnAttempt))
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.settings.URL)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			if dnsErr, ok := err.(*net.DNSError); ok {
				return dnsErr
			}
			return fmt.Errorf("failed to resolve hostname %s: %w", host, err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.settings.URL)
	opts.SetClientID(c.settings.ClientID)
	opts.SetUsername(c.settings.Username)
	opts.SetPassword(c.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = mqtt.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.settings.ConnectTimeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connection error: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
	return nil
}

// Publish sends payload to topic, respecting the configured retain flag.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return fmt.Errorf("not connected to broker")
	}

	start := time.Now()
	token := c.internalClient.Publish(topic, 0, c.settings.Retain, payload)
	if !token.WaitTimeout(c.settings.PublishTimeout) {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		return fmt.Errorf("publish error for topic %s: %w", topic, err)
	}

	if c.metrics != nil {
		c.metrics.IncrementMessagesDelivered()
		c.metrics.ObservePublishDuration(time.Since(start))
	}
	return nil
}

func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.settings.DisconnectTimeout.Milliseconds()))
		if c.metrics != nil {
			c.metrics.UpdateConnectionStatus(false)
		}
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.stopOnce.Do(func() { close(c.reconnectStop) })
}

func (c *client) onConnect(mqtt.Client) {
	c.logger.Info("connected to broker", "url", c.settings.URL)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(true)
	}
}

func (c *client) onConnectionLost(_ mqtt.Client, err error) {
	c.logger.Warn("broker connection lost", "url", c.settings.URL, "error", err)
	if c.metrics != nil {
		c.metrics.UpdateConnectionStatus(false)
		c.metrics.IncrementErrors()
	}
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.reconnectTimer = time.AfterFunc(c.settings.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second
	maxBackoff := 5 * time.Minute

	for {
		if c.metrics != nil {
			c.metrics.IncrementReconnectAttempts()
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.settings.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.logger.Info("reconnected to broker", "url", c.settings.URL)
			return
		}

		if c.metrics != nil {
			c.metrics.IncrementErrors()
		}
		c.logger.Warn("broker reconnect failed", "error", err, "retry_in", backoff)

		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		case <-c.reconnectStop:
			return
		}
	}
}
