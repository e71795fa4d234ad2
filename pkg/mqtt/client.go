// Package mqtt publishes decisions and telemetry to an external broker
// for fleet monitoring. Publishing is fire-and-forget: a broker outage
// must never stall the decision loop.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/linkward/linkward/pkg"
	"github.com/linkward/linkward/pkg/logx"
	"github.com/linkward/linkward/pkg/telem"
	"github.com/linkward/linkward/pkg/uci"
)

// Client publishes linkward events to an MQTT broker
type Client struct {
	client      paho.Client
	topicPrefix string
	logger      *logx.Logger
}

// NewClient creates an MQTT client from configuration
func NewClient(cfg uci.MQTTConfig, logger *logx.Logger) *Client {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(30 * time.Second).
		SetMaxReconnectInterval(5 * time.Minute).
		SetConnectTimeout(10 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	return &Client{
		client:      paho.NewClient(opts),
		topicPrefix: cfg.TopicPrefix,
		logger:      logger,
	}
}

// Connect starts the broker connection; reconnects are automatic
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	return token.Error()
}

// PublishDecision publishes one decision record under
// <prefix>/decisions/<interface>
func (c *Client) PublishDecision(d *pkg.Decision) {
	c.publish(fmt.Sprintf("%s/decisions/%s", c.topicPrefix, d.InterfaceID), d)
}

// PublishState publishes the current failover states under
// <prefix>/state
func (c *Client) PublishState(states map[string]pkg.FailoverState) {
	c.publish(fmt.Sprintf("%s/state", c.topicPrefix), states)
}

// PublishTelemetry publishes the latest telemetry sample per interface
// under <prefix>/telemetry
func (c *Client) PublishTelemetry(samples map[string]*telem.Sample) {
	if len(samples) == 0 {
		return
	}
	c.publish(fmt.Sprintf("%s/telemetry", c.topicPrefix), samples)
}

func (c *Client) publish(topic string, payload interface{}) {
	if !c.client.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("mqtt payload marshal failed", "topic", topic, "error", err)
		return
	}
	token := c.client.Publish(topic, 0, false, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.logger.Warn("mqtt publish failed", "topic", topic, "error", token.Error())
		}
	}()
}

// Disconnect flushes and closes the broker connection
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}
