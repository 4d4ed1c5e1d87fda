package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/roach88/positions/internal/store"
)

// DefaultTopic is the MQTT topic commit notices are exchanged on.
const DefaultTopic = "positions/commits"

// MQTTOptions configures an MQTTBridge.
type MQTTOptions struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
}

// publisher is the slice of an MQTT client the bridge uses.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Close()
}

// pahoClient adapts a paho client to publisher.
type pahoClient struct {
	raw mqtt.Client
}

// dialPaho connects, retrying until the broker answers or ctx ends. A
// cancelled dial stops the retry loop and returns ctx.Err().
func dialPaho(ctx context.Context, opts MQTTOptions) (*pahoClient, error) {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerURL)
	o.SetClientID(opts.ClientID)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(2 * time.Second)
	c := mqtt.NewClient(o)

	token := c.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, err
		}
	case <-ctx.Done():
		c.Disconnect(0)
		return nil, ctx.Err()
	}
	return &pahoClient{raw: c}, nil
}

func (c *pahoClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	token := c.raw.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	token := c.raw.Subscribe(topic, qos, handler)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Unsubscribe(topic string) error {
	token := c.raw.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (c *pahoClient) Close() {
	c.raw.Disconnect(250)
}

// commitMessage is the wire form of a commit notice.
type commitMessage struct {
	Origin string      `json:"origin"`
	Token  store.Token `json:"token"`
}

// MQTTBridge publishes this process's commits to an MQTT topic and turns
// commits published by other processes into Notifier signals.
type MQTTBridge struct {
	client   publisher
	topic    string
	qos      byte
	origin   string
	notifier *Notifier
	logger   *slog.Logger
}

// NewMQTTBridge connects to the broker, giving up when ctx is done. An empty
// ClientID or Topic gets a default.
func NewMQTTBridge(ctx context.Context, opts MQTTOptions, notifier *Notifier) (*MQTTBridge, error) {
	origin := uuid.Must(uuid.NewV7()).String()
	if opts.ClientID == "" {
		opts.ClientID = "positions-" + origin
	}
	client, err := dialPaho(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", opts.BrokerURL, err)
	}
	return newMQTTBridge(client, opts, origin, notifier), nil
}

func newMQTTBridge(client publisher, opts MQTTOptions, origin string, notifier *Notifier) *MQTTBridge {
	topic := opts.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTBridge{
		client:   client,
		topic:    topic,
		qos:      opts.QoS,
		origin:   origin,
		notifier: notifier,
		logger:   slog.Default().With("component", "notify", "detector", "mqtt"),
	}
}

// Origin identifies this process on the topic.
func (b *MQTTBridge) Origin() string {
	return b.origin
}

// Run relays notices until ctx is cancelled, then disconnects.
func (b *MQTTBridge) Run(ctx context.Context) error {
	defer b.client.Close()

	if err := b.client.Subscribe(b.topic, b.qos, b.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}
	defer func() {
		if err := b.client.Unsubscribe(b.topic); err != nil {
			b.logger.Warn("unsubscribe failed", "topic", b.topic, "error", err)
		}
	}()

	sub := b.notifier.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub.C():
			if !ok {
				return nil
			}
		}

		notice, ok := sub.Take()
		if !ok || !notice.Local {
			continue
		}
		if err := b.publish(notice.Token); err != nil {
			b.logger.Warn("publish commit notice failed", "token", notice.Token, "error", err)
		}
	}
}

func (b *MQTTBridge) publish(token store.Token) error {
	payload, err := json.Marshal(commitMessage{Origin: b.origin, Token: token})
	if err != nil {
		return fmt.Errorf("marshal commit notice: %w", err)
	}
	return b.client.Publish(b.topic, payload, b.qos, false)
}

// handle is the MQTT message handler.
func (b *MQTTBridge) handle(_ mqtt.Client, msg mqtt.Message) {
	var m commitMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		b.logger.Warn("discarding malformed commit notice", "topic", msg.Topic(), "error", err)
		return
	}
	if m.Origin == b.origin {
		return
	}
	b.logger.Debug("received commit notice", "origin", m.Origin, "token", m.Token)
	b.notifier.Signal("mqtt")
}
