// Package mqtttap mirrors accepted CAN frames to an MQTT broker.
//
// Each frame is published to "{prefix}/{id}" where id is the identifier in
// upper-case hex (3 digits for standard, 8 for extended frames). The payload
// is the frame data in lower-case hex; remote frames carry "rtr".
package mqtttap

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kstaniek/i2c-can-bridge/internal/can"
	"github.com/kstaniek/i2c-can-bridge/internal/hub"
	"github.com/kstaniek/i2c-can-bridge/internal/logging"
	"github.com/kstaniek/i2c-can-bridge/internal/metrics"
)

// DefaultTopicPrefix is used when Config.TopicPrefix is empty.
const DefaultTopicPrefix = "i2ccan"

var (
	ErrNoBroker     = errors.New("mqtttap: broker URL is required")
	ErrNotConnected = errors.New("mqtttap: not connected")
	ErrTimeout      = errors.New("mqtttap: publish timeout")
)

// Config holds the broker connection settings.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker   string
	Username string
	Password string
	UseTLS   bool
	// ClientID is generated when empty.
	ClientID    string
	TopicPrefix string
	QoS         byte
	Retain      bool
	Logger      *slog.Logger
}

// Tap publishes frames received from a hub client.
type Tap struct {
	cfg       Config
	client    paho.Client
	log       *slog.Logger
	mu        sync.RWMutex
	connected bool
	published uint64
	// publish is swapped in tests
	publish func(topic string, payload []byte) error
}

// New creates a tap; Start connects it.
func New(cfg Config) *Tap {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.L()
	}
	if cfg.QoS > 2 {
		cfg.QoS = 0
	}
	t := &Tap{cfg: cfg, log: cfg.Logger.With("component", "mqtt_tap")}
	t.publish = t.pahoPublish
	return t
}

// Start connects to the broker. paho keeps reconnecting in the background.
func (t *Tap) Start(ctx context.Context) error {
	if t.cfg.Broker == "" {
		return ErrNoBroker
	}
	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "i2ccan-" + randomString(12)
	}
	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	t.client = paho.NewClient(opts)
	token := t.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("mqtttap: connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtttap: connect %s: %w", t.cfg.Broker, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (t *Tap) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		t.client.Disconnect(1000)
	}
	t.connected = false
}

// IsConnected reports the broker connection state.
func (t *Tap) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

// Published returns the number of frames published.
func (t *Tap) Published() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.published
}

// Run publishes frames from c until ctx is done or c is closed (kicked).
func (t *Tap) Run(ctx context.Context, c *hub.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Closed:
			t.log.Warn("tap_closed")
			return
		case f := <-c.Out:
			if err := t.Publish(f); err != nil {
				metrics.IncError(metrics.ErrMQTTPublish)
				t.log.Debug("mqtt_publish_failed", "id", fmt.Sprintf("0x%X", f.ID), "error", err)
			}
		}
	}
}

// Publish sends one frame.
func (t *Tap) Publish(f can.Frame) error {
	if err := t.publish(Topic(t.cfg.TopicPrefix, f), Payload(f)); err != nil {
		return err
	}
	t.mu.Lock()
	t.published++
	t.mu.Unlock()
	return nil
}

func (t *Tap) pahoPublish(topic string, payload []byte) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	token := t.client.Publish(topic, t.cfg.QoS, t.cfg.Retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return ErrTimeout
	}
	return token.Error()
}

// Topic returns the publish topic for f.
func Topic(prefix string, f can.Frame) string {
	if f.Extended {
		return fmt.Sprintf("%s/%08X", prefix, f.ID)
	}
	return fmt.Sprintf("%s/%03X", prefix, f.ID)
}

// Payload returns the message body for f.
func Payload(f can.Frame) []byte {
	if f.Remote {
		return []byte("rtr")
	}
	p := f.Payload()
	out := make([]byte, hex.EncodedLen(len(p)))
	hex.Encode(out, p)
	return out
}

func (t *Tap) onConnected(_ paho.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.log.Info("mqtt_connected", "broker", t.cfg.Broker)
}

func (t *Tap) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.log.Warn("mqtt_connection_lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
