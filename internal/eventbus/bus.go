// Package eventbus publishes vdc host lifecycle events (announce,
// vanish, scene calls, pushes, clicks) to NATS for downstream
// subscribers, with an optional MQTT bridge for consumers that prefer
// to subscribe there instead.
package eventbus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Event is one lifecycle occurrence published to the bus.
type Event struct {
	Kind      string                 `json:"kind"`
	DSUID     string                 `json:"dSUID"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Common event kinds.
const (
	KindAnnounce = "announce"
	KindVanish   = "vanish"
	KindPush     = "push"
	KindScene    = "scene"
	KindClick    = "click"
	KindSession  = "session"
)

// Config enables/configures the NATS publisher and optional MQTT
// bridge. Either may be left disabled.
type Config struct {
	NATSEnabled   bool
	NATSURL       string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration

	MQTTEnabled bool
	BrokerURL   string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

// Bus publishes Events to whichever backends are configured. A Bus
// with nothing configured is a valid no-op publisher.
type Bus struct {
	subjectPrefix string
	topicPrefix   string

	mu    sync.RWMutex
	nc    *nats.Conn
	mqttC mqtt.Client
}

// New connects to the backends cfg enables. It returns a usable Bus
// even when a backend fails to connect — Publish logs and continues
// rather than blocking lifecycle processing on a broker outage.
func New(cfg Config) *Bus {
	b := &Bus{
		subjectPrefix: cfg.SubjectPrefix,
		topicPrefix:   cfg.TopicPrefix,
	}

	if cfg.NATSEnabled {
		nc, err := nats.Connect(cfg.NATSURL,
			nats.ReconnectWait(cfg.ReconnectWait),
			nats.MaxReconnects(cfg.MaxReconnects),
		)
		if err != nil {
			log.Warn().Err(err).Msg("eventbus: nats connect failed, publishing disabled")
		} else {
			b.nc = nc
		}
	}

	if cfg.MQTTEnabled {
		opts := mqtt.NewClientOptions()
		opts.AddBroker(cfg.BrokerURL)
		opts.SetClientID(cfg.ClientID)
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
			opts.SetPassword(cfg.Password)
		}
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)
		opts.SetOnConnectHandler(func(mqtt.Client) {
			log.Info().Msg("eventbus: mqtt client connected")
		})
		opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("eventbus: mqtt connection lost")
		})

		client := mqtt.NewClient(opts)
		token := client.Connect()
		if token.WaitTimeout(10*time.Second) && token.Error() == nil {
			b.mqttC = client
		} else {
			log.Warn().Err(token.Error()).Msg("eventbus: mqtt connect failed, publishing disabled")
		}
	}

	return b
}

// Publish sends ev to every connected backend. Errors are logged, not
// returned — a broker outage must not interrupt the caller's own
// protocol handling.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	nc := b.nc
	mqttC := b.mqttC
	b.mu.RUnlock()

	if nc == nil && mqttC == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Msg("eventbus: failed to marshal event")
		return
	}

	if nc != nil {
		subject := fmt.Sprintf("%s.%s.%s", b.subjectPrefix, ev.Kind, ev.DSUID)
		if err := nc.Publish(subject, data); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("eventbus: nats publish failed")
		}
	}

	if mqttC != nil && mqttC.IsConnected() {
		topic := fmt.Sprintf("%s/%s/%s", b.topicPrefix, ev.Kind, ev.DSUID)
		token := mqttC.Publish(topic, 0, false, data)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("eventbus: mqtt publish failed")
		}
	}
}

// Close disconnects every configured backend.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
		b.nc = nil
	}
	if b.mqttC != nil {
		b.mqttC.Disconnect(250)
		b.mqttC = nil
	}
}
