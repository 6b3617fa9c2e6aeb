package lcc

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/fadectl/internal/fade"
	"github.com/dokzlo13/fadectl/internal/light"
)

const publishTimeout = 100 * time.Millisecond

// Config describes the MQTT bridge connection.
type Config struct {
	Broker         string // e.g. "tcp://127.0.0.1:1883"
	ClientID       string
	Username       string
	Password       string
	Topic          string // topic the CAN gateway subscribes to
	BaseEventID    uint64
	ConnectTimeout time.Duration

	// Frames per second allowed onto the bus, with a small burst for a full
	// five-channel round. Zero disables the cap.
	FrameRate  float64
	FrameBurst int
}

// Transport publishes lighting events to the MQTT bridge. It implements
// fade.Sink: a disconnected broker or an exhausted rate limiter surfaces as
// fade.ErrSinkNotReady so the scheduler defers instead of dropping.
type Transport struct {
	client  pahomqtt.Client
	topic   string
	base    uint64
	limiter *rate.Limiter
}

// Connect establishes the MQTT connection and returns a ready transport.
func Connect(cfg Config) (*Transport, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timed out after %v", cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}

	t := &Transport{
		client: client,
		topic:  cfg.Topic,
		base:   cfg.BaseEventID,
	}
	if cfg.FrameRate > 0 {
		burst := cfg.FrameBurst
		if burst <= 0 {
			burst = light.ParamCount
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.FrameRate), burst)
	}

	log.Info().
		Str("topic", cfg.Topic).
		Str("base_event_id", fmt.Sprintf("%016x", cfg.BaseEventID)).
		Msg("LCC transport ready")
	return t, nil
}

// NewWithClient wraps an existing MQTT client, used by tests.
func NewWithClient(client pahomqtt.Client, topic string, base uint64, limiter *rate.Limiter) *Transport {
	return &Transport{client: client, topic: topic, base: base, limiter: limiter}
}

// SendLightingEvent encodes and publishes one channel value. It returns
// promptly in all cases so the tick driver is never stalled.
func (t *Transport) SendLightingEvent(param light.Param, value uint8) error {
	if !param.Valid() {
		return fmt.Errorf("invalid parameter index %d", int(param))
	}

	if t.limiter != nil && !t.limiter.Allow() {
		return fmt.Errorf("frame rate cap reached: %w", fade.ErrSinkNotReady)
	}
	if !t.client.IsConnected() {
		return fmt.Errorf("mqtt disconnected: %w", fade.ErrSinkNotReady)
	}

	eventID := EncodeEventID(t.base, param, value)
	log.Debug().
		Str("event_id", fmt.Sprintf("%016x", eventID)).
		Str("param", param.String()).
		Uint8("value", value).
		Msg("Sending lighting event")

	token := t.client.Publish(t.topic, 0, false, EventIDBytes(eventID))
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timed out after %v", publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Close disconnects from the broker.
func (t *Transport) Close() {
	t.client.Disconnect(uint(publishTimeout.Milliseconds()))
}
