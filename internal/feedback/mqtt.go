package feedback

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

type eventPayload struct {
	Kind    Kind      `json:"kind"`
	VIN     string    `json:"vin,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

func encodeEvent(event Event) ([]byte, error) {
	payload := eventPayload{
		Kind: event.Kind,
		VIN:  event.VIN.String(),
		At:   event.At.UTC(),
	}
	if event.Outcome != 0 {
		payload.Outcome = event.Outcome.String()
	}
	if event.Err != nil {
		payload.Error = event.Err.Error()
	}
	return json.Marshal(payload)
}

// MQTTSink publishes events as JSON so a gate display or PLC can react.
// Publishing is QoS 0 and the delivery token is never awaited.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	log     zerolog.Logger
	publish func(topic string, payload []byte)
}

func NewMQTTSink(broker, topic, clientID string, connectTimeout time.Duration, log zerolog.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Str("broker", broker).Msg("mqtt connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// SetConnectRetry продолжит попытки в фоне
		log.Warn().Str("broker", broker).Msg("mqtt broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	sink := &MQTTSink{client: client, topic: topic, log: log}
	sink.publish = func(topic string, payload []byte) {
		client.Publish(topic, 0, false, payload)
	}
	return sink, nil
}

func (s *MQTTSink) Notify(event Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode feedback event")
		return
	}
	s.publish(s.topic, payload)
}

func (s *MQTTSink) Close() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}
