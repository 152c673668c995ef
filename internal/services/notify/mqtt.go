package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"inspector/internal/config"
	"inspector/internal/logger"
	"inspector/internal/services/events"
)

const publishTimeout = 2 * time.Second

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes pipeline events as JSON to <topic>/<kind>.
type MQTTSink struct {
	client publisher
	topic  string
	logger *logger.Logger

	mu        sync.Mutex
	published map[string]uint64
	errors    uint64
}

// NewMQTTSink connects to the configured broker. Auto-reconnect is left to
// the paho client.
func NewMQTTSink(cfg *config.Config, logger *logger.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("📡 MQTT connected to %s", cfg.MQTTBroker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		logger.Warning("📡 MQTT connection lost, reconnecting: %v", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	return newMQTTSink(client, cfg.MQTTTopic, logger), nil
}

func newMQTTSink(client publisher, topic string, logger *logger.Logger) *MQTTSink {
	return &MQTTSink{
		client:    client,
		topic:     topic,
		logger:    logger,
		published: make(map[string]uint64),
	}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Handle implements events.Sink. Stage timings are published at QoS 0, every
// other kind at QoS 1.
func (s *MQTTSink) Handle(e events.Event) {
	topic := fmt.Sprintf("%s/%s", s.topic, e.Kind)

	var qos byte = 1
	if e.Kind == events.StageTiming {
		qos = 0
	}

	payload, err := json.Marshal(e)
	if err != nil {
		s.fail("failed to marshal event %s: %v", e.Kind, err)
		return
	}

	token := s.client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		s.fail("publish to %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		s.fail("publish to %s failed: %v", topic, err)
		return
	}

	s.mu.Lock()
	s.published[topic]++
	s.mu.Unlock()
}

func (s *MQTTSink) fail(format string, v ...interface{}) {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
	s.logger.Warning("📡 "+format, v...)
}

// Stats returns per-topic publish counts and the error count.
func (s *MQTTSink) Stats() (map[string]uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	published := make(map[string]uint64, len(s.published))
	for k, v := range s.published {
		published[k] = v
	}
	return published, s.errors
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	if c, ok := s.client.(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
	}
}
