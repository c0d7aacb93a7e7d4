// Package mqtt mirrors decoded telemetry to an MQTT broker.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UiS-Subsea/rov-bridge/pkg/config"
	"github.com/UiS-Subsea/rov-bridge/pkg/log"
	"github.com/UiS-Subsea/rov-bridge/pkg/processing"
	paho "github.com/eclipse/paho.mqtt.golang"
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt broker not connected")

// SinkName names the MQTT mirror in the director's pools.
const SinkName = "mqtt"

const (
	publishTimeout    = time.Second
	reconnectInterval = 5 * time.Second
	disconnectQuiesce = 250
)

// Mirror publishes telemetry records to "<topic>/<Type>".
type Mirror struct {
	client paho.Client
	topic  string
	qos    byte
	logger log.Logger

	mu      sync.Mutex
	dropped uint64
}

// NewMirror builds a paho client that reconnects on its own.
func NewMirror(cfg config.MQTTConfig, logger log.Logger) *Mirror {
	logger = logger.WithField(log.ComponentField, "mqtt")

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInterval)
	opts.OnConnect = func(paho.Client) {
		logger.Infof("Connected to MQTT broker %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	}

	return newMirror(paho.NewClient(opts), cfg, logger)
}

func newMirror(client paho.Client, cfg config.MQTTConfig, logger log.Logger) *Mirror {
	return &Mirror{
		client: client,
		topic:  strings.TrimSuffix(cfg.Topic, "/"),
		qos:    cfg.QoS,
		logger: logger,
	}
}

// Connect starts connecting in the background. With connect retry enabled
// the token only completes once the broker is reached, so it is not waited on.
func (m *Mirror) Connect() {
	m.client.Connect()
}

// Topic maps a mirror topic such as "telemetry.COMTEMP" onto the broker tree.
func (m *Mirror) Topic(topic string) string {
	return m.topic + "/" + strings.TrimPrefix(topic, processing.TopicPrefix)
}

// PublishMessage publishes data unless the broker is unreachable, in which
// case the record is dropped and ErrNotConnected returned.
func (m *Mirror) PublishMessage(topic string, data []byte) error {
	if !m.client.IsConnected() {
		m.mu.Lock()
		m.dropped++
		m.mu.Unlock()
		return ErrNotConnected
	}

	token := m.client.Publish(m.Topic(topic), m.qos, false, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", m.Topic(topic))
	}
	return token.Error()
}

// Dropped returns the number of records dropped while disconnected.
func (m *Mirror) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Register adds the mirror as a LOW priority telemetry sink.
func (m *Mirror) Register(director *processing.MessageDirector) error {
	handler := processing.NewPublishingResultHandler(SinkName, m.logger, m)
	return director.AddSink(processing.PriorityLow, SinkName, handler.CreateProcessorFunc())
}

// Close disconnects from the broker.
func (m *Mirror) Close() {
	m.client.Disconnect(disconnectQuiesce)
	m.logger.Infof("MQTT mirror closed")
}
