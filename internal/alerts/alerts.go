// Package alerts publishes patient-safety notifications for red-zone
// events. A debouncer rate-limits the outbound channel so a sustained
// fault raises one notification, not one per frame. Sinks are pluggable;
// the MQTT sink is the production transport to charting and nurse-station
// consumers.
package alerts

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kinetic-rehab/reach.report/internal/engine"
	"github.com/kinetic-rehab/reach.report/internal/monitoring"
)

// Alert is the outbound notification payload.
type Alert struct {
	SessionID   string   `json:"sessionId"`
	TimestampMs int64    `json:"timestampMs"`
	Zone        string   `json:"zone"`
	Faults      []string `json:"faults"`
	ReachCm     float64  `json:"reachCm"`
	VelocityCms float64  `json:"velocityCms"`
	AngleDeg    float64  `json:"angleDeg"`
	Snapshot    []byte   `json:"snapshot,omitempty"`
}

// Sink delivers one alert to its destination.
type Sink interface {
	Publish(a Alert) error
}

// FuncSink adapts a function to the Sink interface.
type FuncSink func(a Alert) error

// Publish implements Sink.
func (f FuncSink) Publish(a Alert) error { return f(a) }

// Notifier watches the result stream and raises debounced alerts. Debounce
// time is stream time (frame timestamps), so replayed sessions alert
// deterministically.
type Notifier struct {
	sink        Sink
	minInterval time.Duration
	lastSentMs  int64
	sent        bool

	// SnapshotFunc, when set, attaches an opaque image payload to each
	// alert.
	SnapshotFunc func() []byte
}

// NewNotifier creates a notifier with the given minimum interval between
// alerts.
func NewNotifier(sink Sink, minInterval time.Duration) *Notifier {
	return &Notifier{sink: sink, minInterval: minInterval}
}

// Observe inspects one result and publishes an alert when the red zone is
// entered and the debounce interval has elapsed. Returns true when an
// alert was sent.
func (n *Notifier) Observe(sessionID string, res engine.Result) bool {
	if res.Zone != engine.ZoneRed {
		return false
	}
	if n.sent && res.TimestampMs-n.lastSentMs < n.minInterval.Milliseconds() {
		return false
	}

	a := Alert{
		SessionID:   sessionID,
		TimestampMs: res.TimestampMs,
		Zone:        string(res.Zone),
		Faults:      res.Faults,
		ReachCm:     res.EstimatedReachCm,
		VelocityCms: res.Velocity,
		AngleDeg:    res.Angle,
	}
	if n.SnapshotFunc != nil {
		a.Snapshot = n.SnapshotFunc()
	}

	if err := n.sink.Publish(a); err != nil {
		monitoring.Logf("alerts: publish failed: %v", err)
		return false
	}
	n.sent = true
	n.lastSentMs = res.TimestampMs
	return true
}

// MQTTSink publishes alerts as JSON to a fixed topic.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

// NewMQTTSink connects to the broker and returns a ready sink.
func NewMQTTSink(broker, clientID, topic string) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", broker, token.Error())
	}
	monitoring.Logf("alerts: connected to broker %s, topic %s", broker, topic)
	return &MQTTSink{client: client, topic: topic}, nil
}

// Publish implements Sink.
func (s *MQTTSink) Publish(a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	token := s.client.Publish(s.topic, 0, false, payload)
	token.Wait()
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
