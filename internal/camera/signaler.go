package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/rover/internal/monitoring"
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// message in time.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// TopicPrefix is prepended to "/camera/control" and "/camera/mode".
	TopicPrefix string
	Timeout     time.Duration
}

// ControlMessage is the JSON payload published on the control topic.
type ControlMessage struct {
	Action Action    `json:"action"`
	Mode   Selector  `json:"mode"`
	At     time.Time `json:"at"`
}

// publisher is the part of mqtt.Client the signaler needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSignaler publishes camera control messages to an MQTT broker.
type MQTTSignaler struct {
	client       mqtt.Client
	pub          publisher
	controlTopic string
	modeTopic    string
	timeout      time.Duration
	now          func() time.Time
}

// NewMQTTSignaler connects to the broker in cfg.
func NewMQTTSignaler(cfg MQTTConfig) (*MQTTSignaler, error) {
	logf := monitoring.Component("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logf("connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		logf("connection lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	s := newMQTTSignaler(client, cfg.TopicPrefix, cfg.Timeout)
	s.client = client
	return s, nil
}

func newMQTTSignaler(pub publisher, prefix string, timeout time.Duration) *MQTTSignaler {
	if prefix == "" {
		prefix = "rover"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &MQTTSignaler{
		pub:          pub,
		controlTopic: prefix + "/camera/control",
		modeTopic:    prefix + "/camera/mode",
		timeout:      timeout,
		now:          time.Now,
	}
}

// Control publishes a start or stop message.
func (s *MQTTSignaler) Control(action Action, mode Selector) error {
	payload, err := json.Marshal(ControlMessage{Action: action, Mode: mode, At: s.now().UTC()})
	if err != nil {
		return err
	}
	return s.publish(s.controlTopic, false, payload)
}

// PublishMode publishes the selector as a retained message so a pipeline that
// connects later still sees it.
func (s *MQTTSignaler) PublishMode(mode Selector) error {
	return s.publish(s.modeTopic, true, []byte(fmt.Sprintf("%d", mode)))
}

func (s *MQTTSignaler) publish(topic string, retained bool, payload []byte) error {
	token := s.pub.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSignaler) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}

// LogSignaler only logs; it is used when no broker is configured.
type LogSignaler struct {
	Logf func(string, ...interface{})
}

func (l LogSignaler) logf(format string, v ...interface{}) {
	if l.Logf != nil {
		l.Logf(format, v...)
		return
	}
	monitoring.Component("camera")(format, v...)
}

func (l LogSignaler) Control(action Action, mode Selector) error {
	l.logf("no camera broker configured: %s (%s)", action, mode)
	return nil
}

func (l LogSignaler) PublishMode(mode Selector) error {
	l.logf("no camera broker configured: mode %s", mode)
	return nil
}

func (LogSignaler) Close() error { return nil }
