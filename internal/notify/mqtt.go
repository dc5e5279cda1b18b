package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"epp-monitor/internal/domain/epp"
)

const DefaultTopicPrefix = "epp/alerts"

var topicUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

type MQTTConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Close()
}

// MQTTSink publishes each new violation on "<prefix>/<canal>" and the latest stats, retained, on "<prefix>/stats".
type MQTTSink struct {
	pub    publisher
	prefix string
}

func NewMQTTSink(cfg MQTTConfig) (*MQTTSink, error) {
	client, err := dialMQTT(cfg)
	if err != nil {
		return nil, err
	}
	return newMQTTSink(client, cfg.TopicPrefix), nil
}

func newMQTTSink(pub publisher, prefix string) *MQTTSink {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTSink{pub: pub, prefix: prefix}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) PublishSnapshot(_ context.Context, snap epp.Snapshot) error {
	payload, err := json.Marshal(newSummary(snap))
	if err != nil {
		return err
	}
	return s.pub.Publish(s.prefix+"/stats", 1, true, payload)
}

func (s *MQTTSink) PublishAlerts(ctx context.Context, alerts []epp.DetectionEvent) error {
	var errs []error
	for _, alert := range alerts {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.pub.Publish(s.AlertTopic(alert.Canal), 1, false, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AlertTopic maps a channel name to a single safe topic level.
func (s *MQTTSink) AlertTopic(canal string) string {
	level := topicUnsafe.ReplaceAllString(strings.TrimSpace(canal), "_")
	level = strings.Trim(level, "_")
	if level == "" {
		level = "unknown"
	}
	return s.prefix + "/" + level
}

func (s *MQTTSink) Close() error {
	s.pub.Close()
	return nil
}

type mqttClient struct {
	client mqtt.Client
}

func dialMQTT(cfg MQTTConfig) (*mqttClient, error) {
	port := cfg.Port
	if port == 0 {
		port = 1883
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "epp-monitor"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, port))
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := mqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(10 * time.Second); !ok {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect error: %w", err)
	}
	return &mqttClient{client: cli}, nil
}

func (c *mqttClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if ok := token.WaitTimeout(5 * time.Second); !ok {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (c *mqttClient) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}
