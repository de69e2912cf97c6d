package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"factory-dashboard-backend/config"
	"factory-dashboard-backend/internal/store"
)

// MQTTSubscriber feeds agent logs published on an MQTT topic into a Service.
type MQTTSubscriber struct {
	cfg    config.MQTTConfig
	svc    *Service
	client mqtt.Client
	log    *zap.Logger
}

// NewMQTTSubscriber creates a subscriber. Call Start to connect.
func NewMQTTSubscriber(cfg config.MQTTConfig, svc *Service, log *zap.Logger) *MQTTSubscriber {
	if log == nil {
		log = zap.NewNop()
	}
	return &MQTTSubscriber{cfg: cfg, svc: svc, log: log.Named("mqtt")}
}

// Start connects to the broker and subscribes to the log topic. Messages are
// handled on paho's goroutines with ctx as their parent context.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("connection lost", zap.Error(err))
	})
	// resubscribe after every reconnect; clean sessions drop subscriptions
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(ctx, c); err != nil {
			s.log.Error("subscribe failed", zap.Error(err))
		}
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	s.log.Info("MQTT subscriber started", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	return nil
}

func (s *MQTTSubscriber) subscribe(ctx context.Context, c mqtt.Client) error {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := s.HandleMessage(ctx, msg.Topic(), msg.Payload()); err != nil {
			s.log.Warn("dropping MQTT message", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (s *MQTTSubscriber) Stop() {
	if s.client == nil || !s.client.IsConnected() {
		return
	}
	s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
	s.log.Info("MQTT subscriber stopped")
}

// HandleMessage records one payload. When the payload names no machine the
// wildcard segment of the topic is used. Unknown machines are registered
// first when auto-registration is enabled.
func (s *MQTTSubscriber) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	var in LogInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("failed to decode log payload: %w", err)
	}
	if in.Resolve() == "" {
		in.Name = TopicMachine(s.cfg.Topic, topic)
	}

	_, err := s.svc.Record(ctx, in, SourceMQTT)
	if errors.Is(err, store.ErrMachineNotFound) && s.cfg.AutoRegister {
		if _, err := s.svc.Register(ctx, in.Resolve()); err != nil {
			return fmt.Errorf("auto-register %q: %w", in.Resolve(), err)
		}
		_, err = s.svc.Record(ctx, in, SourceMQTT)
		return err
	}
	return err
}

// TopicMachine returns the segment of topic matched by the first single-level
// wildcard in pattern, or "" when there is none.
func TopicMachine(pattern, topic string) string {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, p := range pp {
		if i >= len(tp) {
			return ""
		}
		if p == "+" {
			return tp[i]
		}
	}
	return ""
}
