package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func NewMQTTClient(broker, clientID string, logger *slog.Logger) (mqtt.Client, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt_connection_lost", slog.Any("error", err))
		})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.WaitTimeout(30*time.Second) && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return client, nil
}

// MQTTSource subscribes to a telemetry topic pattern. paho delivers each
// message on its own router goroutine in arrival order.
type MQTTSource struct {
	client  mqtt.Client
	topic   string
	qos     byte
	handler *Handler
	log     *slog.Logger
}

func NewMQTTSource(client mqtt.Client, topic string, qos int, handler *Handler, logger *slog.Logger) *MQTTSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if qos < 0 || qos > 2 {
		qos = 1
	}
	return &MQTTSource{
		client:  client,
		topic:   topic,
		qos:     byte(qos),
		handler: handler,
		log:     logger.With(slog.String("component", "mqtt_source"), slog.String("topic", topic)),
	}
}

// Run subscribes and blocks until ctx is cancelled, then unsubscribes and
// disconnects.
func (s *MQTTSource) Run(ctx context.Context) error {
	token := s.client.Subscribe(s.topic, s.qos, s.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", s.topic, err)
	}
	s.log.Info("mqtt_source_started")

	<-ctx.Done()

	s.client.Unsubscribe(s.topic).WaitTimeout(2 * time.Second)
	s.client.Disconnect(250)
	s.log.Info("mqtt_source_stopped")
	return nil
}

func (s *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	s.handler.HandlePayload(msg.Payload())
}
