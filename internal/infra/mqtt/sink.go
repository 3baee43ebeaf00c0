package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

const (
	sinkName = "mqtt"

	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultQueueSize         = 1024
)

// Config configures the broker connection.
type Config struct {
	Broker         string
	Port           int
	ClientID       string
	TopicPrefix    string
	QoS            byte
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	QueueSize      int

	// TLS switches the connection to ssl:// when set.
	TLS *tls.Config
}

// BrokerURL returns the tcp:// or ssl:// URL of the broker.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.TLS != nil {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker, c.Port)
}

// publisher is the part of pahomqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

type message struct {
	topic   string
	payload []byte
}

// Sink publishes device readings. It implements service.ReadingSink.
type Sink struct {
	cfg     Config
	topics  Topics
	client  publisher
	queue   chan message
	metrics *metric.Registry
	logger  *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Connect dials the broker and starts the publisher.
func Connect(cfg Config, metrics *metric.Registry, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt", "broker", cfg.BrokerURL())

	topics := Topics{Prefix: cfg.TopicPrefix}
	opts := buildClientOptions(cfg, topics)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logger.Info("mqtt connected")
		c.Publish(topics.ServerStatus(), cfg.QoS, true, statusPayload(cfg.ClientID, "online", ""))
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return newSink(cfg, client, metrics, logger), nil
}

func buildClientOptions(cfg Config, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)
	if cfg.TLS != nil {
		opts.SetTLSConfig(cfg.TLS)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWill(topics.ServerStatus(), string(statusPayload(cfg.ClientID, "offline", "unexpected_disconnect")), 1, true)
	return opts
}

func newSink(cfg Config, client publisher, metrics *metric.Registry, logger *slog.Logger) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if metrics == nil {
		metrics = metric.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		cfg:     cfg,
		topics:  Topics{Prefix: cfg.TopicPrefix},
		client:  client,
		queue:   make(chan message, cfg.QueueSize),
		metrics: metrics,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

type temperaturePayload struct {
	Device string    `json:"device"`
	Owner  string    `json:"owner"`
	DevID  int       `json:"dev_id"`
	Value  float64   `json:"value"`
	At     time.Time `json:"at"`
}

type imagePayload struct {
	Device string    `json:"device"`
	Owner  string    `json:"owner"`
	DevID  int       `json:"dev_id"`
	Name   string    `json:"name"`
	Size   int       `json:"size"`
	At     time.Time `json:"at"`
}

// OnTemperature queues the reading for publishing.
func (s *Sink) OnTemperature(dev *domain.Device, r domain.Reading) {
	payload, err := json.Marshal(temperaturePayload{
		Device: dev.Name(),
		Owner:  dev.Owner,
		DevID:  dev.ID,
		Value:  r.Value,
		At:     r.At.UTC(),
	})
	if err != nil {
		s.fail(dev.Name(), err)
		return
	}
	s.enqueue(dev.Name(), message{topic: s.topics.Temperature(dev.Owner, dev.ID), payload: payload})
}

// OnImage queues the image metadata for publishing.
func (s *Sink) OnImage(dev *domain.Device, img *domain.Image) {
	payload, err := json.Marshal(imagePayload{
		Device: dev.Name(),
		Owner:  dev.Owner,
		DevID:  dev.ID,
		Name:   img.Name,
		Size:   len(img.Data),
		At:     img.At.UTC(),
	})
	if err != nil {
		s.fail(dev.Name(), err)
		return
	}
	s.enqueue(dev.Name(), message{topic: s.topics.Image(dev.Owner, dev.ID), payload: payload})
}

func (s *Sink) enqueue(device string, m message) {
	select {
	case <-s.stop:
		return
	default:
	}
	select {
	case s.queue <- m:
	default:
		s.fail(device, ErrQueueFull)
	}
}

func (s *Sink) fail(device string, err error) {
	s.metrics.RecordSinkError(sinkName)
	s.logger.Warn("reading not published", "device", device, "error", err)
}

func (s *Sink) run() {
	defer close(s.done)
	for {
		select {
		case m := <-s.queue:
			s.publish(m)
		case <-s.stop:
			for {
				select {
				case m := <-s.queue:
					s.publish(m)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) publish(m message) {
	token := s.client.Publish(m.topic, s.cfg.QoS, true, m.payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		s.metrics.RecordSinkError(sinkName)
		s.logger.Warn("publish timed out", "topic", m.topic, "timeout", defaultPublishTimeout)
		return
	}
	if err := token.Error(); err != nil {
		s.metrics.RecordSinkError(sinkName)
		s.logger.Warn("publish failed", "topic", m.topic, "error", fmt.Errorf("%w: %w", ErrPublishFailed, err))
	}
}

// Close drains the queue, announces the graceful shutdown and disconnects.
// Readings still queued when ctx is done are dropped.
func (s *Sink) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.done:
		case <-ctx.Done():
			err = fmt.Errorf("mqtt: drain queue: %w", ctx.Err())
		}
		token := s.client.Publish(s.topics.ServerStatus(), s.cfg.QoS, true,
			statusPayload(s.cfg.ClientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(time.Second)
		s.client.Disconnect(defaultDisconnectQuiesce)
	})
	return err
}

func statusPayload(clientID, status, reason string) []byte {
	payload, _ := json.Marshal(struct {
		Status    string `json:"status"`
		ClientID  string `json:"client_id"`
		Reason    string `json:"reason,omitempty"`
		Timestamp string `json:"timestamp"`
	}{status, clientID, reason, time.Now().UTC().Format(time.RFC3339)})
	return payload
}
