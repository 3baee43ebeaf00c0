package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

type fakeToken struct {
	err   error
	block bool
}

func (t *fakeToken) Wait() bool { return !t.block }
func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return !t.block
}
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.block {
		close(ch)
	}
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu           sync.Mutex
	msgs         []published
	err          error
	gate         chan struct{}
	disconnected bool
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: p.err}
}

func (p *fakePublisher) Disconnect(uint) {
	p.mu.Lock()
	p.disconnected = true
	p.mu.Unlock()
}

func (p *fakePublisher) byTopic(topic string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scrapeMetrics(t *testing.T, m *metric.Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestTopics(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		got    func(Topics) string
		want   string
	}{
		{"temperature", "iotmesh", func(tp Topics) string { return tp.Temperature("alice", 7) }, "iotmesh/device/alice/7/temperature"},
		{"image", "iotmesh", func(tp Topics) string { return tp.Image("alice", 7) }, "iotmesh/device/alice/7/image"},
		{"status", "iotmesh", Topics.ServerStatus, "iotmesh/server/status"},
		{"trimmed prefix", "/site/a/", func(tp Topics) string { return tp.Temperature("bob", 0) }, "site/a/device/bob/0/temperature"},
		{"no prefix", "", func(tp Topics) string { return tp.Image("bob", 3) }, "device/bob/3/image"},
		{"wildcards escaped", "iotmesh", func(tp Topics) string { return tp.Temperature("a+b#c", 1) }, "iotmesh/device/a_b_c/1/temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(Topics{Prefix: tt.prefix}); got != tt.want {
				t.Errorf("topic = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSink_PublishesReadings(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(Config{TopicPrefix: "iotmesh", QoS: 1}, pub, metric.NewRegistry(), discardLogger())

	dev := domain.NewDevice("alice", 7)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.OnTemperature(dev, domain.Reading{Value: 21.5, At: at})
	s.OnImage(dev, &domain.Image{Name: "cam.jpg", Data: []byte("jpeg"), At: at})

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	temps := pub.byTopic("iotmesh/device/alice/7/temperature")
	if len(temps) != 1 {
		t.Fatalf("temperature messages = %d, want 1", len(temps))
	}
	var tp temperaturePayload
	if err := json.Unmarshal(temps[0].payload, &tp); err != nil {
		t.Fatalf("decode temperature: %v", err)
	}
	if tp.Device != "alice:7" || tp.Owner != "alice" || tp.DevID != 7 || tp.Value != 21.5 || !tp.At.Equal(at) {
		t.Errorf("temperature payload = %+v", tp)
	}
	if !temps[0].retained {
		t.Error("readings should be retained")
	}

	imgs := pub.byTopic("iotmesh/device/alice/7/image")
	if len(imgs) != 1 {
		t.Fatalf("image messages = %d, want 1", len(imgs))
	}
	var ip imagePayload
	if err := json.Unmarshal(imgs[0].payload, &ip); err != nil {
		t.Fatalf("decode image: %v", err)
	}
	if ip.Name != "cam.jpg" || ip.Size != 4 {
		t.Errorf("image payload = %+v", ip)
	}
	if strings.Contains(string(imgs[0].payload), "jpeg\"") {
		t.Error("image bytes must not be published")
	}
}

func TestSink_CloseAnnouncesOffline(t *testing.T) {
	pub := &fakePublisher{}
	s := newSink(Config{TopicPrefix: "iotmesh", ClientID: "iotmesh-server"}, pub, metric.NewRegistry(), discardLogger())

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	status := pub.byTopic("iotmesh/server/status")
	if len(status) != 1 {
		t.Fatalf("status messages = %d, want 1", len(status))
	}
	if !strings.Contains(string(status[0].payload), `"status":"offline"`) ||
		!strings.Contains(string(status[0].payload), `"reason":"graceful_shutdown"`) {
		t.Errorf("status payload = %s", status[0].payload)
	}
	if !pub.disconnected {
		t.Error("client not disconnected")
	}

	// Readings after Close are ignored.
	s.OnTemperature(domain.NewDevice("alice", 7), domain.Reading{Value: 1, At: time.Now()})
	if n := len(pub.byTopic("iotmesh/device/alice/7/temperature")); n != 0 {
		t.Errorf("published %d readings after Close", n)
	}
}

func TestSink_DropsWhenQueueFull(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	m := metric.NewRegistry()
	s := newSink(Config{TopicPrefix: "iotmesh", QueueSize: 1}, pub, m, discardLogger())

	dev := domain.NewDevice("alice", 7)
	// The first reading is taken by the publisher, which blocks on the
	// gate; the second fills the queue and the rest are dropped.
	s.OnTemperature(dev, domain.Reading{Value: 1, At: time.Now()})
	deadline := time.Now().Add(time.Second)
	for len(s.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.OnTemperature(dev, domain.Reading{Value: 2, At: time.Now()})
	s.OnTemperature(dev, domain.Reading{Value: 3, At: time.Now()})
	s.OnTemperature(dev, domain.Reading{Value: 4, At: time.Now()})

	if !strings.Contains(scrapeMetrics(t, m), `iotmesh_sink_errors_total{sink="mqtt"} 2`) {
		t.Error("dropped readings not counted")
	}

	close(pub.gate)
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(pub.byTopic("iotmesh/device/alice/7/temperature")); n != 2 {
		t.Errorf("published %d readings, want 2", n)
	}
}

func TestSink_PublishErrorCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	m := metric.NewRegistry()
	s := newSink(Config{TopicPrefix: "iotmesh"}, pub, m, discardLogger())

	s.OnTemperature(domain.NewDevice("bob", 1), domain.Reading{Value: 18, At: time.Now()})
	_ = s.Close(context.Background())

	if !strings.Contains(scrapeMetrics(t, m), `iotmesh_sink_errors_total{sink="mqtt"} 1`) {
		t.Error("publish error not counted")
	}
}

func TestSink_CloseHonoursContext(t *testing.T) {
	pub := &fakePublisher{gate: make(chan struct{})}
	s := newSink(Config{TopicPrefix: "iotmesh"}, pub, metric.NewRegistry(), discardLogger())
	s.OnTemperature(domain.NewDevice("bob", 1), domain.Reading{Value: 18, At: time.Now()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Close(ctx) }()

	time.Sleep(50 * time.Millisecond)
	close(pub.gate)

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Close() = %v, want deadline exceeded", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
}

func TestConfig_BrokerURL(t *testing.T) {
	cfg := Config{Broker: "broker.local", Port: 1883}
	if got := cfg.BrokerURL(); got != "tcp://broker.local:1883" {
		t.Errorf("BrokerURL() = %q", got)
	}
	cfg.Port = 8883
	cfg.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	if got := cfg.BrokerURL(); got != "ssl://broker.local:8883" {
		t.Errorf("BrokerURL() with TLS = %q", got)
	}
	if opts := buildClientOptions(cfg, Topics{}); opts.TLSConfig != cfg.TLS {
		t.Error("TLS config not passed to client options")
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := Config{
		Broker:         "broker.local",
		Port:           1883,
		ClientID:       "iotmesh-server",
		TopicPrefix:    "iotmesh",
		Username:       "svc",
		Password:       "pw",
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
	opts := buildClientOptions(cfg, Topics{Prefix: cfg.TopicPrefix})

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://broker.local:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "iotmesh-server" || opts.Username != "svc" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if !opts.WillEnabled || opts.WillTopic != "iotmesh/server/status" || !opts.WillRetained {
		t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	if opts.KeepAlive != 30 {
		t.Errorf("KeepAlive = %d, want 30", opts.KeepAlive)
	}
}
