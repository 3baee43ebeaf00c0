package influxdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/yndnr/iotmesh-go/internal/core/domain"
	"github.com/yndnr/iotmesh-go/internal/telemetry/metric"
)

const (
	sinkName = "influxdb"

	measurementTemperature = "device_temperature"
	measurementImage       = "device_image"

	defaultPingTimeout = 5 * time.Second
)

var (
	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

// Config configures the InfluxDB v2 connection.
type Config struct {
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     uint
	FlushInterval time.Duration
}

// Sink writes device readings. It implements service.ReadingSink.
type Sink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	metrics  *metric.Registry
	logger   *slog.Logger

	errsDone  chan struct{}
	closeOnce sync.Once
}

// Connect creates the client, verifies the server answers a ping and
// starts the batching writer.
func Connect(ctx context.Context, cfg Config, metrics *metric.Registry, logger *slog.Logger) (*Sink, error) {
	if metrics == nil {
		metrics = metric.Global()
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(uint(cfg.FlushInterval / time.Millisecond))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	s := &Sink{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		metrics:  metrics,
		logger:   logger.With("component", "influxdb", "url", cfg.URL, "bucket", cfg.Bucket),
		errsDone: make(chan struct{}),
	}
	go s.handleWriteErrors(s.writeAPI.Errors())
	return s, nil
}

func (s *Sink) handleWriteErrors(errs <-chan error) {
	defer close(s.errsDone)
	for err := range errs {
		s.metrics.RecordSinkError(sinkName)
		s.logger.Warn("write failed", "error", err)
	}
}

// OnTemperature writes a device_temperature point.
func (s *Sink) OnTemperature(dev *domain.Device, r domain.Reading) {
	s.writeAPI.WritePoint(temperaturePoint(dev, r))
}

// OnImage writes a device_image point.
func (s *Sink) OnImage(dev *domain.Device, img *domain.Image) {
	s.writeAPI.WritePoint(imagePoint(dev, img))
}

// Close flushes pending points and closes the client.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		s.writeAPI.Flush()
		s.client.Close()
	})
	return nil
}

func deviceTags(dev *domain.Device) map[string]string {
	return map[string]string{
		"owner":  dev.Owner,
		"dev_id": strconv.Itoa(dev.ID),
		"device": dev.Name(),
	}
}

func temperaturePoint(dev *domain.Device, r domain.Reading) *write.Point {
	return write.NewPoint(
		measurementTemperature,
		deviceTags(dev),
		map[string]interface{}{"value": r.Value},
		r.At,
	)
}

func imagePoint(dev *domain.Device, img *domain.Image) *write.Point {
	return write.NewPoint(
		measurementImage,
		deviceTags(dev),
		map[string]interface{}{
			"name":       img.Name,
			"size_bytes": int64(len(img.Data)),
		},
		img.At,
	)
}
