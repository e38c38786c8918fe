// Package history records occupancy sessions in InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/presence-sensor/internal/logic"
)

// Measurement is the InfluxDB measurement name for occupancy changes.
const Measurement = "occupancy"

const (
	pingTimeout           = 5 * time.Second
	millisecondsPerSecond = 1000
)

// Errors returned by Connect.
var (
	ErrDisabled         = errors.New("history: disabled")
	ErrConnectionFailed = errors.New("history: connection failed")
)

// Config holds the InfluxDB connection settings.
type Config struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
	// Device is written as the device tag.
	Device string
	// BatchSize and FlushIntervalSeconds tune the non-blocking writer.
	BatchSize            int
	FlushIntervalSeconds int
}

// PointWriter is the non-blocking write side of the InfluxDB client.
// api.WriteAPI implements it.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder writes occupancy changes as points.
type Recorder struct {
	w      PointWriter
	device string
	close  func()
}

// NewRecorder wraps an existing writer.
func NewRecorder(w PointWriter, device string) *Recorder {
	return &Recorder{w: w, device: device}
}

// Connect creates a client, verifies the server and returns a recorder
// using the batched write API. Async write errors are logged.
func Connect(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	flush := cfg.FlushIntervalSeconds
	if flush <= 0 {
		flush = 10
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush)*millisecondsPerSecond))

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("influxdb write failed", "error", err)
		}
	}()

	r := NewRecorder(writeAPI, cfg.Device)
	r.close = client.Close
	return r, nil
}

// Record queues a point for change. It never blocks on the network.
func (r *Recorder) Record(_ context.Context, change logic.OccupancyChange) error {
	r.w.WritePoint(NewPoint(change, r.device))
	return nil
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.w.Flush()
	if r.close != nil {
		r.close()
	}
	return nil
}

// NewPoint builds the point for an occupancy change.
func NewPoint(change logic.OccupancyChange, device string) *write.Point {
	fields := map[string]interface{}{
		"occupied": change.Occupied,
		"session":  change.SessionID,
	}
	if !change.Occupied {
		fields["duration_seconds"] = change.Duration.Seconds()
	}
	return write.NewPoint(Measurement,
		map[string]string{"device": device},
		fields,
		change.Timestamp)
}
