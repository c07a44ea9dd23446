package history

import (
	"context"
	"fmt"
	"time"

	"vmsched/internal/config"
	"vmsched/internal/logging"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sirupsen/logrus"
)

// Recorder keeps one usage ring per pool and optionally mirrors samples to
// InfluxDB so restarts can warm the rings back up.
type Recorder struct {
	host  string
	depth int

	rings map[string]*Ring
	sink  *InfluxSink
}

type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	org      string
}

func NewInfluxSink(config config.DatabaseConfig) (*InfluxSink, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(config.Host, config.Password)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", config.Host).WithError(err).Error("Failed to connect to InfluxDB")
		return nil, err
	}

	if health.Status != "pass" {
		logger.WithFields(logrus.Fields{
			"host":    config.Host,
			"status":  health.Status,
			"message": health.Message,
		}).Error("InfluxDB health check failed")
		return nil, fmt.Errorf("influxdb health status %s", health.Status)
	}

	writeAPI := client.WriteAPIBlocking(config.Org, config.Name)
	queryAPI := client.QueryAPI(config.Org)

	logger.WithFields(logrus.Fields{
		"host":   config.Host,
		"bucket": config.Name,
		"org":    config.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
		queryAPI: queryAPI,
		bucket:   config.Name,
		org:      config.Org,
	}, nil
}

// WriteSample mirrors one pool usage sample.
func (s *InfluxSink) WriteSample(host, pool string, usage float64, capacity int, allocation float64, at time.Time) error {
	ctx := context.Background()

	point := influxdb2.NewPoint("pool_usage",
		map[string]string{
			"host": host,
			"pool": pool,
		},
		map[string]interface{}{
			"usage":      usage,
			"capacity":   capacity,
			"allocation": allocation,
		},
		at)

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write usage sample: %w", err)
	}
	return nil
}

// ReadRecent returns the newest samples for a pool, oldest-first, to warm a
// ring after restart.
func (s *InfluxSink) ReadRecent(host, pool string, depth int) ([]float64, error) {
	ctx := context.Background()

	query := fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -1h)
		|> filter(fn: (r) => r._measurement == "pool_usage")
		|> filter(fn: (r) => r.host == "%s" and r.pool == "%s")
		|> filter(fn: (r) => r._field == "usage")
		|> sort(columns: ["_time"])
		|> tail(n: %d)
	`, s.bucket, host, pool, depth)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	defer result.Close()

	var samples []float64
	for result.Next() {
		if value, ok := result.Record().Value().(float64); ok {
			samples = append(samples, value)
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query results: %w", result.Err())
	}

	return samples, nil
}

func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// NewRecorder builds a recorder. sink may be nil, in which case samples are
// kept in memory only.
func NewRecorder(host string, depth int, sink *InfluxSink) *Recorder {
	return &Recorder{
		host:  host,
		depth: depth,
		rings: make(map[string]*Ring),
		sink:  sink,
	}
}

// Track creates the ring for a pool, warming it from the sink when one is
// configured. Warmup failures are logged and ignored: a cold ring only
// delays the forecaster.
func (r *Recorder) Track(pool string) *Ring {
	if ring, ok := r.rings[pool]; ok {
		return ring
	}

	ring := NewRing(r.depth)
	if r.sink != nil {
		samples, err := r.sink.ReadRecent(r.host, pool, r.depth)
		if err != nil {
			logging.GetLogger().WithField("pool", pool).WithError(err).Warn("Failed to warm usage history")
		} else {
			for _, sample := range samples {
				ring.Append(sample)
			}
		}
	}

	r.rings[pool] = ring
	return ring
}

func (r *Recorder) Forget(pool string) {
	delete(r.rings, pool)
}

func (r *Recorder) Ring(pool string) *Ring {
	return r.rings[pool]
}

// Record appends a sample and mirrors it to the sink when configured. Sink
// write failures are logged, not propagated: telemetry must not stall the
// arbitration cycle.
func (r *Recorder) Record(pool string, usage float64, capacity int, allocation float64) {
	ring := r.Track(pool)
	ring.Append(usage)

	if r.sink != nil {
		if err := r.sink.WriteSample(r.host, pool, usage, capacity, allocation, time.Now()); err != nil {
			logging.GetLogger().WithField("pool", pool).WithError(err).Warn("Failed to mirror usage sample")
		}
	}
}
