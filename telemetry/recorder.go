// Package telemetry ships periodic snapshots of the simulator variable
// set to InfluxDB, so cockpit sessions can be charted and replayed.
package telemetry

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"

	"github.com/openflite/openflite"
)

const defaultInterval = 10 * time.Second
const defaultMeasurement = "simvars"
const bridgeMeasurement = "bridge"

// Recorder writes one point per simulator variable every interval, plus
// one point carrying the attached device count. Exported fields come from
// the config file.
type Recorder struct {
	Url          string
	Token        string
	Organization string
	Bucket       string
	Measurement  string
	Interval     time.Duration

	core     *openflite.Core
	writeApi api.WriteAPIBlocking
	logger   *log.Logger
}

// Run records snapshots until the context is cancelled.
func (r *Recorder) Run(ctx context.Context, core *openflite.Core) error {
	r.core = core
	if r.Url == "" {
		return errors.New("influx url not configured")
	}
	if r.Interval <= 0 {
		r.Interval = defaultInterval
	}
	if r.Measurement == "" {
		r.Measurement = defaultMeasurement
	}
	r.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "telemetry",
		Level:  log.GetLevel(),
	})

	client := influxdb2.NewClient(r.Url, r.Token)
	defer client.Close()
	r.writeApi = client.WriteAPIBlocking(r.Organization, r.Bucket)

	r.logger.Info("recording snapshots", "url", r.Url, "bucket", r.Bucket, "interval", r.Interval)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.record(ctx); err != nil {
				r.logger.Warn("snapshot write failed", "err", err)
			}
		}
	}
}

// record writes the current variable snapshot; a disconnected simulator
// contributes only the device count point.
func (r *Recorder) record(ctx context.Context) error {
	now := time.Now()
	sim := r.core.SimName()

	var points []*write.Point
	for name, value := range r.core.Variables() {
		tags := map[string]string{"variable": name}
		if sim != "" {
			tags["simulator"] = sim
		}
		points = append(points, influxdb2.NewPoint(r.Measurement, tags,
			map[string]interface{}{"value": value}, now))
	}

	points = append(points, influxdb2.NewPoint(bridgeMeasurement, nil,
		map[string]interface{}{"devices": len(r.core.Devices())}, now))

	return r.writeApi.WritePoint(ctx, points...)
}
