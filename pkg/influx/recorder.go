// Package influx writes polled rig state to InfluxDB v2 as time series.
package influx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/dougsko/rigd/pkg/logging"
	"github.com/dougsko/rigd/pkg/monitor"
)

const (
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushMS        = 5000
)

// ErrConnectionFailed is returned when the server is unreachable or
// reports itself unhealthy.
var ErrConnectionFailed = errors.New("influxdb connection failed")

// Options configures the recorder.
type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Recorder batches one point per snapshot.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *logging.Logger

	mu      sync.Mutex
	written int64
	failed  int64
	done    chan struct{}
}

// Connect pings the server and prepares a non-blocking write API.
func Connect(ctx context.Context, opts Options, logger *logging.Logger) (*Recorder, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushMS))

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	r := &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(opts.Org, opts.Bucket),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go r.watchErrors(r.writeAPI.Errors())
	logger.Infof("influx", "Writing to %s bucket %s", opts.URL, opts.Bucket)
	return r, nil
}

func (r *Recorder) watchErrors(errs <-chan error) {
	defer close(r.done)
	for err := range errs {
		r.mu.Lock()
		r.failed++
		r.mu.Unlock()
		r.logger.Warnf("influx", "Write failed: %v", err)
	}
}

// Point builds the "rig" measurement for a snapshot. It returns nil for
// snapshots carrying no readings.
func Point(snap monitor.Snapshot) *write.Point {
	if snap.Model == 0 {
		return nil
	}
	tags := map[string]string{
		"model": fmt.Sprint(snap.Model),
		"name":  snap.Name,
	}
	fields := map[string]interface{}{
		"freq":  snap.Freq,
		"width": snap.Width,
		"ptt":   snap.PTT,
		"split": snap.Split,
		"mode":  string(snap.Mode),
		"vfo":   snap.VFO,
	}
	for name, v := range snap.Meters {
		fields["meter_"+name] = v
	}
	if snap.Rotator != nil {
		fields["az"] = snap.Rotator.Az
		fields["el"] = snap.Rotator.El
	}
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint("rig", tags, fields, ts)
}

// Record queues a point for the snapshot.
func (r *Recorder) Record(snap monitor.Snapshot) {
	p := Point(snap)
	if p == nil {
		return
	}
	r.writeAPI.WritePoint(p)
	r.mu.Lock()
	r.written++
	r.mu.Unlock()
}

// Run records every snapshot from ch until it closes or ctx ends.
func (r *Recorder) Run(ctx context.Context, ch <-chan monitor.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			r.Record(snap)
		}
	}
}

// Stats returns write counters.
func (r *Recorder) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]interface{}{"points": r.written, "errors": r.failed}
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
	select {
	case <-r.done:
	case <-time.After(time.Second):
	}
}
