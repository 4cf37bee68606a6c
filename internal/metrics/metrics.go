// Package metrics observes request throughput. The Throughput observer
// starts its clock at the first handled request and logs the elapsed time
// every ReportEvery requests; each observation is also recorded in a
// go-metrics in-memory sink.
package metrics

import (
	"strings"
	"sync/atomic"
	"time"

	gometrics "github.com/hashicorp/go-metrics"
	"go.uber.org/zap"
)

// DefaultReportEvery is how many requests make up one reporting window.
const DefaultReportEvery = 10000

// Observer is notified once per handled request.
type Observer interface {
	RequestHandled(op string, elapsed time.Duration)
}

// Nop discards observations.
type Nop struct{}

func (Nop) RequestHandled(string, time.Duration) {}

// Config controls the Throughput observer.
type Config struct {
	ServiceName string
	ReportEvery uint64
	Interval    time.Duration
	Retain      time.Duration
}

// Throughput counts handled requests.
type Throughput struct {
	cfg     Config
	log     *zap.Logger
	sink    *gometrics.InmemSink
	metrics *gometrics.Metrics

	handled atomic.Uint64
	started atomic.Int64 // unix nanos of the first request, 0 until then
	now     func() time.Time
}

// NewThroughput builds a Throughput observer backed by an in-memory sink.
func NewThroughput(cfg Config, log *zap.Logger) (*Throughput, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kvpool"
	}
	if cfg.ReportEvery == 0 {
		cfg.ReportEvery = DefaultReportEvery
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Retain <= 0 {
		cfg.Retain = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}

	sink := gometrics.NewInmemSink(cfg.Interval, cfg.Retain)
	mcfg := gometrics.DefaultConfig(cfg.ServiceName)
	mcfg.EnableHostname = false
	mcfg.EnableRuntimeMetrics = false
	m, err := gometrics.New(mcfg, sink)
	if err != nil {
		return nil, err
	}

	return &Throughput{
		cfg:     cfg,
		log:     log,
		sink:    sink,
		metrics: m,
		now:     time.Now,
	}, nil
}

// RequestHandled records one request. Safe for concurrent use.
func (t *Throughput) RequestHandled(op string, elapsed time.Duration) {
	now := t.now()
	t.started.CompareAndSwap(0, now.UnixNano())
	n := t.handled.Add(1)

	t.metrics.IncrCounter([]string{"requests", strings.ToLower(op)}, 1)
	t.metrics.AddSample([]string{"request", "latency_ms"}, float32(elapsed)/float32(time.Millisecond))

	if n%t.cfg.ReportEvery == 0 {
		total := now.Sub(time.Unix(0, t.started.Load()))
		t.log.Info("throughput window reached",
			zap.Uint64("requests", n),
			zap.Duration("elapsed", total),
			zap.Float64("req_per_sec", float64(n)/total.Seconds()))
	}
}

// Handled returns the number of requests observed so far.
func (t *Throughput) Handled() uint64 {
	return t.handled.Load()
}

// Elapsed is the time since the first observed request, or zero.
func (t *Throughput) Elapsed() time.Duration {
	started := t.started.Load()
	if started == 0 {
		return 0
	}
	return t.now().Sub(time.Unix(0, started))
}

// Sink exposes the in-memory metrics for dumping.
func (t *Throughput) Sink() *gometrics.InmemSink {
	return t.sink
}
