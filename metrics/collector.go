// Package metrics exposes bus and configuration-run counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-dxl/dxl"
	"github.com/arloliu/go-dxl/sequencer"
)

const namespace = "dxl"

var (
	framesSentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "frames_sent_total"),
		"Instruction frames written to the bus.", []string{"port"}, nil)
	framesRecvDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "frames_received_total"),
		"Valid status frames received from the bus.", []string{"port"}, nil)
	timeoutsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "timeouts_total"),
		"Exchanges that ended without a valid status frame.", []string{"port"}, nil)
	decodeErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "decode_errors_total"),
		"Corrupt or malformed status frames.", []string{"port"}, nil)
	deviceErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "bus", "device_errors_total"),
		"Status frames carrying a non-zero error byte.", []string{"port"}, nil)

	deviceExchangesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "exchanges_total"),
		"Unicast exchanges addressed to a device.", []string{"port", "id"}, nil)
	deviceTimeoutsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "timeouts_total"),
		"Exchanges with a device that timed out.", []string{"port", "id"}, nil)
	deviceErrorsPerIDDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "errors_total"),
		"Replies from a device with a non-zero error byte.", []string{"port", "id"}, nil)
	deviceLastSeenDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "device", "last_seen_timestamp_seconds"),
		"Unix time of the last valid reply from a device.", []string{"port", "id"}, nil)
)

// Collector reports the counters of every attached bus and records
// configuration run outcomes.
type Collector struct {
	mu    sync.RWMutex
	buses map[string]*dxl.BusMetrics

	runs        *prometheus.CounterVec
	runDuration prometheus.Histogram
	attempts    prometheus.Histogram
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		buses: make(map[string]*dxl.BusMetrics),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "runs_total",
			Help:      "Configuration runs by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "run_duration_seconds",
			Help:      "Wall time of configuration runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sequencer",
			Name:      "discovery_attempts",
			Help:      "Pings sent before the device answered or the budget ran out.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
	}
}

// Attach starts reporting the counters of bus under the port label.
// Attaching the same port again replaces the previous bus.
func (c *Collector) Attach(port string, bus *dxl.Bus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buses[port] = bus.Metrics()
}

// Detach stops reporting port.
func (c *Collector) Detach(port string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.buses, port)
}

// ObserveRun records the outcome of a finished configuration run.
func (c *Collector) ObserveRun(res sequencer.Result) {
	c.runs.WithLabelValues(res.State.String()).Inc()
	c.attempts.Observe(float64(res.Attempts))
	if !res.Finished.IsZero() {
		c.runDuration.Observe(res.Finished.Sub(res.Started).Seconds())
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- framesSentDesc
	ch <- framesRecvDesc
	ch <- timeoutsDesc
	ch <- decodeErrorsDesc
	ch <- deviceErrorsDesc
	ch <- deviceExchangesDesc
	ch <- deviceTimeoutsDesc
	ch <- deviceErrorsPerIDDesc
	ch <- deviceLastSeenDesc
	c.runs.Describe(ch)
	c.runDuration.Describe(ch)
	c.attempts.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for port, m := range c.buses {
		counter(ch, framesSentDesc, m.FramesSent.Load(), port)
		counter(ch, framesRecvDesc, m.FramesRecv.Load(), port)
		counter(ch, timeoutsDesc, m.Timeouts.Load(), port)
		counter(ch, decodeErrorsDesc, m.DecodeErrors.Load(), port)
		counter(ch, deviceErrorsDesc, m.DeviceErrors.Load(), port)

		m.RangeDevices(func(id int, s *dxl.DeviceStats) bool {
			label := strconv.Itoa(id)
			counter(ch, deviceExchangesDesc, s.Exchanges.Load(), port, label)
			counter(ch, deviceTimeoutsDesc, s.Timeouts.Load(), port, label)
			counter(ch, deviceErrorsPerIDDesc, s.DeviceErrors.Load(), port, label)
			if seen := s.LastSeen.Load(); seen > 0 {
				ch <- prometheus.MustNewConstMetric(deviceLastSeenDesc, prometheus.GaugeValue,
					float64(seen)/float64(time.Second), port, label)
			}

			return true
		})
	}

	c.runs.Collect(ch)
	c.runDuration.Collect(ch)
	c.attempts.Collect(ch)
}

func counter(ch chan<- prometheus.Metric, desc *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
}

// NewRegistry returns a registry holding c plus the Go runtime and process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          reg,
	})
}

// NewServer returns an HTTP server exposing reg on /metrics at addr.
// The caller starts it with ListenAndServe and stops it with Shutdown.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
