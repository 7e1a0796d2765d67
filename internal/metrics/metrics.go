// Package metrics is a hand-rolled Prometheus text exporter, matching the
// teacher's own choice not to pull in prometheus/client_golang (see
// DESIGN.md). It tracks request counts/latency per listener+path and
// upstream liveness per route+endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector accumulates counters/histograms for Prometheus-style export.
type Collector struct {
	mu sync.RWMutex

	requestsTotal    map[string]int64          // key: listener|path|status
	requestDurations map[string]*HistogramData // key: listener|path
	backendHealthy   map[string]int            // key: listener|route|endpoint
}

// HistogramData stores bucketed duration samples.
type HistogramData struct {
	Count   int64
	Sum     float64
	Buckets map[float64]int64
}

// DefaultBuckets mirror the teacher's default latency buckets (seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		requestsTotal:    make(map[string]int64),
		requestDurations: make(map[string]*HistogramData),
		backendHealthy:   make(map[string]int),
	}
}

// RecordRequest increments the request counter for (listener, path, status).
func (c *Collector) RecordRequest(listener, path string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := listener + "|" + path + "|" + strconv.Itoa(status)
	c.requestsTotal[key]++
}

// RecordDuration records one latency sample for (listener, path).
func (c *Collector) RecordDuration(listener, path string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := listener + "|" + path
	hd, ok := c.requestDurations[key]
	if !ok {
		hd = &HistogramData{Buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			hd.Buckets[b] = 0
		}
		c.requestDurations[key] = hd
	}
	secs := d.Seconds()
	hd.Count++
	hd.Sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.Buckets[bound]++
		}
	}
}

// SetBackendHealthy records an upstream's current liveness for (listener, route, endpoint).
func (c *Collector) SetBackendHealthy(listener, route, endpoint string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := listener + "|" + route + "|" + endpoint
	if healthy {
		c.backendHealthy[key] = 1
	} else {
		c.backendHealthy[key] = 0
	}
}

// WritePrometheus writes every metric in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "proxy_requests_total", "Total number of proxied requests", "counter")
	for key, count := range c.requestsTotal {
		parts := splitKey(key, 3)
		if len(parts) == 3 {
			writeMetric(w, "proxy_requests_total", count, "listener", parts[0], "path", parts[1], "status", parts[2])
		}
	}

	writeHelp(w, "proxy_request_duration_seconds", "Request duration in seconds", "histogram")
	for key, hd := range c.requestDurations {
		parts := splitKey(key, 2)
		if len(parts) != 2 {
			continue
		}
		for _, bound := range DefaultBuckets {
			writeMetricFloat(w, "proxy_request_duration_seconds_bucket", float64(hd.Buckets[bound]),
				"listener", parts[0], "path", parts[1], "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "proxy_request_duration_seconds_bucket", float64(hd.Count),
			"listener", parts[0], "path", parts[1], "le", "+Inf")
		writeMetricFloat(w, "proxy_request_duration_seconds_sum", hd.Sum, "listener", parts[0], "path", parts[1])
		writeMetric(w, "proxy_request_duration_seconds_count", hd.Count, "listener", parts[0], "path", parts[1])
	}

	writeHelp(w, "proxy_backend_healthy", "Upstream liveness (0=ejected/unknown, 1=live)", "gauge")
	for key, healthy := range c.backendHealthy {
		parts := splitKey(key, 3)
		if len(parts) == 3 {
			writeMetric(w, "proxy_backend_healthy", int64(healthy), "listener", parts[0], "route", parts[1], "endpoint", parts[2])
		}
	}
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}

// Default is the process-wide collector used by the package-level helpers
// below, mirroring the teacher's convenience of a shared instance for
// handler code that doesn't want to thread a Collector through.
var Default = NewCollector()

// IncRequest records one request against the default collector.
func IncRequest(listener, path string, status int) {
	Default.RecordRequest(listener, path, status)
}

// ObserveDuration records one latency sample against the default collector.
func ObserveDuration(listener, path string, d time.Duration) {
	Default.RecordDuration(listener, path, d)
}

// SetBackendHealthy updates the default collector's liveness gauge.
func SetBackendHealthy(listener, route, endpoint string, healthy bool) {
	Default.SetBackendHealthy(listener, route, endpoint, healthy)
}

// WritePrometheus writes the default collector's metrics.
func WritePrometheus(w http.ResponseWriter) {
	Default.WritePrometheus(w)
}
