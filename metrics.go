package rdmaconn

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the send-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a Conn.
type Metrics struct {
	// Message counters
	SendOps atomic.Uint64 // Total Send() calls
	RecvOps atomic.Uint64 // Total Recv() calls

	// Byte counters
	SendBytes   atomic.Uint64 // Total bytes written via WRITE_WITH_IMMEDIATE
	RecvBytes   atomic.Uint64 // Total bytes delivered to Recv()
	CreditBytes atomic.Uint64 // Total bytes credited back via release notifications

	// Error counters
	SendErrors atomic.Uint64 // Send operation errors
	RecvErrors atomic.Uint64 // Recv operation errors
	WcErrors   atomic.Uint64 // Non-success completions observed

	// Send-pool occupancy statistics (Conn reports outstanding bytes)
	SendPoolDepthTotal atomic.Uint64 // Cumulative outstanding-byte samples
	SendPoolDepthCount atomic.Uint64 // Number of occupancy measurements
	MaxSendPoolDepth   atomic.Uint32 // Maximum observed outstanding bytes

	// Send latency tracking (Conn reports the duration of each PostSend call)
	TotalLatencyNs atomic.Uint64 // Cumulative send latency in nanoseconds
	OpCount        atomic.Uint64 // Total latency samples (for average latency calculation)

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] contains the count of samples with latency <= LatencyBuckets[i]
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	// Connection lifecycle
	StartTime atomic.Int64 // Connection start timestamp (UnixNano)
	StopTime  atomic.Int64 // Connection close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records a completed send of a data message.
func (m *Metrics) RecordSend(bytes uint64, latencyNs uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRecv records a delivered message to Recv().
func (m *Metrics) RecordRecv(bytes uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
}

// RecordCredit records a release-credit notification of n bytes.
func (m *Metrics) RecordCredit(bytes uint64) {
	m.CreditBytes.Add(bytes)
}

// RecordWcError records a completion that reported a non-success status.
func (m *Metrics) RecordWcError() {
	m.WcErrors.Add(1)
}

// RecordSendPoolDepth records current send-pool occupancy for statistics.
func (m *Metrics) RecordSendPoolDepth(depth uint32) {
	m.SendPoolDepthTotal.Add(uint64(depth))
	m.SendPoolDepthCount.Add(1)

	for {
		current := m.MaxSendPoolDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxSendPoolDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

// recordLatency records completion latency and updates the histogram.
func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the connection as closed.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	// Message operations
	SendOps uint64
	RecvOps uint64

	// Bytes transferred
	SendBytes   uint64
	RecvBytes   uint64
	CreditBytes uint64

	// Error counts
	SendErrors uint64
	RecvErrors uint64
	WcErrors   uint64

	// Send-pool occupancy
	AvgSendPoolDepth float64
	MaxSendPoolDepth uint32

	// Performance
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns  uint64 // 50th percentile (median)
	LatencyP99Ns  uint64 // 99th percentile
	LatencyP999Ns uint64 // 99.9th percentile

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	SendMsgsPerSec float64 // Send() calls per second
	RecvMsgsPerSec float64
	SendBandwidth  float64 // Bytes per second
	RecvBandwidth  float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:          m.SendOps.Load(),
		RecvOps:          m.RecvOps.Load(),
		SendBytes:        m.SendBytes.Load(),
		RecvBytes:        m.RecvBytes.Load(),
		CreditBytes:      m.CreditBytes.Load(),
		SendErrors:       m.SendErrors.Load(),
		RecvErrors:       m.RecvErrors.Load(),
		WcErrors:         m.WcErrors.Load(),
		MaxSendPoolDepth: m.MaxSendPoolDepth.Load(),
	}

	snap.TotalOps = snap.SendOps + snap.RecvOps
	snap.TotalBytes = snap.SendBytes + snap.RecvBytes

	depthTotal := m.SendPoolDepthTotal.Load()
	depthCount := m.SendPoolDepthCount.Load()
	if depthCount > 0 {
		snap.AvgSendPoolDepth = float64(depthTotal) / float64(depthCount)
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.SendMsgsPerSec = float64(snap.SendOps) / uptimeSeconds
		snap.RecvMsgsPerSec = float64(snap.RecvOps) / uptimeSeconds
		snap.SendBandwidth = float64(snap.SendBytes) / uptimeSeconds
		snap.RecvBandwidth = float64(snap.RecvBytes) / uptimeSeconds
	}

	totalErrors := snap.SendErrors + snap.RecvErrors + snap.WcErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing).
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.CreditBytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.WcErrors.Store(0)
	m.SendPoolDepthTotal.Store(0)
	m.SendPoolDepthCount.Store(0)
	m.MaxSendPoolDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable metrics collection. The built-in Metrics type
// and internal/obsprom's Prometheus-backed observer both implement it.
type Observer interface {
	// ObserveSend is called for each posted data send.
	ObserveSend(bytes uint64, latencyNs uint64, success bool)

	// ObserveRecv is called for each message delivered to Recv().
	ObserveRecv(bytes uint64, success bool)

	// ObserveCredit is called for each release-credit notification.
	ObserveCredit(bytes uint64)

	// ObserveWcError is called whenever a completion reports a non-success status.
	ObserveWcError()

	// ObserveSendPoolDepth is called after each send completion with the send pool's outstanding bytes.
	ObserveSendPoolDepth(depth uint32)
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveSend(uint64, uint64, bool) {}
func (NoOpObserver) ObserveRecv(uint64, bool)         {}
func (NoOpObserver) ObserveCredit(uint64)             {}
func (NoOpObserver) ObserveWcError()                  {}
func (NoOpObserver) ObserveSendPoolDepth(uint32)      {}

// MetricsObserver implements Observer using the built-in Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordSend(bytes, latencyNs, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, success bool) {
	o.metrics.RecordRecv(bytes, success)
}

func (o *MetricsObserver) ObserveCredit(bytes uint64) {
	o.metrics.RecordCredit(bytes)
}

func (o *MetricsObserver) ObserveWcError() {
	o.metrics.RecordWcError()
}

func (o *MetricsObserver) ObserveSendPoolDepth(depth uint32) {
	o.metrics.RecordSendPoolDepth(depth)
}

// Compile-time interface checks.
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
