package rdmaconn

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 initial ops, got %d", snap.TotalOps)
	}

	m.RecordSend(1024, 1000000, true) // 1KB send, 1ms latency, success
	m.RecordSend(2048, 2000000, true) // 2KB send, 2ms latency, success
	m.RecordRecv(512, false)          // failed recv

	snap = m.Snapshot()

	if snap.SendOps != 2 {
		t.Errorf("Expected 2 send ops, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op, got %d", snap.RecvOps)
	}

	if snap.SendBytes != 3072 {
		t.Errorf("Expected 3072 send bytes, got %d", snap.SendBytes)
	}
	if snap.RecvBytes != 0 {
		t.Errorf("Expected 0 recv bytes, got %d", snap.RecvBytes)
	}

	if snap.RecvErrors != 1 {
		t.Errorf("Expected 1 recv error, got %d", snap.RecvErrors)
	}
	if snap.SendErrors != 0 {
		t.Errorf("Expected 0 send errors, got %d", snap.SendErrors)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsSendPoolDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordSendPoolDepth(10)
	m.RecordSendPoolDepth(20)
	m.RecordSendPoolDepth(15)

	snap := m.Snapshot()

	if snap.MaxSendPoolDepth != 20 {
		t.Errorf("Expected max send pool depth 20, got %d", snap.MaxSendPoolDepth)
	}

	expectedAvg := float64(10+20+15) / 3.0
	if snap.AvgSendPoolDepth < expectedAvg-0.1 || snap.AvgSendPoolDepth > expectedAvg+0.1 {
		t.Errorf("Expected avg send pool depth %.1f, got %.1f", expectedAvg, snap.AvgSendPoolDepth)
	}
}

func TestMetricsLatency(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(1024, 1000000, true) // 1ms
	m.RecordSend(1024, 2000000, true) // 2ms

	snap := m.Snapshot()

	expectedAvgNs := uint64(1500000) // 1.5ms in nanoseconds
	if snap.AvgLatencyNs != expectedAvgNs {
		t.Errorf("Expected avg latency %d ns, got %d ns", expectedAvgNs, snap.AvgLatencyNs)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()

	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()

	if snap2.UptimeNs > snap.UptimeNs+2*1000000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordSend(1024, 1000000, true)
	m.RecordRecv(2048, true)
	m.RecordSendPoolDepth(10)

	snap := m.Snapshot()
	if snap.TotalOps == 0 {
		t.Error("Expected some operations before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.TotalOps != 0 {
		t.Errorf("Expected 0 ops after reset, got %d", snap.TotalOps)
	}
	if snap.TotalBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.TotalBytes)
	}
	if snap.MaxSendPoolDepth != 0 {
		t.Errorf("Expected 0 max send pool depth after reset, got %d", snap.MaxSendPoolDepth)
	}
}

func TestObserver(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveSend(1024, 1000000, true)
	observer.ObserveRecv(1024, true)
	observer.ObserveCredit(1024)
	observer.ObserveWcError()
	observer.ObserveSendPoolDepth(10)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveSend(1024, 1000000, true)
	metricsObserver.ObserveRecv(2048, true)
	metricsObserver.ObserveCredit(512)

	snap := m.Snapshot()
	if snap.SendOps != 1 {
		t.Errorf("Expected 1 send op from observer, got %d", snap.SendOps)
	}
	if snap.RecvOps != 1 {
		t.Errorf("Expected 1 recv op from observer, got %d", snap.RecvOps)
	}
	if snap.SendBytes != 1024 {
		t.Errorf("Expected 1024 send bytes from observer, got %d", snap.SendBytes)
	}
	if snap.RecvBytes != 2048 {
		t.Errorf("Expected 2048 recv bytes from observer, got %d", snap.RecvBytes)
	}
	if snap.CreditBytes != 512 {
		t.Errorf("Expected 512 credit bytes from observer, got %d", snap.CreditBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordSend(1024, 1000000, true)
	m.RecordRecv(2048, true)

	stopTime := startTime.Add(1 * time.Second)
	m.StopTime.Store(stopTime.UnixNano())

	snap := m.Snapshot()

	if snap.SendMsgsPerSec < 0.9 || snap.SendMsgsPerSec > 1.1 {
		t.Errorf("Expected SendMsgsPerSec ~1.0, got %.2f", snap.SendMsgsPerSec)
	}
	if snap.RecvMsgsPerSec < 0.9 || snap.RecvMsgsPerSec > 1.1 {
		t.Errorf("Expected RecvMsgsPerSec ~1.0, got %.2f", snap.RecvMsgsPerSec)
	}

	if snap.SendBandwidth < 1000 || snap.SendBandwidth > 1050 {
		t.Errorf("Expected SendBandwidth ~1024, got %.2f", snap.SendBandwidth)
	}
	if snap.RecvBandwidth < 2000 || snap.RecvBandwidth > 2100 {
		t.Errorf("Expected RecvBandwidth ~2048, got %.2f", snap.RecvBandwidth)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordSend(1024, 500_000, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordSend(1024, 5_000_000, true) // 5ms
	}
	m.RecordSend(1024, 50_000_000, true) // 50ms (slowest sample; the interpolated P99 is the 10ms bucket bound)

	snap := m.Snapshot()

	if snap.TotalOps != 100 {
		t.Errorf("Expected 100 total ops, got %d", snap.TotalOps)
	}

	if snap.LatencyP50Ns < 100_000 || snap.LatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.LatencyP50Ns)
	}

	if snap.LatencyP99Ns < 5_000_000 || snap.LatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.LatencyP99Ns)
	}

	totalInBuckets := uint64(0)
	for i := 0; i < len(snap.LatencyHistogram); i++ {
		totalInBuckets += snap.LatencyHistogram[i]
	}
	if totalInBuckets == 0 {
		t.Error("Expected histogram buckets to be populated")
	}
}
