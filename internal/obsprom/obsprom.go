// Package obsprom adapts Conn's Observer interface to Prometheus metrics,
// for callers who want connection-level counters and gauges exported
// alongside the rest of a process's metrics rather than read through
// Conn.Metrics' own snapshot.
package obsprom

import "github.com/prometheus/client_golang/prometheus"

// Observer implements rdmaconn.Observer by recording every callback against
// a set of Prometheus collectors. Register it with a prometheus.Registerer
// once per process; each Conn built with it shares the same series,
// distinguished only by whatever labels the caller wraps it with.
type Observer struct {
	sendBytes   prometheus.Counter
	recvBytes   prometheus.Counter
	creditBytes prometheus.Counter

	sendLatency prometheus.Histogram

	sendOps   prometheus.Counter
	recvOps   prometheus.Counter
	sendErrs  prometheus.Counter
	recvErrs  prometheus.Counter
	wcErrs    prometheus.Counter
	sendDepth prometheus.Gauge
}

// New builds an Observer and registers its collectors with reg. namespace
// and subsystem follow the usual Prometheus naming convention, e.g.
// namespace="myapp", subsystem="rdmaconn" yields metrics named
// myapp_rdmaconn_send_bytes_total and so on.
func New(reg prometheus.Registerer, namespace, subsystem string) (*Observer, error) {
	o := &Observer{
		sendBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_bytes_total", Help: "Total bytes written via RDMA WRITE_WITH_IMMEDIATE.",
		}),
		recvBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "recv_bytes_total", Help: "Total bytes delivered to Recv.",
		}),
		creditBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "credit_bytes_total", Help: "Total release-credit bytes received from the peer.",
		}),
		sendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_latency_seconds", Help: "Duration of each PostSend call.",
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
		sendOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_ops_total", Help: "Total Send calls.",
		}),
		recvOps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "recv_ops_total", Help: "Total Recv calls.",
		}),
		sendErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_errors_total", Help: "Total failed sends.",
		}),
		recvErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "recv_errors_total", Help: "Total failed receives.",
		}),
		wcErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "completion_errors_total", Help: "Total non-success work completions observed.",
		}),
		sendDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "send_pool_depth", Help: "Most recently observed outstanding send-pool bytes.",
		}),
	}

	collectors := []prometheus.Collector{
		o.sendBytes, o.recvBytes, o.creditBytes, o.sendLatency,
		o.sendOps, o.recvOps, o.sendErrs, o.recvErrs, o.wcErrs, o.sendDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Observer) ObserveSend(bytes uint64, latencyNs uint64, success bool) {
	o.sendOps.Inc()
	if success {
		o.sendBytes.Add(float64(bytes))
		o.sendLatency.Observe(float64(latencyNs) / 1e9)
	} else {
		o.sendErrs.Inc()
	}
}

func (o *Observer) ObserveRecv(bytes uint64, success bool) {
	o.recvOps.Inc()
	if success {
		o.recvBytes.Add(float64(bytes))
	} else {
		o.recvErrs.Inc()
	}
}

func (o *Observer) ObserveCredit(bytes uint64) {
	o.creditBytes.Add(float64(bytes))
}

func (o *Observer) ObserveWcError() {
	o.wcErrs.Inc()
}

func (o *Observer) ObserveSendPoolDepth(depth uint32) {
	o.sendDepth.Set(float64(depth))
}
