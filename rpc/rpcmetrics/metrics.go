// Package rpcmetrics exposes Prometheus counters and histograms for calls
// flowing through a Vat, labeled by the interface/method id a real schema
// compiler would otherwise give a name.
package rpcmetrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "ecapnp"
	subsystem = "rpc"
)

type rpcMetrics struct {
	serverCalls   *prometheus.CounterVec
	serverErrors  *prometheus.CounterVec
	serverLatency *prometheus.HistogramVec

	clientCalls   *prometheus.CounterVec
	clientErrors  *prometheus.CounterVec
	clientLatency *prometheus.HistogramVec

	exports prometheus.Gauge
	imports prometheus.Gauge
}

// Metrics is the registered, process-wide set of RPC counters, built and
// registered once at package init; the vat records into it through this
// package's functions.
var Metrics = newMetrics()

func newMetrics() *rpcMetrics {
	labels := []string{"interface", "method"}
	m := &rpcMetrics{
		serverCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_calls_total",
			Help:      "Number of inbound calls dispatched to a locally hosted capability.",
		}, labels),
		serverErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_errors_total",
			Help:      "Number of inbound calls that returned an exception.",
		}, labels),
		serverLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "server_latency_seconds",
			Help:      "Time to answer an inbound call, from dispatch to Return.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 6),
		}, labels),
		clientCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_calls_total",
			Help:      "Number of outbound calls issued against a peer-hosted capability.",
		}, labels),
		clientErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_errors_total",
			Help:      "Number of outbound calls whose Return was an exception.",
		}, labels),
		clientLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "client_latency_seconds",
			Help:      "Round-trip time of an outbound call.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 6),
		}, labels),
		exports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "exports",
			Help:      "Current size of the Exports table.",
		}),
		imports: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "imports",
			Help:      "Current size of the Imports table.",
		}),
	}
	prometheus.MustRegister(
		m.serverCalls, m.serverErrors, m.serverLatency,
		m.clientCalls, m.clientErrors, m.clientLatency,
		m.exports, m.imports,
	)
	return m
}

func label(interfaceID uint64, methodID uint16) (string, string) {
	return fmt.Sprintf("0x%x", interfaceID), fmt.Sprintf("%d", methodID)
}

// ObserveServerCall times inner, a locally hosted capability's handler for
// (interfaceID, methodID), and records whether it failed.
func ObserveServerCall(interfaceID uint64, methodID uint16, inner func() error) error {
	iface, method := label(interfaceID, methodID)
	Metrics.serverCalls.WithLabelValues(iface, method).Inc()
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(s float64) {
		Metrics.serverLatency.WithLabelValues(iface, method).Observe(s)
	}))
	defer timer.ObserveDuration()
	if err := inner(); err != nil {
		Metrics.serverErrors.WithLabelValues(iface, method).Inc()
		return err
	}
	return nil
}

// ClientCallTimer starts a latency observation for an outbound call, and
// returns a function to call with the call's outcome once it resolves.
func ClientCallTimer(interfaceID uint64, methodID uint16) func(err error) {
	iface, method := label(interfaceID, methodID)
	Metrics.clientCalls.WithLabelValues(iface, method).Inc()
	start := time.Now()
	return func(err error) {
		Metrics.clientLatency.WithLabelValues(iface, method).Observe(time.Since(start).Seconds())
		if err != nil {
			Metrics.clientErrors.WithLabelValues(iface, method).Inc()
		}
	}
}

// SetTableSizes records the current Exports/Imports table sizes.
func SetTableSizes(exports, imports int) {
	Metrics.exports.Set(float64(exports))
	Metrics.imports.Set(float64(imports))
}
