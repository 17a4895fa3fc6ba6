// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// Component Labels.
	ComponentSupervisor = "supervisor"
	ComponentSession    = "session"
	ComponentConfig     = "config"
	ComponentHTTP       = "http"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "screenswitch"
	subsystem = "agent"
)

// States lists every connection state label, in lifecycle order.
var States = []string{"disconnected", "connecting", "connected", "reconnecting"}

// Metrics holds the agent's collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connectionState     *prometheus.GaugeVec
	connectionAttempts  prometheus.Counter
	connectionSuccesses prometheus.Counter
	connectionFailures  *prometheus.CounterVec
	connectedSeconds    prometheus.Counter
	messages            *prometheus.CounterVec
	decodeErrors        prometheus.Counter
	actuations          *prometheus.CounterVec
	actuationsSkipped   prometheus.Counter
	statusDropped       prometheus.Counter
	errorCounter        *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry registers the agent collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		connectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connection_state",
				Help:      "1 for the current connection state, 0 for all others",
			},
			[]string{"state"},
		),
		connectionAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_attempts_total",
			Help:      "Total number of connection attempts",
		}),
		connectionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_successes_total",
			Help:      "Total number of connections that reached the subscribed state",
		}),
		connectionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "connection_failures_total",
				Help:      "Total number of failed attempts and lost connections by reason",
			},
			[]string{"reason"},
		),
		connectedSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connected_seconds_total",
			Help:      "Accumulated time spent connected, updated when a connection ends",
		}),
		messages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "messages_total",
				Help:      "Inbound messages by decoded kind",
			},
			[]string{"kind"},
		),
		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "decode_errors_total",
			Help:      "Inbound payloads that matched no supported shape",
		}),
		actuations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "actuations_total",
				Help:      "Display power changes sent to the actuator by target state",
			},
			[]string{"target"},
		),
		actuationsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "actuations_skipped_total",
			Help:      "Power requests that matched the current state",
		}),
		statusDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_events_dropped_total",
			Help:      "Status events dropped because the host queue was full",
		}),
		errorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "errors_total",
				Help:      "Total number of errors encountered by component",
			},
			[]string{"component"},
		),
	}

	for _, s := range States {
		m.connectionState.WithLabelValues(s).Set(0)
	}
	m.connectionState.WithLabelValues(States[0]).Set(1)
	return m
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// SetState marks state as the only active connection state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) IncAttempt() {
	if m == nil {
		return
	}
	m.connectionAttempts.Inc()
}

func (m *Metrics) IncSuccess() {
	if m == nil {
		return
	}
	m.connectionSuccesses.Inc()
}

// IncFailure counts a failed attempt or a lost connection.
func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.connectionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddConnected(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.connectedSeconds.Add(d.Seconds())
}

func (m *Metrics) IncMessage(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

// RecordActuation counts one gate decision.
func (m *Metrics) RecordActuation(target bool, changed bool) {
	if m == nil {
		return
	}
	if !changed {
		m.actuationsSkipped.Inc()
		return
	}
	label := "off"
	if target {
		label = "on"
	}
	m.actuations.WithLabelValues(label).Inc()
}

func (m *Metrics) IncStatusDropped() {
	if m == nil {
		return
	}
	m.statusDropped.Inc()
}

// IncErrorCountAndLog increments the error counter for component and logs err.
func (m *Metrics) IncErrorCountAndLog(component string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		logger.Errorf("Error in %s: %v", component, err)
	}
	if m == nil {
		return
	}
	m.errorCounter.WithLabelValues(component).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing /metrics. The caller starts it.
func (m *Metrics) NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}
}
