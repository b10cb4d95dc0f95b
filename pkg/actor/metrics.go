// Copyright 2025 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalWorkers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "number_of_workers",
			Help:      "The total number of workers in an actor system.",
		}, []string{"name"})
	liveActors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "number_of_live_actors",
			Help:      "The number of live actors in an actor system.",
		}, []string{"name"})
	messagesDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to actor polls.",
		}, []string{"name"})
	sendsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "sends_rejected_total",
			Help:      "Total number of sends rejected because an inbox was full.",
		}, []string{"name"})
	sendsDisconnectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "sends_disconnected_total",
			Help:      "Total number of sends that hit a disconnected inbox.",
		}, []string{"name"})
	actorRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "restarts_total",
			Help:      "Total number of actor restarts decided by supervisors.",
		}, []string{"name"})
	actorPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "panics_total",
			Help:      "Total number of panics recovered from actor polls.",
		}, []string{"name"})
	actorFinishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "finishes_total",
			Help:      "Total number of finished actors by reason.",
		}, []string{"name", "reason"})
	timersFiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "timers_fired_total",
			Help:      "Total number of timer fires delivered to actors.",
		}, []string{"name"})
	ioEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "io_events_total",
			Help:      "Total number of I/O readiness events delivered to actors.",
		}, []string{"name"})
	pollBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "poll_batch_size",
			Help:      "Bucketed histogram of the batch size of actor polls.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"name"})
	pollDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tiactor",
			Subsystem: "actor",
			Name:      "poll_duration_seconds",
			Help:      "Bucketed histogram of the time spent in one actor poll.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"name"})
)

// systemMetrics holds the children of every actor metric resolved for one
// system name, so hot paths skip the label lookup.
type systemMetrics struct {
	workers           prometheus.Gauge
	liveActors        prometheus.Gauge
	messagesDelivered prometheus.Counter
	sendsRejected     prometheus.Counter
	sendsDisconnected prometheus.Counter
	restarts          prometheus.Counter
	panics            prometheus.Counter
	finishes          *prometheus.CounterVec
	timersFired       prometheus.Counter
	ioEvents          prometheus.Counter
	batchSize         prometheus.Observer
	pollDuration      prometheus.Observer
}

func newSystemMetrics(name string) *systemMetrics {
	return &systemMetrics{
		workers:           totalWorkers.WithLabelValues(name),
		liveActors:        liveActors.WithLabelValues(name),
		messagesDelivered: messagesDeliveredTotal.WithLabelValues(name),
		sendsRejected:     sendsRejectedTotal.WithLabelValues(name),
		sendsDisconnected: sendsDisconnectedTotal.WithLabelValues(name),
		restarts:          actorRestartsTotal.WithLabelValues(name),
		panics:            actorPanicsTotal.WithLabelValues(name),
		finishes:          actorFinishesTotal,
		timersFired:       timersFiredTotal.WithLabelValues(name),
		ioEvents:          ioEventsTotal.WithLabelValues(name),
		batchSize:         pollBatchSize.WithLabelValues(name),
		pollDuration:      pollDurationSeconds.WithLabelValues(name),
	}
}

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(totalWorkers)
	registry.MustRegister(liveActors)
	registry.MustRegister(messagesDeliveredTotal)
	registry.MustRegister(sendsRejectedTotal)
	registry.MustRegister(sendsDisconnectedTotal)
	registry.MustRegister(actorRestartsTotal)
	registry.MustRegister(actorPanicsTotal)
	registry.MustRegister(actorFinishesTotal)
	registry.MustRegister(timersFiredTotal)
	registry.MustRegister(ioEventsTotal)
	registry.MustRegister(pollBatchSize)
	registry.MustRegister(pollDurationSeconds)
}
