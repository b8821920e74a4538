/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package msgq

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the transport counters. Labels carry the queue name.
type Metrics struct {
	Puts     *prometheus.CounterVec
	Gets     *prometheus.CounterVec
	Timeouts *prometheus.CounterVec
	Queues   prometheus.Gauge
	GetWait  prometheus.Histogram
}

// NewMetrics builds the transport metrics and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgq",
			Name:      "messages_put_total",
			Help:      "Messages handed to the transport.",
		}, []string{"queue"}),
		Gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgq",
			Name:      "messages_get_total",
			Help:      "Messages delivered to a receiver.",
		}, []string{"queue"}),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "msgq",
			Name:      "get_timeouts_total",
			Help:      "Receives that ended on their deadline.",
		}, []string{"queue"}),
		Queues: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "msgq",
			Name:      "queues",
			Help:      "Live message queues.",
		}),
		GetWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "msgq",
			Name:      "get_wait_seconds",
			Help:      "Time a receiver spent blocked in Get.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Puts, m.Gets, m.Timeouts, m.Queues, m.GetWait)
	}
	return m
}
