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

package adapter

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names the tracer and meter of the benchmark.
const InstrumentationName = "github.com/srediag/msgq-zcpy"

// Telemetry bundles the tracer and meter a run reports through.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter
}

// NewTelemetry uses the given providers, falling back to the globally
// registered ones, which are no-ops until an SDK installs real providers.
func NewTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Telemetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return Telemetry{
		Tracer: tp.Tracer(InstrumentationName),
		Meter:  mp.Meter(InstrumentationName),
	}
}
