// Copyright 2025 Kadir Pekel
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

// Package telemetry wraps go.opentelemetry.io/otel tracer acquisition, the
// way the teacher's pkg/observability.GetTracer did, without depending on
// the teacher's (removed) server/metrics observability stack.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span name constants for the spans this module emits.
const (
	SpanMemoryLookup = "kernel.memory.lookup"
	SpanMemoryStore  = "kernel.memory.store"
	SpanKernelTurn   = "kernel.turn"
)

// Tracer returns the named tracer from the global otel TracerProvider. When
// no SDK is configured, otel's default no-op provider makes every span a
// harmless zero-cost stub, so callers never need to check "is tracing on."
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
