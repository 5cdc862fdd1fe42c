// Package telemetry holds the Prometheus observers for the dispatcher and the saga
// coordinator, OTLP trace export setup and the W3C trace-context header propagator.
package telemetry
