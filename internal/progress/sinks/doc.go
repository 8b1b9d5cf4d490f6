// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, Redis and Pub/Sub fan-out, and an in-memory recorder for tests.
package sinks
