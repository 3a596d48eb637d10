// Package server exposes the operator-facing HTTP surface: health and
// readiness probes, Prometheus metrics, and read-only usage and behavior
// reporting endpoints.
package server
