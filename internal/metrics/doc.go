// Package metrics exposes Prometheus collectors for connection health, the
// outbound queue and stream activity. Collectors register on a caller
// supplied prometheus.Registerer rather than the global default registry.
package metrics
