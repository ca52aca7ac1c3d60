// Package metrics holds the Prometheus collectors exported by every binary.
// Constructors accept a nil registerer and return no-op recorders so callers
// never branch on whether metrics are enabled.
package metrics

const namespace = "recapz"
