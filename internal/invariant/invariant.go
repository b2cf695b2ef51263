// Package invariant records violated assumptions in code.
// An invariant is a condition that must hold unless there is a bug. When one is violated the
// violation is logged and counted in invariants_total so it can be alerted on, but the process
// keeps running; the caller still has to handle the erroneous case itself.
//
// Do not use invariants for conditions that depend on external factors (a Redis outage is not an
// invariant violation, a negative byte counter is).
package invariant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

var invariantsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "invariants_total",
	Help: "The total number of invariant violations",
}, []string{
	"module", // The module in which this invariant occurred.
	"type",   // The type of the invariant that occurred.
})

// Raise records a violation of invariantType in module.
func Raise(logger zerolog.Logger, module, invariantType, msg string, fields map[string]interface{}) {
	invariantsMetric.WithLabelValues(module, invariantType).Inc()
	logger.Error().
		Str("invariant", invariantType).
		Str("module", module).
		Fields(fields).
		Msg(msg)
}

// Count returns the number of recorded violations for module and invariantType.
func Count(module, invariantType string) int {
	var m dto.Metric
	if err := invariantsMetric.WithLabelValues(module, invariantType).Write(&m); err != nil {
		return 0
	}
	return int(m.GetCounter().GetValue())
}
