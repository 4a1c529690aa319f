package metrics

import "github.com/sony/gobreaker"

// ObserveBreakerState records a gobreaker state change for the named breaker.
func ObserveBreakerState(name string, to gobreaker.State) {
	var stateVal float64
	switch to {
	case gobreaker.StateClosed:
		stateVal = 0
	case gobreaker.StateOpen:
		stateVal = 1
	case gobreaker.StateHalfOpen:
		stateVal = 2
	}
	CircuitBreakerState.WithLabelValues(name).Set(stateVal)
}
