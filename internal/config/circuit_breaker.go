package config

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker is the trip policy for one downstream dependency: it opens after
// Failures consecutive errors and lets a trial call through after Cooldown.
type Breaker struct {
	Name     string
	Failures uint32
	Cooldown time.Duration
}

func loadBreaker(name, env string, cooldown time.Duration) Breaker {
	return Breaker{
		Name:     name,
		Failures: uint32(max(intEnv(env+"_BREAKER_FAILURES", 3), 1)),
		Cooldown: durationEnv(env+"_BREAKER_COOLDOWN", cooldown),
	}
}

// New builds the circuit breaker. Zero fields take 3 failures and 30s.
func (b Breaker) New() *gobreaker.CircuitBreaker {
	failures := b.Failures
	if failures == 0 {
		failures = 3
	}
	cooldown := b.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}
