package resilience

import (
	"time"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
)

// ArbiterCircuitBreakerConfig provides preconfigured circuit breaker settings
// for a named arbiter's outbound calls (peer messaging, store writes,
// external tool invocations).
type ArbiterCircuitBreakerConfig struct {
	MaxFailures      int
	TimeoutSeconds   int
	SuccessThreshold int
	Jitter           float64
	Logger           *logging.Logger
	Arbiter          string
}

// DefaultArbiterCBConfig returns the spec §4.B reference thresholds: 5
// failures, 30s reset, 20% jitter, 3 half-open successes to close.
func DefaultArbiterCBConfig(arbiter string, logger *logging.Logger) Config {
	return ArbiterCBConfig(ArbiterCircuitBreakerConfig{
		MaxFailures:      5,
		TimeoutSeconds:   30,
		SuccessThreshold: 3,
		Jitter:           0.2,
		Logger:           logger,
		Arbiter:          arbiter,
	})
}

// StrictArbiterCBConfig trips faster and waits longer, for arbiters guarding
// scarce or expensive resources (memory store writes, external tool calls).
func StrictArbiterCBConfig(arbiter string, logger *logging.Logger) Config {
	return ArbiterCBConfig(ArbiterCircuitBreakerConfig{
		MaxFailures:      3,
		TimeoutSeconds:   60,
		SuccessThreshold: 1,
		Jitter:           0.2,
		Logger:           logger,
		Arbiter:          arbiter,
	})
}

// LenientArbiterCBConfig tolerates more failures before opening, for
// arbiters whose operations are cheap to retry (local bus delivery).
func LenientArbiterCBConfig(arbiter string, logger *logging.Logger) Config {
	return ArbiterCBConfig(ArbiterCircuitBreakerConfig{
		MaxFailures:      10,
		TimeoutSeconds:   15,
		SuccessThreshold: 5,
		Jitter:           0.1,
		Logger:           logger,
		Arbiter:          arbiter,
	})
}

// ArbiterCBConfig builds a Config from ArbiterCircuitBreakerConfig, filling
// defaults and wiring a logging hook when Logger is set.
func ArbiterCBConfig(cfg ArbiterCircuitBreakerConfig) Config {
	cbConfig := Config{
		MaxFailures:      cfg.MaxFailures,
		ResetTimeout:     SecondsToDuration(cfg.TimeoutSeconds),
		SuccessThreshold: cfg.SuccessThreshold,
		Jitter:           cfg.Jitter,
	}

	if cbConfig.MaxFailures <= 0 {
		cbConfig.MaxFailures = 5
	}
	if cbConfig.ResetTimeout <= 0 {
		cbConfig.ResetTimeout = 30 * time.Second
	}
	if cbConfig.SuccessThreshold <= 0 {
		cbConfig.SuccessThreshold = 3
	}

	if cfg.Logger != nil {
		arbiter := cfg.Arbiter
		cbConfig.OnStateChange = func(from, to State) {
			cfg.Logger.WithFields(map[string]interface{}{
				"arbiter":    arbiter,
				"from_state": from.String(),
				"to_state":   to.String(),
			}).Warn("circuit breaker state changed")
		}
	}

	return cbConfig
}

// SecondsToDuration converts seconds to a Duration.
func SecondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
