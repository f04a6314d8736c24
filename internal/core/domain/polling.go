package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// StrategyKind names a selection strategy.
type StrategyKind string

const (
	StrategyRoundRobin  StrategyKind = "round_robin"
	StrategyHealthBased StrategyKind = "health_based"
	StrategyWeighted    StrategyKind = "weighted"
)

// PollingConfig holds the router settings. It is fixed once the router is built.
type PollingConfig struct {
	Strategy            StrategyKind  `yaml:"strategy"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryTime        time.Duration `yaml:"recovery_time"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ResponseTimeWeight  float64       `yaml:"response_time_weight"`
	SuccessRateWeight   float64       `yaml:"success_rate_weight"`
	EMAAlpha            float64       `yaml:"ema_alpha"`
	MaxRetries          int           `yaml:"max_retries"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
	RetryDelay          time.Duration `yaml:"retry_delay"`     // 0 = retry immediately
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay"` // cap for the doubling delay
}

// DefaultPollingConfig returns the production defaults.
func DefaultPollingConfig() PollingConfig {
	return PollingConfig{
		Strategy:            StrategyHealthBased,
		FailureThreshold:    3,
		RecoveryTime:        10 * time.Minute,
		HealthCheckInterval: 5 * time.Minute,
		ResponseTimeWeight:  0.3,
		SuccessRateWeight:   0.7,
		EMAAlpha:            0.3,
		MaxRetries:          5,
		Timeout:             30 * time.Second,
		MaxConcurrent:       5,
		RetryDelay:          2 * time.Second,
		MaxRetryDelay:       30 * time.Second,
	}
}

// Validate checks the ranges documented for each option.
func (c PollingConfig) Validate() error {
	var errs []error

	switch c.Strategy {
	case StrategyRoundRobin, StrategyHealthBased, StrategyWeighted:
	default:
		errs = append(errs, fmt.Errorf("unknown strategy %q", c.Strategy))
	}
	if c.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("failure_threshold must be > 0, got %d", c.FailureThreshold))
	}
	if c.RecoveryTime < 0 {
		errs = append(errs, fmt.Errorf("recovery_time must not be negative"))
	}
	if c.HealthCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("health_check_interval must be > 0"))
	}
	if !inUnit(c.ResponseTimeWeight) {
		errs = append(errs, fmt.Errorf("response_time_weight must be in [0,1], got %v", c.ResponseTimeWeight))
	}
	if !inUnit(c.SuccessRateWeight) {
		errs = append(errs, fmt.Errorf("success_rate_weight must be in [0,1], got %v", c.SuccessRateWeight))
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		errs = append(errs, fmt.Errorf("ema_alpha must be in (0,1], got %v", c.EMAAlpha))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be > 0"))
	}
	if c.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent must be > 0, got %d", c.MaxConcurrent))
	}
	if c.RetryDelay < 0 || c.MaxRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry delays must not be negative"))
	}

	return errors.Join(errs...)
}

// Weights returns the response time and success rate weights scaled to sum to 1.
// Two zero weights fall back to the defaults.
func (c PollingConfig) Weights() (responseTime, successRate float64) {
	sum := c.ResponseTimeWeight + c.SuccessRateWeight
	if sum <= 0 || math.IsNaN(sum) {
		d := DefaultPollingConfig()
		return d.ResponseTimeWeight, d.SuccessRateWeight
	}
	return c.ResponseTimeWeight / sum, c.SuccessRateWeight / sum
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
