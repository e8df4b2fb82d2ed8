package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration written as a Go duration string in TOML,
// e.g. "20ms" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Policy tunes processing behaviour. It is read from a TOML file whose
// sections mirror the structs below; omitted keys keep their defaults.
type Policy struct {
	Engine       EnginePolicy       `toml:"engine"       json:"engine"`
	Health       HealthPolicy       `toml:"health"       json:"health"`
	Calls        CallsPolicy        `toml:"calls"        json:"calls"`
	Registration RegistrationPolicy `toml:"registration" json:"registration"`
	Network      NetworkPolicy      `toml:"network"      json:"network"`
	Demo         DemoPolicy         `toml:"demo"         json:"demo"`
}

type EnginePolicy struct {
	StepInterval             Duration `toml:"step_interval"              json:"step_interval"`
	ToleratedDeltaMultiplier int      `toml:"tolerated_delta_multiplier" json:"tolerated_delta_multiplier"`
	MaxConsecutiveFailures   int      `toml:"max_consecutive_failures"   json:"max_consecutive_failures"`
}

type HealthPolicy struct {
	Interval Duration `toml:"interval" json:"interval"`
}

type CallsPolicy struct {
	ResolutionTimeout Duration `toml:"resolution_timeout" json:"resolution_timeout"`
	ResolutionRetry   Duration `toml:"resolution_retry"   json:"resolution_retry"`
}

type RegistrationPolicy struct {
	UnregisterTimeout Duration `toml:"unregister_timeout" json:"unregister_timeout"`
}

type NetworkPolicy struct {
	// ProbeAddr is a host:port dialed to decide whether the host is online.
	// Empty means always online.
	ProbeAddr     string   `toml:"probe_addr"     json:"probe_addr"`
	ProbeInterval Duration `toml:"probe_interval" json:"probe_interval"`
}

type DemoPolicy struct {
	Enabled  bool     `toml:"enabled"  json:"enabled"`
	Interval Duration `toml:"interval" json:"interval"`
}

// DefaultPolicy returns the policy used when no file is given.
func DefaultPolicy() Policy {
	return Policy{
		Engine: EnginePolicy{
			StepInterval:             Duration{20 * time.Millisecond},
			ToleratedDeltaMultiplier: 10,
			MaxConsecutiveFailures:   5,
		},
		Health: HealthPolicy{
			Interval: Duration{15 * time.Minute},
		},
		Calls: CallsPolicy{
			ResolutionTimeout: Duration{10 * time.Second},
			ResolutionRetry:   Duration{500 * time.Millisecond},
		},
		Registration: RegistrationPolicy{
			UnregisterTimeout: Duration{5 * time.Second},
		},
		Network: NetworkPolicy{
			ProbeInterval: Duration{10 * time.Second},
		},
		Demo: DemoPolicy{
			Enabled:  false,
			Interval: Duration{30 * time.Second},
		},
	}
}

// LoadPolicy reads the TOML file at path on top of DefaultPolicy and
// validates the result. An empty path yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	return ParsePolicy(b)
}

// ParsePolicy decodes TOML on top of DefaultPolicy. Unknown keys are rejected
// so that typos do not silently fall back to defaults.
func ParsePolicy(b []byte) (Policy, error) {
	p := DefaultPolicy()
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	var errs []error
	if p.Engine.StepInterval.Duration <= 0 {
		errs = append(errs, errors.New("engine.step_interval must be > 0"))
	}
	if p.Engine.ToleratedDeltaMultiplier < 1 {
		errs = append(errs, errors.New("engine.tolerated_delta_multiplier must be >= 1"))
	}
	if p.Engine.MaxConsecutiveFailures < 1 {
		errs = append(errs, errors.New("engine.max_consecutive_failures must be >= 1"))
	}
	if p.Health.Interval.Duration <= 0 {
		errs = append(errs, errors.New("health.interval must be > 0"))
	}
	if p.Calls.ResolutionTimeout.Duration <= 0 {
		errs = append(errs, errors.New("calls.resolution_timeout must be > 0"))
	}
	if p.Calls.ResolutionRetry.Duration <= 0 || p.Calls.ResolutionRetry.Duration > p.Calls.ResolutionTimeout.Duration {
		errs = append(errs, errors.New("calls.resolution_retry must be > 0 and <= calls.resolution_timeout"))
	}
	if p.Registration.UnregisterTimeout.Duration <= 0 {
		errs = append(errs, errors.New("registration.unregister_timeout must be > 0"))
	}
	if p.Network.ProbeAddr != "" && p.Network.ProbeInterval.Duration <= 0 {
		errs = append(errs, errors.New("network.probe_interval must be > 0 when probe_addr is set"))
	}
	if p.Demo.Enabled && p.Demo.Interval.Duration <= 0 {
		errs = append(errs, errors.New("demo.interval must be > 0 when demo is enabled"))
	}
	return joinErrors(errs)
}
