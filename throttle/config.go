/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"fmt"
)

// Rate-limiting algorithms.
const (
	AlgLeakyBucket   = "leaky_bucket"
	AlgSlidingWindow = "sliding_window"
	AlgTokenBucket   = "token_bucket"
	AlgFixedWindow   = "fixed_window"
)

// KeyType is a type of a throttling key extracted from the outbound request.
type KeyType string

// Throttling key types.
const (
	KeyTypeNoKey  KeyType = ""
	KeyTypeHost   KeyType = "host"
	KeyTypeHeader KeyType = "header"
)

// KeyConfig determines how a throttling key is extracted from the outbound request.
type KeyConfig struct {
	// Type determines type of key that will be used for throttling.
	Type KeyType `mapstructure:"type" yaml:"type" json:"type"`

	// HeaderName is a name of the request header which value will be used as a key.
	// Matters only when Type is a "header".
	HeaderName string `mapstructure:"headerName" yaml:"headerName" json:"headerName"`
}

// Validate validates key configuration.
func (c *KeyConfig) Validate() error {
	switch c.Type {
	case KeyTypeNoKey, KeyTypeHost:
	case KeyTypeHeader:
		if c.HeaderName == "" {
			return fmt.Errorf("header name should be specified for %q key type", KeyTypeHeader)
		}
	default:
		return fmt.Errorf("unknown key type %q", c.Type)
	}
	return nil
}

// RateLimitRule describes a single egress rate-limiting rule.
type RateLimitRule struct {
	// Name identifies the rule in logs, metrics, and exceeded results.
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Method is an HTTP method the rule applies to. Empty means any method.
	Method string `mapstructure:"method" yaml:"method" json:"method"`

	// URLPattern is a glob ('*' wildcards) matched against the request URL (host + path).
	// Empty means any URL.
	URLPattern string `mapstructure:"urlPattern" yaml:"urlPattern" json:"urlPattern"`

	// Alg is a rate-limiting algorithm. AlgLeakyBucket is used by default.
	Alg string `mapstructure:"alg" yaml:"alg" json:"alg"`

	// Limit is the maximum number of requests per Interval.
	Limit int `mapstructure:"limit" yaml:"limit" json:"limit"`

	// Interval is the length of the limiting window.
	Interval TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`

	// MaxBurst allows temporary spikes in request rate. Matters for leaky_bucket and token_bucket.
	MaxBurst int `mapstructure:"maxBurst" yaml:"maxBurst" json:"maxBurst"`

	// MaxKeys limits the number of per-key limiting states kept in memory.
	MaxKeys int `mapstructure:"maxKeys" yaml:"maxKeys" json:"maxKeys"`

	// Key determines how a throttling key is extracted from the request.
	Key KeyConfig `mapstructure:"key" yaml:"key" json:"key"`
}

// Validate validates the rule.
func (r *RateLimitRule) Validate() error {
	switch r.Alg {
	case "", AlgLeakyBucket, AlgSlidingWindow, AlgTokenBucket, AlgFixedWindow:
	default:
		return fmt.Errorf("unknown rate limit alg %q", r.Alg)
	}
	if r.Limit <= 0 {
		return fmt.Errorf("rule limit must be positive")
	}
	if r.Interval <= 0 {
		return fmt.Errorf("rule interval must be positive")
	}
	return r.Key.Validate()
}

// Config is an immutable snapshot of the egress throttling rule-set.
// It is replaced wholesale by the ConfigProvider on reload and is never mutated in place.
type Config struct {
	// Rules is a list of rate-limiting rules. The first matching rule decides.
	Rules []RateLimitRule `mapstructure:"rules" yaml:"rules" json:"rules"`

	// PropagateToIngress makes a final "too many requests" outcome of an egress call
	// abandon the normal return path and surface as a signal to the inbound pipeline.
	PropagateToIngress bool `mapstructure:"propagateToIngress" yaml:"propagateToIngress" json:"propagateToIngress"`
}

// Validate validates the whole rule-set.
func (c *Config) Validate() error {
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %q (#%d): %w", c.Rules[i].Name, i, err)
		}
	}
	return nil
}
