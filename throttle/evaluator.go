/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttle

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/vasayxtx/go-glob"

	"github.com/acronis/go-egressthrottle/counterstore"
	"github.com/acronis/go-egressthrottle/limiter"
)

// ExceededResult is produced by an Evaluator when a configured limit is exceeded.
// It is immutable and lives for one call attempt.
type ExceededResult struct {
	// Rule is the name of the exceeded rule.
	Rule string

	// Key is the throttling key the limit was exceeded for. May be empty.
	Key string

	// RetryAfterValue advises when the request may be repeated:
	// either a delta in seconds encoded as text, or an HTTP date.
	RetryAfterValue string
}

// Evaluator decides, per outbound request, whether a configured limit is currently exceeded.
// A nil result means the request is not limited.
type Evaluator interface {
	Evaluate(ctx context.Context, r *http.Request) (*ExceededResult, error)
}

// EvaluatorFunc is an adapter to allow the use of ordinary functions as Evaluator.
type EvaluatorFunc func(ctx context.Context, r *http.Request) (*ExceededResult, error)

// Evaluate is a part of Evaluator interface implementation.
func (f EvaluatorFunc) Evaluate(ctx context.Context, r *http.Request) (*ExceededResult, error) {
	return f(ctx, r)
}

// RuleSetEvaluator is an Evaluator driven by the rule-set of a ConfigProvider.
// The first matching rule whose limiter rejects the request produces the ExceededResult.
// Compiled rules are cached per config snapshot and rebuilt when the provider swaps it.
type RuleSetEvaluator struct {
	provider *ConfigProvider
	store    counterstore.Store

	mu          sync.Mutex
	compiledCfg *Config
	compiled    []compiledRule
}

// NewRuleSetEvaluator creates a new RuleSetEvaluator.
// The store backs fixed-window rules and is typically obtained from counterstore.Resolve.
func NewRuleSetEvaluator(provider *ConfigProvider, store counterstore.Store) *RuleSetEvaluator {
	if store == nil {
		store = counterstore.Resolve(nil, counterstore.Backends{})
	}
	return &RuleSetEvaluator{provider: provider, store: store}
}

// Evaluate is a part of Evaluator interface implementation.
func (e *RuleSetEvaluator) Evaluate(ctx context.Context, r *http.Request) (*ExceededResult, error) {
	cfg, err := e.provider.GetCurrent(ctx)
	if err != nil {
		return nil, err
	}
	rules, err := e.rulesFor(cfg)
	if err != nil {
		return nil, err
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.match(r) {
			continue
		}
		key := rule.getKey(r)
		allow, retryAfter, allowErr := rule.lim.Allow(ctx, rule.name+"|"+key)
		if allowErr != nil {
			return nil, fmt.Errorf("rule %q: %w", rule.name, allowErr)
		}
		if !allow {
			return &ExceededResult{
				Rule:            rule.name,
				Key:             key,
				RetryAfterValue: formatRetryAfterSeconds(retryAfter),
			}, nil
		}
	}
	return nil, nil
}

func (e *RuleSetEvaluator) rulesFor(cfg *Config) ([]compiledRule, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg == e.compiledCfg {
		return e.compiled, nil
	}
	compiled, err := compileRules(cfg, e.store)
	if err != nil {
		return nil, err
	}
	e.compiledCfg, e.compiled = cfg, compiled
	return compiled, nil
}

type compiledRule struct {
	name   string
	match  func(r *http.Request) bool
	getKey func(r *http.Request) string
	lim    limiter.Limiter
}

func compileRules(cfg *Config, store counterstore.Store) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(cfg.Rules))
	for i := range cfg.Rules {
		rule := cfg.Rules[i]

		name := rule.Name
		if name == "" {
			name = "rule-" + strconv.Itoa(i)
		}

		lim, err := makeLimiter(&rule, store)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
		compiled = append(compiled, compiledRule{
			name:   name,
			match:  makeRuleMatcher(&rule),
			getKey: makeKeyGetter(rule.Key),
			lim:    lim,
		})
	}
	return compiled, nil
}

func makeLimiter(rule *RateLimitRule, store counterstore.Store) (limiter.Limiter, error) {
	maxRate := limiter.Rate{Count: rule.Limit, Duration: time.Duration(rule.Interval)}
	switch rule.Alg {
	case "", AlgLeakyBucket:
		return limiter.NewLeakyBucketLimiter(maxRate, rule.MaxBurst, rule.MaxKeys)
	case AlgSlidingWindow:
		return limiter.NewSlidingWindowLimiter(maxRate, rule.MaxKeys), nil
	case AlgTokenBucket:
		return limiter.NewTokenBucketLimiter(maxRate, rule.MaxBurst, rule.MaxKeys), nil
	case AlgFixedWindow:
		return limiter.NewFixedWindowLimiter(maxRate, store), nil
	}
	return nil, fmt.Errorf("unknown rate limit alg %q", rule.Alg)
}

func makeRuleMatcher(rule *RateLimitRule) func(r *http.Request) bool {
	matchURL := func(_ *http.Request) bool { return true }
	if rule.URLPattern != "" {
		compiledPattern := glob.Compile(rule.URLPattern)
		matchURL = func(r *http.Request) bool {
			return compiledPattern(r.URL.Host + r.URL.Path)
		}
	}
	method := rule.Method
	return func(r *http.Request) bool {
		if method != "" && method != r.Method {
			return false
		}
		return matchURL(r)
	}
}

func makeKeyGetter(cfg KeyConfig) func(r *http.Request) string {
	switch cfg.Type {
	case KeyTypeHost:
		return func(r *http.Request) string { return r.URL.Host }
	case KeyTypeHeader:
		headerName := cfg.HeaderName
		return func(r *http.Request) string { return r.Header.Get(headerName) }
	}
	return func(_ *http.Request) string { return "" }
}

func formatRetryAfterSeconds(retryAfter time.Duration) string {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
