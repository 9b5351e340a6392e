// Package rule implements the predicates that decide which module receives an
// inbound frame. Rules may carry arm/disarm state for two-phase wire patterns
// where a priming text frame announces a data frame that follows it.
package rule

import (
	"sync"
	"time"

	"github.com/optionwire/optionwire/internal/connection"
)

// Rule classifies inbound frames for one module. Match may consult and mutate
// internal arm state; Reset clears it and must be invoked whenever the
// connection is replaced, since a two-phase match must not straddle reconnects.
type Rule interface {
	Match(f *connection.Frame) bool
	Reset()
}

// Func adapts a stateless predicate to the Rule interface.
type Func func(f *connection.Frame) bool

func (fn Func) Match(f *connection.Frame) bool { return fn(f) }

func (fn Func) Reset() {}

// Prefix matches text frames starting with the given literal.
func Prefix(p string) Rule {
	return Func(func(f *connection.Frame) bool {
		return f.TextPrefix(p)
	})
}

// TwoStep arms on a priming text frame bearing one of its prefixes and
// consumes exactly the next binary frame, then disarms. The priming frame
// itself is not delivered. Text frames seen while armed only re-test the
// prefixes. With armTimeout > 0, a data frame arriving later than armTimeout
// after arming disarms the rule without matching.
type TwoStep struct {
	mu         sync.Mutex
	armed      bool
	armedAt    time.Time
	patterns   []string
	armTimeout time.Duration
}

// NewTwoStep creates a two-phase rule for a single priming prefix.
// armTimeout of zero means an armed rule never expires on its own.
func NewTwoStep(pattern string, armTimeout time.Duration) *TwoStep {
	return NewMultiPattern([]string{pattern}, armTimeout)
}

// NewMultiPattern creates a two-phase rule arming on any of several priming
// prefixes.
func NewMultiPattern(patterns []string, armTimeout time.Duration) *TwoStep {
	return &TwoStep{patterns: patterns, armTimeout: armTimeout}
}

func (r *TwoStep) Match(f *connection.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case f.IsText():
		for _, p := range r.patterns {
			if f.TextPrefix(p) {
				r.armed = true
				r.armedAt = time.Now()
				return false
			}
		}
		return false
	case f.IsBinary():
		if !r.armed {
			return false
		}
		r.armed = false
		if r.armTimeout > 0 && time.Since(r.armedAt) > r.armTimeout {
			return false
		}
		return true
	default:
		return false
	}
}

func (r *TwoStep) Reset() {
	r.mu.Lock()
	r.armed = false
	r.mu.Unlock()
}

// Any is an OR-combinator: it matches if any child matches, evaluating every
// child so stateful children observe each frame; Reset resets all children.
type Any struct {
	rules []Rule
}

// NewAny combines rules into a single OR rule.
func NewAny(rules ...Rule) *Any {
	return &Any{rules: rules}
}

func (a *Any) Match(f *connection.Frame) bool {
	matched := false
	for _, r := range a.rules {
		if r.Match(f) {
			matched = true
		}
	}
	return matched
}

func (a *Any) Reset() {
	for _, r := range a.rules {
		r.Reset()
	}
}
