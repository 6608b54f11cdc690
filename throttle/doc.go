/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttle contains the shared pieces of the egress throttling machinery:
// the rule-set configuration with its provider and background reload scheduler,
// the Evaluator contract with a built-in rule-set implementation,
// and the signal that carries a throttling decision from the egress path
// to the handler of the original inbound request.
package throttle
