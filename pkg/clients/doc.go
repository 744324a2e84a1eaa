// Package clients manages the dependent entities counted against tier
// capacity. Hard deletion is disallowed by policy: clients are archived and
// can be reactivated, and every state change recomputes the account's
// active-client counter.
package clients
