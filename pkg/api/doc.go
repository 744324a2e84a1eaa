// Package api exposes the versioned HTTP surface: account signup and
// tokens, tier listing, billing operations, the Stripe webhook endpoint,
// and client management with capacity enforcement.
package api
