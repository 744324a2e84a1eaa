// Package middleware provides the authenticated request pipeline: Bearer
// token auth, account resolution, plan headers with restriction
// enforcement, and Redis-backed rate limiting.
package middleware
