// Package tiers defines the subscription tier registry: reference data
// mapping business categories to price, client capacity, and feature sets.
// Definitions are loaded once at startup and immutable afterward.
package tiers
