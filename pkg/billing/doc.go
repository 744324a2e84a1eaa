// Package billing manages subscriptions, invoices, and payment methods
// through the Stripe gateway, and processes signed processor webhooks with
// append-only event deduplication.
package billing
