// Package scheduler provides the durable Postgres task queue, the batch
// sweeper that drains it, and the cron runner for periodic jobs (trial
// expiry, overdue invoices, usage rollup, retention pruning).
package scheduler
