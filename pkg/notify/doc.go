// Package notify renders and sends account-facing email over SMTP:
// capacity warnings, archive notices, dunning, retention, and trial
// expiry messages.
package notify
