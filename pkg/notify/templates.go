package notify

import "text/template"

type capacityWarningData struct {
	BusinessName string
	Used         int64
	Limit        int64
	UpgradeURL   string
}

type archiveNoticeData struct {
	BusinessName string
	ClientNames  []string
	ArchiveDate  string
	UpgradeURL   string
}

type warningData struct {
	BusinessName string
	Note         string
	UpgradeURL   string
}

var capacityWarningTmpl = template.Must(template.New("capacity_warning").Parse(
	`Hi {{.BusinessName}},

You are using {{.Used}} of {{.Limit}} client slots on your current plan.
New clients cannot be added until you free up space or upgrade.

Upgrade any time: {{.UpgradeURL}}

- The CoachDeck team
`))

var archiveNoticeTmpl = template.Must(template.New("archive_notice").Parse(
	`Hi {{.BusinessName}},

You are over your plan's client limit. The following least-recently-active
clients will be archived on {{.ArchiveDate}} unless you upgrade first:

{{range .ClientNames}}  - {{.}}
{{end}}
Archived clients keep all of their data and can be reactivated whenever you
have room. Upgrade to keep everyone active: {{.UpgradeURL}}

- The CoachDeck team
`))

var paymentFailedTmpl = template.Must(template.New("payment_failed").Parse(
	`Hi {{.BusinessName}},

We could not collect your latest payment, and adding new clients is paused
until it goes through. Please update your payment method:

{{.UpgradeURL}}

We will retry automatically over the next few days.

- The CoachDeck team
`))

var invoiceOverdueTmpl = template.Must(template.New("invoice_overdue").Parse(
	`Hi {{.BusinessName}},

You have an overdue invoice on your account. Please settle it to keep your
subscription in good standing:

{{.UpgradeURL}}

- The CoachDeck team
`))

var genericWarningTmpl = template.Must(template.New("generic_warning").Parse(
	`Hi {{.BusinessName}},

{{.Note}}

Manage your account: {{.UpgradeURL}}

- The CoachDeck team
`))

var retentionTmpl = template.Must(template.New("retention").Parse(
	`Hi {{.BusinessName}},

Your subscription is set to cancel at the end of the current period. Your
clients and their history stay safe, and you can pick up right where you
left off by resubscribing:

{{.UpgradeURL}}

If something wasn't working for you, just reply and tell us.

- The CoachDeck team
`))

var trialExpiryTmpl = template.Must(template.New("trial_expiry").Parse(
	`Hi {{.BusinessName}},

Your CoachDeck trial has ended. Pick a plan to keep managing your clients
without interruption:

{{.UpgradeURL}}

- The CoachDeck team
`))
