package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"time"

	"github.com/coachdeck/coachdeck/pkg/accounts"
	"github.com/coachdeck/coachdeck/pkg/config"
	"github.com/coachdeck/coachdeck/pkg/observability"
)

// Sender delivers a rendered message. The default implementation wraps
// net/smtp; tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPSender sends mail through a single SMTP relay
type SMTPSender struct {
	cfg config.SMTPConfig
}

// NewSMTPSender creates a sender from SMTP configuration
func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message. Auth is skipped when no username is set
// (local relays in development).
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	addr := s.cfg.Host + ":" + s.cfg.Port
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}

// Mailer renders and sends account-facing email. It implements the
// notifier interfaces of the clients and scheduler packages. When disabled
// it logs the would-be delivery and succeeds.
type Mailer struct {
	sender     Sender
	accounts   accounts.Service
	upgradeURL string
	enabled    bool
	logger     *observability.Logger
}

// NewMailer creates a mailer
func NewMailer(sender Sender, accountSvc accounts.Service, upgradeURL string, enabled bool, logger *observability.Logger) *Mailer {
	return &Mailer{
		sender:     sender,
		accounts:   accountSvc,
		upgradeURL: upgradeURL,
		enabled:    enabled,
		logger:     logger,
	}
}

func (m *Mailer) deliver(ctx context.Context, account *accounts.Account, subject string, tmpl *template.Template, data interface{}) error {
	body, err := render(tmpl, data)
	if err != nil {
		return err
	}

	if !m.enabled {
		m.logger.WithFields(map[string]interface{}{
			"account_id": account.ID,
			"subject":    subject,
		}).Info("email disabled, skipping delivery")
		return nil
	}
	return m.sender.Send(ctx, account.Email, subject, body)
}

func render(tmpl *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// SendCapacityWarning tells the account it is at or over its client limit
func (m *Mailer) SendCapacityWarning(ctx context.Context, accountID int64, used, limit int64) error {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return m.deliver(ctx, account, "You have reached your client limit", capacityWarningTmpl, capacityWarningData{
		BusinessName: account.BusinessName,
		Used:         used,
		Limit:        limit,
		UpgradeURL:   m.upgradeURL,
	})
}

// SendArchiveNotice lists the clients scheduled for archive and when
func (m *Mailer) SendArchiveNotice(ctx context.Context, accountID int64, clientNames []string, archiveAt time.Time) error {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return m.deliver(ctx, account, "Inactive clients scheduled for archive", archiveNoticeTmpl, archiveNoticeData{
		BusinessName: account.BusinessName,
		ClientNames:  clientNames,
		ArchiveDate:  archiveAt.Format("January 2, 2006"),
		UpgradeURL:   m.upgradeURL,
	})
}

// SendWarning sends a subject-keyed warning (dunning, overdue invoices)
func (m *Mailer) SendWarning(ctx context.Context, accountID int64, subject string) error {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}

	switch subject {
	case "payment_failed":
		return m.deliver(ctx, account, "Action needed: payment failed", paymentFailedTmpl, warningData{
			BusinessName: account.BusinessName,
			UpgradeURL:   m.upgradeURL,
		})
	case "invoice_overdue":
		return m.deliver(ctx, account, "Your invoice is overdue", invoiceOverdueTmpl, warningData{
			BusinessName: account.BusinessName,
			UpgradeURL:   m.upgradeURL,
		})
	default:
		return m.deliver(ctx, account, "A note about your account", genericWarningTmpl, warningData{
			BusinessName: account.BusinessName,
			Note:         strings.ReplaceAll(subject, "_", " "),
			UpgradeURL:   m.upgradeURL,
		})
	}
}

// SendRetention is sent after a cancellation lands
func (m *Mailer) SendRetention(ctx context.Context, accountID int64) error {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return m.deliver(ctx, account, "We'd hate to see you go", retentionTmpl, warningData{
		BusinessName: account.BusinessName,
		UpgradeURL:   m.upgradeURL,
	})
}

// SendTrialExpiry is sent when a trial lapses without a subscription
func (m *Mailer) SendTrialExpiry(ctx context.Context, accountID int64) error {
	account, err := m.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	return m.deliver(ctx, account, "Your trial has ended", trialExpiryTmpl, warningData{
		BusinessName: account.BusinessName,
		UpgradeURL:   m.upgradeURL,
	})
}
