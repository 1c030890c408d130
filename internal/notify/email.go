package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pulsewatch/internal/models"
	"gopkg.in/gomail.v2"
)

// Mailer sends composed messages. *gomail.Dialer satisfies it.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

func NewSMTPMailer(cfg models.ChannelConfig) *gomail.Dialer {
	username := cfg.Username
	if username == "" {
		username = cfg.From
	}
	return gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, username, cfg.Password)
}

type EmailNotifier struct {
	from   string
	to     []string
	mailer Mailer
}

func NewEmailNotifier(cfg models.ChannelConfig, mailer Mailer) *EmailNotifier {
	return &EmailNotifier{from: cfg.From, to: cfg.To, mailer: mailer}
}

// Notify hands the message to the mailer. The SMTP exchange itself cannot be
// cancelled, so ctx only bounds how long Notify waits for it.
func (e *EmailNotifier) Notify(ctx context.Context, a models.Alert) error {
	m := NewEmailMessage(e.from, e.to, a)

	errc := make(chan error, 1)
	go func() { errc <- e.mailer.DialAndSend(m) }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}

func NewEmailMessage(from string, to []string, a models.Alert) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", fmt.Sprintf("PulseWatch %s [%s]", title(a), strings.ToUpper(string(a.Severity))))
	m.SetBody("text/plain", emailBody(a))
	return m
}

func emailBody(a models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Alert: %s\n", a.Name)
	fmt.Fprintf(&b, "Status: %s\n", a.Status)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity)
	fmt.Fprintf(&b, "Message: %s\n", a.Message)
	fmt.Fprintf(&b, "Started: %s\n", a.StartsAt.Format(time.RFC3339))
	if a.EndsAt != nil {
		fmt.Fprintf(&b, "Ended: %s\n", a.EndsAt.Format(time.RFC3339))
	}

	keys := make([]string, 0, len(a.Annotations))
	for k := range a.Annotations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Annotations[k])
	}
	return b.String()
}
