package email

import (
	"context"
	"fmt"

	"github.com/jordanlanch/bioforge/pkg/entitlement"
	"github.com/jordanlanch/bioforge/pkg/logger"
	"github.com/jordanlanch/bioforge/pkg/models"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Sender delivers a prepared message. *sendgrid.Client satisfies it.
type Sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Service sends billing notifications
type Service struct {
	fromEmail string
	fromName  string
	baseURL   string
	sender    Sender
	log       logger.Logger
}

// NewService creates a new email service.
// If sendGridAPIKey is provided, emails will be sent via SendGrid.
// Otherwise, emails are only logged (development mode).
func NewService(fromEmail, fromName, baseURL, sendGridAPIKey string, log logger.Logger) *Service {
	s := &Service{
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   baseURL,
		log:       log.With("component", "email"),
	}
	if sendGridAPIKey != "" {
		s.sender = sendgrid.NewSendClient(sendGridAPIKey)
		s.log.Info("email service initialized with SendGrid")
	} else {
		s.log.Warn("email service in log-only mode, set SENDGRID_API_KEY to send")
	}
	return s
}

// WithSender replaces the delivery backend
func (s *Service) WithSender(sender Sender) *Service {
	s.sender = sender
	return s
}

// SendPurchaseReceipt confirms a completed plan purchase
func (s *Service) SendPurchaseReceipt(ctx context.Context, toEmail string, plan models.PlanType) error {
	name := entitlement.PlanDisplayName(plan, false)
	subject := fmt.Sprintf("Your %s is active", name)

	var duration string
	switch plan {
	case models.PlanDaily:
		duration = "for the next 24 hours"
	case models.PlanMonthly:
		duration = "and renews every 30 days until you cancel"
	default:
		duration = "with no expiry"
	}

	html := fmt.Sprintf(`
		<html>
		<body>
			<h2>Thanks for upgrading!</h2>
			<p>Your <strong>%s</strong> is active %s.</p>
			<p>Bios and cover letters are now unlimited.</p>
			<p><a href="%s/dashboard" style="background-color: #4CAF50; color: white; padding: 14px 20px; text-decoration: none; border-radius: 4px; display: inline-block;">Start writing</a></p>
			<p>Thanks,<br>The BioForge Team</p>
		</body>
		</html>
	`, name, duration, s.baseURL)

	plain := fmt.Sprintf(`
Thanks for upgrading!

Your %s is active %s.
Bios and cover letters are now unlimited.

Start writing: %s/dashboard

Thanks,
The BioForge Team
	`, name, duration, s.baseURL)

	return s.send(ctx, toEmail, subject, html, plain)
}

// SendCancellationNotice confirms that a plan will not renew
func (s *Service) SendCancellationNotice(ctx context.Context, toEmail string, plan models.PlanType) error {
	name := entitlement.PlanDisplayName(plan, false)
	subject := fmt.Sprintf("Your %s has been cancelled", name)

	html := fmt.Sprintf(`
		<html>
		<body>
			<h2>Cancellation confirmed</h2>
			<p>Your <strong>%s</strong> will not renew. You keep full access until the end of the current period.</p>
			<p>Changed your mind? <a href="%s/pricing">Pick a plan again</a> any time.</p>
			<p>Thanks,<br>The BioForge Team</p>
		</body>
		</html>
	`, name, s.baseURL)

	plain := fmt.Sprintf(`
Cancellation confirmed

Your %s will not renew. You keep full access until the end of the current period.

Changed your mind? Pick a plan again any time: %s/pricing

Thanks,
The BioForge Team
	`, name, s.baseURL)

	return s.send(ctx, toEmail, subject, html, plain)
}

func (s *Service) send(ctx context.Context, toEmail, subject, htmlBody, plainTextBody string) error {
	if toEmail == "" {
		return fmt.Errorf("no recipient for %q", subject)
	}

	if s.sender == nil {
		s.log.Info("email not sent (development mode)", "to", toEmail, "subject", subject)
		return nil
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail("", toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainTextBody, htmlBody)

	response, err := s.sender.SendWithContext(ctx, message)
	if err != nil {
		s.log.Error("sendgrid error", "error", err, "to", toEmail)
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		s.log.Error("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid returned error status: %d", response.StatusCode)
	}

	s.log.Info("email sent", "to", toEmail, "status", response.StatusCode)
	return nil
}
