package email

import (
	"context"
	"fmt"
	"time"

	"verifmatos/internal/checklist"
	"verifmatos/internal/config"
	"verifmatos/internal/logger"
	"verifmatos/internal/models"

	"github.com/mailgun/mailgun-go/v5"
)

const sendTimeout = 10 * time.Second

type Service struct {
	client      mailgun.Mailgun
	domain      string
	senderEmail string
	senderName  string
	recipient   string
	baseURL     string
	enabled     bool
}

func NewService(cfg *config.Config) *Service {
	enabled := cfg.MailgunDomain != "" && cfg.MailgunAPIKey != "" && cfg.ReportRecipient != ""

	var client mailgun.Mailgun
	if enabled {
		client = mailgun.NewMailgun(cfg.MailgunAPIKey)
	}

	return &Service{
		client:      client,
		domain:      cfg.MailgunDomain,
		senderEmail: cfg.MailgunSenderEmail,
		senderName:  cfg.MailgunSenderName,
		recipient:   cfg.ReportRecipient,
		baseURL:     cfg.PublicBaseURL,
		enabled:     enabled,
	}
}

func (s *Service) IsEnabled() bool {
	return s.enabled
}

// SendVerificationReport mails the outcome of a closed event: the progress
// figures and every item left in problem.
func (s *Service) SendVerificationReport(event *models.Event, progress checklist.Progress, issues []models.EventNode) error {
	if !s.enabled {
		return fmt.Errorf("email service is not configured")
	}

	report := newReport(event, progress, issues, s.baseURL)

	message := mailgun.NewMessage(
		s.domain,
		fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail),
		report.subject(),
		report.text(),
		s.recipient,
	)
	message.SetHTML(report.html())

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	resp, err := s.client.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send verification report for event %d: %w", event.ID, err)
	}

	logger.Info("Verification report sent",
		"event_id", event.ID,
		"email", s.recipient,
		"response", resp)
	return nil
}
