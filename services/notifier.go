package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"fulfillment-service/sender"
	"fulfillment-service/templates"

	"go.uber.org/zap"
)

const (
	TemplatePurchaseConfirmation = "purchase_confirmation.html"
	TemplatePrintConfirmation    = "print_confirmation.html"
	TemplatePrintShipped         = "print_shipped.html"
	TemplateDripStep             = "drip_step.html"
)

// Notifier renders an embedded template and hands the result to the EmailSender.
type Notifier struct {
	sender    sender.EmailSender
	templates *template.Template
	baseURL   string
	logger    *zap.Logger
}

func NewNotifier(emailSender sender.EmailSender, baseURL string, logger *zap.Logger) (*Notifier, error) {
	tmpl, err := template.ParseFS(templates.FS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}
	return &Notifier{
		sender:    emailSender,
		templates: tmpl,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}, nil
}

func (n *Notifier) BaseURL() string {
	return n.baseURL
}

func (n *Notifier) Send(ctx context.Context, to, subject, templateName string, data map[string]interface{}) (sender.SendResult, error) {
	if to == "" {
		return sender.SendResult{}, ErrMissingEmail
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["BaseURL"] = n.baseURL

	var buf bytes.Buffer
	if err := n.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return sender.SendResult{}, fmt.Errorf("template %s render failed: %w", templateName, err)
	}

	res, err := n.sender.SendEmail(ctx, to, subject, buf.String())
	if err != nil {
		return sender.SendResult{}, err
	}
	n.logger.Info("email sent",
		zap.String("template", templateName),
		zap.String("message_id", res.MessageID),
	)
	return res, nil
}
