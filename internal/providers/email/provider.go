// Package email delivers clinic notifications over SMTP using the embedded
// HTML templates.
package email

import "context"

// Provider sends templated mail. Template names match files under
// templates/ without the .html suffix.
type Provider interface {
	SendTemplate(ctx context.Context, to []string, subject string, templateName string, data any) error
}

// Disabled stands in when SMTP is not configured. Notifications are still
// stored; only the mail is skipped.
type Disabled struct{}

func (Disabled) SendTemplate(context.Context, []string, string, string, any) error {
	return nil
}
