package email

import "context"

// Provider delivers rendered notices to the school office.
type Provider interface {
	SendTemplate(ctx context.Context, to []string, templateName string, data any) error
}

// NoOpProvider is used when SMTP is not configured; notices then only reach the log sink.
type NoOpProvider struct{}

func (NoOpProvider) SendTemplate(context.Context, []string, string, any) error { return nil }
