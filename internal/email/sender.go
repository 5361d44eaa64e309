package email

import (
	"context"
	"errors"
)

// ErrInvalidConfig is returned by sender constructors given incomplete settings.
var ErrInvalidConfig = errors.New("email: invalid configuration")

// Message is a rendered transactional email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Tag names the template the message was rendered from; used for metrics
	// and provider-side grouping.
	Tag string
}

// EmailSender delivers transactional email.
type EmailSender interface {
	Send(ctx context.Context, msg Message) error
}
