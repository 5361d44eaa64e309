package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

// ErrFailedToSendEmail wraps provider-side delivery failures.
var ErrFailedToSendEmail = errors.New("email: failed to send")

// PostmarkSender delivers email through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	from   string
}

// NewPostmarkSender creates a PostmarkSender. Both tokens and the sender
// address are required.
func NewPostmarkSender(serverToken, accountToken, from string) (*PostmarkSender, error) {
	if serverToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if accountToken == "" {
		return nil, fmt.Errorf("%w: postmark account token is required", ErrInvalidConfig)
	}
	if from == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}
	return &PostmarkSender{
		client: postmark.NewClient(serverToken, accountToken),
		from:   from,
	}, nil
}

// Send implements EmailSender.
func (p *PostmarkSender) Send(ctx context.Context, msg Message) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTML,
		TextBody:   msg.Text,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}
