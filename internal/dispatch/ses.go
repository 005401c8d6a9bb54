package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"go.uber.org/zap"
)

// SESAPI is the subset of the SES client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends email through Amazon SES using the server's AWS credentials.
type SESMailer struct {
	client SESAPI
	logger *zap.Logger
}

// NewSESMailer loads the default AWS configuration for region.
func NewSESMailer(ctx context.Context, region string, logger *zap.Logger) (*SESMailer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), logger), nil
}

// NewSESMailerWithClient wraps an existing SES client.
func NewSESMailerWithClient(client SESAPI, logger *zap.Logger) *SESMailer {
	return &SESMailer{client: client, logger: logger.Named("ses")}
}

// UsesWidgetKey implements Mailer.
func (m *SESMailer) UsesWidgetKey() bool {
	return false
}

// Send implements Mailer.
func (m *SESMailer) Send(ctx context.Context, email Email) error {
	out, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(email.HTML), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(email.From),
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	m.logger.Debug("email sent", zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}
