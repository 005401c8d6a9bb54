package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LeadEventType is the event_type attribute on published lead events.
const LeadEventType = "lead.created"

// LeadEvent is the message published for every booked lead.
type LeadEvent struct {
	Type        string     `json:"type"`
	LeadID      uuid.UUID  `json:"lead_id"`
	WidgetID    *uuid.UUID `json:"widget_id,omitempty"`
	Company     string     `json:"company"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Notes       string     `json:"notes,omitempty"`
	Date        string     `json:"date,omitempty"`
	Time        string     `json:"time,omitempty"`
	CostRange   string     `json:"cost_range"`
	BaseMinCost string     `json:"base_min_cost"`
	BaseMaxCost string     `json:"base_max_cost"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Publisher publishes lead events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, event LeadEvent) error
}

// SNSAPI is the subset of the SNS client the publisher uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes lead events to an SNS topic.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher loads the default AWS configuration for region.
func NewSNSPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSNSPublisherWithClient(sns.NewFromConfig(cfg), topicARN, logger), nil
}

// NewSNSPublisherWithClient wraps an existing SNS client.
func NewSNSPublisherWithClient(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger.Named("sns")}
}

// Publish implements Publisher.
func (p *SNSPublisher) Publish(ctx context.Context, event LeadEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal lead event: %w", err)
	}
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	p.logger.Debug("lead event published",
		zap.String("lead_id", event.LeadID.String()),
		zap.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}
