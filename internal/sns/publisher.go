package sns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/ioggstream/pn-delivery/internal/events"
	"github.com/ioggstream/pn-delivery/internal/metrics"
)

// API is the subset of the SNS client used here.
type API interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewClient creates an SNS client; endpoint overrides the AWS endpoint
// for LocalStack.
func NewClient(awsCfg aws.Config, endpoint string) *sns.Client {
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}

// Publisher fans domain events out through an SNS topic. Subscribers filter
// on the eventType and paId message attributes.
type Publisher struct {
	client   API
	topicARN string
	logger   *zap.Logger
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(client API, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
	}
}

// Publish sends ev to the topic.
func (p *Publisher) Publish(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.EventType)),
			},
			"paId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.PaID),
			},
			"iun": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.IUN),
			},
		},
	})
	if err != nil {
		metrics.RecordEventPublished("sns", "error")
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	metrics.RecordEventPublished("sns", "ok")
	return nil
}
