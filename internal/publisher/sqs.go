package publisher

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/codeforprod/eventforge/internal/errs"
	"github.com/codeforprod/eventforge/internal/outbox"
)

// sqsMaxDelaySeconds is SQS's own per-message DelaySeconds ceiling; a
// delayed outbox message past this is permanently unpublishable on SQS.
const sqsMaxDelaySeconds = 900

// sqsClientAPI is the subset of the generated SQS client this publisher
// calls, narrowed so tests can stub it.
type sqsClientAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher publishes outbox messages to a single SQS (optionally FIFO)
// queue, using MessageGroupId for routing-key-scoped ordering and
// MessageAttributes for the header set.
type SQSPublisher struct {
	client   sqsClientAPI
	queueURL string
	fifo     bool
}

// NewSQSPublisher loads the default AWS config for region and builds a
// publisher targeting queueURL. fifo enables MessageGroupId/DeduplicationId
// (required for .fifo queues, rejected by standard queues).
func NewSQSPublisher(ctx context.Context, region, queueURL string, fifo bool) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("publisher: load AWS config: %w", err)
	}
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		fifo:     fifo,
	}, nil
}

// NewSQSPublisherWithStaticCredentials builds a publisher against a custom
// endpoint with static credentials, for local stacks (ElasticMQ, LocalStack)
// where the default credential chain has nothing to resolve.
func NewSQSPublisherWithStaticCredentials(ctx context.Context, region, queueURL, endpoint, accessKey, secretKey string, fifo bool) (*SQSPublisher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("publisher: load AWS config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     fifo,
	}, nil
}

// Publish sends msg to the queue, mapping opts.DelayMS to SQS's per-message
// DelaySeconds and opts.Headers to MessageAttributes. A delay beyond SQS's
// 900s ceiling is rejected as a PermanentError rather than silently clamped,
// so the relay marks the message PermanentlyFailed instead of under-delaying it.
func (p *SQSPublisher) Publish(ctx context.Context, msg *outbox.Message, opts outbox.PublishOptions) error {
	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(msg.Payload)),
		MessageAttributes: attributesFrom(opts),
	}

	if opts.DelayMS > 0 {
		delaySeconds := int32(opts.DelayMS / 1000)
		if delaySeconds > sqsMaxDelaySeconds {
			return errs.NewPermanentError(
				fmt.Sprintf("sqs: delay %ds exceeds %ds maximum", delaySeconds, sqsMaxDelaySeconds), nil)
		}
		input.DelaySeconds = delaySeconds
	}

	if p.fifo {
		input.MessageGroupId = aws.String(opts.RoutingKey)
		input.MessageDeduplicationId = aws.String(msg.ID)
	}

	_, err := p.client.SendMessage(ctx, input)
	if err != nil {
		return fmt.Errorf("publisher: sqs send message: %w", err)
	}
	return nil
}

func attributesFrom(opts outbox.PublishOptions) map[string]types.MessageAttributeValue {
	attrs := make(map[string]types.MessageAttributeValue, len(opts.Headers)+1)
	attrs["RoutingKey"] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(opts.RoutingKey),
	}
	for k, v := range opts.Headers {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return attrs
}

// IsConnected always reports true: the AWS SDK client is stateless HTTP,
// with no persistent connection to track.
func (p *SQSPublisher) IsConnected() bool { return true }

// Connect is a no-op; NewSQSPublisher already resolves credentials.
func (p *SQSPublisher) Connect(ctx context.Context) error { return nil }

// Disconnect is a no-op for the same reason.
func (p *SQSPublisher) Disconnect(ctx context.Context) error { return nil }
