package aws

import (
	"context"
	"log"
	"time"

	"nftdiarias/src/lib"
	"nftdiarias/src/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConsumer long-polls a queue. Messages whose handler fails stay on the
// queue and come back after the visibility timeout.
type SQSConsumer struct {
	Name    string
	handler types.Handler
	client  sqsAPI
	// Backoff is the pause after a failed receive.
	Backoff time.Duration
}

func NewSQSConsumer(ctx context.Context, region, queue string, handler types.Handler) (*SQSConsumer, error) {
	cfg, err := lib.AWSLoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return &SQSConsumer{Name: queue, handler: handler, client: sqs.NewFromConfig(cfg), Backoff: 5 * time.Second}, nil
}

// Listen blocks until ctx is done.
func (s *SQSConsumer) Listen(ctx context.Context) error {
	qurl, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(s.Name),
	})
	if err != nil {
		log.Printf("Failed to retrieve queue URL for %s: %s\n", s.Name, err.Error())
		return err
	}
	log.Printf("%s: Listening for messages...", s.Name)
	for {
		if ctx.Err() != nil {
			return nil
		}
		output, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            qurl.QueueUrl,
			WaitTimeSeconds:     20,
			MaxNumberOfMessages: 10,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[SQS] Error receiving messages: %s\n", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.Backoff):
			}
			continue
		}
		for _, m := range output.Messages {
			s.handle(ctx, qurl.QueueUrl, m)
		}
	}
}

func (s *SQSConsumer) handle(ctx context.Context, qurl *string, m sqstypes.Message) {
	if err := s.handler(ctx, aws.ToString(m.Body)); err != nil {
		log.Printf("[%s] Error handling message %s: %s\n", s.Name, aws.ToString(m.MessageId), err.Error())
		return
	}
	SQSDeleteMessage(ctx, s.client, qurl, &m)
}

func SQSDeleteMessage(ctx context.Context, c sqsAPI, qurl *string, msg *sqstypes.Message) {
	_, err := c.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      qurl,
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		log.Printf("Error deleting message from queue: %s\n", err.Error())
	}
}
