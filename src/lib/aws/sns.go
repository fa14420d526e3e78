package aws

import (
	"context"
	"encoding/json"
	"log"

	"nftdiarias/src/lib"
	"nftdiarias/src/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher sends lifecycle events to an SNS topic named after the event topic.
type SNSPublisher struct {
	inner     snsAPI
	region    string
	accountId string
}

func NewSNSPublisher(ctx context.Context, region, accountId string) (*SNSPublisher, error) {
	cfg, err := lib.AWSLoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return &SNSPublisher{inner: sns.NewFromConfig(cfg), region: region, accountId: accountId}, nil
}

func (s *SNSPublisher) Publish(ctx context.Context, topic string, payload types.JSONB) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	topicArn := lib.GetTopicArn(s.region, s.accountId, topic)
	input := &sns.PublishInput{
		TopicArn: aws.String(topicArn),
		Message:  aws.String(string(body)),
	}
	if t, ok := payload["type"].(string); ok {
		input.Subject = aws.String(t)
	}
	out, err := s.inner.Publish(ctx, input)
	if err != nil {
		log.Printf("Error publishing to topic [%s]: %s\n", topicArn, err.Error())
		return err
	}
	log.Printf("[SNS] Published %s to %s\n", aws.ToString(out.MessageId), topicArn)
	return nil
}
