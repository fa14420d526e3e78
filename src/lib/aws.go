package lib

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSLoadConfig loads the default credential chain. When AWS_IAM_ROLE_ARN is
// set the service assumes that role first.
func AWSLoadConfig(ctx context.Context, region string) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.Printf("Error loading default config: %s\n", err.Error())
		return aws.Config{}, err
	}
	iamRole := os.Getenv("AWS_IAM_ROLE_ARN")
	if iamRole == "" {
		return cfg, nil
	}
	stsClient := sts.NewFromConfig(cfg)
	output, err := stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(iamRole),
		RoleSessionName: aws.String("nftdiarias"),
	})
	if err != nil {
		log.Printf("Error configuring STS client: %s\n", err.Error())
		return aws.Config{}, err
	}
	creds := output.Credentials
	cfg.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		aws.ToString(creds.AccessKeyId), aws.ToString(creds.SecretAccessKey), aws.ToString(creds.SessionToken),
	))
	return cfg, nil
}

// SNS and SQS names cannot contain dots.
func awsResourceName(name string) string {
	return strings.ReplaceAll(name, ".", "-")
}

func GetTopicArn(region, accountId, topic string) string {
	return fmt.Sprintf("arn:aws:sns:%s:%s:%s", region, accountId, awsResourceName(topic))
}

func GetQueueArn(region, accountId, queue string) string {
	return fmt.Sprintf("arn:aws:sqs:%s:%s:%s", region, accountId, awsResourceName(queue))
}
