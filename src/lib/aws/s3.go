package aws

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"nftdiarias/src/lib"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

type s3API interface {
	s3.HeadObjectAPIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3MetadataPinner stores token metadata documents and returns their URI.
type S3MetadataPinner struct {
	client  s3API
	bucket  string
	baseURL string
	// Wait bounds how long Pin waits for the object to become visible.
	Wait  time.Duration
	newID func() string
}

func NewS3MetadataPinner(ctx context.Context, region, bucket, baseURL string) (*S3MetadataPinner, error) {
	cfg, err := lib.AWSLoadConfig(ctx, region)
	if err != nil {
		return nil, err
	}
	return newS3MetadataPinner(s3.NewFromConfig(cfg), bucket, baseURL), nil
}

func newS3MetadataPinner(client s3API, bucket, baseURL string) *S3MetadataPinner {
	return &S3MetadataPinner{client: client, bucket: bucket, baseURL: baseURL, Wait: time.Minute, newID: uuid.NewString}
}

func (p *S3MetadataPinner) key(name string) string {
	s := slug.Make(name)
	if s == "" {
		s = "reserva"
	}
	return fmt.Sprintf("metadata/%s-%s.json", s, p.newID())
}

func (p *S3MetadataPinner) Pin(ctx context.Context, name string, document []byte) (string, error) {
	key := p.key(name)
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(document),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		log.Printf("Could not put object to S3 bucket: %s\n", err.Error())
		return "", err
	}
	err = s3.NewObjectExistsWaiter(p.client).Wait(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, p.Wait)
	if err != nil {
		log.Printf("Failed attempt to wait for object %s to exist: %s\n", key, err.Error())
		return "", err
	}
	log.Printf("Added object '%s' to bucket '%s'", key, p.bucket)
	if p.baseURL != "" {
		return strings.TrimSuffix(p.baseURL, "/") + "/" + key, nil
	}
	return fmt.Sprintf("s3://%s/%s", p.bucket, key), nil
}
