package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArchiveConfig holds credentials for S3-compatible storage (AWS, DO
// Spaces, R2).
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// ResponseArchiver keeps the raw bodies of responses that failed to
// parse. When a store changes its markup the archived page is what we
// diagnose against, instead of re-hitting the store by hand.
type ResponseArchiver struct {
	client *s3.Client
	bucket string
}

func NewResponseArchiver(ctx context.Context, cfg ArchiveConfig) (*ResponseArchiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &ResponseArchiver{client: client, bucket: cfg.Bucket}, nil
}

// Archive stores one raw response body under raw/{store}/{timestamp}.
func (a *ResponseArchiver) Archive(ctx context.Context, storeID string, body []byte) (string, error) {
	key := fmt.Sprintf("raw/%s/%s.html", storeID, time.Now().UTC().Format("20060102T150405"))

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}
