// utils/r2.go
package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the slice of the S3 client R2Publisher uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Publisher writes public JSON documents (badge metadata) to a Cloudflare R2 bucket.
type R2Publisher struct {
	client     ObjectPutter
	bucket     string
	cdnBaseURL string
}

// NewR2Publisher builds an S3 client pointed at the account's R2 endpoint.
func NewR2Publisher(ctx context.Context, accountID, accessKeyID, accessKeySecret, bucket, cdnBaseURL string) (*R2Publisher, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	if cdnBaseURL == "" {
		cdnBaseURL = endpoint + "/" + bucket
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID, accessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return NewR2PublisherWithClient(client, bucket, cdnBaseURL), nil
}

func NewR2PublisherWithClient(client ObjectPutter, bucket, cdnBaseURL string) *R2Publisher {
	return &R2Publisher{
		client:     client,
		bucket:     bucket,
		cdnBaseURL: strings.TrimSuffix(cdnBaseURL, "/"),
	}
}

// PutJSON uploads v as JSON under key and returns its public URL.
func (p *R2Publisher) PutJSON(ctx context.Context, key string, v interface{}) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", key, err)
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("public, max-age=31536000, immutable"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to R2: %w", err)
	}

	// ✅ Return public CDN URL (prefer your custom CDN if set)
	return fmt.Sprintf("%s/%s", p.cdnBaseURL, key), nil
}
