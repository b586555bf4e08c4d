// Package awsutil provides utilities for loading AWS configuration.
package awsutil

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Load loads the AWS configuration for the region. AWS_ENDPOINT_URL, when
// set, points the SDK at a local stack (e.g. http://localstack:4566) and is
// reported back so callers can enable dev-only client options.
func Load(ctx context.Context, region string) (aws.Config, string, error) {
	cfg, err := awsCfg.LoadDefaultConfig(ctx, awsCfg.WithRegion(region))
	if err != nil {
		return aws.Config{}, "", err
	}
	return cfg, os.Getenv("AWS_ENDPOINT_URL"), nil
}

// NewS3 builds an S3 client, using path-style addressing against a dev
// endpoint.
func NewS3(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// NewDynamoDB builds a DynamoDB client, honoring a dev endpoint.
func NewDynamoDB(cfg aws.Config, endpoint string) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
}
