package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/marina/core/logger"
)

// S3 is the implementation of the archive driver for AWS S3
type S3 struct {
	config      aws.Config
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(archiveConfig S3Configuration) (*S3, error) {
	if archiveConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	config, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(archiveConfig.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(archiveConfig.AccessID, archiveConfig.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("S3 archive enabled")
	s := S3{config, archiveConfig.AWSBucketName, archiveConfig.KeyPrefix}
	return &s, nil
}

// Store writes data under the given key
func (s S3) Store(ctx context.Context, key string, data []byte) error {
	client := s3.NewFromConfig(s.config)

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.baseKeyName + key),
		Body:   bytes.NewReader(data),
	}
	_, err := client.PutObject(ctx, input)
	if err != nil {
		logger.Default().Error("Could not store ", s.baseKeyName+key)
		return err
	}
	return nil
}

// Load reads the data stored under the given key
func (s S3) Load(ctx context.Context, key string) ([]byte, error) {
	client := s3.NewFromConfig(s.config)

	input := &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(s.baseKeyName + key),
	}
	output, err := client.GetObject(ctx, input)
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()
	return io.ReadAll(output.Body)
}

// ListAllWithPrefix returns all keys starting with prefix
func (s S3) ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	client := s3.NewFromConfig(s.config)

	var keys []string
	var continuationToken *string
	for {
		output, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &s.bucket,
			Prefix:            aws.String(s.baseKeyName + prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, err
		}
		for _, object := range output.Contents {
			keys = append(keys, *object.Key)
		}
		if output.NextContinuationToken == nil {
			break
		}
		continuationToken = output.NextContinuationToken
	}
	return keys, nil
}

var _ Driver = S3{}
