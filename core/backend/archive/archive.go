package archive

// Package archive stores entity snapshots outside of the standard marina
// database. There are currently two possible backends: a local file system
// and AWS S3.

import "context"

// Driver defines the interface for the archive service
type Driver interface {
	Store(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// DriverType represents the different types of archive drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the archive service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the archive service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no archive implementation
const None DriverType = ""

// Configuration contains the configuration for the archive service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem archive
type LocalConfiguration struct {
	BasePath string
}

// S3Configuration contains the configuration for the AWS S3 archive
type S3Configuration struct {
	AWSBucketName string
	AWSRegion     string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
}
