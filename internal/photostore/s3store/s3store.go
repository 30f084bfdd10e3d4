// Package s3store uploads chat images to an S3-compatible bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vbonduro/detectchat/internal/photostore"
)

type Config struct {
	Bucket string
	// Region is the explicitly configured region (S3_REGION, then AWS_REGION).
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	ForcePathStyle  bool
	PublicBaseURL   string
	ACL             string
}

// putObjectAPI is the subset of *s3.Client the store needs.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Store struct {
	client        putObjectAPI
	bucket        string
	region        string
	publicBaseURL string
	acl           string
}

// New builds the S3 client once from cfg. Credentials come from cfg when an
// access key is set, otherwise from the SDK's default chain. When cfg.Region
// is empty the region resolved by the default chain is used; if that is empty
// too, New fails with photostore.ErrMissingConfiguration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	if cfg.Region == "" && awsCfg.Region == "" {
		return nil, fmt.Errorf("%w: no S3 region configured (set S3_REGION or AWS_REGION)", photostore.ErrMissingConfiguration)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newStore(client, cfg, awsCfg.Region), nil
}

func newStore(client putObjectAPI, cfg Config, resolvedRegion string) *Store {
	region := cfg.Region
	if region == "" {
		region = resolvedRegion
	}
	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		region:        region,
		publicBaseURL: cfg.PublicBaseURL,
		acl:           cfg.ACL,
	}
}

// Put writes in.Data with a single PutObject call. The object URL is resolved
// before the write so a misconfigured store fails without leaving an object
// behind.
func (s *Store) Put(ctx context.Context, in photostore.UploadInput) (*photostore.UploadResult, error) {
	bucket := in.Bucket
	if bucket == "" {
		bucket = s.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("%w: S3_BUCKET is not set", photostore.ErrMissingConfiguration)
	}

	objectURL, err := s.objectURL(bucket, in.Key)
	if err != nil {
		return nil, err
	}

	cacheControl := in.CacheControl
	if cacheControl == "" {
		cacheControl = photostore.DefaultCacheControl
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(in.Key),
		Body:          bytes.NewReader(in.Data),
		ContentLength: aws.Int64(int64(len(in.Data))),
		ContentType:   aws.String(in.ContentType),
		CacheControl:  aws.String(cacheControl),
	}
	if s.acl != "" {
		input.ACL = types.ObjectCannedACL(s.acl)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("%w: put s3://%s/%s: %w", photostore.ErrUpload, bucket, in.Key, err)
	}

	return &photostore.UploadResult{Bucket: bucket, Key: in.Key, URL: objectURL}, nil
}

func (s *Store) objectURL(bucket, key string) (string, error) {
	if s.publicBaseURL != "" {
		return photostore.JoinPublicURL(s.publicBaseURL, key), nil
	}
	if s.region == "" {
		return "", fmt.Errorf("%w: S3_REGION or AWS_REGION is required when S3_PUBLIC_BASE_URL is not set", photostore.ErrMissingConfiguration)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key), nil
}
