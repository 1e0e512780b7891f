package tablestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the table as a CSV object. A PutObject replaces the object
// in one step, so readers see either the old or the new table.
type S3Store struct {
	client s3API
	bucket string
	key    string
	logger zerolog.Logger
}

// NewS3Client builds an S3 client from the default AWS configuration chain.
// Path-style addressing keeps local endpoints such as LocalStack working.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
		UsePathStyle: true,
	}), nil
}

// NewS3Store returns a store for s3://bucket/key.
func NewS3Store(client s3API, bucket, key string, logger zerolog.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, key: key, logger: logger}
}

func (s *S3Store) location() string { return "s3://" + s.bucket + "/" + s.key }

func (s *S3Store) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *S3Store) Load(ctx context.Context) (Table, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return Table{}, nil
		}
		return Table{}, unavailable("s3", s.location(), err)
	}
	defer out.Body.Close()

	t, err := DecodeCSV(out.Body)
	if err != nil {
		return Table{}, malformed(s.location(), err)
	}
	return t, nil
}

func (s *S3Store) WriteAll(ctx context.Context, t Table) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, t); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.location(), err)
	}
	return nil
}
