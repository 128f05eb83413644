// Package s3 reads documents from an S3 bucket.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flarexio/mooli/document"
)

type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Store struct {
	api    API
	bucket string
}

func NewStore(api API, bucket string) *Store {
	return &Store{api: api, bucket: bucket}
}

// NewStoreFromConfig builds a client from the default AWS credential chain.
func NewStoreFromConfig(ctx context.Context, cfg document.Config) (*Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	return NewStore(client, cfg.Bucket), nil
}

func (s *Store) Fetch(ctx context.Context, ref document.Ref) ([]byte, error) {
	if ref.Key == "" {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, document.ErrInvalidRef)
	}

	bucket := ref.Bucket
	if bucket == "" {
		bucket = s.bucket
	}

	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", document.ErrFetchFailure, err)
	}

	return data, nil
}

// Release is a no-op: objects are never copied to disk.
func (s *Store) Release(ctx context.Context, ref document.Ref) error {
	return nil
}
