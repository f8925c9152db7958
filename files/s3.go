package files

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client used for deletes.
type S3API interface {
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs GET requests. *s3.PresignClient satisfies it.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Config locates attachments in a bucket.
type S3Config struct {
	Bucket string

	// Prefix is joined in front of every storage id.
	Prefix string

	// URLExpiry is the lifetime of signed URLs.
	// Default: 15 minutes
	URLExpiry time.Duration
}

// S3 stores attachments as objects keyed by storage id.
type S3 struct {
	client  S3API
	presign Presigner
	config  S3Config
}

// NewS3 creates an S3 storage from a client.
func NewS3(client *s3.Client, config S3Config) *S3 {
	return NewS3WithAPI(client, s3.NewPresignClient(client), config)
}

// NewS3WithAPI creates an S3 storage from explicit collaborators.
func NewS3WithAPI(client S3API, presign Presigner, config S3Config) *S3 {
	if config.URLExpiry <= 0 {
		config.URLExpiry = 15 * time.Minute
	}
	return &S3{client: client, presign: presign, config: config}
}

func (s *S3) key(id string) string {
	if s.config.Prefix == "" {
		return id
	}
	return path.Join(s.config.Prefix, id)
}

// URL returns a signed GET URL for id.
func (s *S3) URL(ctx context.Context, id string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(id)),
	}, s3.WithPresignExpires(s.config.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", id, err)
	}
	return req.URL, nil
}

// Delete removes the object behind id.
func (s *S3) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

var _ Storage = (*S3)(nil)
