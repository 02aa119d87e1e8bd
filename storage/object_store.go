package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awspkg "fulfillment-service/pkg/aws"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var ErrArtifactNotFound = errors.New("artifact not found in object store")

// ObjectStore resolves an artifact id to a URL the print provider can fetch.
type ObjectStore interface {
	ArtifactURL(ctx context.Context, artifactID string) (string, error)
}

// S3ObjectStore stores high-resolution artifacts at <prefix>/<artifactID>.png.
type S3ObjectStore struct {
	client *s3.Client
	bucket string
	prefix string
	expiry time.Duration
}

func NewS3ObjectStore(client *s3.Client, bucket, prefix string, expiry time.Duration) *S3ObjectStore {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &S3ObjectStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), expiry: expiry}
}

func (s *S3ObjectStore) Key(artifactID string) string {
	return ArtifactKey(s.prefix, artifactID)
}

func ArtifactKey(prefix, artifactID string) string {
	if prefix == "" {
		return artifactID + ".png"
	}
	return fmt.Sprintf("%s/%s.png", prefix, artifactID)
}

// ArtifactURL fails fast with ErrArtifactNotFound when the object is absent.
func (s *S3ObjectStore) ArtifactURL(ctx context.Context, artifactID string) (string, error) {
	key := s.Key(artifactID)
	if err := awspkg.ObjectExists(ctx, s.client, s.bucket, key); err != nil {
		if errors.Is(err, awspkg.ErrObjectNotFound) {
			return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, key)
		}
		return "", err
	}
	return awspkg.GeneratePresignedGetURL(ctx, s.client, s.bucket, key, s.expiry)
}
