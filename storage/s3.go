package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/ruteri/lockbox-recovery-protocol/interfaces"
	"github.com/ruteri/lockbox-recovery-protocol/protocol"
)

// S3Store keeps held shares in an Amazon S3 or compatible bucket, one JSON
// object per lockbox under the configured prefix.
type S3Store struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Store creates an S3 share store. accessKey and secretKey are
// required for writes; without them the store can only read from publicly
// accessible buckets.
func NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Store, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	} else {
		log.Warn("No S3 credentials provided - write operations may fail unless bucket is public writable")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Store{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Put saves a share, replacing any object already held for the lockbox.
func (s *S3Store) Put(ctx context.Context, share interfaces.StoredShare) error {
	if err := share.Validate(); err != nil {
		return err
	}
	start := time.Now()

	data, err := json.Marshal(share)
	if err != nil {
		return fmt.Errorf("failed to encode share: %w", err)
	}

	key := s.objectKey(share.LockboxID)
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		s.log.Error("Failed to put share to S3",
			slog.String("bucket", s.bucketName),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("failed to put share to S3: %w", err)
	}

	s.log.Debug("Stored share in S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Get retrieves the share held for a lockbox.
func (s *S3Store) Get(ctx context.Context, id protocol.LockboxID) (interfaces.StoredShare, error) {
	start := time.Now()
	key := s.objectKey(id)

	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			s.log.Debug("Share not found in S3",
				slog.String("bucket", s.bucketName),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return interfaces.StoredShare{}, interfaces.ErrShareNotFound
		}
		return interfaces.StoredShare{}, fmt.Errorf("failed to get share from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to read object body: %w", err)
	}

	var share interfaces.StoredShare
	if err := json.Unmarshal(data, &share); err != nil {
		return interfaces.StoredShare{}, fmt.Errorf("failed to decode share object %s: %w", key, err)
	}

	s.log.Debug("Fetched share from S3",
		slog.String("bucket", s.bucketName),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return share, nil
}

// Delete removes the share held for a lockbox.
func (s *S3Store) Delete(ctx context.Context, id protocol.LockboxID) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete share from S3: %w", err)
	}
	return nil
}

// List returns every held share under the prefix.
func (s *S3Store) List(ctx context.Context) ([]interfaces.StoredShare, error) {
	var shares []interfaces.StoredShare

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(path.Join(s.prefix, "held") + "/"),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucketName),
				Key:    obj.Key,
			})
			if err != nil {
				s.log.Warn("Skipping unreadable share object",
					slog.String("key", aws.StringValue(obj.Key)),
					"err", err)
				continue
			}
			data, err := io.ReadAll(result.Body)
			result.Body.Close()
			if err != nil {
				continue
			}
			var share interfaces.StoredShare
			if err := json.Unmarshal(data, &share); err != nil {
				continue
			}
			shares = append(shares, share)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list shares in S3: %w", err)
	}

	return shares, nil
}

// Available checks the bucket is reachable.
func (s *S3Store) Available(ctx context.Context) bool {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucketName),
	})
	if err != nil {
		s.log.Debug("S3 store unavailable",
			slog.String("bucket", s.bucketName),
			"err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *S3Store) Name() string {
	return fmt.Sprintf("s3-%s", s.bucketName)
}

// LocationURI returns the URI that identifies this store.
func (s *S3Store) LocationURI() string {
	return s.locationURI
}

func (s *S3Store) objectKey(id protocol.LockboxID) string {
	return path.Join(s.prefix, "held", id.String()+".json")
}
