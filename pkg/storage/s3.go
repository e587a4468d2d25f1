package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/milaops/jobrunner/pkg/config"
)

// Compile-time interface check.
var _ Store = (*s3Store)(nil)

type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store creates a Store backed by S3-compatible object storage.
func NewS3Store(cfg *config.S3StorageConfig) Store {
	return &s3Store{
		client: newS3Client(cfg),
		bucket: cfg.Bucket,
		prefix: strings.TrimRight(cfg.Prefix, "/"),
	}
}

func (s *s3Store) key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, "/")
	}

	return s.prefix + "/" + strings.Join(parts, "/")
}

// ListPipelines lists pipeline names from {prefix}/pipelines/*.json.
func (s *s3Store) ListPipelines(ctx context.Context) ([]string, error) {
	prefix := s.key("pipelines") + "/"

	paginator := s3.NewListObjectsV2Paginator(
		s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
	)

	var names []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing pipelines under %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil || !strings.HasSuffix(*obj.Key, ".json") {
				continue
			}

			names = append(names, strings.TrimSuffix(path.Base(*obj.Key), ".json"))
		}
	}

	sort.Strings(names)

	return names, nil
}

// GetPipeline reads {prefix}/pipelines/{name}.json.
// Returns (nil, nil) when the key does not exist.
func (s *s3Store) GetPipeline(ctx context.Context, name string) ([]byte, error) {
	return s.getObject(ctx, s.key("pipelines", path.Base(name)+".json"))
}

// PutPipeline writes {prefix}/pipelines/{name}.json.
func (s *s3Store) PutPipeline(ctx context.Context, name string, data []byte) error {
	key := s.key("pipelines", path.Base(name)+".json")

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	return nil
}

// DeletePipeline removes {prefix}/pipelines/{name}.json.
func (s *s3Store) DeletePipeline(ctx context.Context, name string) error {
	key := s.key("pipelines", path.Base(name)+".json")

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting object %q: %w", key, err)
	}

	return nil
}

// ListRunIDs lists run IDs (common prefixes) under {prefix}/runs/.
func (s *s3Store) ListRunIDs(ctx context.Context) ([]string, error) {
	prefix := s.key("runs") + "/"

	paginator := s3.NewListObjectsV2Paginator(
		s.client, &s3.ListObjectsV2Input{
			Bucket:    aws.String(s.bucket),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		},
	)

	var ids []string

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing run prefixes under %q: %w", prefix, err)
		}

		for _, cp := range page.CommonPrefixes {
			if cp.Prefix != nil {
				ids = append(ids, path.Base(strings.TrimRight(*cp.Prefix, "/")))
			}
		}
	}

	return ids, nil
}

// GetRunFile reads {prefix}/runs/{runID}/{filename}.
// Returns (nil, nil) when the key does not exist.
func (s *s3Store) GetRunFile(ctx context.Context, runID, filename string) ([]byte, error) {
	return s.getObject(ctx, s.key("runs", path.Base(runID), path.Base(filename)))
}

func (s *s3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}

func newS3Client(cfg *config.S3StorageConfig) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
