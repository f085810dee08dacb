package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// LogStore archives run log files.
type LogStore interface {
	// Store saves a log under key (e.g. "<run-id>/<file>") and returns a reference path/URL
	Store(ctx context.Context, key string, logs []byte) (string, error)
	// Retrieve fetches logs by reference
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// ArchiveKey builds the store key for a run log file.
func ArchiveKey(runID, logPath string) string {
	return runID + "/" + filepath.Base(logPath)
}

// S3LogStore stores logs in S3-compatible storage
type S3LogStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
	now        func() time.Time
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "logs/runs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3LogStore creates a new S3-backed log store
func NewS3LogStore(cfg S3LogStoreConfig) (*S3LogStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}

	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // MinIO
		})
	}

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3LogStore{
		client:     s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
		now:        time.Now,
	}, nil
}

// Store uploads a run log to S3
func (s *S3LogStore) Store(ctx context.Context, key string, logs []byte) (string, error) {
	objectKey := s.buildKey(key)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(logs),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(s.cachePath(objectKey), logs, 0644)
	}

	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Retrieve fetches a run log from S3, preferring the local cache
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	objectKey := extractKey(reference)

	if s.localCache != "" {
		if data, err := os.ReadFile(s.cachePath(objectKey)); err == nil {
			return data, nil
		}
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}

	if s.localCache != "" {
		_ = os.WriteFile(s.cachePath(objectKey), data, 0644)
	}
	return data, nil
}

func (s *S3LogStore) buildKey(key string) string {
	return fmt.Sprintf("%s%s/%s", s.prefix, s.now().Format("2006/01/02"), key)
}

// cachePath flattens an object key into one cache file name.
func (s *S3LogStore) cachePath(objectKey string) string {
	return filepath.Join(s.localCache, strings.ReplaceAll(objectKey, "/", "_"))
}

// extractKey strips "s3://bucket/" from a reference.
func extractKey(reference string) string {
	rest, ok := strings.CutPrefix(reference, "s3://")
	if !ok {
		return reference
	}
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i+1:]
	}
	return rest
}

// LocalLogStore archives logs on the local filesystem (single host)
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes logs to <base>/<key>
func (l *LocalLogStore) Store(ctx context.Context, key string, logs []byte) (string, error) {
	path := filepath.Join(l.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(path, filepath.Clean(l.basePath)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid log key %q", key)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := os.WriteFile(path, logs, 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return path, nil
}

// Retrieve reads a log by path
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	data, err := os.ReadFile(reference)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}
