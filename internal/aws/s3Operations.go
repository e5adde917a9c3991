package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/mahirjain10/go-resizer/internal/metrics"
	resizertypes "github.com/mahirjain10/go-resizer/internal/types"
)

const (
	DefaultPrefix  = "resized-images/"
	defaultTimeout = 10 * time.Second
	presignExpiry  = 15 * time.Minute
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Service is the durable tier: derived assets live under prefix+cacheKey.
// It holds no per-call state and is safe for concurrent use.
type S3Service struct {
	client     S3API
	presigner  *s3.PresignClient
	bucketName string
	prefix     string
	timeout    time.Duration
	observer   *metrics.Observer
	logger     *slog.Logger
}

// Using Constructor Pattern to initalize our s3Service
func NewS3Service(client S3API, bucketName string, prefix string, timeout time.Duration, observer *metrics.Observer, logger *slog.Logger) *S3Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	service := &S3Service{
		client:     client,
		bucketName: bucketName,
		prefix:     prefix,
		timeout:    timeout,
		observer:   observer,
		logger:     logger,
	}
	if c, ok := client.(*s3.Client); ok {
		service.presigner = s3.NewPresignClient(c)
	}
	return service
}

func (service *S3Service) ObjectKey(key string) string {
	return service.prefix + key
}

// Get returns (nil, false, nil) when the object does not exist. Any other
// failure wraps ErrStoreRead.
func (service *S3Service) Get(parentCtx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	data, err := service.read(ctx, service.ObjectKey(key))
	if isNotFound(err) {
		service.observer.TierOp(metrics.TierDurable, "get", metrics.OutcomeMiss)
		return nil, false, nil
	}
	if err != nil {
		service.observer.TierOp(metrics.TierDurable, "get", outcomeFor(err))
		return nil, false, fmt.Errorf("%w: key %s: %v", resizertypes.ErrStoreRead, key, err)
	}
	service.observer.TierOp(metrics.TierDurable, "get", metrics.OutcomeHit)
	return data, true, nil
}

// Put writes data and returns its location. Overwrites are idempotent.
func (service *S3Service) Put(parentCtx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	objectKey := service.ObjectKey(key)
	input := &s3.PutObjectInput{
		Bucket:            aws.String(service.bucketName),
		Key:               aws.String(objectKey),
		Body:              bytes.NewReader(data),
		ContentType:       aws.String(contentType),
		ContentLength:     aws.Int64(int64(len(data))),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
	}
	if _, err := service.client.PutObject(ctx, input); err != nil {
		service.observer.TierOp(metrics.TierDurable, "put", outcomeFor(err))
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	service.observer.TierOp(metrics.TierDurable, "put", metrics.OutcomeOK)
	return fmt.Sprintf("s3://%s/%s", service.bucketName, objectKey), nil
}

// Exists reports whether a derived asset is stored under key.
func (service *S3Service) Exists(parentCtx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	_, err := service.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(service.ObjectKey(key)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: head %s: %v", resizertypes.ErrStoreRead, key, err)
	}
	return true, nil
}

// Download reads a raw source object by its full key, outside the derived prefix.
func (service *S3Service) Download(parentCtx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	data, err := service.read(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("couldn't download object with key: %s, AWS error: %w", key, err)
	}
	return data, nil
}

func (service *S3Service) DeleteS3Object(parentCtx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key cannot be empty")
	}

	ctx, cancel := context.WithTimeout(parentCtx, time.Minute)
	defer cancel()

	deleteInput := &s3.DeleteObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(key),
	}

	if _, err := service.client.DeleteObject(ctx, deleteInput); err != nil {
		return false, fmt.Errorf("failed to delete object %s: %w", key, err)
	}

	return true, nil
}

// Presign returns a GET URL for the derived asset under key, valid for 15 minutes.
func (service *S3Service) Presign(parentCtx context.Context, key string) (string, error) {
	if service.presigner == nil {
		return "", errors.New("presigning not available for this client")
	}
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	req, err := service.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(service.ObjectKey(key)),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign url: %w", err)
	}
	return req.URL, nil
}

// EnsureBucket creates the bucket, treating an existing bucket we own as success.
func (service *S3Service) EnsureBucket(parentCtx context.Context, region string) error {
	ctx, cancel := context.WithTimeout(parentCtx, service.timeout)
	defer cancel()

	input := &s3.CreateBucketInput{Bucket: aws.String(service.bucketName)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	_, err := service.client.CreateBucket(ctx, input)
	if err == nil {
		service.logger.Info("created bucket", "bucket", service.bucketName)
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	if errors.As(err, &owned) {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou" {
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", service.bucketName, err)
}

func (service *S3Service) read(ctx context.Context, objectKey string) ([]byte, error) {
	resp, err := service.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}
	return data, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func outcomeFor(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.OutcomeTimeout
	}
	return metrics.OutcomeError
}
