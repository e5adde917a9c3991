package utils

import (
	"context"
	"fmt"
	"log/slog"
)

// S3Deleter is the part of the S3 service cleanup needs.
type S3Deleter interface {
	DeleteS3Object(ctx context.Context, key string) (bool, error)
}

// DeleteS3Object removes a raw upload once it no longer needs processing.
func DeleteS3Object(ctx context.Context, s3 S3Deleter, s3Key string) error {
	if _, err := s3.DeleteS3Object(ctx, s3Key); err != nil {
		return fmt.Errorf("delete s3 object %q: %w", s3Key, err)
	}
	slog.Info("raw s3 object deleted", "key", s3Key)
	return nil
}
