package upload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
)

var _ Uploader = (*S3Uploader)(nil)

// S3Uploader uploads files straight to an S3-compatible bucket.
type S3Uploader struct {
	client *s3.Client
	config *S3Config

	// uploadPartSize should be greater than or equal 5MB.
	// See github.com/aws/aws-sdk-go-v2/feature/s3/manager.
	uploadPartSize int64
}

func NewS3Uploader(client *s3.Client, config *S3Config) *S3Uploader {
	return &S3Uploader{
		client:         client,
		config:         config,
		uploadPartSize: 10 * 1024 * 1024, // 10MB
	}
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, kind Kind, localPath string) (string, error) {
	openFile, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("upload.S3Uploader: %w", err)
	}
	defer openFile.Close()

	bucket := u.config.BucketOrDefault()
	key := path.Join(string(kind), uuid.New().String()+"-"+filepath.Base(localPath))

	uploader := manager.NewUploader(u.client, func(mu *manager.Uploader) {
		mu.PartSize = u.uploadPartSize
	})
	output, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   openFile,
	})
	if err != nil {
		return "", fmt.Errorf("upload.S3Uploader: %w", classifyS3Error(err))
	}

	err = s3.NewObjectExistsWaiter(u.client).Wait(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, u.config.waitTimeout())
	if err != nil {
		return "", fmt.Errorf("upload.S3Uploader: %w", classifyS3Error(err))
	}

	if u.config.PublicBaseURL != "" {
		base, err := url.Parse(u.config.PublicBaseURL)
		if err != nil {
			return "", fmt.Errorf("upload.S3Uploader: %w", err)
		}
		return base.JoinPath(key).String(), nil
	}
	return output.Location, nil
}

func classifyS3Error(err error) error {
	if apiErr := smithy.APIError(nil); errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "EntityTooLarge" {
			return errors.Join(ErrRejected, ErrFileTooLarge, err)
		}
		return rejectedError(err)
	}
	return transportError(err)
}
