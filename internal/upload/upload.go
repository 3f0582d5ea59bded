// Package upload transfers local artifacts to object storage.
package upload

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransport is matched by errors caused by the network or the local
	// side: the upload may succeed if retried.
	ErrTransport = errors.New("upload transport failed")

	// ErrRejected is matched by errors returned by object storage or the API
	// that issues upload sessions.
	ErrRejected = errors.New("object storage rejected upload")

	// ErrFileTooLarge is matched together with ErrRejected when the object is
	// over the storage size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// Kind tags an upload with what is being uploaded.
type Kind string

const (
	// KindBuildSources is a project archive uploaded for a remote build.
	KindBuildSources Kind = "turtle-project-sources"
)

// Uploader transfers a local file to object storage and returns a URL the
// remote build service can fetch it from.
type Uploader interface {
	Upload(ctx context.Context, kind Kind, localPath string) (string, error)
}

// Backend selects an Uploader implementation.
type Backend string

const (
	BackendPresigned Backend = "presigned"
	BackendS3        Backend = "s3"
)

// Config holds the upload configuration.
type Config struct {
	Backend Backend  `env:"BACKEND"` // default: "presigned"
	S3      S3Config `envPrefix:"S3_"`
}

func (c *Config) BackendOrDefault() Backend {
	if c.Backend == "" {
		return BackendPresigned
	}
	return c.Backend
}

type S3Config struct {
	ConnectionString string        `env:"CONNECTION_STRING"` // see apps3.NewClient
	Bucket           string        `env:"BUCKET"`            // default: "nativebuild"
	PublicBaseURL    string        `env:"PUBLIC_BASE_URL"`   // default: the object URL
	WaitTimeout      time.Duration `env:"WAIT_TIMEOUT"`      // default: 1m
}

func (c *S3Config) BucketOrDefault() string {
	if c.Bucket == "" {
		return "nativebuild"
	}
	return c.Bucket
}

func (c *S3Config) waitTimeout() time.Duration {
	if c.WaitTimeout == 0 {
		return time.Minute
	}
	return c.WaitTimeout
}

func transportError(err error) error {
	return errors.Join(ErrTransport, err)
}

func rejectedError(err error) error {
	return errors.Join(ErrRejected, err)
}
