package apps3

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	transport "github.com/aws/smithy-go/endpoints"
)

// DefaultRegion is used when the connection string doesn't carry a region.
// MinIO accepts any region.
const DefaultRegion = "us-east-1"

// endpointResolver implements s3.EndpointResolverV2.
// It resolves path-style endpoints for S3-compatible object storage like MinIO.
type endpointResolver struct {
	BaseURL *url.URL // required
}

func (r *endpointResolver) ResolveEndpoint(_ context.Context, params s3.EndpointParameters) (transport.Endpoint, error) {
	u := *r.BaseURL
	u.Path += "/" + *params.Bucket
	return transport.Endpoint{URI: u}, nil
}

// NewClient creates a new Client using the provided connection string.
// The connection string must be a valid URL in the format: http://key:secret@s3:9000?region=eu-west-1.
// For MinIO, the key and secret are the username and password respectively.
func NewClient(connectionString string) (*s3.Client, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return nil, fmt.Errorf("apps3: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("apps3: connection string %q has no scheme or host", u.Redacted())
	}

	username := u.User.Username()
	password, _ := u.User.Password()
	region := u.Query().Get("region")
	if region == "" {
		region = DefaultRegion
	}
	u.User = nil
	u.RawQuery = ""

	client := s3.New(
		s3.Options{
			Credentials:        credentials.NewStaticCredentialsProvider(username, password, ""),
			EndpointResolverV2: &endpointResolver{BaseURL: u},
			Region:             region,
		},
	)
	return client, nil
}

// ObjectURL returns the path-style URL of key in bucket behind connectionString.
func ObjectURL(connectionString string, bucket string, key string) (string, error) {
	u, err := url.Parse(connectionString)
	if err != nil {
		return "", fmt.Errorf("apps3: %w", err)
	}
	u.User = nil
	u.RawQuery = ""
	return u.JoinPath(bucket, key).String(), nil
}

// Setup creates bucket if it doesn't exist and waits until it does.
// It shouldn't be used with AWS as is because buckets there are usually provisioned separately.
func Setup(ctx context.Context, client *s3.Client, bucket string) error {
	_, err := client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: &bucket,
	})
	if ownedErr := (*types.BucketAlreadyOwnedByYou)(nil); errors.As(err, &ownedErr) {
		// continue
	} else if err != nil {
		return fmt.Errorf("apps3: %w", err)
	}

	err = s3.NewBucketExistsWaiter(client).Wait(
		ctx,
		&s3.HeadBucketInput{Bucket: &bucket},
		time.Minute,
	)
	if err != nil {
		return fmt.Errorf("apps3: %w", err)
	}

	return nil
}
