package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/k11v/nativebuild/internal/apps3"
)

func TestClassifyS3Error(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    []error
		notWant error
	}{
		{
			"classifies API errors as rejected",
			&smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"},
			[]error{ErrRejected},
			ErrTransport,
		},
		{
			"classifies too large entities",
			&smithy.GenericAPIError{Code: "EntityTooLarge"},
			[]error{ErrRejected, ErrFileTooLarge},
			ErrTransport,
		},
		{
			"classifies other errors as transport",
			errors.New("dial tcp: connection refused"),
			[]error{ErrTransport},
			ErrRejected,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyS3Error(tt.err)
			for _, want := range tt.want {
				if !errors.Is(got, want) {
					t.Errorf("got %v, want %v", got, want)
				}
			}
			if errors.Is(got, tt.notWant) {
				t.Errorf("didn't want %v", tt.notWant)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("got %v, want it to wrap %v", got, tt.err)
			}
		})
	}
}

func TestS3Uploader(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}

	t.Run("uploads a file", func(t *testing.T) {
		ctx := context.Background()
		uploader, connectionString := NewTestS3Uploader(t, ctx)
		localPath := writeTestFile(t, "archive contents")

		got, err := uploader.Upload(ctx, KindBuildSources, localPath)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}

		wantPrefix, err := apps3.ObjectURL(connectionString, uploader.config.BucketOrDefault(), string(KindBuildSources))
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if !strings.HasPrefix(got, wantPrefix+"/") || !strings.HasSuffix(got, "-archive.tar.gz") {
			t.Fatalf("got %q, want %s/<uuid>-archive.tar.gz", got, wantPrefix)
		}
	})

	t.Run("uses the public base URL", func(t *testing.T) {
		ctx := context.Background()
		uploader, _ := NewTestS3Uploader(t, ctx)
		uploader.config.PublicBaseURL = "https://cdn.example.com/sources"
		localPath := writeTestFile(t, "archive contents")

		got, err := uploader.Upload(ctx, KindBuildSources, localPath)
		if err != nil {
			t.Fatalf("didn't want %q", err)
		}
		if want := "https://cdn.example.com/sources/" + string(KindBuildSources) + "/"; !strings.HasPrefix(got, want) {
			t.Fatalf("got %q, want prefix %q", got, want)
		}
	})

	t.Run("reports a missing bucket as rejected", func(t *testing.T) {
		ctx := context.Background()
		uploader, _ := NewTestS3Uploader(t, ctx)
		uploader.config.Bucket = "missing"
		localPath := writeTestFile(t, "archive contents")

		_, err := uploader.Upload(ctx, KindBuildSources, localPath)
		if !errors.Is(err, ErrRejected) {
			t.Fatalf("got %v, want %v", err, ErrRejected)
		}
	})
}

func NewTestS3Uploader(tb testing.TB, ctx context.Context) (uploader *S3Uploader, connectionString string) {
	tb.Helper()

	username := "minioadmin"
	password := "minioadmin"

	req := testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "quay.io/minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			WaitingFor:   wait.ForHTTP("/minio/health/live").WithPort("9000"),
			Env: map[string]string{
				"MINIO_ROOT_USER":     username,
				"MINIO_ROOT_PASSWORD": password,
			},
			Cmd: []string{"server", "/data"},
		},
		Started: true,
	}

	c, err := testcontainers.GenericContainer(ctx, req)
	testcontainers.CleanupContainer(tb, c)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	port, err := c.MappedPort(ctx, "9000/tcp")
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	connectionString = fmt.Sprintf("http://%s:%s@%s:%s", username, password, host, port.Port())

	client, err := apps3.NewClient(connectionString)
	if err != nil {
		tb.Fatalf("didn't want %q", err)
	}
	config := &S3Config{ConnectionString: connectionString, Bucket: "nativebuild-test"}
	if err = apps3.Setup(ctx, client, config.BucketOrDefault()); err != nil {
		tb.Fatalf("didn't want %q", err)
	}

	return NewS3Uploader(client, config), connectionString
}
