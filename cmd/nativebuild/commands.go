package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/k11v/nativebuild/internal/amqputil"
	"github.com/k11v/nativebuild/internal/apiclient"
	"github.com/k11v/nativebuild/internal/appconfig"
	"github.com/k11v/nativebuild/internal/apps3"
	"github.com/k11v/nativebuild/internal/archive"
	"github.com/k11v/nativebuild/internal/build"
	"github.com/k11v/nativebuild/internal/buildevent"
	"github.com/k11v/nativebuild/internal/job"
	"github.com/k11v/nativebuild/internal/project"
	"github.com/k11v/nativebuild/internal/upload"
)

// ProjectFlags select the project a command works on.
type ProjectFlags struct {
	ProjectDir string `short:"C" default:"." type:"path" help:"Project directory." placeholder:"DIR"`
	Account    string `short:"a" required:"" help:"Account that owns the project."`
	Project    string `help:"Project name. Defaults to the slug in the app config."`
	User       string `env:"USER" hidden:""`
}

type BuildCmd struct {
	ProjectFlags `embed:""`

	Platform string `short:"p" required:"" enum:"android,ios" help:"Target platform (${enum})."`
}

func (c *BuildCmd) Run(ctx context.Context, d *deps) error {
	platform, err := job.ParsePlatform(c.Platform)
	if err != nil {
		return err
	}
	b, err := newBuilder(&c.ProjectFlags, d)
	if err != nil {
		return err
	}

	buildURL, err := b.BuildProject(ctx, platform)
	if err != nil {
		if logsURL, ok := build.LogsURL(err); ok {
			_, _ = fmt.Fprintf(d.stderr, "logs: %s\n", logsURL)
		}
		return err
	}

	if buildURL == "" {
		_, _ = fmt.Fprintln(d.stderr, "build finished without a build URL")
		return nil
	}
	_, _ = fmt.Fprintln(d.stdout, buildURL)
	return nil
}

type BuildsCmd struct {
	ProjectFlags `embed:""`
}

func (c *BuildsCmd) Run(ctx context.Context, d *deps) error {
	b, err := newBuilder(&c.ProjectFlags, d)
	if err != nil {
		return err
	}
	builds, err := b.LatestBuilds(ctx)
	if err != nil {
		return err
	}
	for _, remote := range builds {
		_, _ = fmt.Fprintf(d.stdout, "%s\t%s\t%s\n", remote.ID, remote.Platform, remote.Status)
	}
	return nil
}

type EventsCmd struct {
	Count int `short:"n" default:"0" help:"Stop after this many events. Zero means run until interrupted."`
}

func (c *EventsCmd) Run(ctx context.Context, d *deps) error {
	p := newAMQPPublisher(&d.config.Events.AMQP)
	if p == nil {
		return errors.New("NATIVEBUILD_EVENTS_AMQP_CONNECTION_STRING is not set")
	}

	for i := 0; c.Count == 0 || i < c.Count; i++ {
		e, err := p.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		_, _ = fmt.Fprintf(d.stdout, "%s\t%s\t%s/%s\t%s\t%s\n",
			e.Time.Format(time.RFC3339), e.State, e.Account, e.Project, e.Platform, e.BuildID)
	}
	return nil
}

type SetupCmd struct{}

// Run creates the bucket of the S3 upload backend. MinIO and other
// self-hosted stores need it before the first upload.
func (c *SetupCmd) Run(ctx context.Context, d *deps) error {
	cfg := &d.config.Upload.S3
	client, err := apps3.NewClient(cfg.ConnectionString)
	if err != nil {
		return err
	}
	if err = apps3.Setup(ctx, client, cfg.BucketOrDefault()); err != nil {
		return err
	}
	d.log.Info("set up bucket", "bucket", cfg.BucketOrDefault())
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(ctx context.Context, d *deps) error {
	_, _ = fmt.Fprintln(d.stdout, version)
	return nil
}

// newBuilder wires a build.Builder from the configuration and flags.
func newBuilder(f *ProjectFlags, d *deps) (*build.Builder, error) {
	cfg := d.config

	projectDir, err := filepath.Abs(f.ProjectDir)
	if err != nil {
		return nil, err
	}
	app, err := appconfig.Load(projectDir)
	if err != nil && !errors.Is(err, appconfig.ErrNotFound) {
		return nil, err
	}
	projectName := f.Project
	if projectName == "" && app != nil {
		projectName = app.Slug
	}
	if projectName == "" {
		return nil, errors.New("project name is neither set with --project nor found in the app config")
	}

	client, err := apiclient.New(&cfg.API)
	if err != nil {
		return nil, err
	}
	uploader, err := newUploader(&cfg.Upload, client)
	if err != nil {
		return nil, err
	}

	var events buildevent.Publisher = &buildevent.LogPublisher{Log: d.log}
	if p := newAMQPPublisher(&cfg.Events.AMQP); p != nil {
		events = buildevent.Multi{events, p}
	}

	return &build.Builder{
		Context: &build.Context{
			ProjectDir:  projectDir,
			User:        f.User,
			AccountName: f.Account,
			ProjectName: projectName,
			App:         app,
		},
		API:      client,
		Resolver: project.NewResolver(client, d.log),
		Packager: &archive.Packager{Log: d.log},
		Uploader: uploader,
		Preparer: &job.Preparer{},
		Waiter:   build.NewWaiter(client, &cfg.Poll, d.log),
		Events:   events,
		Log:      d.log,
	}, nil
}

func newUploader(cfg *upload.Config, client *apiclient.Client) (upload.Uploader, error) {
	switch backend := cfg.BackendOrDefault(); backend {
	case upload.BackendPresigned:
		return &upload.PresignedUploader{API: client}, nil
	case upload.BackendS3:
		s3Client, err := apps3.NewClient(cfg.S3.ConnectionString)
		if err != nil {
			return nil, err
		}
		return upload.NewS3Uploader(s3Client, &cfg.S3), nil
	default:
		return nil, fmt.Errorf("unknown upload backend %q", backend)
	}
}

func newAMQPPublisher(cfg *amqpConfig) *buildevent.AMQPPublisher {
	if cfg.ConnectionString == "" {
		return nil
	}
	client := amqputil.NewClient(cfg.ConnectionString, &amqputil.QueueDeclareParams{
		Name:    cfg.queue(),
		Durable: true,
	})
	return buildevent.NewAMQPPublisher(client)
}
