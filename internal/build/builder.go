package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/k11v/nativebuild/internal/appconfig"
	"github.com/k11v/nativebuild/internal/archive"
	"github.com/k11v/nativebuild/internal/buildevent"
	"github.com/k11v/nativebuild/internal/job"
	"github.com/k11v/nativebuild/internal/project"
	"github.com/k11v/nativebuild/internal/upload"
)

// API is the part of apiclient.Client the Builder uses.
type API interface {
	Getter
	Post(ctx context.Context, resource string, body any, v any) error
}

type ProjectResolver interface {
	Resolve(ctx context.Context, accountName, projectName string, privacy appconfig.Privacy) (project.ID, error)
}

type Packager interface {
	Package(ctx context.Context, projectDir string) (*archive.Archive, error)
}

type JobPreparer interface {
	Prepare(ctx context.Context, platform job.Platform, archiveURL string, projectDir string) (job.Job, error)
}

var (
	_ ProjectResolver = (*project.Resolver)(nil)
	_ Packager        = (*archive.Packager)(nil)
	_ JobPreparer     = (*job.Preparer)(nil)
)

// Builder runs build requests for one project.
type Builder struct {
	Context  *Context             // required
	API      API                  // required
	Resolver ProjectResolver      // required
	Packager Packager             // required
	Uploader upload.Uploader      // required
	Preparer JobPreparer          // required
	Waiter   *Waiter              // required
	Events   buildevent.Publisher // optional, default: a buildevent.LogPublisher on Log
	Log      *slog.Logger         // optional
}

// request tracks one build request for logging and events.
type request struct {
	b      *Builder
	log    *slog.Logger
	events buildevent.Publisher
	event  buildevent.Event
}

// BuildProject submits a build of the project for platform and waits for it to
// end. It returns the build URL of a finished build.
//
// The project archive is removed before BuildProject returns, whichever way
// the build request ends.
func (b *Builder) BuildProject(ctx context.Context, platform job.Platform) (string, error) {
	c := b.Context
	r := b.newRequest(platform)
	r.enter(ctx, StateNotStarted)

	projectID, err := b.Resolver.Resolve(ctx, c.AccountName, c.ProjectName, c.App.PrivacyOrDefault())
	if err != nil {
		return "", r.fail(ctx, errors.Join(ErrResolveProject, err))
	}
	r.event.ProjectID = string(projectID)
	r.enter(ctx, StateProjectResolved)

	a, err := b.Packager.Package(ctx, c.ProjectDir)
	if err != nil {
		return "", r.fail(ctx, errors.Join(ErrPackage, err))
	}
	defer func() {
		if releaseErr := a.Release(); releaseErr != nil {
			r.log.Warn("didn't remove archive", "path", a.Path, "error", releaseErr)
		}
	}()
	r.enter(ctx, StatePackaged)

	archiveURL, err := b.Uploader.Upload(ctx, upload.KindBuildSources, a.Path)
	if err != nil {
		return "", r.fail(ctx, errors.Join(ErrUpload, err))
	}
	r.event.ArchiveURL = archiveURL
	r.enter(ctx, StateUploaded)

	j, err := b.Preparer.Prepare(ctx, platform, archiveURL, c.ProjectDir)
	if err != nil {
		return "", r.fail(ctx, errors.Join(ErrPrepareJob, err))
	}

	buildID, err := b.submit(ctx, projectID, j)
	if err != nil {
		return "", r.fail(ctx, errors.Join(ErrSubmit, err))
	}
	r.event.BuildID = string(buildID)
	r.enter(ctx, StateSubmitted)

	r.enter(ctx, StatePolling)
	remote, err := b.Waiter.Wait(ctx, buildID)
	if remote != nil {
		r.event.Status = string(remote.Status)
		r.event.BuildURL = remote.Artifacts.BuildURL
		r.event.LogsURL = remote.Artifacts.LogsURL
	}
	if err != nil {
		return "", r.fail(ctx, err)
	}
	r.enter(ctx, StateFinished)

	return remote.Artifacts.BuildURL, nil
}

// LatestBuilds would list recent builds of the project.
func (b *Builder) LatestBuilds(ctx context.Context) ([]*Build, error) {
	return nil, fmt.Errorf("build.Builder: latest builds: %w", ErrNotImplemented)
}

func (b *Builder) submit(ctx context.Context, projectID project.ID, j job.Job) (ID, error) {
	var submitted struct {
		BuildID ID `json:"buildId"`
	}
	resource := "projects/" + url.PathEscape(string(projectID)) + "/builds"
	if err := b.API.Post(ctx, resource, map[string]any{"job": j}, &submitted); err != nil {
		return "", err
	}
	if submitted.BuildID == "" {
		return "", errors.New("submitted build has no id")
	}
	return submitted.BuildID, nil
}

func (b *Builder) newRequest(platform job.Platform) *request {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}
	c := b.Context
	log = log.With(
		"component", "build.Builder",
		"account", c.AccountName,
		"project", c.ProjectName,
		"platform", platform,
	)
	events := b.Events
	if events == nil {
		events = &buildevent.LogPublisher{Log: log}
	}
	return &request{
		b:      b,
		log:    log,
		events: events,
		event: buildevent.Event{
			Platform: string(platform),
			Account:  c.AccountName,
			Project:  c.ProjectName,
		},
	}
}

func (r *request) enter(ctx context.Context, state State) {
	r.publish(ctx, state)
}

// fail moves the request to its final failure state and returns err wrapped.
func (r *request) fail(ctx context.Context, err error) error {
	state := StateErrored
	if errors.Is(err, ErrAbandoned) {
		state = StateAbandoned
	}
	r.event.Error = err.Error()
	r.publish(ctx, state)
	return fmt.Errorf("build.Builder: %w", err)
}

func (r *request) publish(ctx context.Context, state State) {
	e := r.event
	e.ID = uuid.New()
	e.Time = time.Now().UTC()
	e.State = string(state)

	// Events are still published after ctx is done so abandonment is reported.
	if err := r.events.Publish(context.WithoutCancel(ctx), &e); err != nil {
		r.log.Warn("didn't publish build event", "state", state, "error", err)
	}
}
