// Package build submits native builds to the remote build service and waits
// for them to finish.
package build

import (
	"errors"
	"fmt"

	"github.com/k11v/nativebuild/internal/appconfig"
)

var (
	ErrResolveProject = errors.New("project resolution failed")
	ErrPackage        = errors.New("packaging failed")
	ErrUpload         = errors.New("upload failed")
	ErrPrepareJob     = errors.New("job preparation failed")
	ErrSubmit         = errors.New("submission failed")
	ErrPoll           = errors.New("status check failed")
	ErrAbandoned      = errors.New("build abandoned")
	ErrNotImplemented = errors.New("not implemented")
)

// Context is the input of a build request.
type Context struct {
	ProjectDir  string
	User        string
	AccountName string
	ProjectName string
	App         *appconfig.Config // optional
}

// ID is the identifier the remote service assigns to a build.
type ID string

// Status is the remote status of a build.
type Status string

const (
	StatusInQueue    Status = "in-queue"
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusFinished   Status = "finished"
	StatusErrored    Status = "errored"
)

// Terminal reports whether the status can no longer change.
// Unknown statuses are not terminal.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusErrored
}

// Succeeded reports whether the build finished successfully.
func (s Status) Succeeded() bool {
	return s == StatusFinished
}

type Artifacts struct {
	BuildURL string `json:"buildUrl,omitempty"`
	LogsURL  string `json:"logsUrl,omitempty"`
}

// Build is the remote build record as reported by a status check.
type Build struct {
	ID        ID        `json:"id"`
	Status    Status    `json:"status"`
	Platform  string    `json:"platform"`
	CreatedAt string    `json:"createdAt"` // as sent, not necessarily RFC 3339
	Artifacts Artifacts `json:"artifacts"`
}

// State is a step of a build request.
type State string

const (
	StateNotStarted      State = "not_started"
	StateProjectResolved State = "project_resolved"
	StatePackaged        State = "packaged"
	StateUploaded        State = "uploaded"
	StateSubmitted       State = "submitted"
	StatePolling         State = "polling"
	StateFinished        State = "finished"
	StateErrored         State = "errored"
	StateAbandoned       State = "abandoned"
)

// FailedError is returned when the remote build ends in a failure status.
type FailedError struct {
	BuildID ID
	Status  Status
	LogsURL string
}

func (e *FailedError) Error() string {
	if e.LogsURL == "" {
		return fmt.Sprintf("build %s %s", e.BuildID, e.Status)
	}
	return fmt.Sprintf("build %s %s, see logs at %s", e.BuildID, e.Status, e.LogsURL)
}

// LogsURL returns the remote logs URL carried by err, if any.
func LogsURL(err error) (string, bool) {
	var failedErr *FailedError
	if !errors.As(err, &failedErr) || failedErr.LogsURL == "" {
		return "", false
	}
	return failedErr.LogsURL, true
}
