// Package project maps an account and project name to the remote project ID.
package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/k11v/nativebuild/internal/apiclient"
	"github.com/k11v/nativebuild/internal/appconfig"
)

// ID is the identifier the remote service assigns to a project.
type ID string

// API is the part of apiclient.Client the Resolver uses.
type API interface {
	Get(ctx context.Context, resource string, query url.Values, v any) error
	Post(ctx context.Context, resource string, body any, v any) error
}

var _ API = (*apiclient.Client)(nil)

// LookupKind tells how a project lookup ended.
type LookupKind int

const (
	LookupFailed LookupKind = iota
	LookupFound
	LookupNotFound
)

func (k LookupKind) String() string {
	switch k {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not found"
	default:
		return "failed"
	}
}

// LookupResult is the outcome of a project lookup. ID is set when Kind is
// LookupFound and Err is set when Kind is LookupFailed.
type LookupResult struct {
	Kind LookupKind
	ID   ID
	Err  error
}

// ExperienceName returns the name the API identifies a project by.
func ExperienceName(accountName, projectName string) string {
	return "@" + accountName + "/" + projectName
}

type key struct {
	accountName string
	projectName string
}

// Resolver finds or creates remote projects and remembers their IDs.
// It is safe for concurrent use.
type Resolver struct {
	api API
	log *slog.Logger

	sem chan struct{} // guards ids
	ids map[key]ID
}

func NewResolver(api API, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		api: api,
		log: log.With("component", "project.Resolver"),
		sem: make(chan struct{}, 1),
		ids: make(map[key]ID),
	}
}

// Resolve returns the ID of the project. A project that doesn't exist is
// created once with privacy, which defaults to public. IDs are remembered, so
// repeated calls for the same project make no remote calls.
func (r *Resolver) Resolve(ctx context.Context, accountName, projectName string, privacy appconfig.Privacy) (ID, error) {
	k := key{accountName: accountName, projectName: projectName}

	// Holding the lock across remote calls keeps concurrent callers from
	// creating the same project twice. Waiting for it stops with ctx.
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return "", fmt.Errorf("project.Resolver: %w", context.Cause(ctx))
	}
	defer func() { <-r.sem }()

	if id, ok := r.ids[k]; ok {
		return id, nil
	}

	var id ID
	switch res := r.Lookup(ctx, accountName, projectName); res.Kind {
	case LookupFound:
		id = res.ID
	case LookupNotFound:
		created, err := r.create(ctx, accountName, projectName, privacy)
		if err != nil {
			return "", fmt.Errorf("project.Resolver: %w", err)
		}
		r.log.Info("created project", "experience", ExperienceName(accountName, projectName), "id", created)
		id = created
	case LookupFailed:
		return "", fmt.Errorf("project.Resolver: %w", res.Err)
	default:
		panic(fmt.Sprintf("unknown lookup kind %d", res.Kind))
	}

	r.ids[k] = id
	return id, nil
}

// Lookup asks the API for an existing project. An empty result and a not found
// API error both yield LookupNotFound.
func (r *Resolver) Lookup(ctx context.Context, accountName, projectName string) LookupResult {
	query := url.Values{"experienceName": {ExperienceName(accountName, projectName)}}

	var projects []struct {
		ID ID `json:"id"`
	}
	err := r.api.Get(ctx, "projects", query, &projects)
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		return LookupResult{Kind: LookupNotFound}
	case err != nil:
		return LookupResult{Kind: LookupFailed, Err: err}
	case len(projects) == 0 || projects[0].ID == "":
		return LookupResult{Kind: LookupNotFound}
	default:
		return LookupResult{Kind: LookupFound, ID: projects[0].ID}
	}
}

func (r *Resolver) create(ctx context.Context, accountName, projectName string, privacy appconfig.Privacy) (ID, error) {
	if privacy == "" {
		privacy = appconfig.PrivacyPublic
	}
	body := map[string]string{
		"accountName": accountName,
		"projectName": projectName,
		"privacy":     string(privacy),
	}

	var created struct {
		ID ID `json:"id"`
	}
	if err := r.api.Post(ctx, "projects", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", errors.New("created project has no id")
	}
	return created.ID, nil
}
