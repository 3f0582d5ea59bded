// Package job builds platform-specific build job descriptors.
package job

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/k11v/nativebuild/internal/appconfig"
)

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrInvalidArchiveURL = errors.New("invalid archive url")
)

type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
)

var platforms = map[Platform]struct{}{
	PlatformAndroid: {},
	PlatformIOS:     {},
}

// ParsePlatform converts s to a Platform and checks if it is supported.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, known := platforms[p]; !known {
		return p, fmt.Errorf("job: %q: %w", s, ErrUnknownPlatform)
	}
	return p, nil
}

// Type is the kind of project the remote builder builds.
type Type string

// TypeManaged projects are built from the app config without native folders.
const TypeManaged Type = "managed"

// Job is a build job descriptor submitted to the build service.
// It is implemented by *AndroidJob and *IOSJob.
type Job interface {
	JobPlatform() Platform
}

type AndroidJob struct {
	Platform    Platform        `json:"platform"`
	Type        Type            `json:"type"`
	ProjectURL  string          `json:"projectUrl"`
	PackageName string          `json:"packageName,omitempty"`
	VersionCode int             `json:"versionCode,omitempty"`
	Secrets     *AndroidSecrets `json:"secrets,omitempty"`
}

func (*AndroidJob) JobPlatform() Platform { return PlatformAndroid }

type AndroidSecrets struct {
	Keystore AndroidKeystore `json:"keystore"`
}

type AndroidKeystore struct {
	DataBase64       string `json:"dataBase64"`
	KeystorePassword string `json:"keystorePassword"`
	KeyAlias         string `json:"keyAlias"`
	KeyPassword      string `json:"keyPassword"`
}

type IOSJob struct {
	Platform         Platform    `json:"platform"`
	Type             Type        `json:"type"`
	ProjectURL       string      `json:"projectUrl"`
	BundleIdentifier string      `json:"bundleIdentifier,omitempty"`
	BuildNumber      string      `json:"buildNumber,omitempty"`
	Secrets          *IOSSecrets `json:"secrets,omitempty"`
}

func (*IOSJob) JobPlatform() Platform { return PlatformIOS }

type IOSSecrets struct {
	ProvisioningProfileBase64 string                     `json:"provisioningProfileBase64"`
	DistributionCertificate   IOSDistributionCertificate `json:"distributionCertificate"`
}

type IOSDistributionCertificate struct {
	DataBase64 string `json:"dataBase64"`
	Password   string `json:"password"`
}

// New builds the job descriptor for platform. It doesn't touch the network or
// the filesystem. app and creds may be nil.
func New(platform Platform, archiveURL string, app *appconfig.Config, creds *appconfig.Credentials) (Job, error) {
	u, err := url.Parse(archiveURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("job: %q: %w", archiveURL, ErrInvalidArchiveURL)
	}
	if app == nil {
		app = &appconfig.Config{}
	}

	switch platform {
	case PlatformAndroid:
		j := &AndroidJob{
			Platform:    PlatformAndroid,
			Type:        TypeManaged,
			ProjectURL:  archiveURL,
			PackageName: app.Android.Package,
			VersionCode: app.Android.VersionCode,
		}
		if creds != nil && creds.Android != nil && creds.Android.Keystore.KeystoreBase64 != "" {
			ks := creds.Android.Keystore
			j.Secrets = &AndroidSecrets{Keystore: AndroidKeystore{
				DataBase64:       ks.KeystoreBase64,
				KeystorePassword: ks.KeystorePassword,
				KeyAlias:         ks.KeyAlias,
				KeyPassword:      ks.KeyPassword,
			}}
		}
		return j, nil
	case PlatformIOS:
		j := &IOSJob{
			Platform:         PlatformIOS,
			Type:             TypeManaged,
			ProjectURL:       archiveURL,
			BundleIdentifier: app.IOS.BundleIdentifier,
			BuildNumber:      app.IOS.BuildNumber,
		}
		if creds != nil && creds.IOS != nil && creds.IOS.ProvisioningProfileBase64 != "" {
			c := creds.IOS
			j.Secrets = &IOSSecrets{
				ProvisioningProfileBase64: c.ProvisioningProfileBase64,
				DistributionCertificate: IOSDistributionCertificate{
					DataBase64: c.DistributionCertificate.Base64,
					Password:   c.DistributionCertificate.Password,
				},
			}
		}
		return j, nil
	default:
		return nil, fmt.Errorf("job: %q: %w", platform, ErrUnknownPlatform)
	}
}

// Preparer reads the local project configuration needed for a job.
type Preparer struct{}

// Prepare loads the app config and signing credentials of projectDir and
// builds the job descriptor with New.
func (*Preparer) Prepare(ctx context.Context, platform Platform, archiveURL string, projectDir string) (Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("job.Preparer: %w", err)
	}

	app, err := appconfig.Load(projectDir)
	if err != nil && !errors.Is(err, appconfig.ErrNotFound) {
		return nil, fmt.Errorf("job.Preparer: %w", err)
	}
	creds, err := appconfig.LoadCredentials(projectDir)
	if err != nil {
		return nil, fmt.Errorf("job.Preparer: %w", err)
	}

	j, err := New(platform, archiveURL, app, creds)
	if err != nil {
		return nil, fmt.Errorf("job.Preparer: %w", err)
	}
	return j, nil
}
