// Package appconfig reads the application configuration and signing
// credentials that live next to the project sources.
package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// ErrNotFound is returned when a project has no app configuration file.
var ErrNotFound = errors.New("app config not found")

// FileNames are the app configuration files looked up in order.
var FileNames = []string{"app.json", "app.yaml", "app.yml"}

const CredentialsFileName = "credentials.json"

// Privacy is the visibility of the remote project.
type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyHidden   Privacy = "hidden"
)

type Config struct {
	Name    string  `json:"name"`
	Slug    string  `json:"slug"`
	Version string  `json:"version"`
	Privacy Privacy `json:"privacy"`
	Android Android `json:"android"`
	IOS     IOS     `json:"ios"`
}

type Android struct {
	Package     string `json:"package"`
	VersionCode int    `json:"versionCode"`
}

type IOS struct {
	BundleIdentifier string `json:"bundleIdentifier"`
	BuildNumber      string `json:"buildNumber"`
}

// Load reads the app configuration of the project in dir.
// Both a bare config and one nested under an "expo" key are accepted.
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("appconfig: %w", err)
		}
		cfg, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("appconfig: %s: %w", name, err)
		}
		return cfg, nil
	}
	return nil, fmt.Errorf("appconfig: %s: %w", dir, ErrNotFound)
}

// Parse parses a JSON or YAML app configuration.
func Parse(data []byte) (*Config, error) {
	var wrapped struct {
		Expo *Config `json:"expo"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Expo != nil {
		return wrapped.Expo, nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PrivacyOrDefault returns the configured privacy or PrivacyPublic if unset.
func (c *Config) PrivacyOrDefault() Privacy {
	if c == nil || c.Privacy == "" {
		return PrivacyPublic
	}
	return c.Privacy
}
