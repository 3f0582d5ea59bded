package appconfig

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"
)

// Credentials are the signing credentials of a project.
// File paths are resolved relative to the project directory.
type Credentials struct {
	Android *AndroidCredentials `json:"android"`
	IOS     *IOSCredentials     `json:"ios"`
}

type AndroidCredentials struct {
	Keystore Keystore `json:"keystore"`
}

type Keystore struct {
	KeystorePath     string `json:"keystorePath"`
	KeystorePassword string `json:"keystorePassword"`
	KeyAlias         string `json:"keyAlias"`
	KeyPassword      string `json:"keyPassword"`

	// KeystoreBase64 is filled by LoadCredentials from KeystorePath.
	KeystoreBase64 string `json:"-"`
}

type IOSCredentials struct {
	ProvisioningProfilePath string                  `json:"provisioningProfilePath"`
	DistributionCertificate DistributionCertificate `json:"distributionCertificate"`

	// ProvisioningProfileBase64 is filled by LoadCredentials from ProvisioningProfilePath.
	ProvisioningProfileBase64 string `json:"-"`
}

type DistributionCertificate struct {
	Path     string `json:"path"`
	Password string `json:"password"`

	// Base64 is filled by LoadCredentials from Path.
	Base64 string `json:"-"`
}

// LoadCredentials reads credentials.json of the project in dir and the files it
// points to. It returns nil credentials and no error if the file is absent.
func LoadCredentials(dir string) (*Credentials, error) {
	creds, err := parseCredentials(dir)
	if creds == nil || err != nil {
		return nil, err
	}

	if a := creds.Android; a != nil && a.Keystore.KeystorePath != "" {
		a.Keystore.KeystoreBase64, err = readBase64(dir, a.Keystore.KeystorePath)
		if err != nil {
			return nil, fmt.Errorf("appconfig: keystore: %w", err)
		}
	}
	if i := creds.IOS; i != nil {
		if i.ProvisioningProfilePath != "" {
			i.ProvisioningProfileBase64, err = readBase64(dir, i.ProvisioningProfilePath)
			if err != nil {
				return nil, fmt.Errorf("appconfig: provisioning profile: %w", err)
			}
		}
		if i.DistributionCertificate.Path != "" {
			i.DistributionCertificate.Base64, err = readBase64(dir, i.DistributionCertificate.Path)
			if err != nil {
				return nil, fmt.Errorf("appconfig: distribution certificate: %w", err)
			}
		}
	}

	return creds, nil
}

func readBase64(dir, name string) (string, error) {
	if !filepath.IsAbs(name) {
		name = filepath.Join(dir, name)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Paths returns the signing files the credentials point to, as written.
func (c *Credentials) Paths() []string {
	var paths []string
	if a := c.Android; a != nil && a.Keystore.KeystorePath != "" {
		paths = append(paths, a.Keystore.KeystorePath)
	}
	if i := c.IOS; i != nil {
		if i.ProvisioningProfilePath != "" {
			paths = append(paths, i.ProvisioningProfilePath)
		}
		if i.DistributionCertificate.Path != "" {
			paths = append(paths, i.DistributionCertificate.Path)
		}
	}
	return paths
}

// SecretFiles returns the slash-separated paths, relative to dir, of
// credentials.json and the signing files it points to inside dir.
// Files outside dir are left out.
func SecretFiles(dir string) ([]string, error) {
	creds, err := parseCredentials(dir)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, nil
	}

	files := []string{CredentialsFileName}
	for _, name := range creds.Paths() {
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		rel, err := filepath.Rel(dir, name)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		files = append(files, filepath.ToSlash(rel))
	}
	return files, nil
}

// parseCredentials decodes credentials.json of the project in dir without
// reading the files it points to. It returns nil if the file is absent.
func parseCredentials(dir string) (*Credentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, CredentialsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("appconfig: %w", err)
	}

	var creds Credentials
	if err = yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("appconfig: %s: %w", CredentialsFileName, err)
	}
	return &creds, nil
}
