// Package archive packages a project directory into a temporary .tar.gz file.
//
// An Archive is acquired with Packager.Package and must be released with
// Archive.Release on every exit path of its owner, typically with defer.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/k11v/nativebuild/internal/appconfig"
)

// DefaultIgnores are excluded from every archive in addition to .gitignore.
// The signing files credentials.json points to are excluded as well; they are
// sent with the job instead.
var DefaultIgnores = []string{
	appconfig.CredentialsFileName,
	".git/",
	".expo/",
	".expo-shared/",
	"node_modules/",
	"*.log",
	".DS_Store",
}

// Archive is a temporary archive file owned by one build attempt.
type Archive struct {
	Path string

	releaseOnce sync.Once
	releaseErr  error
}

// Release removes the archive file.
// It is safe to call more than once; only the first call has an effect.
func (a *Archive) Release() error {
	a.releaseOnce.Do(func() {
		err := os.Remove(a.Path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			a.releaseErr = fmt.Errorf("archive.Archive: %w", err)
		}
	})
	return a.releaseErr
}

// Packager creates project archives.
type Packager struct {
	// TempDir is the directory archives are created in.
	// The zero value means os.TempDir.
	TempDir string

	// Ignores are extra gitignore-style patterns to exclude.
	Ignores []string

	Log *slog.Logger // optional
}

func (p *Packager) tempDir() string {
	if p.TempDir == "" {
		return os.TempDir()
	}
	return p.TempDir
}

func (p *Packager) log() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

// Package writes the contents of projectDir into a new uniquely named
// .tar.gz file. If it fails, no file is left behind.
func (p *Packager) Package(ctx context.Context, projectDir string) (*Archive, error) {
	info, err := os.Stat(projectDir)
	if err != nil {
		return nil, fmt.Errorf("archive.Packager: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("archive.Packager: %s is not a directory", projectDir)
	}

	m, err := p.matcher(projectDir)
	if err != nil {
		return nil, fmt.Errorf("archive.Packager: %w", err)
	}

	a := &Archive{Path: filepath.Join(p.tempDir(), uuid.New().String()+".tar.gz")}
	openFile, err := os.OpenFile(a.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("archive.Packager: %w", err)
	}

	count, err := writeTarGz(ctx, openFile, projectDir, m)
	if closeErr := openFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if releaseErr := a.Release(); releaseErr != nil {
			p.log().Error("didn't remove partial archive", "path", a.Path, "error", releaseErr)
		}
		return nil, fmt.Errorf("archive.Packager: %w", err)
	}

	p.log().Debug("packaged project", "dir", projectDir, "path", a.Path, "entries", count)
	return a, nil
}

// matcher decides which project entries stay out of the archive.
type matcher struct {
	ignores *ignore.GitIgnore
	secrets map[string]bool
}

// Excludes reports whether the slash-separated path rel is left out.
func (m *matcher) Excludes(rel string, dir bool) bool {
	if m.secrets[rel] {
		return true
	}
	if dir {
		rel += "/"
	}
	return m.ignores.MatchesPath(rel)
}

func (p *Packager) matcher(projectDir string) (*matcher, error) {
	secretFiles, err := appconfig.SecretFiles(projectDir)
	if err != nil {
		return nil, err
	}
	secrets := make(map[string]bool, len(secretFiles))
	for _, name := range secretFiles {
		secrets[name] = true
	}

	patterns := append([]string(nil), DefaultIgnores...)
	patterns = append(patterns, p.Ignores...)

	data, err := os.ReadFile(filepath.Join(projectDir, ".gitignore"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		patterns = append(patterns, strings.Split(string(data), "\n")...)
	}

	return &matcher{
		ignores: ignore.CompileIgnoreLines(patterns...),
		secrets: secrets,
	}, nil
}

// writeTarGz writes the entries of root not matched by m into w.
// It returns the number of written entries.
func writeTarGz(ctx context.Context, w io.Writer, root string, m *matcher) (int, error) {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)
	count := 0

	err := filepath.WalkDir(root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, name)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if m.Excludes(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err = writeEntry(tw, name, rel, d); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return count, err
	}

	if err = tw.Close(); err != nil {
		return count, err
	}
	if err = gw.Close(); err != nil {
		return count, err
	}
	return count, nil
}

func writeEntry(tw *tar.Writer, name string, rel string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(name); err != nil {
			return err
		}
	} else if !info.Mode().IsRegular() && !info.IsDir() {
		// Sockets, devices and pipes can't be built from.
		return nil
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}
	if err = tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}
	openFile, err := os.Open(name)
	if err != nil {
		return err
	}
	defer openFile.Close()

	_, err = io.Copy(tw, openFile)
	return err
}
