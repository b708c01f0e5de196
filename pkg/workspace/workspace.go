// Package workspace loads a project file: the open folders and the rsync_ssh
// settings block that together drive one sync run.
package workspace

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"rsyncssh/pkg/resolve"
)

var ErrNotConfigured = errors.New("rsync ssh is not configured")

type folderEntry struct {
	Path string `json:"path"`
}

type projectFile struct {
	Folders  []folderEntry `json:"folders"`
	Settings struct {
		RsyncSSH *Settings `json:"rsync_ssh"`
	} `json:"settings"`
}

// Workspace is the context handed to a sync run instead of editor globals.
type Workspace struct {
	ProjectFile string
	folders     []string
	settings    *Settings
}

func New(projectFile string, folders []string, settings *Settings) *Workspace {
	normalized := make([]string, 0, len(folders))
	for _, f := range folders {
		normalized = append(normalized, resolve.Normalize(f))
	}
	if settings != nil {
		settings.ApplyDefaults()
	}
	return &Workspace{ProjectFile: projectFile, folders: normalized, settings: settings}
}

func Load(fs afero.Fs, projectPath string) (*Workspace, error) {
	expanded, err := homedir.Expand(projectPath)
	if err != nil {
		return nil, fmt.Errorf("expand project path: %w", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	data, err := afero.ReadFile(fs, abs)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}

	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", abs, err)
	}

	folders := make([]string, 0, len(pf.Folders))
	for _, entry := range pf.Folders {
		folder, err := folderPath(abs, entry.Path)
		if err != nil {
			return nil, err
		}
		folders = append(folders, folder)
	}

	if pf.Settings.RsyncSSH != nil {
		if err := pf.Settings.RsyncSSH.Validate(); err != nil {
			return nil, fmt.Errorf("invalid rsync_ssh settings in %s: %w", abs, err)
		}
	}

	return New(abs, folders, pf.Settings.RsyncSSH), nil
}

// folderPath resolves a folder entry the way an editor project does: relative
// entries are relative to the directory holding the project file.
func folderPath(projectFile, path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expand folder path %q: %w", path, err)
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(filepath.Dir(projectFile), expanded)
	}
	return filepath.Clean(expanded), nil
}

func (w *Workspace) ListOpenFolders() []string {
	out := make([]string, len(w.folders))
	copy(out, w.folders)
	return out
}

func (w *Workspace) Configuration() (*Settings, error) {
	if w.settings == nil || len(w.settings.Remotes) == 0 {
		return nil, ErrNotConfigured
	}
	return w.settings, nil
}
