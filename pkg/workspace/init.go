package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
)

var (
	ErrAlreadyConfigured = errors.New("rsync_ssh configuration already exists")
	ErrNoFolders         = errors.New("unable to initialize settings, you must have at least one folder in your project file")
)

// CurrentUser guesses the remote login from USER, then USERNAME.
func CurrentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "username"
}

// InitSettings adds a skeleton rsync_ssh block with one placeholder destination
// per project folder. An existing block is never overwritten.
func InitSettings(fs afero.Fs, projectPath, goos string) error {
	data, err := afero.ReadFile(fs, projectPath)
	if err != nil {
		return fmt.Errorf("unable to initialize settings, you must have a project file: %w", err)
	}

	doc := map[string]any{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse project file %s: %w", projectPath, err)
		}
	}

	settings, _ := doc["settings"].(map[string]any)
	if settings == nil {
		settings = map[string]any{}
	}
	if existing, ok := settings["rsync_ssh"].(map[string]any); ok && len(existing) > 0 {
		return ErrAlreadyConfigured
	}

	folders, _ := doc["folders"].([]any)
	if len(folders) == 0 {
		return ErrNoFolders
	}

	user := CurrentUser()
	remotes := map[string]any{}
	for _, f := range folders {
		entry, _ := f.(map[string]any)
		p, _ := entry["path"].(string)
		if p == "" {
			continue
		}
		if p == "." {
			p = filepath.Base(filepath.Dir(projectPath))
		}
		remotes[p] = []any{map[string]any{
			"remote_host":         "my-server.my-domain.tld",
			"remote_path":         "/home/" + user + "/Projects/" + path.Base(filepath.ToSlash(p)),
			"remote_port":         DefaultPort,
			"remote_user":         user,
			"remote_pre_command":  "",
			"remote_post_command": "",
			"command":             DefaultCommand,
			"enabled":             true,
			"options":             []string{},
			"excludes":            []string{},
		}}
	}
	if len(remotes) == 0 {
		return ErrNoFolders
	}

	options := []string{"--dry-run", "--delete"}
	if goos == "windows" {
		options = append([]string{"--no-perms", "--chmod=ugo=rwX"}, options...)
	}

	settings["rsync_ssh"] = map[string]any{
		"sync_on_save": true,
		"excludes":     []string{".git*", "_build", "blib", "Build"},
		"options":      options,
		"remotes":      remotes,
	}
	doc["settings"] = settings

	out, err := encodeProject(projectPath, doc)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, projectPath, out, 0o644)
}

func encodeProject(projectPath string, doc map[string]any) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(projectPath)) {
	case ".yaml", ".yml":
		out, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode project file: %w", err)
		}
		return out, nil
	default:
		out, err := json.MarshalIndent(doc, "", "\t")
		if err != nil {
			return nil, fmt.Errorf("encode project file: %w", err)
		}
		return append(out, '\n'), nil
	}
}
