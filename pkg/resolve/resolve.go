// Package resolve maps configuration keys onto the open project folders.
//
// A key is either "." (the only open folder), a bare folder basename, an
// absolute path, or a path nested below a folder. Resolution yields the
// absolute local path the key refers to and a short label for log lines.
package resolve

import (
	"path"
	"strings"
)

const currentFolderKey = "."

type DiagnosticKind string

const (
	ConfigurationAmbiguous DiagnosticKind = "configuration_ambiguous"
	NoRemotesDefined       DiagnosticKind = "no_remotes_defined"
)

type Diagnostic struct {
	Kind    DiagnosticKind
	Folder  string
	Key     string
	Prefix  string
	Message string
}

type Resolution struct {
	Key       string
	Folder    string
	LocalPath string
	Prefix    string
}

type Result struct {
	Paths       []Resolution
	Diagnostics []Diagnostic
}

// Normalize trims surrounding whitespace and converts backslashes to forward slashes.
func Normalize(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
}

// Resolve walks every (folder, key) pair. Folders are visited in the given
// order and keys in the order supplied. Each key resolves at most once: the
// first folder it resolves under wins.
func Resolve(folders []string, keys []string) Result {
	var res Result
	resolved := make(map[string]struct{}, len(keys))
	add := func(r Resolution) {
		if _, dup := resolved[r.Key]; dup {
			return
		}
		resolved[r.Key] = struct{}{}
		res.Paths = append(res.Paths, r)
	}

	for _, rawFolder := range folders {
		folder := Normalize(rawFolder)
		base := path.Base(folder)
		related := false

		for _, key := range keys {
			if Normalize(key) == currentFolderKey {
				related = true
				if len(folders) > 1 {
					res.Diagnostics = append(res.Diagnostics, Diagnostic{
						Kind:    ConfigurationAmbiguous,
						Folder:  folder,
						Key:     key,
						Prefix:  base,
						Message: "Use of . is ambiguous when project has more than one folder.",
					})
					continue
				}
				add(Resolution{Key: key, Folder: folder, LocalPath: folder, Prefix: base})
				continue
			}

			r, ok, diag := resolveKey(folder, base, key)
			if diag != nil {
				related = true
				res.Diagnostics = append(res.Diagnostics, *diag)
				continue
			}
			if !ok {
				continue
			}
			related = true
			add(r)
		}

		if !related {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind:    NoRemotesDefined,
				Folder:  folder,
				Prefix:  base,
				Message: "No remotes defined for " + folder,
			})
		}
	}

	return res
}

func resolveKey(folder, base, rawKey string) (Resolution, bool, *Diagnostic) {
	key := Normalize(rawKey)
	if base == "" || base == "/" || base == "." || !strings.Contains(key, base) {
		return Resolution{}, false, nil
	}

	at := strings.LastIndex(key, base)
	splitPrefix, subfolder := key[:at], key[at+len(base):]
	if strings.HasPrefix(splitPrefix, "/") {
		splitPrefix = ""
	}
	adjusted := splitPrefix + base

	// The key names a different folder that happens to share this basename.
	containerEnd := strings.LastIndex(folder, adjusted)
	if containerEnd < 0 {
		return Resolution{}, false, nil
	}
	container := folder[:containerEnd]

	prefix := strings.TrimPrefix(splitPrefix+base+subfolder, container)

	var local string
	switch {
	case strings.HasPrefix(key, container) && subfolder != "":
		local = container + adjusted + subfolder
	case strings.HasPrefix(key, container):
		local = container + adjusted
	case strings.HasPrefix(key, adjusted) && subfolder != "":
		local = container + adjusted + subfolder
	case strings.HasPrefix(key, adjusted):
		local = container + adjusted + subfolder
	default:
		return Resolution{}, false, &Diagnostic{
			Kind:    ConfigurationAmbiguous,
			Folder:  folder,
			Key:     rawKey,
			Message: "Unable to determine local path for " + rawKey,
		}
	}

	return Resolution{
		Key:       rawKey,
		Folder:    folder,
		LocalPath: Normalize(local),
		Prefix:    prefix,
	}, true, nil
}
