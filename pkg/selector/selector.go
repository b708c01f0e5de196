package selector

import (
	"strings"

	"github.com/spf13/afero"

	"rsyncssh/pkg/workspace"
)

type PathKind int

const (
	PathMissing PathKind = iota
	PathFile
	PathDir
)

// Restriction is the set of destination identities a user picked explicitly.
// A nil Restriction admits every destination.
type Restriction map[string]struct{}

func NewRestriction(identities ...string) Restriction {
	if len(identities) == 0 {
		return nil
	}
	r := make(Restriction, len(identities))
	for _, id := range identities {
		r[id] = struct{}{}
	}
	return r
}

func (r Restriction) Allows(d workspace.Destination) bool {
	if r == nil {
		return true
	}
	_, ok := r[d.Identity()]
	return ok
}

type Selector struct {
	fs afero.Fs
}

func New(fs afero.Fs) *Selector {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Selector{fs: fs}
}

func (s *Selector) Kind(p string) PathKind {
	if p == "" {
		return PathMissing
	}
	info, err := s.fs.Stat(p)
	if err != nil {
		return PathMissing
	}
	if info.IsDir() {
		return PathDir
	}
	return PathFile
}

// ShouldSync reports whether the destination of a resolved local path takes
// part in this run. The enabled flag is left to the executor, which reports
// disabled destinations as skipped.
func (s *Selector) ShouldSync(localPath, specificPath string, dest workspace.Destination, restrict Restriction) bool {
	switch s.Kind(specificPath) {
	case PathFile:
		if !strings.HasPrefix(specificPath, localPath+"/") {
			return false
		}
	case PathDir:
		if specificPath != localPath {
			return false
		}
	}
	return restrict.Allows(dest)
}

// SourceDestination picks the rsync source and remote destination path. A
// whole-folder sync copies the folder contents onto remote_path.
func (s *Selector) SourceDestination(localPath, specificPath string, dest workspace.Destination) (string, string) {
	source := localPath + "/"
	destination := dest.RemotePath

	if !strings.HasPrefix(specificPath, localPath+"/") {
		return source, destination
	}

	suffix := strings.TrimPrefix(specificPath, localPath)
	switch s.Kind(specificPath) {
	case PathFile:
		return specificPath, dest.RemotePath + suffix
	case PathDir:
		return specificPath + "/", dest.RemotePath + suffix
	}
	return source, destination
}
