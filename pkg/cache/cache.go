// Package cache remembers where rsync lives on each remote so repeated saves
// skip the discovery round-trip. Entries expire and can be dropped explicitly.
package cache

import (
	"context"
	"time"
)

type Entry struct {
	Target    string    `json:"target"`
	RsyncPath string    `json:"rsync_path"`
	Timestamp time.Time `json:"timestamp"`
}

type RsyncPathCache interface {
	Get(ctx context.Context, target string) (*Entry, error)
	Set(ctx context.Context, target, rsyncPath string) error
	// Invalidate drops one target; an empty target drops everything.
	Invalidate(ctx context.Context, target string) error
}

// Miss is returned by Get when nothing is cached for the target.
type Miss struct {
	Target string
}

func (m *Miss) Error() string {
	return "no cached rsync path for " + m.Target
}
