// Package prompt asks the user to pick a remote and destination to sync.
package prompt

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/manifoldco/promptui"

	"rsyncssh/pkg/selector"
	"rsyncssh/pkg/workspace"
)

var (
	ErrCancelled      = errors.New("selection cancelled")
	ErrNoDestinations = errors.New("no enabled destinations")
)

type Chooser interface {
	// Choose returns the index of the picked option.
	Choose(label string, options []string) (int, error)
}

type Terminal struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser
}

func (t *Terminal) Choose(label string, options []string) (int, error) {
	sel := promptui.Select{
		Label:  label,
		Items:  options,
		Size:   10,
		Stdin:  t.Stdin,
		Stdout: t.Stdout,
	}

	idx, _, err := sel.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
			return -1, ErrCancelled
		}
		return -1, fmt.Errorf("prompt failed: %w", err)
	}
	return idx, nil
}

type Selection struct {
	Key      string
	Restrict selector.Restriction
	Force    bool
}

const allDestinations = "All - sync to all destinations"

// PickRemote lets the user choose a configuration key and then, when the key
// has more than one destination, either all of them or a single one. A single
// destination is always force synced, even when disabled.
func PickRemote(settings *workspace.Settings, c Chooser) (Selection, error) {
	keys := settings.EnabledKeys()
	if len(keys) == 0 {
		return Selection{}, ErrNoDestinations
	}

	idx, err := c.Choose("Remote", keys)
	if err != nil {
		return Selection{}, err
	}
	if idx < 0 || idx >= len(keys) {
		return Selection{}, ErrCancelled
	}
	key := keys[idx]

	destinations := settings.Remotes[key]
	if len(destinations) == 1 {
		return Selection{Key: key, Force: true}, nil
	}

	options := []string{allDestinations}
	for _, d := range destinations {
		options = append(options, d.Target()+":"+strconv.Itoa(d.Port())+" "+d.RemotePath)
	}
	idx, err = c.Choose("Destination", options)
	if err != nil {
		return Selection{}, err
	}
	switch {
	case idx == 0:
		return Selection{Key: key}, nil
	case idx > 0 && idx < len(options):
		d := destinations[idx-1]
		return Selection{Key: key, Restrict: selector.NewRestriction(d.Identity()), Force: true}, nil
	}
	return Selection{}, ErrCancelled
}
