package workspace

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultTimeout   = 10
	DefaultSSHBinary = "ssh"
	DefaultCommand   = "rsync"
	DefaultPort      = 22

	// CurrentFolderKey maps a destination list onto the only open folder.
	CurrentFolderKey = "."
)

var alwaysExcluded = []string{".DS_Store"}

// Flag decodes either a JSON boolean or a number, where any non-zero number is true.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*f = true
		return nil
	case "false", "null":
		*f = false
		return nil
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("expected boolean or number, got %s", data)
	}
	*f = n != 0
	return nil
}

type Destination struct {
	RemoteHost        string   `json:"remote_host" validate:"required"`
	RemoteUser        string   `json:"remote_user,omitempty"`
	RemotePort        int      `json:"remote_port,omitempty" validate:"omitempty,min=1,max=65535"`
	RemotePath        string   `json:"remote_path" validate:"required"`
	RemotePreCommand  string   `json:"remote_pre_command,omitempty"`
	RemotePostCommand string   `json:"remote_post_command,omitempty"`
	Enabled           *Flag    `json:"enabled,omitempty"`
	Options           []string `json:"options,omitempty"`
	Excludes          []string `json:"excludes,omitempty"`
	Command           string   `json:"command,omitempty"`
}

func (d Destination) IsEnabled() bool {
	return d.Enabled == nil || bool(*d.Enabled)
}

func (d Destination) Port() int {
	if d.RemotePort == 0 {
		return DefaultPort
	}
	return d.RemotePort
}

// Target is the ssh login argument, user@host or just host.
func (d Destination) Target() string {
	if d.RemoteUser == "" {
		return d.RemoteHost
	}
	return d.RemoteUser + "@" + d.RemoteHost
}

// Identity is user@host:port:path, the string a user picks when restricting a sync.
func (d Destination) Identity() string {
	return fmt.Sprintf("%s:%d:%s", d.Target(), d.Port(), d.RemotePath)
}

type Settings struct {
	Excludes        []string                 `json:"excludes,omitempty"`
	Options         []string                 `json:"options,omitempty"`
	Timeout         int                      `json:"timeout,omitempty" validate:"min=0"`
	SSHBinary       string                   `json:"ssh_binary,omitempty"`
	SSHCommand      string                   `json:"ssh_command,omitempty"`
	SSHArgs         []string                 `json:"ssh_args,omitempty"`
	SyncOnSave      *bool                    `json:"sync_on_save,omitempty"`
	SyncAllOnSave   bool                     `json:"sync_all_on_save,omitempty"`
	Remotes         map[string][]Destination `json:"remotes" validate:"required,dive,dive"`
	Command         string                   `json:"command,omitempty"`
	RsyncPathPrefix string                   `json:"rsync_path_prefix,omitempty"`
	MaxParallel     int                      `json:"max_parallel,omitempty" validate:"min=0"`
}

// ApplyDefaults fills unset scalar fields. It is idempotent.
func (s *Settings) ApplyDefaults() {
	if s.Timeout == 0 {
		s.Timeout = DefaultTimeout
	}
	if s.SSHBinary == "" {
		s.SSHBinary = s.SSHCommand
	}
	if s.SSHBinary == "" {
		s.SSHBinary = DefaultSSHBinary
	}
	if s.Command == "" {
		s.Command = DefaultCommand
	}
}

func (s *Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(s)
}

// GlobalExcludes returns the always-excluded patterns followed by the configured ones.
func (s *Settings) GlobalExcludes() []string {
	out := make([]string, 0, len(alwaysExcluded)+len(s.Excludes))
	out = append(out, alwaysExcluded...)
	return append(out, s.Excludes...)
}

func (s *Settings) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

func (s *Settings) SyncOnSaveEnabled() bool {
	return s.SyncOnSave == nil || *s.SyncOnSave
}

func (s *Settings) TransferCommand(d Destination) string {
	if d.Command != "" {
		return d.Command
	}
	if s.Command != "" {
		return s.Command
	}
	return DefaultCommand
}

// Keys returns the configuration keys in a stable order.
func (s *Settings) Keys() []string {
	keys := make([]string, 0, len(s.Remotes))
	for k := range s.Remotes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnabledKeys returns the keys that have at least one enabled destination.
func (s *Settings) EnabledKeys() []string {
	var keys []string
	for _, k := range s.Keys() {
		for _, d := range s.Remotes[k] {
			if d.IsEnabled() {
				keys = append(keys, k)
				break
			}
		}
	}
	return keys
}
