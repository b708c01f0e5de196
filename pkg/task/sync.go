package task

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const TaskTypeSync = "rsync_ssh:sync"

type SyncPayload struct {
	ProjectFile string   `json:"project_file"`
	Path        string   `json:"path,omitempty"`
	Restrict    []string `json:"restrict,omitempty"`
	Force       bool     `json:"force,omitempty"`
	FromRemote  bool     `json:"from_remote,omitempty"`
	Keys        []string `json:"keys,omitempty"`
	// Save marks a save event, which goes through the save hook and the debouncer.
	Save bool `json:"save,omitempty"`
}

// DebounceKey identifies the requests that coalesce into one queued sync.
func (p SyncPayload) DebounceKey() string {
	return p.ProjectFile + "\x00" + p.Path
}

type SyncResult struct {
	ProjectFile string `json:"project_file"`
	Path        string `json:"path,omitempty"`
	Jobs        int    `json:"jobs"`
	Succeeded   int    `json:"succeeded"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	ExitCode    int    `json:"exit_code"`
	Message     string `json:"message"`
	Duration    string `json:"duration"`
}

func NewSyncTask(payload SyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(TaskTypeSync, data), nil
}

func ParseSyncPayload(t *asynq.Task) (SyncPayload, error) {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.ProjectFile == "" {
		return payload, fmt.Errorf("project_file is required")
	}
	return payload, nil
}
