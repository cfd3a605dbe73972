// Package models defines the persistent document shapes the gateway reads
// and writes: the run document and its sub-entities, and the service-info
// singleton.
package models

import (
	"encoding/json"
	"time"

	"wesgateway/internal/runstate"
)

// Attachment records one uploaded workflow attachment beneath a run's
// workspace directory.
type Attachment struct {
	Filename string `json:"filename" db:"filename"`
	Path     string `json:"path" db:"path"`
	Bytes    int64  `json:"bytes" db:"bytes"`
}

// WesEndpoint identifies the upstream execution engine a run was forwarded
// to. RunID is the remote run identifier, populated only after a successful
// forward.
type WesEndpoint struct {
	Host     string  `json:"host" db:"host"`
	BasePath string  `json:"base_path" db:"base_path"`
	RunID    *string `json:"run_id,omitempty" db:"run_id"`
}

// RunRequest is the validated form of the six JSON-encoded fields a client
// submits to POST /runs.
type RunRequest struct {
	WorkflowParams           json.RawMessage `json:"workflow_params"`
	WorkflowType             string          `json:"workflow_type"`
	WorkflowTypeVersion      string          `json:"workflow_type_version"`
	WorkflowURL              string          `json:"workflow_url"`
	Tags                     json.RawMessage `json:"tags,omitempty"`
	WorkflowEngineParameters json.RawMessage `json:"workflow_engine_parameters,omitempty"`
}

// RunLog mirrors the upstream's view of a run. Fields beyond RunID and State
// are intentionally untyped/omitted-tolerant: the upstream client passes
// get_run responses through without strict validation (§4.2, §9 "upstream
// log schema tolerance"), so this type only fixes the fields the tracker and
// query controllers actually read and carries the rest as raw JSON.
type RunLog struct {
	RunID    string          `json:"run_id,omitempty" db:"run_id"`
	Request  json.RawMessage `json:"request,omitempty" db:"-"`
	State    runstate.State  `json:"state" db:"state"`
	RunLog   json.RawMessage `json:"run_log,omitempty" db:"run_log_detail"`
	TaskLogs json.RawMessage `json:"task_logs,omitempty" db:"task_logs"`
	Outputs  json.RawMessage `json:"outputs,omitempty" db:"outputs"`
}

// RunDocument is the canonical persistent record for a single workflow run.
type RunDocument struct {
	ID          int64        `json:"-" db:"id"`
	TaskID      string       `json:"task_id" db:"task_id"`
	UserID      *string      `json:"user_id,omitempty" db:"user_id"`
	WorkDir     string       `json:"work_dir" db:"work_dir"`
	Attachments []Attachment `json:"attachments" db:"-"`
	WesEndpoint WesEndpoint  `json:"wes_endpoint" db:"-"`
	RunLog      RunLog       `json:"run_log" db:"-"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
}

// Owner returns the document's owner identifier, or nil if the run is
// unowned.
func (d *RunDocument) Owner() *string {
	return d.UserID
}

// ServiceInfo is the configured service descriptor, augmented on read with
// live per-state run counts.
type ServiceInfo struct {
	ID                 int64             `json:"-" db:"id"`
	Name               string            `json:"name" db:"name"`
	Description        string            `json:"description" db:"description"`
	WorkflowTypeVersions json.RawMessage `json:"workflow_type_versions" db:"workflow_type_versions"`
	Raw                json.RawMessage   `json:"-" db:"raw"`
	SystemStateCounts  map[runstate.State]int64 `json:"system_state_counts"`
}
