package repositories

import (
	"database/sql"
	"encoding/json"

	"wesgateway/internal/apierr"
	"wesgateway/internal/db"
	"wesgateway/pkg/models"
)

// ServiceInfoRepo manages the single-row service_info table: the gateway's
// configured service descriptor, keyed by the fixed sentinel id 1.
type ServiceInfoRepo struct {
	conn *sql.DB
}

func NewServiceInfoRepo(conn *sql.DB) *ServiceInfoRepo {
	return &ServiceInfoRepo{conn: conn}
}

// Get returns the singleton, or apierr.ErrNotFound if it has never been set.
func (r *ServiceInfoRepo) Get() (*models.ServiceInfo, error) {
	var info models.ServiceInfo
	var workflowTypeVersions, raw string

	err := r.conn.QueryRow(
		`SELECT name, description, workflow_type_versions, raw FROM service_info WHERE id = 1`,
	).Scan(&info.Name, &info.Description, &workflowTypeVersions, &raw)
	if err == sql.ErrNoRows {
		return nil, apierr.Wrap("get_service_info", apierr.ErrNotFound)
	}
	if err != nil {
		return nil, apierr.Wrap("get_service_info", err)
	}

	info.WorkflowTypeVersions = json.RawMessage(workflowTypeVersions)
	info.Raw = json.RawMessage(raw)
	return &info, nil
}

// Set idempotently replaces or inserts the singleton (§4.6 set_service_info).
func (r *ServiceInfoRepo) Set(info *models.ServiceInfo) error {
	workflowTypeVersions := info.WorkflowTypeVersions
	if workflowTypeVersions == nil {
		workflowTypeVersions = json.RawMessage("{}")
	}
	raw := info.Raw
	if raw == nil {
		raw = json.RawMessage("{}")
	}

	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	_, err := r.conn.Exec(
		`INSERT INTO service_info (id, name, description, workflow_type_versions, raw)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			workflow_type_versions = excluded.workflow_type_versions,
			raw = excluded.raw`,
		info.Name, info.Description, string(workflowTypeVersions), string(raw),
	)
	if err != nil {
		return apierr.Wrap("set_service_info", err)
	}
	return nil
}

// SupportsWorkflowType reports whether workflowType/version is listed in the
// singleton's workflow_type_versions map, for the admission controller's
// compatibility check (§4.3 step 2). Returns apierr.ErrNotFound if the
// singleton has never been set.
func (r *ServiceInfoRepo) SupportsWorkflowType(workflowType, version string) (bool, error) {
	info, err := r.Get()
	if err != nil {
		return false, err
	}

	var versions map[string][]string
	if err := json.Unmarshal(info.WorkflowTypeVersions, &versions); err != nil {
		return false, apierr.Wrap("supports_workflow_type", err)
	}
	for _, v := range versions[workflowType] {
		if v == version {
			return true, nil
		}
	}
	return false, nil
}
