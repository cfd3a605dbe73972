// Package repositories implements the document store connector: the
// single-task-scoped read / partial-update / state-update operations the
// admission controller, tracker and query controllers use against the runs
// and service-info tables.
package repositories

import (
	"database/sql"

	"wesgateway/internal/db"
)

// Repositories aggregates every table-scoped repository behind one handle,
// the way the teacher's repository layer is constructed and injected.
type Repositories struct {
	Runs        *RunRepo
	ServiceInfo *ServiceInfoRepo

	db db.Database
}

// New builds a Repositories bound to database's connection.
func New(database db.Database) *Repositories {
	conn := database.Conn()
	return &Repositories{
		Runs:        NewRunRepo(conn),
		ServiceInfo: NewServiceInfoRepo(conn),
		db:          database,
	}
}

// BeginTx starts a database transaction.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
