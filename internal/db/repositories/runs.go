package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wesgateway/internal/apierr"
	"wesgateway/internal/db"
	"wesgateway/internal/runstate"
	"wesgateway/pkg/models"
)

const runColumns = `id, task_id, user_id, work_dir, attachments,
	wes_endpoint_host, wes_endpoint_base_path, wes_endpoint_run_id,
	run_log_run_id, run_log_state, run_log_detail, run_log_task_logs, run_log_outputs,
	created_at`

// RunRepo is the document store connector for the runs table. Every
// mutating method is scoped to a single run (by task_id) and performs its
// mutation as one atomic SQL statement under db.SQLiteWriteMutex, giving the
// single-writer-per-task isolation the connector is required to provide.
// List, CountByState and FindStuckDispatches are read-only queries across
// all runs.
type RunRepo struct {
	conn   *sql.DB
	tracer trace.Tracer
}

func NewRunRepo(conn *sql.DB) *RunRepo {
	return &RunRepo{conn: conn, tracer: otel.Tracer("wesgateway-runs")}
}

// Insert persists a newly admitted run document. A task_id or run_log_run_id
// collision is reported as apierr.ErrIdsUnavailable so the admission
// controller can roll back the workspace directory and retry with a new id.
func (r *RunRepo) Insert(doc *models.RunDocument) error {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	attachments, err := json.Marshal(doc.Attachments)
	if err != nil {
		return apierr.Wrap("insert", fmt.Errorf("marshal attachments: %w", err))
	}

	var userID sql.NullString
	if doc.UserID != nil {
		userID = sql.NullString{String: *doc.UserID, Valid: true}
	}

	res, err := r.conn.Exec(
		`INSERT INTO runs (task_id, user_id, work_dir, attachments,
			wes_endpoint_host, wes_endpoint_base_path,
			run_log_run_id, run_log_state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.TaskID, userID, doc.WorkDir, string(attachments),
		doc.WesEndpoint.Host, doc.WesEndpoint.BasePath,
		doc.RunLog.RunID, string(runstate.Unknown),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apierr.Wrapf("insert", apierr.ErrIdsUnavailable, "run_id or task_id already exists")
		}
		return apierr.Wrap("insert", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		doc.ID = id
	}
	return nil
}

// GetDocument fetches the document owned by taskID, the primary key coupling
// a tracker instance to its document.
func (r *RunRepo) GetDocument(taskID string) (*models.RunDocument, error) {
	row := r.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE task_id = ?`, taskID)
	return scanRunDocument(row)
}

// GetByRunID fetches the document by its local run_id, the identifier
// exposed to clients and used by every query controller.
func (r *RunRepo) GetByRunID(runID string) (*models.RunDocument, error) {
	row := r.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_log_run_id = ?`, runID)
	return scanRunDocument(row)
}

// UpdateRunState sets run_log.state for the run owned by taskID. The state
// must be a member of the run state enum, and the write is rejected once
// the run has already reached a finished state (§9 state-machine
// enforcement redesign): the UPDATE's WHERE clause excludes finished rows,
// so an illegal COMPLETE → RUNNING transition is silently a no-op rather
// than a data race with the tracker's own terminal write.
func (r *RunRepo) UpdateRunState(taskID string, state runstate.State) error {
	if !runstate.Valid(state) {
		return apierr.Wrapf("update_run_state", apierr.ErrInvalidState, "unknown state %q", state)
	}

	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	finishedCount := 0
	for _, s := range runstate.All {
		if s.Finished() {
			finishedCount++
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", finishedCount), ", ")
	query := fmt.Sprintf(
		`UPDATE runs SET run_log_state = ? WHERE task_id = ? AND run_log_state NOT IN (%s)`,
		placeholders,
	)
	_, err := r.conn.Exec(query, buildUpdateStateArgs(state, taskID)...)
	return err
}

// buildUpdateStateArgs returns [new_state, task_id, finished_state...] in
// the order the UPDATE's placeholders expect.
func buildUpdateStateArgs(state runstate.State, taskID string) []any {
	args := []any{string(state), taskID}
	for _, s := range runstate.All {
		if s.Finished() {
			args = append(args, string(s))
		}
	}
	return args
}

// UpsertFieldsInRootObject sets {root}.{key} = value for each field,
// atomically, and returns the refreshed document — the relational
// translation of the source's dotted-path Mongo $set (§9 "document store
// connector shape"). Supported roots are "wes_endpoint" and "run_log" with
// the keys enumerated in columnFor; any other root or key is rejected with
// an error and nothing is written.
func (r *RunRepo) UpsertFieldsInRootObject(taskID, root string, fields map[string]any) (*models.RunDocument, error) {
	db.SQLiteWriteMutex.Lock()
	defer db.SQLiteWriteMutex.Unlock()

	var sets []string
	var args []any
	for key, value := range fields {
		col, encodeJSON, err := columnFor(root, key)
		if err != nil {
			return nil, apierr.Wrap("upsert_fields_in_root_object", err)
		}
		v := value
		if encodeJSON {
			data, err := json.Marshal(value)
			if err != nil {
				return nil, apierr.Wrap("upsert_fields_in_root_object", err)
			}
			v = string(data)
		}
		sets = append(sets, fmt.Sprintf("%s = ?", col))
		args = append(args, v)
	}
	if len(sets) == 0 {
		return r.GetDocument(taskID)
	}
	args = append(args, taskID)

	query := fmt.Sprintf(`UPDATE runs SET %s WHERE task_id = ?`, strings.Join(sets, ", "))
	if _, err := r.conn.Exec(query, args...); err != nil {
		return nil, apierr.Wrap("upsert_fields_in_root_object", err)
	}
	return r.GetDocument(taskID)
}

func columnFor(root, key string) (column string, encodeJSON bool, err error) {
	switch root {
	case "wes_endpoint":
		switch key {
		case "run_id":
			return "wes_endpoint_run_id", false, nil
		case "host":
			return "wes_endpoint_host", false, nil
		case "base_path":
			return "wes_endpoint_base_path", false, nil
		}
	case "run_log":
		switch key {
		case "run_id":
			return "run_log_run_id", false, nil
		case "state":
			return "run_log_state", false, nil
		case "run_log":
			return "run_log_detail", true, nil
		case "task_logs":
			return "run_log_task_logs", true, nil
		case "outputs":
			return "run_log_outputs", true, nil
		}
	}
	return "", false, fmt.Errorf("no column mapped for %s.%s", root, key)
}

// RunSummary is the projection list_runs returns: {run_id, state}.
type RunSummary struct {
	RunID string
	State runstate.State
}

// List returns runs in descending insertion order, newest first, starting
// strictly before pageToken (the internal id of the last row of the
// previous page; empty string means "first page"). Results are optionally
// filtered to a single owner. nextPageToken is empty when the page did not
// fill, per §4.5.
func (r *RunRepo) List(pageSize int, pageToken string, userID *string) (runs []RunSummary, nextPageToken string, err error) {
	var args []any
	query := `SELECT id, run_log_run_id, run_log_state FROM runs WHERE 1 = 1`
	if userID != nil {
		query += ` AND user_id = ?`
		args = append(args, *userID)
	}
	if pageToken != "" {
		query += ` AND id < ?`
		args = append(args, pageToken)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, pageSize)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var lastID int64
	for rows.Next() {
		var id int64
		var s RunSummary
		var state string
		if err := rows.Scan(&id, &s.RunID, &state); err != nil {
			return nil, "", err
		}
		s.State = runstate.State(state)
		runs = append(runs, s)
		lastID = id
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	if len(runs) == pageSize {
		nextPageToken = fmt.Sprintf("%d", lastID)
	}
	return runs, nextPageToken, nil
}

// CountByState aggregates the number of runs in every enum state, used by
// the service-info aggregator to compute system_state_counts.
func (r *RunRepo) CountByState() (map[runstate.State]int64, error) {
	counts := make(map[runstate.State]int64, len(runstate.All))
	for _, s := range runstate.All {
		counts[s] = 0
	}

	rows, err := r.conn.Query(`SELECT run_log_state, COUNT(*) FROM runs GROUP BY run_log_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[runstate.State(state)] = count
	}
	return counts, rows.Err()
}

// FindStuckDispatches returns the task_ids of runs that were admitted
// (created_at) more than grace ago, have been forwarded to an upstream
// engine (wes_endpoint_run_id set), are still unfinished, and have never
// had a run_log mirror written — the signal that
// a dispatch was lost rather than merely still in flight. Used by the
// reconciliation sweep to re-enqueue them.
func (r *RunRepo) FindStuckDispatches(grace time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-grace)

	var finishedStates []string
	for _, s := range runstate.All {
		if s.Finished() {
			finishedStates = append(finishedStates, string(s))
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(finishedStates)), ", ")

	query := fmt.Sprintf(
		`SELECT task_id FROM runs
		WHERE wes_endpoint_run_id IS NOT NULL
		AND run_log_detail IS NULL
		AND run_log_state NOT IN (%s)
		AND created_at < ?`,
		placeholders,
	)
	args := make([]any, 0, len(finishedStates)+1)
	for _, s := range finishedStates {
		args = append(args, s)
	}
	args = append(args, cutoff)

	rows, err := r.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var taskIDs []string
	for rows.Next() {
		var taskID string
		if err := rows.Scan(&taskID); err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, taskID)
	}
	return taskIDs, rows.Err()
}

func scanRunDocument(row *sql.Row) (*models.RunDocument, error) {
	var doc models.RunDocument
	var userID sql.NullString
	var attachments string
	var wesRunID sql.NullString
	var runLogDetail, runLogTaskLogs, runLogOutputs sql.NullString
	var createdAt time.Time

	err := row.Scan(
		&doc.ID, &doc.TaskID, &userID, &doc.WorkDir, &attachments,
		&doc.WesEndpoint.Host, &doc.WesEndpoint.BasePath, &wesRunID,
		&doc.RunLog.RunID, &doc.RunLog.State, &runLogDetail, &runLogTaskLogs, &runLogOutputs,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, apierr.Wrap("get_document", apierr.ErrNotFound)
	}
	if err != nil {
		return nil, apierr.Wrap("get_document", err)
	}

	if userID.Valid {
		doc.UserID = &userID.String
	}
	if wesRunID.Valid {
		doc.WesEndpoint.RunID = &wesRunID.String
	}
	if runLogDetail.Valid {
		doc.RunLog.RunLog = json.RawMessage(runLogDetail.String)
	}
	if runLogTaskLogs.Valid {
		doc.RunLog.TaskLogs = json.RawMessage(runLogTaskLogs.String)
	}
	if runLogOutputs.Valid {
		doc.RunLog.Outputs = json.RawMessage(runLogOutputs.String)
	}
	doc.CreatedAt = createdAt

	if err := json.Unmarshal([]byte(attachments), &doc.Attachments); err != nil {
		return nil, apierr.Wrap("get_document", fmt.Errorf("unmarshal attachments: %w", err))
	}
	return &doc, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
