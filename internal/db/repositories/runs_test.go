package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wesgateway/internal/db"
	"wesgateway/internal/runstate"
	"wesgateway/pkg/models"
)

func newTestRunRepo(t *testing.T) *RunRepo {
	t.Helper()
	tdb, err := db.NewTest(t)
	require.NoError(t, err)
	t.Cleanup(func() { tdb.Close() })
	return NewRunRepo(tdb.Conn())
}

func TestRunRepo_InsertAndGet(t *testing.T) {
	repo := newTestRunRepo(t)

	doc := &models.RunDocument{
		TaskID:  "task-1",
		WorkDir: "/runs/abc123",
	}
	doc.RunLog.RunID = "abc123"
	doc.WesEndpoint.Host = "https://engine.example.org"
	doc.WesEndpoint.BasePath = "/ga4gh/wes/v1"

	require.NoError(t, repo.Insert(doc))

	got, err := repo.GetDocument("task-1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.RunLog.RunID)
	assert.Equal(t, runstate.Unknown, got.RunLog.State)

	byRunID, err := repo.GetByRunID("abc123")
	require.NoError(t, err)
	assert.Equal(t, "task-1", byRunID.TaskID)
}

func TestRunRepo_Insert_DuplicateRunID(t *testing.T) {
	repo := newTestRunRepo(t)

	doc1 := &models.RunDocument{TaskID: "task-1", WorkDir: "/runs/abc"}
	doc1.RunLog.RunID = "abc"
	require.NoError(t, repo.Insert(doc1))

	doc2 := &models.RunDocument{TaskID: "task-2", WorkDir: "/runs/abc"}
	doc2.RunLog.RunID = "abc"
	err := repo.Insert(doc2)
	require.Error(t, err)
}

func TestRunRepo_UpdateRunState_RejectsAfterFinished(t *testing.T) {
	repo := newTestRunRepo(t)

	doc := &models.RunDocument{TaskID: "task-1", WorkDir: "/runs/abc"}
	doc.RunLog.RunID = "abc"
	require.NoError(t, repo.Insert(doc))

	require.NoError(t, repo.UpdateRunState("task-1", runstate.Running))
	require.NoError(t, repo.UpdateRunState("task-1", runstate.Complete))

	// Illegal transition after a finished state must be a silent no-op.
	require.NoError(t, repo.UpdateRunState("task-1", runstate.Running))

	got, err := repo.GetDocument("task-1")
	require.NoError(t, err)
	assert.Equal(t, runstate.Complete, got.RunLog.State)
}

func TestRunRepo_UpdateRunState_RejectsUnknownState(t *testing.T) {
	repo := newTestRunRepo(t)
	doc := &models.RunDocument{TaskID: "task-1", WorkDir: "/runs/abc"}
	doc.RunLog.RunID = "abc"
	require.NoError(t, repo.Insert(doc))

	err := repo.UpdateRunState("task-1", runstate.State("NOT_A_STATE"))
	require.Error(t, err)
}

func TestRunRepo_UpsertFieldsInRootObject(t *testing.T) {
	repo := newTestRunRepo(t)
	doc := &models.RunDocument{TaskID: "task-1", WorkDir: "/runs/abc"}
	doc.RunLog.RunID = "abc"
	require.NoError(t, repo.Insert(doc))

	updated, err := repo.UpsertFieldsInRootObject("task-1", "wes_endpoint", map[string]any{
		"run_id": "REMOTE-1",
	})
	require.NoError(t, err)
	require.NotNil(t, updated.WesEndpoint.RunID)
	assert.Equal(t, "REMOTE-1", *updated.WesEndpoint.RunID)

	updated, err = repo.UpsertFieldsInRootObject("task-1", "run_log", map[string]any{
		"outputs": map[string]string{"o": "u"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"o":"u"}`, string(updated.RunLog.Outputs))
}

func TestRunRepo_List_Pagination(t *testing.T) {
	repo := newTestRunRepo(t)
	for i := 0; i < 7; i++ {
		doc := &models.RunDocument{TaskID: taskIDFor(i), WorkDir: "/runs/" + runIDFor(i)}
		doc.RunLog.RunID = runIDFor(i)
		require.NoError(t, repo.Insert(doc))
	}

	var all []RunSummary
	token := ""
	for {
		page, next, err := repo.List(3, token, nil)
		require.NoError(t, err)
		all = append(all, page...)
		if next == "" {
			break
		}
		token = next
	}
	assert.Len(t, all, 7)
	// Descending insertion order: the most recently inserted run comes first.
	assert.Equal(t, runIDFor(6), all[0].RunID)
	assert.Equal(t, runIDFor(0), all[len(all)-1].RunID)
}

func TestRunRepo_CountByState(t *testing.T) {
	repo := newTestRunRepo(t)
	doc := &models.RunDocument{TaskID: "task-1", WorkDir: "/runs/abc"}
	doc.RunLog.RunID = "abc"
	require.NoError(t, repo.Insert(doc))
	require.NoError(t, repo.UpdateRunState("task-1", runstate.Running))

	counts, err := repo.CountByState()
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[runstate.Running])
	assert.Equal(t, int64(0), counts[runstate.Complete])
}

func taskIDFor(i int) string { return "task-" + string(rune('a'+i)) }
func runIDFor(i int) string  { return "run-" + string(rune('a'+i)) }
