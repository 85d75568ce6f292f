package coding

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	codermilltest "github.com/assessly/codermill/internal/testing"
)

func TestMaterializeDoubleCodedCase(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)
	ctx := context.Background()

	v := VariableReference{UnitName: "u1", VariableID: "var1"}
	coders := twoCoders()
	req := DistributionRequest{
		Variables:            []VariableReference{v},
		CoderIDs:             []int64{1, 2},
		DoubleCodingAbsolute: intPtr(1),
		CaseOrderingMode:     OrderingContinuous,
	}

	plan, err := Allocate(req, coders, []ItemResponses{
		{Responses: makeResponses(v, 3, 1)},
	}, nil)
	require.NoError(t, err)

	m := NewMaterializer(conn, nil)
	jobs, err := m.Materialize(ctx, 1, plan, coders, req)
	require.NoError(t, err, "Should materialize the plan")
	require.Len(t, jobs, 2, "Each coder with assigned cases gets one job")

	// The doubled case's response must appear once in each coder's job,
	// never twice in the same job
	store := NewStore(conn)
	byResponse := make(map[int64][]string)
	for _, job := range jobs {
		rows, err := conn.QueryContext(ctx,
			`SELECT response_id FROM coding_job_units WHERE coding_job_id = ?`, job.ID)
		require.NoError(t, err)
		for rows.Next() {
			var id int64
			require.NoError(t, rows.Scan(&id))
			byResponse[id] = append(byResponse[id], job.ID)
		}
		require.NoError(t, rows.Err())
		rows.Close()
	}

	doubled := 0
	for _, jobIDs := range byResponse {
		seen := make(map[string]bool)
		for _, id := range jobIDs {
			assert.False(t, seen[id], "A response must not appear twice in one job")
			seen[id] = true
		}
		if len(jobIDs) == 2 {
			doubled++
		}
	}
	assert.Equal(t, 1, doubled, "Exactly one response should land in two jobs")

	// Jobs are retrievable with their variables reconstructed
	fetched, err := store.GetCodingJob(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, CodingJobPending, fetched.Status)
	assert.Equal(t, []VariableReference{v}, fetched.Variables)
}

func TestMaterializeSkipsEmptyCoders(t *testing.T) {
	conn := codermilltest.CreateTestDB(t)

	v := VariableReference{UnitName: "u1", VariableID: "var1"}
	coders := []Coder{
		{ID: 1, Name: "Ada"},
		{ID: 2, Name: "Ben"},
		{ID: 3, Name: "Cora"},
	}
	req := DistributionRequest{Variables: []VariableReference{v}, CoderIDs: []int64{1, 2, 3}}

	// Two cases across three coders: one coder ends up with nothing
	plan, err := Allocate(req, coders, []ItemResponses{
		{Responses: makeResponses(v, 2, 1)},
	}, nil)
	require.NoError(t, err)

	m := NewMaterializer(conn, nil)
	jobs, err := m.Materialize(context.Background(), 1, plan, coders, req)
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "Coders without cases should produce no job")
}

func TestMaterializeRollsBackOnInsertFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	v := VariableReference{UnitName: "u1", VariableID: "var1"}
	coders := twoCoders()
	req := DistributionRequest{Variables: []VariableReference{v}, CoderIDs: []int64{1, 2}}

	plan, err := Allocate(req, coders, []ItemResponses{
		{Responses: makeResponses(v, 2, 1)},
	}, nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO coding_jobs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO coding_job_units").
		ExpectExec().
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	m := NewMaterializer(conn, nil)
	_, err = m.Materialize(context.Background(), 1, plan, coders, req)
	require.Error(t, err, "Unit insert failure should abort the run")
	assert.NoError(t, mock.ExpectationsWereMet(), "Transaction should roll back, not commit")
}

func TestJobName(t *testing.T) {
	assert.Equal(t, "Ada_Lovelace_u1_var1_5", JobName("Ada Lovelace", "u1:var1", 5))
	assert.Equal(t, "ben_geometry_12", JobName("ben!", "geometry", 12))
}
