package batch

import (
	"context"
	"database/sql"
	"strings"

	"github.com/assessly/codermill/errors"
)

// querier is satisfied by both *sql.DB and *sql.Tx so pipeline reads can
// run inside the chunk transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Person is a test taker whose responses are coded.
type Person struct {
	ID    int64
	Login string
	Code  string
	Group string
}

// Booklet is one test booklet taken by a person.
type Booklet struct {
	ID       int64
	PersonID int64
	Name     string
}

// Unit is one unit within a booklet.
type Unit struct {
	ID        int64
	BookletID int64
	Name      string
}

// Response is one variable response row eligible for automatic coding.
type Response struct {
	ID         int64
	UnitID     int64
	UnitName   string
	VariableID string
	Value      string
	Status     string
}

// ResponseUpdate carries the computed coding outcome for one response.
type ResponseUpdate struct {
	ResponseID int64
	Status     string
	Code       *int
	Score      *int
}

// UnitDef is the stored test-definition metadata for a unit: which
// variables it declares and which coding scheme it references.
type UnitDef struct {
	UnitName  string
	FileID    string
	SchemeRef string
	Variables []string
}

// Store provides the pipeline's database reads and writes.
type Store struct {
	db *sql.DB
}

// NewStore creates a batch store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// PersonsByIDs loads the given persons of a workspace, skipping ids that
// do not exist.
func (s *Store) PersonsByIDs(ctx context.Context, q querier, workspaceID int64, ids []int64) ([]Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id, login, code, group_name FROM persons
		WHERE workspace_id = ? AND id IN (` + placeholders(len(ids)) + `)
		ORDER BY id`
	args := append([]any{workspaceID}, int64Args(ids)...)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query persons")
	}
	defer rows.Close()

	var persons []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.ID, &p.Login, &p.Code, &p.Group); err != nil {
			return nil, errors.Wrap(err, "failed to scan person")
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

// PersonIDsByGroups resolves group names to person ids.
func (s *Store) PersonIDsByGroups(ctx context.Context, workspaceID int64, groups []string) ([]int64, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM persons
		WHERE workspace_id = ? AND group_name IN (` + placeholders(len(groups)) + `)
		ORDER BY id`
	args := make([]any, 0, len(groups)+1)
	args = append(args, workspaceID)
	for _, g := range groups {
		args = append(args, g)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query persons by group")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan person id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BookletsForPersons loads all booklets taken by the given persons.
func (s *Store) BookletsForPersons(ctx context.Context, q querier, personIDs []int64) ([]Booklet, error) {
	if len(personIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, person_id, name FROM booklets
		WHERE person_id IN (` + placeholders(len(personIDs)) + `)
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, int64Args(personIDs)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query booklets")
	}
	defer rows.Close()

	var booklets []Booklet
	for rows.Next() {
		var b Booklet
		if err := rows.Scan(&b.ID, &b.PersonID, &b.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan booklet")
		}
		booklets = append(booklets, b)
	}
	return booklets, rows.Err()
}

// UnitsForBooklets loads all units of the given booklets.
func (s *Store) UnitsForBooklets(ctx context.Context, q querier, bookletIDs []int64) ([]Unit, error) {
	if len(bookletIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, booklet_id, name FROM units
		WHERE booklet_id IN (` + placeholders(len(bookletIDs)) + `)
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, int64Args(bookletIDs)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query units")
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.BookletID, &u.Name); err != nil {
			return nil, errors.Wrap(err, "failed to scan unit")
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

// IncompleteResponsesForUnits loads the responses of the given units
// that still need coding. Responses already at CODING_COMPLETE, whether
// from an earlier run or a manual code, are never re-coded.
func (s *Store) IncompleteResponsesForUnits(ctx context.Context, q querier, unitIDs []int64) ([]Response, error) {
	if len(unitIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, unit_id, unit_name, variable_id, value, status FROM responses
		WHERE unit_id IN (` + placeholders(len(unitIDs)) + `) AND status != ?
		ORDER BY id`
	args := append(int64Args(unitIDs), StatusCodingComplete)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query responses")
	}
	defer rows.Close()

	var responses []Response
	for rows.Next() {
		var r Response
		var value sql.NullString
		if err := rows.Scan(&r.ID, &r.UnitID, &r.UnitName, &r.VariableID, &value, &r.Status); err != nil {
			return nil, errors.Wrap(err, "failed to scan response")
		}
		r.Value = value.String
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// UnitVariables returns the declared variable set per unit name. Units
// without a stored definition declare nothing.
func (s *Store) UnitVariables(ctx context.Context, q querier, workspaceID int64, unitNames []string) (map[string]map[string]bool, error) {
	defs, err := s.unitDefRows(ctx, q, workspaceID, unitNames)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]map[string]bool, len(defs))
	for _, def := range defs {
		vars := make(map[string]bool, len(def.Variables))
		for _, v := range def.Variables {
			vars[v] = true
		}
		declared[def.UnitName] = vars
	}
	return declared, nil
}

// UnitDefs loads the stored test-definition metadata for the given unit
// names.
func (s *Store) UnitDefs(ctx context.Context, q querier, workspaceID int64, unitNames []string) ([]UnitDef, error) {
	return s.unitDefRows(ctx, q, workspaceID, unitNames)
}

func (s *Store) unitDefRows(ctx context.Context, q querier, workspaceID int64, unitNames []string) ([]UnitDef, error) {
	if len(unitNames) == 0 {
		return nil, nil
	}

	query := `SELECT unit_name, file_id, scheme_ref, variables FROM unit_defs
		WHERE workspace_id = ? AND unit_name IN (` + placeholders(len(unitNames)) + `)`
	args := make([]any, 0, len(unitNames)+1)
	args = append(args, workspaceID)
	for _, name := range unitNames {
		args = append(args, name)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query unit defs")
	}
	defer rows.Close()

	var defs []UnitDef
	for rows.Next() {
		var def UnitDef
		var variables string
		if err := rows.Scan(&def.UnitName, &def.FileID, &def.SchemeRef, &variables); err != nil {
			return nil, errors.Wrap(err, "failed to scan unit def")
		}
		if variables != "" {
			def.Variables = strings.Split(variables, ",")
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SchemeDocument loads the raw coding-scheme document for a reference.
// A missing scheme returns the empty document, never an error: responses
// referencing an unknown scheme are coded against the empty scheme.
func (s *Store) SchemeDocument(ctx context.Context, q querier, workspaceID int64, ref string) (string, error) {
	var document string
	err := q.QueryRowContext(ctx,
		`SELECT document FROM coding_schemes WHERE workspace_id = ? AND ref = ?`,
		workspaceID, ref).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to query coding scheme")
	}
	return document, nil
}

// ApplyUpdates writes one sub-batch of coding outcomes inside the given
// transaction.
func (s *Store) ApplyUpdates(ctx context.Context, q querier, updates []ResponseUpdate) error {
	for _, u := range updates {
		code := sql.NullInt64{}
		if u.Code != nil {
			code = sql.NullInt64{Int64: int64(*u.Code), Valid: true}
		}
		score := sql.NullInt64{}
		if u.Score != nil {
			score = sql.NullInt64{Int64: int64(*u.Score), Valid: true}
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE responses SET status = ?, code = ?, score = ? WHERE id = ?`,
			u.Status, code, score, u.ResponseID); err != nil {
			return errors.Wrapf(err, "failed to update response %d", u.ResponseID)
		}
	}
	return nil
}

// StatusCounts aggregates responses of a workspace by status.
func (s *Store) StatusCounts(ctx context.Context, workspaceID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM responses WHERE workspace_id = ? GROUP BY status`,
		workspaceID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query status counts")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
