package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"crm-lead-workers/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helper Functions
// ==========================

var (
	leadCols = []string{"id", "name", "email", "phone", "organization", "source", "stage", "status", "priority",
		"assigned_to_id", "college_id", "value", "notes", "next_follow_up", "last_contact_at", "converted_at",
		"created_at", "updated_at"}
	collegeCols = []string{"id", "name", "contact_name", "email", "phone", "status", "assigned_to_id",
		"last_training_at", "created_at", "updated_at"}
	testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func leadRows() *sqlmock.Rows {
	return sqlmock.NewRows(leadCols).AddRow(
		"11111111-1111-1111-1111-111111111111", "Priya Sharma", "priya@brightminds.edu", nil, "Bright Minds Academy", "website",
		"QUALIFIED", "IN_PROGRESS", "HIGH",
		nil, nil, 1200.5, nil, nil, nil, nil,
		testNow, testNow,
	)
}

func collegeRows(id, name string) *sqlmock.Rows {
	return sqlmock.NewRows(collegeCols).AddRow(id, name, "Priya Sharma", nil, nil, "PROSPECTIVE", nil, nil, testNow, testNow)
}

// ==========================
// Transaction Tests
// ==========================

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs("11111111-1111-1111-1111-111111111111").
		WillReturnRows(leadRows())
	mock.ExpectCommit()

	var lead *models.Lead
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		lead, err = tx.GetLeadForUpdate(context.Background(), "11111111-1111-1111-1111-111111111111")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, "Bright Minds Academy", lead.Organization)
	assert.Equal(t, models.StageQualified, lead.Stage)
	assert.Empty(t, lead.Phone)
	assert.Nil(t, lead.CollegeID)
	require.NotNil(t, lead.Value)
	assert.InDelta(t, 1200.5, *lead.Value, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.GetLeadForUpdate(context.Background(), "missing")
		return err
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	err := s.WithTx(context.Background(), func(tx Tx) error { return nil })
	assert.ErrorContains(t, err, "begin transaction")
}

// ==========================
// College Tests
// ==========================

func TestCreateCollege_Inserted(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO colleges (.+) ON CONFLICT \(name_normalized\) DO NOTHING RETURNING id`).
		WithArgs("c-1", "Bright  Minds Academy", "bright minds academy", "bright minds", "Priya Sharma", "priya@brightminds.edu", nil,
			"PROSPECTIVE", nil, nil, testNow, testNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c-1"))
	mock.ExpectCommit()

	college := &models.College{
		ID: "c-1", Name: "Bright  Minds Academy", ContactName: "Priya Sharma", Email: "priya@brightminds.edu",
		Status: models.CollegeStatusProspective, CreatedAt: testNow, UpdatedAt: testNow,
	}
	var created bool
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		created, err = tx.CreateCollege(context.Background(), college)
		return err
	})

	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c-1", college.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCollege_ConflictLoadsExisting(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO colleges`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`SELECT (.+) FROM colleges WHERE name_normalized = \$1`).
		WithArgs("bright minds academy").
		WillReturnRows(collegeRows("c-existing", "Bright Minds Academy"))
	mock.ExpectCommit()

	college := &models.College{ID: "c-new", Name: "Bright Minds Academy", Status: models.CollegeStatusProspective}
	var created bool
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		created, err = tx.CreateCollege(context.Background(), college)
		return err
	})

	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "c-existing", college.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCollege_PrimaryKeyClashIsConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO colleges`).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"colleges_pkey\""})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		_, err := tx.CreateCollege(context.Background(), &models.College{ID: "c-dup", Name: "ACME"})
		return err
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivateCollege(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE colleges SET status = \$2, last_training_at = \$3, updated_at = \$3 WHERE id = \$1 RETURNING`).
		WithArgs("c-1", "ACTIVE", testNow).
		WillReturnRows(sqlmock.NewRows(collegeCols).AddRow("c-1", "Acme", nil, nil, nil, "ACTIVE", nil, testNow, testNow, testNow))
	mock.ExpectCommit()

	var college *models.College
	err := s.WithTx(context.Background(), func(tx Tx) error {
		var err error
		college, err = tx.ActivateCollege(context.Background(), "c-1", testNow)
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, models.CollegeStatusActive, college.Status)
	require.NotNil(t, college.LastTrainingAt)
	assert.True(t, college.LastTrainingAt.Equal(testNow))
}

func TestFindCollegeCandidates(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM colleges WHERE name_normalized = \$1 OR name_stripped = \$2 (.+) ORDER BY CASE (.+) END, created_at, id LIMIT \$3`).
		WithArgs("acme university", "acme", 50).
		WillReturnRows(collegeRows("c-1", "Acme").AddRow("c-2", "Acme Widgets", nil, nil, nil, "ACTIVE", nil, nil, testNow, testNow))

	candidates, err := s.FindCollegeCandidates(context.Background(), "acme university", 50)

	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "c-1", candidates[0].ID)
	assert.Equal(t, models.CollegeStatusActive, candidates[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCollegeCandidates_MatchesStrippedNameInsideQuery(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`strpos\(name_stripped, \$2\) > 0 OR strpos\(\$2, name_stripped\) > 0`).
		WithArgs("hitech academy", "hitech", 50).
		WillReturnRows(collegeRows("c-tech", "Tech Institute"))

	candidates, err := s.FindCollegeCandidates(context.Background(), "hitech academy", 50)

	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "c-tech", candidates[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindCollegeCandidates_BlankNameSkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)

	candidates, err := s.FindCollegeCandidates(context.Background(), "", 50)

	assert.NoError(t, err)
	assert.Empty(t, candidates)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Savepoint Tests
// ==========================

func TestSavepoint_ReleasedOnSuccess(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT create_college`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT create_college`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.Savepoint(context.Background(), "create_college", func() error { return nil })
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepoint_RolledBackOnError(t *testing.T) {
	s, mock := newMockStore(t)
	insertErr := errors.New("value too long for type character varying(255)")

	mock.ExpectBegin()
	mock.ExpectExec(`SAVEPOINT create_college`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT create_college`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	var spErr error
	err := s.WithTx(context.Background(), func(tx Tx) error {
		spErr = tx.Savepoint(context.Background(), "create_college", func() error { return insertErr })
		return nil
	})

	require.NoError(t, err)
	assert.ErrorIs(t, spErr, insertErr)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSavepoint_RejectsUnsafeName(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.Savepoint(context.Background(), "x; DROP TABLE leads", func() error { return nil })
	})

	assert.ErrorIs(t, err, ErrInvalidSavepoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Lead And Activity Writes
// ==========================

func TestUpdateLead_NoRowsIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.UpdateLead(context.Background(), &models.Lead{ID: "gone", Stage: models.StageLost, Status: models.StatusLost})
	})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateLead_ForeignKeyViolationIsNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE leads SET`).WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.UpdateLead(context.Background(), &models.Lead{ID: "l1"})
	})

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendActivity_PersistsSystemPerformer(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO lead_activities`).
		WithArgs("a-1", "l-1", "NOTE", "College Acme created from lead conversion", nil, "system", testNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.AppendActivity(context.Background(), &models.LeadActivity{
			ID: "a-1", LeadID: "l-1", Type: models.ActivityNote,
			Description: "College Acme created from lead conversion",
			PerformedBy: models.System, CreatedAt: testNow,
		})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserAndCollegeExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM colleges WHERE id = \$1\)`).
		WithArgs("c-9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(tx Tx) error {
		userOK, err := tx.UserExists(context.Background(), "u-1")
		require.NoError(t, err)
		assert.True(t, userOK)

		collegeOK, err := tx.CollegeExists(context.Background(), "c-9")
		require.NoError(t, err)
		assert.False(t, collegeOK)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ==========================
// Read Methods
// ==========================

func TestListActiveAutomations(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM automations WHERE trigger_type = \$1 AND active`).
		WithArgs("CONVERTED").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "trigger_type", "channel", "template_name", "subject", "body", "stage_filter", "active"}).
			AddRow("au-1", "Welcome email", "CONVERTED", "EMAIL", nil, "Welcome {{leadName}}", "Hi {{leadName}}", nil, true).
			AddRow("au-2", "WhatsApp hello", "CONVERTED", "WHATSAPP", "lead_converted", nil, "", "CONVERTED", true))

	automations, err := s.ListActiveAutomations(context.Background(), models.TriggerConverted)

	require.NoError(t, err)
	require.Len(t, automations, 2)
	assert.Nil(t, automations[0].StageFilter)
	assert.Equal(t, "Welcome {{leadName}}", automations[0].Subject)
	require.NotNil(t, automations[1].StageFilter)
	assert.Equal(t, models.StageConverted, *automations[1].StageFilter)
	assert.Equal(t, "lead_converted", automations[1].TemplateName)
}

func TestListActivities(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM lead_activities WHERE lead_id = \$1 ORDER BY created_at, id`).
		WithArgs("l-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "lead_id", "type", "description", "notes", "performed_by", "created_at"}).
			AddRow("a-1", "l-1", "STAGE_CHANGE", "Stage changed from QUALIFIED to CONVERTED (lead converted)", "signed", "u-7", testNow).
			AddRow("a-2", "l-1", "NOTE", "College Acme created from lead conversion", nil, "system", testNow))

	activities, err := s.ListActivities(context.Background(), "l-1")

	require.NoError(t, err)
	require.Len(t, activities, 2)
	id, ok := activities[0].PerformedBy.UserID()
	assert.True(t, ok)
	assert.Equal(t, "u-7", id)
	assert.True(t, activities[1].PerformedBy.IsSystem())
}

func TestGetLead_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM leads WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(leadCols))

	_, err := s.GetLead(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidSavepointName(t *testing.T) {
	assert.True(t, ValidSavepointName("activate_college"))
	assert.True(t, ValidSavepointName("sp1"))
	assert.False(t, ValidSavepointName("1sp"))
	assert.False(t, ValidSavepointName(""))
	assert.False(t, ValidSavepointName("a-b"))
}

func TestMigrate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS users`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name FROM colleges WHERE name_stripped = ''`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("c-1", "Acme University").
			AddRow("c-2", "Tech Institute"))
	mock.ExpectExec(`UPDATE colleges SET name_stripped = \$1 WHERE id = \$2`).
		WithArgs("acme", "c-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE colleges SET name_stripped = \$1 WHERE id = \$2`).
		WithArgs("tech", "c-2").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.Contains(t, Schema, "colleges_name_normalized_key")
	assert.Contains(t, Schema, "ADD COLUMN IF NOT EXISTS name_stripped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_BackfillFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name FROM colleges`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c-1", "Acme University"))
	mock.ExpectExec(`UPDATE colleges SET name_stripped`).WillReturnError(errors.New("deadlock detected"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backfill college c-1")
}

func TestMigrate_Failure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE`).WillReturnError(errors.New("permission denied for schema public"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
}
