package leadassign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store"
	"crm-lead-workers/internal/store/inmem"
)

const (
	leadID  = "3f2a9c1e-8b7d-4e6f-a5c4-b3a291807f6e"
	ownerID = "user-7"
	adminID = "admin-1"
)

var now = time.Date(2026, 5, 2, 11, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newTestService(t *testing.T, st store.Store) *Service {
	return NewService(ServiceDependencies{
		Store:  st,
		Logger: logger.NewTestLogger(t),
		Now:    func() time.Time { return now },
		NewID:  func() string { return "act-1" },
	}, DefaultConfig())
}

func seed() *inmem.DB {
	db := inmem.Open()
	db.PutLead(&models.Lead{
		ID:       leadID,
		Name:     "Arjun Mehta",
		Stage:    models.StageQualified,
		Status:   models.StatusInProgress,
		Priority: models.PriorityMedium,
	})
	db.PutUser(&models.User{ID: ownerID, Name: "Sales Rep", Active: true})
	db.PutUser(&models.User{ID: "user-8", Name: "Other Rep", Active: true})
	db.PutCollege(&models.College{ID: "c-1", Name: "Lakeside College", Status: models.CollegeStatusActive})
	return db
}

// ==========================
// Assign
// ==========================

func TestAssign_AppliesFieldsWithOneActivity(t *testing.T) {
	db := seed()
	svc := newTestService(t, db)

	lead, err := svc.Assign(context.Background(), leadID, Assignment{
		AssignedToID: strPtr(ownerID),
		CollegeID:    strPtr("c-1"),
		Priority:     "high",
		Notes:        "handover from events team",
	}, models.Human(adminID))
	require.NoError(t, err)

	assert.Equal(t, ownerID, *lead.AssignedToID)
	assert.Equal(t, "c-1", *lead.CollegeID)
	assert.Equal(t, models.PriorityHigh, lead.Priority)
	assert.Equal(t, models.StageQualified, lead.Stage)
	assert.Equal(t, models.StatusInProgress, lead.Status)
	assert.True(t, lead.UpdatedAt.Equal(now))

	acts, err := db.ListActivities(context.Background(), leadID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.ActivityAssignment, acts[0].Type)
	assert.Equal(t,
		"Assigned to user user-7; Linked to college Lakeside College; Priority changed from MEDIUM to HIGH",
		acts[0].Description)
	assert.Equal(t, "handover from events team", acts[0].Notes)
	id, _ := acts[0].PerformedBy.UserID()
	assert.Equal(t, adminID, id)
}

func TestAssign_Reassignment(t *testing.T) {
	db := seed()
	svc := newTestService(t, db)

	_, err := svc.Assign(context.Background(), leadID, Assignment{AssignedToID: strPtr(ownerID)}, models.System)
	require.NoError(t, err)
	_, err = svc.Assign(context.Background(), leadID, Assignment{AssignedToID: strPtr("user-8")}, models.System)
	require.NoError(t, err)

	acts, _ := db.ListActivities(context.Background(), leadID)
	require.Len(t, acts, 2)
	assert.Equal(t, "Reassigned from user user-7 to user user-8", acts[1].Description)
}

func TestAssign_Failures(t *testing.T) {
	tests := []struct {
		name     string
		leadID   string
		a        Assignment
		by       models.Performer
		wantCode apperrors.ErrorCode
	}{
		{name: "malformed lead id", leadID: "lead-1", a: Assignment{Priority: "LOW"}, by: models.System, wantCode: apperrors.ErrCodeInvalidIdentifier},
		{name: "nothing to assign", leadID: leadID, a: Assignment{Notes: "just a note"}, by: models.System, wantCode: apperrors.ErrCodeValidationFailed},
		{name: "blank user id", leadID: leadID, a: Assignment{AssignedToID: strPtr(" ")}, by: models.System, wantCode: apperrors.ErrCodeInvalidIdentifier},
		{name: "unknown priority", leadID: leadID, a: Assignment{Priority: "CRITICAL"}, by: models.System, wantCode: apperrors.ErrCodeInvalidPriority},
		{name: "no performer", leadID: leadID, a: Assignment{Priority: "LOW"}, by: models.Performer{}, wantCode: apperrors.ErrCodeInvalidPerformer},
		{name: "unknown lead", leadID: "9a9a9a9a-9a9a-4a9a-9a9a-9a9a9a9a9a9a", a: Assignment{Priority: "LOW"}, by: models.System, wantCode: apperrors.ErrCodeLeadNotFound},
		{name: "unknown user", leadID: leadID, a: Assignment{AssignedToID: strPtr("ghost")}, by: models.System, wantCode: apperrors.ErrCodeUserNotFound},
		{name: "unknown college", leadID: leadID, a: Assignment{CollegeID: strPtr("c-404")}, by: models.System, wantCode: apperrors.ErrCodeCollegeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := seed()
			svc := newTestService(t, db)

			_, err := svc.Assign(context.Background(), tt.leadID, tt.a, tt.by)

			std, ok := apperrors.AsStandardError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, std.Code)
			assert.True(t, apperrors.IsNotFound(err) || apperrors.IsBadRequest(err))

			acts, _ := db.ListActivities(context.Background(), leadID)
			assert.Empty(t, acts)
			lead, _ := db.GetLead(context.Background(), leadID)
			assert.Nil(t, lead.AssignedToID)
			assert.Equal(t, models.PriorityMedium, lead.Priority)
		})
	}
}

func TestAssign_ActivityFailureRollsBack(t *testing.T) {
	db := seed()
	db.FailOn(inmem.OpAppendActivity, errors.New("disk full"))
	svc := newTestService(t, db)

	_, err := svc.Assign(context.Background(), leadID, Assignment{Priority: "URGENT"}, models.System)

	std, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDatabaseQueryFailed, std.Code)
	lead, _ := db.GetLead(context.Background(), leadID)
	assert.Equal(t, models.PriorityMedium, lead.Priority)
}

func TestExecute(t *testing.T) {
	db := seed()
	svc := newTestService(t, db)

	out, err := svc.Execute(context.Background(), &Input{
		LeadID:       leadID,
		AssignedToID: ownerID,
		PerformedBy:  adminID,
	})
	require.NoError(t, err)
	assert.Equal(t, &Output{LeadID: leadID, AssignedToID: ownerID, Priority: "MEDIUM"}, out)

	_, err = svc.Execute(context.Background(), &Input{LeadID: leadID, Priority: "LOW"})
	assert.True(t, apperrors.IsBadRequest(err))
}

// ==========================
// SQL shape
// ==========================

func TestAssign_PostgresStatements(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	leadCols := []string{"id", "name", "email", "phone", "organization", "source", "stage", "status", "priority",
		"assigned_to_id", "college_id", "value", "notes", "next_follow_up", "last_contact_at", "converted_at",
		"created_at", "updated_at"}
	created := now.Add(-48 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM leads WHERE id = \$1 FOR UPDATE`).
		WithArgs(leadID).
		WillReturnRows(sqlmock.NewRows(leadCols).AddRow(
			leadID, "Arjun Mehta", nil, nil, nil, nil,
			"QUALIFIED", "IN_PROGRESS", "MEDIUM", nil, nil, nil, nil, nil, nil, nil, created, created))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM users WHERE id = \$1\)`).
		WithArgs(ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`UPDATE leads SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO lead_activities`).
		WithArgs("act-1", leadID, "ASSIGNMENT", "Assigned to user user-7", sqlmock.AnyArg(), adminID, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	svc := newTestService(t, store.NewPostgres(sqlDB))
	lead, err := svc.Assign(context.Background(), leadID, Assignment{AssignedToID: strPtr(ownerID)}, models.Human(adminID))
	require.NoError(t, err)

	assert.Equal(t, ownerID, *lead.AssignedToID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAssign_PostgresUnknownUserRollsBack(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	leadCols := []string{"id", "name", "email", "phone", "organization", "source", "stage", "status", "priority",
		"assigned_to_id", "college_id", "value", "notes", "next_follow_up", "last_contact_at", "converted_at",
		"created_at", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(leadCols).AddRow(
			leadID, "Arjun Mehta", nil, nil, nil, nil,
			"QUALIFIED", "IN_PROGRESS", "MEDIUM", nil, nil, nil, nil, nil, nil, nil, now, now))
	mock.ExpectQuery(`FROM users`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	svc := newTestService(t, store.NewPostgres(sqlDB))
	_, err = svc.Assign(context.Background(), leadID, Assignment{AssignedToID: strPtr("ghost")}, models.System)

	assert.True(t, apperrors.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
