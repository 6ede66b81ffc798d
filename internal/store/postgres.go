package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const leadColumns = `id, name, email, phone, organization, source, stage, status, priority,
	assigned_to_id, college_id, value, notes, next_follow_up, last_contact_at, converted_at,
	created_at, updated_at`

const collegeColumns = `id, name, contact_name, email, phone, status, assigned_to_id,
	last_training_at, created_at, updated_at`

// Postgres implements Store over database/sql with the lib/pq driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

//go:embed schema.sql
var Schema string

// Migrate creates missing tables and indexes and fills name_stripped for
// colleges written before that column existed. It is safe to run
// repeatedly.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return p.backfillStrippedNames(ctx)
}

func (p *Postgres) backfillStrippedNames(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name FROM colleges WHERE name_stripped = ''`)
	if err != nil {
		return fmt.Errorf("list colleges to backfill: %w", err)
	}
	type pending struct{ id, stripped string }
	var todo []pending
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("scan college: %w", err)
		}
		todo = append(todo, pending{id: id, stripped: matching.StripSuffix(name)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list colleges to backfill: %w", err)
	}

	for _, c := range todo {
		if _, err := p.db.ExecContext(ctx, `UPDATE colleges SET name_stripped = $1 WHERE id = $2`, c.stripped, c.id); err != nil {
			return fmt.Errorf("backfill college %s: %w", c.id, err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	return scanLead(p.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id))
}

func (p *Postgres) GetCollege(ctx context.Context, id string) (*models.College, error) {
	return getCollege(ctx, p.db, id)
}

func (p *Postgres) FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error) {
	return findCollegeCandidates(ctx, p.db, normalizedName, limit)
}

func (p *Postgres) ListActivities(ctx context.Context, leadID string) ([]models.LeadActivity, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, lead_id, type, description, notes, performed_by, created_at
		FROM lead_activities
		WHERE lead_id = $1
		ORDER BY created_at, id`, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []models.LeadActivity
	for rows.Next() {
		var (
			a         models.LeadActivity
			notes     sql.NullString
			performer string
		)
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Description, &notes, &performer, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Notes = notes.String
		if a.PerformedBy, err = models.ParsePerformer(performer); err != nil {
			return nil, fmt.Errorf("activity %s: %w", a.ID, err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

func (p *Postgres) ListActiveAutomations(ctx context.Context, trigger models.TriggerType) ([]models.Automation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, trigger_type, channel, template_name, subject, body, stage_filter, active
		FROM automations
		WHERE trigger_type = $1 AND active
		ORDER BY created_at, id`, string(trigger))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		var (
			a                      models.Automation
			template, subject, flt sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.TriggerType, &a.Channel, &template, &subject, &a.Body, &flt, &a.Active); err != nil {
			return nil, err
		}
		a.TemplateName = template.String
		a.Subject = subject.String
		if flt.Valid && flt.String != "" {
			stage := models.Stage(flt.String)
			a.StageFilter = &stage
		}
		automations = append(automations, a)
	}
	return automations, rows.Err()
}

// ==========================
// Transaction
// ==========================

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) GetLeadForUpdate(ctx context.Context, id string) (*models.Lead, error) {
	return scanLead(t.tx.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateLead(ctx context.Context, l *models.Lead) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO leads (`+leadColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		l.ID, l.Name, nullIfEmpty(l.Email), nullIfEmpty(l.Phone), nullIfEmpty(l.Organization), nullIfEmpty(l.Source),
		string(l.Stage), string(l.Status), string(l.Priority),
		l.AssignedToID, l.CollegeID, l.Value, nullIfEmpty(l.Notes),
		l.NextFollowUp, l.LastContactAt, l.ConvertedAt,
		l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (t *pgTx) UpdateLead(ctx context.Context, l *models.Lead) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE leads SET
			stage = $2, status = $3, priority = $4,
			assigned_to_id = $5, college_id = $6, value = $7, notes = $8,
			next_follow_up = $9, last_contact_at = $10, converted_at = $11,
			updated_at = $12
		WHERE id = $1`,
		l.ID, string(l.Stage), string(l.Status), string(l.Priority),
		l.AssignedToID, l.CollegeID, l.Value, nullIfEmpty(l.Notes),
		l.NextFollowUp, l.LastContactAt, l.ConvertedAt,
		l.UpdatedAt,
	)
	if err != nil {
		if pqCode(err) == pqForeignKeyViolation {
			return fmt.Errorf("update lead %s: %w", l.ID, ErrNotFound)
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error) {
	return findCollegeCandidates(ctx, t.tx, normalizedName, limit)
}

func (t *pgTx) GetCollege(ctx context.Context, id string) (*models.College, error) {
	return getCollege(ctx, t.tx, id)
}

func (t *pgTx) CreateCollege(ctx context.Context, c *models.College) (bool, error) {
	normalized := matching.Normalize(c.Name)

	var id string
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO colleges (id, name, name_normalized, name_stripped, contact_name, email, phone, status,
			assigned_to_id, last_training_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (name_normalized) DO NOTHING
		RETURNING id`,
		c.ID, c.Name, normalized, matching.StripSuffix(normalized), nullIfEmpty(c.ContactName), nullIfEmpty(c.Email), nullIfEmpty(c.Phone),
		string(c.Status), c.AssignedToID, c.LastTrainingAt, c.CreatedAt, c.UpdatedAt,
	).Scan(&id)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		// another transaction created the same organization first
		existing, getErr := scanCollege(t.tx.QueryRowContext(ctx,
			`SELECT `+collegeColumns+` FROM colleges WHERE name_normalized = $1`, normalized))
		if getErr != nil {
			return false, fmt.Errorf("load conflicting college %q: %w", normalized, getErr)
		}
		*c = *existing
		return false, nil
	case pqCode(err) == pqUniqueViolation:
		// primary key clash; the transaction is aborted up to the last savepoint
		return false, fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return false, err
	}
}

func (t *pgTx) ActivateCollege(ctx context.Context, id string, at time.Time) (*models.College, error) {
	return scanCollege(t.tx.QueryRowContext(ctx, `
		UPDATE colleges SET status = $2, last_training_at = $3, updated_at = $3
		WHERE id = $1
		RETURNING `+collegeColumns,
		id, string(models.CollegeStatusActive), at))
}

func (t *pgTx) UserExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.tx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id)
}

func (t *pgTx) CollegeExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, t.tx, `SELECT EXISTS(SELECT 1 FROM colleges WHERE id = $1)`, id)
}

func (t *pgTx) AppendActivity(ctx context.Context, a *models.LeadActivity) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO lead_activities (id, lead_id, type, description, notes, performed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.LeadID, string(a.Type), a.Description, nullIfEmpty(a.Notes), a.PerformedBy.String(), a.CreatedAt,
	)
	return err
}

func (t *pgTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if !ValidSavepointName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidSavepoint, name)
	}
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint %s: %w", name, rbErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}

// ==========================
// Shared helpers
// ==========================

// findCollegeCandidates ranks in SQL the same way matching.Rank does, so the
// limit only ever cuts worse-tier or younger candidates.
func findCollegeCandidates(ctx context.Context, q queryer, normalizedName string, limit int) ([]models.College, error) {
	if normalizedName == "" {
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+collegeColumns+`
		FROM colleges
		WHERE name_normalized = $1
		   OR name_stripped = $2
		   OR (octet_length($2) > 3 AND octet_length(name_stripped) > 3
		       AND (strpos(name_stripped, $2) > 0 OR strpos($2, name_stripped) > 0))
		ORDER BY CASE
		           WHEN name_normalized = $1 THEN 0
		           WHEN name_stripped = $2 THEN 1
		           ELSE 2
		         END, created_at, id
		LIMIT $3`,
		normalizedName, matching.StripSuffix(normalizedName), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.College
	for rows.Next() {
		c, err := scanCollege(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func getCollege(ctx context.Context, q queryer, id string) (*models.College, error) {
	return scanCollege(q.QueryRowContext(ctx, `SELECT `+collegeColumns+` FROM colleges WHERE id = $1`, id))
}

func exists(ctx context.Context, q queryer, query, id string) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func scanLead(row rowScanner) (*models.Lead, error) {
	var (
		l                                    models.Lead
		email, phone, org, source, notes     sql.NullString
		assignedTo, collegeID                sql.NullString
		value                                sql.NullFloat64
		nextFollowUp, lastContact, converted sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.Name, &email, &phone, &org, &source, &l.Stage, &l.Status, &l.Priority,
		&assignedTo, &collegeID, &value, &notes, &nextFollowUp, &lastContact, &converted,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.Email, l.Phone, l.Organization, l.Source, l.Notes = email.String, phone.String, org.String, source.String, notes.String
	l.AssignedToID = stringPtr(assignedTo)
	l.CollegeID = stringPtr(collegeID)
	if value.Valid {
		v := value.Float64
		l.Value = &v
	}
	l.NextFollowUp = timePtr(nextFollowUp)
	l.LastContactAt = timePtr(lastContact)
	l.ConvertedAt = timePtr(converted)
	return &l, nil
}

func scanCollege(row rowScanner) (*models.College, error) {
	var (
		c                     models.College
		contact, email, phone sql.NullString
		assignedTo            sql.NullString
		lastTraining          sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Name, &contact, &email, &phone, &c.Status, &assignedTo, &lastTraining, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ContactName, c.Email, c.Phone = contact.String, email.String, phone.String
	c.AssignedToID = stringPtr(assignedTo)
	c.LastTrainingAt = timePtr(lastTraining)
	return &c, nil
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
