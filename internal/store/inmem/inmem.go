// Package inmem is a process-local store.Store for tests.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store"
)

// Op names a Tx method for fault injection.
type Op string

const (
	OpCreateLead      Op = "CreateLead"
	OpUpdateLead      Op = "UpdateLead"
	OpCreateCollege   Op = "CreateCollege"
	OpActivateCollege Op = "ActivateCollege"
	OpAppendActivity  Op = "AppendActivity"
)

type (
	// DB serializes transactions: WithTx works on a copy of the tables and
	// swaps it in on commit.
	DB struct {
		mutex  sync.RWMutex
		tables *tables
		faults map[Op]error
	}

	tables struct {
		leads       map[string]*models.Lead
		colleges    map[string]*models.College
		users       map[string]*models.User
		activities  []models.LeadActivity
		automations []models.Automation
	}
)

var _ store.Store = (*DB)(nil)

func Open() *DB {
	return &DB{
		tables: &tables{
			leads:    make(map[string]*models.Lead),
			colleges: make(map[string]*models.College),
			users:    make(map[string]*models.User),
		},
		faults: make(map[Op]error),
	}
}

// Seed helpers.

func (db *DB) PutLead(l *models.Lead) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.tables.leads[l.ID] = l.Clone()
}

func (db *DB) PutCollege(c *models.College) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	cp := *c
	db.tables.colleges[c.ID] = &cp
}

func (db *DB) PutUser(u *models.User) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	cp := *u
	db.tables.users[u.ID] = &cp
}

func (db *DB) PutAutomation(a models.Automation) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	db.tables.automations = append(db.tables.automations, a)
}

// FailOn makes every later call of op return err until cleared with a nil err.
func (db *DB) FailOn(op Op, err error) {
	db.mutex.Lock()
	defer db.mutex.Unlock()
	if err == nil {
		delete(db.faults, op)
		return
	}
	db.faults[op] = err
}

// Colleges returns every college ordered by creation.
func (db *DB) Colleges() []models.College {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.tables.sortedColleges()
}

func (db *DB) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{db: db, t: db.tables.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	db.tables = tx.t
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (db *DB) GetLead(ctx context.Context, id string) (*models.Lead, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.tables.lead(id)
}

func (db *DB) GetCollege(ctx context.Context, id string) (*models.College, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.tables.college(id)
}

func (db *DB) ListActivities(ctx context.Context, leadID string) ([]models.LeadActivity, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	var out []models.LeadActivity
	for _, a := range db.tables.activities {
		if a.LeadID == leadID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (db *DB) FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.tables.candidates(normalizedName, limit), nil
}

func (db *DB) ListActiveAutomations(ctx context.Context, trigger models.TriggerType) ([]models.Automation, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	var out []models.Automation
	for _, a := range db.tables.automations {
		if a.Active && a.TriggerType == trigger {
			out = append(out, a)
		}
	}
	return out, nil
}

// ==========================
// Transaction
// ==========================

type memTx struct {
	db *DB
	t  *tables
}

func (tx *memTx) fault(op Op) error {
	return tx.db.faults[op]
}

func (tx *memTx) GetLeadForUpdate(ctx context.Context, id string) (*models.Lead, error) {
	return tx.t.lead(id)
}

func (tx *memTx) CreateLead(ctx context.Context, l *models.Lead) error {
	if err := tx.fault(OpCreateLead); err != nil {
		return err
	}
	if _, exists := tx.t.leads[l.ID]; exists {
		return fmt.Errorf("lead %s: %w", l.ID, store.ErrConflict)
	}
	tx.t.leads[l.ID] = l.Clone()
	return nil
}

func (tx *memTx) UpdateLead(ctx context.Context, l *models.Lead) error {
	if err := tx.fault(OpUpdateLead); err != nil {
		return err
	}
	if _, exists := tx.t.leads[l.ID]; !exists {
		return store.ErrNotFound
	}
	tx.t.leads[l.ID] = l.Clone()
	return nil
}

func (tx *memTx) FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error) {
	return tx.t.candidates(normalizedName, limit), nil
}

func (tx *memTx) GetCollege(ctx context.Context, id string) (*models.College, error) {
	return tx.t.college(id)
}

func (tx *memTx) CreateCollege(ctx context.Context, c *models.College) (bool, error) {
	if err := tx.fault(OpCreateCollege); err != nil {
		return false, err
	}

	normalized := matching.Normalize(c.Name)
	for _, existing := range tx.t.sortedColleges() {
		if matching.Normalize(existing.Name) == normalized {
			*c = existing
			return false, nil
		}
	}
	if _, exists := tx.t.colleges[c.ID]; exists {
		return false, fmt.Errorf("college %s: %w", c.ID, store.ErrConflict)
	}

	cp := *c
	tx.t.colleges[c.ID] = &cp
	return true, nil
}

func (tx *memTx) ActivateCollege(ctx context.Context, id string, at time.Time) (*models.College, error) {
	if err := tx.fault(OpActivateCollege); err != nil {
		return nil, err
	}
	c, ok := tx.t.colleges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c.Status = models.CollegeStatusActive
	c.LastTrainingAt = &at
	c.UpdatedAt = at
	cp := *c
	return &cp, nil
}

func (tx *memTx) UserExists(ctx context.Context, id string) (bool, error) {
	_, ok := tx.t.users[id]
	return ok, nil
}

func (tx *memTx) CollegeExists(ctx context.Context, id string) (bool, error) {
	_, ok := tx.t.colleges[id]
	return ok, nil
}

func (tx *memTx) AppendActivity(ctx context.Context, a *models.LeadActivity) error {
	if err := tx.fault(OpAppendActivity); err != nil {
		return err
	}
	tx.t.activities = append(tx.t.activities, *a)
	return nil
}

func (tx *memTx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if !store.ValidSavepointName(name) {
		return fmt.Errorf("%w: %q", store.ErrInvalidSavepoint, name)
	}
	snapshot := tx.t.clone()
	if err := fn(); err != nil {
		tx.t = snapshot
		return err
	}
	return nil
}

// ==========================
// Tables
// ==========================

func (t *tables) clone() *tables {
	c := &tables{
		leads:       make(map[string]*models.Lead, len(t.leads)),
		colleges:    make(map[string]*models.College, len(t.colleges)),
		users:       t.users,
		activities:  append([]models.LeadActivity(nil), t.activities...),
		automations: t.automations,
	}
	for id, l := range t.leads {
		c.leads[id] = l.Clone()
	}
	for id, col := range t.colleges {
		cp := *col
		c.colleges[id] = &cp
	}
	return c
}

func (t *tables) lead(id string) (*models.Lead, error) {
	l, ok := t.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l.Clone(), nil
}

func (t *tables) college(id string) (*models.College, error) {
	c, ok := t.colleges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (t *tables) sortedColleges() []models.College {
	out := make([]models.College, 0, len(t.colleges))
	for _, c := range t.colleges {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *tables) candidates(normalizedName string, limit int) []models.College {
	out := matching.Rank(normalizedName, t.sortedColleges())
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
