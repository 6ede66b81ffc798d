// Package store is the record store for leads, colleges, activities, users
// and automations. Every multi-row write goes through Store.WithTx.
package store

import (
	"context"
	"errors"
	"time"

	"crm-lead-workers/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert collides with an existing key.
	ErrConflict = errors.New("record conflict")
	// ErrInvalidSavepoint is returned for savepoint names that are not plain identifiers.
	ErrInvalidSavepoint = errors.New("invalid savepoint name")
)

// Store is the non-transactional entry point.
type Store interface {
	// WithTx runs fn in one transaction. fn returning an error rolls back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetLead(ctx context.Context, id string) (*models.Lead, error)
	GetCollege(ctx context.Context, id string) (*models.College, error)
	ListActivities(ctx context.Context, leadID string) ([]models.LeadActivity, error)
	FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error)
	ListActiveAutomations(ctx context.Context, trigger models.TriggerType) ([]models.Automation, error)
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	// GetLeadForUpdate loads and locks the lead row until the transaction ends.
	GetLeadForUpdate(ctx context.Context, id string) (*models.Lead, error)
	CreateLead(ctx context.Context, lead *models.Lead) error
	UpdateLead(ctx context.Context, lead *models.Lead) error

	FindCollegeCandidates(ctx context.Context, normalizedName string, limit int) ([]models.College, error)
	GetCollege(ctx context.Context, id string) (*models.College, error)
	// CreateCollege inserts c. When a college with the same normalized name
	// already exists, c is overwritten with that row and created is false.
	CreateCollege(ctx context.Context, c *models.College) (created bool, err error)
	ActivateCollege(ctx context.Context, id string, at time.Time) (*models.College, error)

	UserExists(ctx context.Context, id string) (bool, error)
	CollegeExists(ctx context.Context, id string) (bool, error)

	AppendActivity(ctx context.Context, a *models.LeadActivity) error

	// Savepoint runs fn so that its writes can be undone without aborting
	// the enclosing transaction. fn's error is returned after rollback.
	Savepoint(ctx context.Context, name string, fn func() error) error
}

// ValidSavepointName reports whether name can be used verbatim in SQL.
func ValidSavepointName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
