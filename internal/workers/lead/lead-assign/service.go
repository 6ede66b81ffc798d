package leadassign

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/observability"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type ServiceDependencies struct {
	Store         store.Store
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
	NewID         func() string
}

type Service struct {
	config *Config
	store  store.Store
	obs    *observability.Observability
	logger logger.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	s := &Service{
		config: config,
		store:  deps.Store,
		obs:    deps.Observability,
		logger: deps.Logger,
		now:    deps.Now,
		newID:  deps.NewID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s
}

func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	performer, err := models.ParsePerformer(input.PerformedBy)
	if err != nil {
		return nil, errors.NewInvalidPerformerError(err.Error())
	}

	a := Assignment{Priority: input.Priority, Notes: input.Notes}
	if input.AssignedToID != "" {
		id := input.AssignedToID
		a.AssignedToID = &id
	}
	if input.CollegeID != "" {
		id := input.CollegeID
		a.CollegeID = &id
	}

	lead, err := s.Assign(ctx, input.LeadID, a, performer)
	if err != nil {
		return nil, err
	}

	out := &Output{LeadID: lead.ID, Priority: string(lead.Priority)}
	if lead.AssignedToID != nil {
		out.AssignedToID = *lead.AssignedToID
	}
	if lead.HasCollege() {
		out.CollegeID = *lead.CollegeID
	}
	return out, nil
}

// Assign sets the owner, college or priority of a lead and records one
// ASSIGNMENT activity. Stage and status are never touched and no lead
// event is published.
func (s *Service) Assign(ctx context.Context, leadID string, a Assignment, by models.Performer) (*models.Lead, error) {
	if _, err := uuid.Parse(leadID); err != nil {
		return nil, errors.NewInvalidIdentifierError("leadId", leadID)
	}
	if !by.Valid() {
		return nil, errors.NewInvalidPerformerError("performedBy is required")
	}
	if a.empty() {
		return nil, errors.NewValidationFailedError("one of assignedToId, collegeId or priority is required")
	}
	if a.AssignedToID != nil && strings.TrimSpace(*a.AssignedToID) == "" {
		return nil, errors.NewInvalidIdentifierError("assignedToId", *a.AssignedToID)
	}
	if a.CollegeID != nil && strings.TrimSpace(*a.CollegeID) == "" {
		return nil, errors.NewInvalidIdentifierError("collegeId", *a.CollegeID)
	}
	var priority models.Priority
	if a.Priority != "" {
		p, err := models.ParsePriority(a.Priority)
		if err != nil {
			return nil, errors.NewInvalidPriorityError(err)
		}
		priority = p
	}

	ctx, span := s.obs.StartSpan(ctx, "lead.assign", attribute.String("lead.id", leadID))
	defer span.End()

	now := s.now()
	var updated *models.Lead

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		lead, err := tx.GetLeadForUpdate(ctx, leadID)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NewLeadNotFoundError(leadID)
		}
		if err != nil {
			return errors.NewDatabaseQueryFailedError("load lead", err)
		}

		var changes []string

		if a.AssignedToID != nil {
			ok, err := tx.UserExists(ctx, *a.AssignedToID)
			if err != nil {
				return errors.NewDatabaseQueryFailedError("check user", err)
			}
			if !ok {
				return errors.NewUserNotFoundError(*a.AssignedToID)
			}
			if lead.AssignedToID != nil && *lead.AssignedToID != *a.AssignedToID {
				changes = append(changes, fmt.Sprintf("Reassigned from user %s to user %s", *lead.AssignedToID, *a.AssignedToID))
			} else {
				changes = append(changes, fmt.Sprintf("Assigned to user %s", *a.AssignedToID))
			}
			id := *a.AssignedToID
			lead.AssignedToID = &id
		}

		if a.CollegeID != nil {
			college, err := tx.GetCollege(ctx, *a.CollegeID)
			if stderrors.Is(err, store.ErrNotFound) {
				return errors.NewCollegeNotFoundError(*a.CollegeID)
			}
			if err != nil {
				return errors.NewDatabaseQueryFailedError("load college", err)
			}
			changes = append(changes, fmt.Sprintf("Linked to college %s", college.Name))
			id := college.ID
			lead.CollegeID = &id
		}

		if priority != "" {
			changes = append(changes, fmt.Sprintf("Priority changed from %s to %s", lead.Priority, priority))
			lead.Priority = priority
		}

		lead.UpdatedAt = now
		if err := tx.UpdateLead(ctx, lead); err != nil {
			return errors.NewDatabaseQueryFailedError("update lead", err)
		}

		if err := tx.AppendActivity(ctx, &models.LeadActivity{
			ID:          s.newID(),
			LeadID:      lead.ID,
			Type:        models.ActivityAssignment,
			Description: strings.Join(changes, "; "),
			Notes:       a.Notes,
			PerformedBy: by,
			CreatedAt:   now,
		}); err != nil {
			return errors.NewDatabaseQueryFailedError("append assignment", err)
		}

		updated = lead
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewDatabaseTxFailedError(err)
	}

	s.logger.Info("lead assigned", map[string]interface{}{
		"leadId":      updated.ID,
		"performedBy": by.String(),
	})
	return updated, nil
}
