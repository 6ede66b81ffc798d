package leadcapture

import (
	"context"
	"strings"
	"time"

	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/observability"
	"crm-lead-workers/internal/common/validation"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type ServiceDependencies struct {
	Store         store.Store
	Publisher     events.Publisher
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
	NewID         func() string
}

type Service struct {
	config    *Config
	store     store.Store
	publisher events.Publisher
	obs       *observability.Observability
	logger    logger.Logger
	now       func() time.Time
	newID     func() string
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	s := &Service{
		config:    config,
		store:     deps.Store,
		publisher: deps.Publisher,
		obs:       deps.Observability,
		logger:    deps.Logger,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
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
	lead, err := s.Create(ctx, NewLead{
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		Organization: input.Organization,
		Source:       input.Source,
		Notes:        input.Notes,
		Value:        input.Value,
	})
	if err != nil {
		return nil, err
	}
	return &Output{
		LeadID: lead.ID,
		Stage:  string(lead.Stage),
		Status: string(lead.Status),
	}, nil
}

// Create stores a NEW lead with a CREATED activity, then publishes a
// LEAD_CREATED event when the lead has an email.
func (s *Service) Create(ctx context.Context, in NewLead) (*models.Lead, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	if in.Name == "" {
		return nil, errors.NewValidationFailedError("name is required")
	}
	if in.Email != "" && !validation.ValidateEmail(in.Email) {
		return nil, errors.NewValidationFailedError("email is not a valid address")
	}
	if in.Phone != "" && !validation.ValidatePhone(in.Phone) {
		return nil, errors.NewValidationFailedError("phone is not a valid number")
	}
	if in.Value != nil && *in.Value < 0 {
		return nil, errors.NewValidationFailedError("value must not be negative")
	}

	now := s.now()
	lead := &models.Lead{
		ID:           s.newID(),
		Name:         in.Name,
		Email:        strings.ToLower(in.Email),
		Phone:        in.Phone,
		Organization: strings.TrimSpace(in.Organization),
		Source:       strings.TrimSpace(in.Source),
		Notes:        in.Notes,
		Value:        in.Value,
		Stage:        models.StageNew,
		Status:       models.StatusNew,
		Priority:     models.PriorityMedium,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if lead.Source == "" {
		lead.Source = s.config.DefaultSource
	}

	ctx, span := s.obs.StartSpan(ctx, "lead.capture", attribute.String("lead.id", lead.ID))
	defer span.End()

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateLead(ctx, lead); err != nil {
			return errors.NewDatabaseQueryFailedError("create lead", err)
		}
		if err := tx.AppendActivity(ctx, &models.LeadActivity{
			ID:          s.newID(),
			LeadID:      lead.ID,
			Type:        models.ActivityCreated,
			Description: "Lead captured from " + lead.Source,
			PerformedBy: models.System,
			CreatedAt:   now,
		}); err != nil {
			return errors.NewDatabaseQueryFailedError("append created activity", err)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewDatabaseTxFailedError(err)
	}

	log := s.logger.WithFields(map[string]interface{}{"leadId": lead.ID})
	log.Info("lead captured", map[string]interface{}{"source": lead.Source})

	if lead.HasEmail() {
		event := events.NewLeadEvent(s.newID(), lead, "", "", []models.TriggerType{models.TriggerLeadCreated}, now)
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Error("lead event not published", map[string]interface{}{
				"eventId": event.ID,
				"error":   err,
			})
		}
	}

	return lead, nil
}
