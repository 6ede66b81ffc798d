package leadupdatestage

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"crm-lead-workers/internal/common/errors"
	"crm-lead-workers/internal/common/events"
	"crm-lead-workers/internal/common/logger"
	"crm-lead-workers/internal/common/metrics"
	"crm-lead-workers/internal/common/observability"
	"crm-lead-workers/internal/matching"
	"crm-lead-workers/internal/models"
	"crm-lead-workers/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	warnNoOrganization = "lead has no organization; college was not created"

	savepointCreateCollege   = "create_college"
	savepointActivateCollege = "activate_college"
	savepointCollegeNote     = "college_note"

	defaultIndexTimeout = 10 * time.Second
)

// CollegeIndexer receives the college a conversion linked, created or
// activated.
type CollegeIndexer interface {
	IndexCollege(ctx context.Context, college *models.College) error
}

type ServiceDependencies struct {
	Store store.Store
	// Publisher must not block on delivery; wrap transports in
	// events.AsyncPublisher.
	Publisher events.Publisher
	// Indexer is optional. It runs after commit on its own goroutine,
	// whether or not an event is published.
	Indexer       CollegeIndexer
	IndexTimeout  time.Duration
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
	NewID         func() string
}

type Service struct {
	config       *Config
	store        store.Store
	publisher    events.Publisher
	indexer      CollegeIndexer
	indexTimeout time.Duration
	obs          *observability.Observability
	logger       logger.Logger
	now          func() time.Time
	newID        func() string

	indexing sync.WaitGroup
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	s := &Service{
		config:       config,
		store:        deps.Store,
		publisher:    deps.Publisher,
		indexer:      deps.Indexer,
		indexTimeout: deps.IndexTimeout,
		obs:          deps.Observability,
		logger:       deps.Logger,
		now:          deps.Now,
		newID:        deps.NewID,
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.indexTimeout <= 0 {
		s.indexTimeout = defaultIndexTimeout
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return uuid.New().String() }
	}
	return s
}

// Execute adapts job input to UpdateStage.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	performer, err := models.ParsePerformer(input.PerformedBy)
	if err != nil {
		return nil, errors.NewInvalidPerformerError(err.Error())
	}

	upd := StageUpdate{
		Stage:  input.Stage,
		Status: input.Status,
		Notes:  input.Notes,
		Value:  input.Value,
	}
	if input.NextFollowUp != "" {
		t, err := time.Parse(time.RFC3339, input.NextFollowUp)
		if err != nil {
			return nil, errors.NewValidationFailedError(fmt.Sprintf("nextFollowUp: %v", err))
		}
		upd.NextFollowUp = &t
	}

	res, err := s.UpdateStage(ctx, input.LeadID, upd, performer)
	if err != nil {
		return nil, err
	}

	out := &Output{
		LeadID:            res.Lead.ID,
		Stage:             string(res.Lead.Stage),
		Status:            string(res.Lead.Status),
		CollegeCreated:    res.CollegeCreated,
		Converted:         res.Converted,
		ConversionWarning: res.ConversionWarning,
	}
	if res.Lead.HasCollege() {
		out.CollegeID = *res.Lead.CollegeID
	}
	return out, nil
}

// UpdateStage moves a lead to a new stage in one transaction.
//
// A stage of CONVERT or CONVERTED, or a status of CONVERTED, converts the
// lead. Conversion always writes stage and status CONVERTED and stamps
// convertedAt, discarding whatever other stage or status the caller sent.
// That override is intentional; it is logged when it changes the caller's
// values.
//
// Converting links or creates a college for the lead's organization, or
// marks an already linked college ACTIVE. Those college writes are
// best-effort: a failure becomes Result.ConversionWarning and the stage
// change still commits. Only NotFound and BadRequest errors abort before
// any write.
//
// After commit, a lead event is published when stage or status changed and
// the lead has an email, and the converted lead's college is sent to the
// indexer when one is configured.
func (s *Service) UpdateStage(ctx context.Context, leadID string, upd StageUpdate, by models.Performer) (*Result, error) {
	if _, err := uuid.Parse(leadID); err != nil {
		return nil, errors.NewInvalidIdentifierError("leadId", leadID)
	}
	if !by.Valid() {
		return nil, errors.NewInvalidPerformerError("performedBy is required")
	}
	stage, err := models.ParseStage(upd.Stage)
	if err != nil {
		return nil, errors.NewInvalidStageError(err)
	}
	var status *models.Status
	if upd.Status != "" {
		st, err := models.ParseStatus(upd.Status)
		if err != nil {
			return nil, errors.NewInvalidStatusError(err)
		}
		status = &st
	}
	if upd.Value != nil && *upd.Value < 0 {
		return nil, errors.NewValidationFailedError("value must not be negative")
	}

	converting := stage.IsConversionMarker() || (status != nil && *status == models.StatusConverted)

	ctx, span := s.obs.StartSpan(ctx, "lead.update_stage",
		attribute.String("lead.id", leadID),
		attribute.Bool("lead.converting", converting),
	)
	defer span.End()

	log := s.logger.WithFields(map[string]interface{}{"leadId": leadID})
	now := s.now()

	var (
		res            *Result
		previousStage  models.Stage
		previousStatus models.Status
	)

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		lead, err := tx.GetLeadForUpdate(ctx, leadID)
		if stderrors.Is(err, store.ErrNotFound) {
			return errors.NewLeadNotFoundError(leadID)
		}
		if err != nil {
			return errors.NewDatabaseQueryFailedError("load lead", err)
		}

		previousStage, previousStatus = lead.Stage, lead.Status
		res = &Result{Converted: converting}

		lead.LastContactAt = &now
		lead.UpdatedAt = now
		if converting {
			if !stage.IsConversionMarker() || (status != nil && *status != models.StatusConverted) {
				fields := map[string]interface{}{"requestedStage": stage}
				if status != nil {
					fields["requestedStatus"] = *status
				}
				log.Info("conversion overrides requested stage and status", fields)
			}
			lead.Stage = models.StageConverted
			lead.Status = models.StatusConverted
			lead.ConvertedAt = &now
		} else {
			lead.Stage = stage
			if status != nil {
				lead.Status = *status
			}
		}
		if upd.Notes != "" {
			lead.Notes = upd.Notes
		}
		if upd.NextFollowUp != nil {
			t := *upd.NextFollowUp
			lead.NextFollowUp = &t
		}
		if upd.Value != nil {
			v := *upd.Value
			lead.Value = &v
		}

		var collegeNote string
		if converting {
			if lead.HasCollege() {
				s.activateCollege(ctx, tx, lead, res, now)
			} else {
				collegeNote = s.linkCollege(ctx, tx, lead, res, now)
			}
		}

		if err := tx.UpdateLead(ctx, lead); err != nil {
			if stderrors.Is(err, store.ErrNotFound) {
				return errors.NewLeadNotFoundError(leadID)
			}
			return errors.NewDatabaseQueryFailedError("update lead", err)
		}

		description := fmt.Sprintf("Stage changed from %s to %s", previousStage, lead.Stage)
		if converting {
			description += " (lead converted)"
		}
		if err := tx.AppendActivity(ctx, s.activity(lead.ID, models.ActivityStageChange, description, upd.Notes, by, now)); err != nil {
			return errors.NewDatabaseQueryFailedError("append stage change", err)
		}

		if collegeNote != "" {
			noteErr := tx.Savepoint(ctx, savepointCollegeNote, func() error {
				return tx.AppendActivity(ctx, s.activity(lead.ID, models.ActivityNote, collegeNote, "", models.System, now))
			})
			if noteErr != nil {
				log.Warn("college note not recorded", map[string]interface{}{"error": noteErr})
			}
		}

		res.Lead = lead
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if _, ok := errors.AsStandardError(err); ok {
			return nil, err
		}
		return nil, errors.NewDatabaseTxFailedError(err)
	}

	if converting {
		metrics.LeadConversions.WithLabelValues(conversionOutcome(res)).Inc()
	}
	if res.ConversionWarning != "" {
		log.Warn("conversion completed with warning", map[string]interface{}{
			"warning": res.ConversionWarning,
		})
	}

	s.publish(ctx, log, res, previousStage, previousStatus, now)
	if converting {
		s.indexCollege(ctx, log, res.College)
	}
	return res, nil
}

// Wait blocks until background college indexing has finished.
func (s *Service) Wait() {
	s.indexing.Wait()
}

func (s *Service) indexCollege(ctx context.Context, log logger.Logger, college *models.College) {
	if s.indexer == nil || college == nil {
		return
	}
	c := *college

	s.indexing.Add(1)
	go func() {
		defer s.indexing.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error("college indexing panicked", map[string]interface{}{"collegeId": c.ID, "panic": r})
			}
		}()

		indexCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.indexTimeout)
		defer cancel()
		if err := s.indexer.IndexCollege(indexCtx, &c); err != nil {
			log.Warn("converted college not indexed", map[string]interface{}{"collegeId": c.ID, "error": err})
		}
	}()
}

// linkCollege points the lead at an existing college matching its
// organization or creates one. It returns the NOTE to append after the
// stage change, or "" when nothing was linked.
func (s *Service) linkCollege(ctx context.Context, tx store.Tx, lead *models.Lead, res *Result, now time.Time) string {
	if matching.Normalize(lead.Organization) == "" {
		res.ConversionWarning = warnNoOrganization
		return ""
	}

	var (
		college *models.College
		created bool
	)
	err := tx.Savepoint(ctx, savepointCreateCollege, func() error {
		found, tier, err := matching.NewFinder(tx, s.config.MaxCandidates).FindCollegeByName(ctx, lead.Organization)
		if err != nil {
			return err
		}
		metrics.CollegeMatches.WithLabelValues(string(tier)).Inc()
		if found != nil {
			college = found
			return nil
		}

		c := models.NewProspectiveCollege(s.newID(), lead, now)
		inserted, err := tx.CreateCollege(ctx, c)
		if err != nil {
			return err
		}
		college, created = c, inserted
		return nil
	})
	if err != nil {
		res.ConversionWarning = fmt.Sprintf("college could not be created: %v", err)
		return ""
	}

	id := college.ID
	lead.CollegeID = &id
	res.College = college
	res.CollegeCreated = created

	if created {
		return fmt.Sprintf("College %s created from lead conversion", college.Name)
	}
	return fmt.Sprintf("Linked to existing college %s", college.Name)
}

// activateCollege marks the lead's college ACTIVE and records the NOTE in
// the same savepoint. collegeId on the lead is left as is.
func (s *Service) activateCollege(ctx context.Context, tx store.Tx, lead *models.Lead, res *Result, now time.Time) {
	var college *models.College
	err := tx.Savepoint(ctx, savepointActivateCollege, func() error {
		c, err := tx.ActivateCollege(ctx, *lead.CollegeID, now)
		if err != nil {
			return err
		}
		college = c
		note := fmt.Sprintf("College %s automatically marked ACTIVE on conversion", c.Name)
		return tx.AppendActivity(ctx, s.activity(lead.ID, models.ActivityNote, note, "", models.System, now))
	})
	if err != nil {
		res.ConversionWarning = fmt.Sprintf("college could not be activated: %v", err)
		return
	}
	res.College = college
	res.CollegeActivated = true
}

func (s *Service) activity(leadID string, typ models.ActivityType, description, notes string, by models.Performer, at time.Time) *models.LeadActivity {
	return &models.LeadActivity{
		ID:          s.newID(),
		LeadID:      leadID,
		Type:        typ,
		Description: description,
		Notes:       notes,
		PerformedBy: by,
		CreatedAt:   at,
	}
}

func (s *Service) publish(ctx context.Context, log logger.Logger, res *Result, previousStage models.Stage, previousStatus models.Status, now time.Time) {
	lead := res.Lead
	var triggers []models.TriggerType
	if lead.Stage != previousStage {
		triggers = append(triggers, models.TriggerStageChanged)
	}
	if lead.Status != previousStatus {
		triggers = append(triggers, models.TriggerStatusChanged)
	}
	if len(triggers) == 0 || !lead.HasEmail() {
		return
	}
	if res.Converted {
		triggers = append(triggers, models.TriggerConverted)
	}

	event := events.NewLeadEvent(s.newID(), lead, previousStage, previousStatus, triggers, now)
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error("lead event not published", map[string]interface{}{
			"eventId": event.ID,
			"error":   err,
		})
	}
}

func conversionOutcome(res *Result) string {
	switch {
	case res.ConversionWarning != "":
		return "warning"
	case res.CollegeCreated:
		return "created"
	case res.CollegeActivated:
		return "activated"
	case res.College != nil:
		return "linked"
	}
	return "skipped"
}
