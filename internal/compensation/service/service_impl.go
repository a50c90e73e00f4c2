package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/compensation/domain"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var maxCommissionRate = decimal.NewFromInt(50)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Outbox   eventdomain.Publisher
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	outbox   eventdomain.Publisher
	auditSvc auditdomain.Service
	validate *validator.Validate
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("compensation.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SetProfile closes the instructor's open profile one microsecond before the
// new one starts and opens the new profile, in a single transaction. A profile
// starting before the instructor's earliest one is backfilled as a closed
// interval ending where the earliest begins.
func (s *Service) SetProfile(ctx context.Context, req domain.SetProfileRequest) (domain.Profile, error) {
	req.InstructorID = strings.TrimSpace(req.InstructorID)
	req.CreatedBy = strings.TrimSpace(req.CreatedBy)
	if err := s.validateRequest(req); err != nil {
		return domain.Profile{}, err
	}

	now := s.clock.Now().UTC()
	profile := domain.Profile{
		ID:            s.genID.Generate(),
		InstructorID:  req.InstructorID,
		Terms:         req.Terms,
		EffectiveFrom: req.EffectiveFrom.UTC(),
		CreatedBy:     req.CreatedBy,
		CreatedAt:     now,
	}

	var (
		previous *domain.ProfileRecord
		backfill bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := s.repo.LockOpen(ctx, tx, profile.InstructorID)
		if err != nil {
			return err
		}
		switch {
		case open == nil:
		case profile.EffectiveFrom.After(open.EffectiveFrom):
			closed, err := s.repo.Close(ctx, tx, open, profile.EffectiveFrom.Add(-time.Microsecond))
			if err != nil {
				return err
			}
			if !closed {
				return domain.ErrProfileConflict
			}
			previous = open
		default:
			end, err := s.backfillEnd(ctx, tx, profile)
			if err != nil {
				return err
			}
			profile.EffectiveTo = &end
			backfill = true
		}

		rec := domain.ToRecord(profile)
		if err := s.repo.Insert(ctx, tx, &rec); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrProfileConflict
			}
			return err
		}

		payload := map[string]any{
			"profile_id":     profile.ID.String(),
			"instructor_id":  profile.InstructorID,
			"model_kind":     string(profile.Kind()),
			"params":         paramsPayload(profile.Terms),
			"effective_from": profile.EffectiveFrom.Format(time.RFC3339Nano),
		}
		if previous != nil {
			payload["previous_profile_id"] = previous.ID.String()
		}
		if backfill {
			payload["effective_to"] = profile.EffectiveTo.Format(time.RFC3339Nano)
			payload["backfill"] = true
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:     "compensation.profile_set",
				TargetType: "compensation_profile",
				TargetID:   profile.ID.String(),
				Metadata:   payload,
			}); err != nil {
				return err
			}
		}

		return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeCompensationProfileChanged,
			AggregateType: "compensation_profile",
			AggregateID:   profile.ID.String(),
			Payload:       payload,
		})
	})
	if err != nil {
		return domain.Profile{}, err
	}

	fields := []zap.Field{
		zap.String("instructor_id", profile.InstructorID),
		zap.String("profile_id", profile.ID.String()),
		zap.String("model_kind", string(profile.Kind())),
		zap.Time("effective_from", profile.EffectiveFrom),
	}
	if previous != nil {
		fields = append(fields, zap.String("previous_profile_id", previous.ID.String()))
	}
	if backfill {
		fields = append(fields, zap.Time("effective_to", *profile.EffectiveTo))
	}
	s.log.Info("compensation.profile_set", fields...)

	return profile, nil
}

// backfillEnd returns the end of a profile inserted ahead of the timeline, or
// ErrInvalidEffectiveFrom when it would overlap an existing profile.
func (s *Service) backfillEnd(ctx context.Context, tx *gorm.DB, profile domain.Profile) (time.Time, error) {
	rows, err := s.repo.ListByInstructor(ctx, tx, profile.InstructorID)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 || !profile.EffectiveFrom.Before(rows[0].EffectiveFrom) {
		return time.Time{}, domain.ErrInvalidEffectiveFrom
	}
	return rows[0].EffectiveFrom.UTC().Add(-time.Microsecond), nil
}

func (s *Service) Resolve(ctx context.Context, instructorID string, at time.Time) (domain.Profile, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return domain.Profile{}, domain.ErrInvalidInstructor
	}
	rec, err := s.repo.FindAt(ctx, s.db, instructorID, at.UTC())
	if err != nil {
		return domain.Profile{}, err
	}
	if rec == nil {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return rec.ToProfile(), nil
}

func (s *Service) Current(ctx context.Context, instructorID string) (domain.Profile, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return domain.Profile{}, domain.ErrInvalidInstructor
	}
	rec, err := s.repo.FindOpen(ctx, s.db, instructorID)
	if err != nil {
		return domain.Profile{}, err
	}
	if rec == nil {
		return domain.Profile{}, domain.ErrProfileNotFound
	}
	return rec.ToProfile(), nil
}

func (s *Service) History(ctx context.Context, instructorID string) ([]domain.Profile, error) {
	instructorID = strings.TrimSpace(instructorID)
	if instructorID == "" {
		return nil, domain.ErrInvalidInstructor
	}
	rows, err := s.repo.ListByInstructor(ctx, s.db, instructorID)
	if err != nil {
		return nil, err
	}
	return toProfiles(rows), nil
}

func (s *Service) ActiveAt(ctx context.Context, at time.Time) ([]domain.Profile, error) {
	rows, err := s.repo.ListActiveAt(ctx, s.db, at.UTC())
	if err != nil {
		return nil, err
	}
	return toProfiles(rows), nil
}

func (s *Service) Instructors(ctx context.Context) ([]string, error) {
	return s.repo.ListInstructors(ctx, s.db)
}

func (s *Service) validateRequest(req domain.SetProfileRequest) error {
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fieldError(fieldErrs[0])
		}
		return err
	}
	return validateTerms(req.Terms)
}

func validateTerms(terms domain.Terms) error {
	switch t := terms.(type) {
	case domain.FreeTerms:
		return nil
	case domain.FlatFeeTerms:
		if t.MonthlyAmount < 0 || t.MonthlyAmount > 500000 {
			return domain.ErrInvalidFlatFee
		}
		return nil
	case domain.CommissionTerms:
		rate := t.RatePercent
		if rate.IsNegative() || rate.GreaterThan(maxCommissionRate) {
			return domain.ErrInvalidCommissionRate
		}
		if !rate.Equal(rate.Truncate(2)) {
			return domain.ErrInvalidCommissionRate
		}
		return nil
	default:
		return domain.ErrInvalidModelKind
	}
}

func fieldError(fe validator.FieldError) error {
	switch fe.Field() {
	case "InstructorID":
		return domain.ErrInvalidInstructor
	case "Terms":
		return domain.ErrInvalidModelKind
	case "EffectiveFrom":
		return domain.ErrMissingEffectiveFrom
	case "CreatedBy":
		return domain.ErrInvalidCreatedBy
	case "MonthlyAmount":
		return domain.ErrInvalidFlatFee
	default:
		return domain.ErrValidation
	}
}

func paramsPayload(terms domain.Terms) map[string]any {
	switch t := terms.(type) {
	case domain.FlatFeeTerms:
		return map[string]any{"monthly_amount": t.MonthlyAmount, "auto_debit": t.AutoDebit}
	case domain.CommissionTerms:
		return map[string]any{"rate_percent": t.RatePercent.String()}
	default:
		return map[string]any{}
	}
}

func toProfiles(rows []domain.ProfileRecord) []domain.Profile {
	out := make([]domain.Profile, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.ToProfile())
	}
	return out
}
