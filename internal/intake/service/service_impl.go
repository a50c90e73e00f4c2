package service

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/instructorledger/internal/clock"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/split"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Clock        clock.Clock
	Policy       *config.PolicyHolder
	Compensation compdomain.Service
	Ledger       ledgerdomain.Service
}

type Service struct {
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyHolder
	compensation compdomain.Service
	ledger       ledgerdomain.Service
	validate     *validator.Validate
}

func NewService(p Params) domain.Service {
	return &Service{
		log:          p.Log.Named("intake.service"),
		clock:        p.Clock,
		policy:       p.Policy,
		compensation: p.Compensation,
		ledger:       p.Ledger,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

// RecordLesson splits a completed lesson under the profile in force at completion.
// A lesson that was already split returns the stored split with Duplicate set.
func (s *Service) RecordLesson(ctx context.Context, evt domain.LessonCompleted) (domain.Result, error) {
	evt.LessonID = strings.TrimSpace(evt.LessonID)
	evt.InstructorID = strings.TrimSpace(evt.InstructorID)
	evt.StudentID = strings.TrimSpace(evt.StudentID)
	evt.CollectedBy = strings.ToLower(strings.TrimSpace(evt.CollectedBy))
	if err := s.validate.Struct(evt); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return domain.Result{}, fieldError(fieldErrs[0])
		}
		return domain.Result{}, domain.ErrValidation
	}

	if existing, err := s.ledger.GetSplitByLesson(ctx, evt.LessonID); err == nil {
		return domain.Result{Split: existing, Duplicate: true}, nil
	} else if !errors.Is(err, ledgerdomain.ErrSplitNotFound) {
		return domain.Result{}, err
	}

	profile, err := s.compensation.Resolve(ctx, evt.InstructorID, evt.CompletedAt)
	if err != nil {
		if errors.Is(err, compdomain.ErrProfileNotFound) {
			s.log.Error("intake.profile_missing",
				zap.String("lesson_id", evt.LessonID),
				zap.String("instructor_id", evt.InstructorID),
				zap.Time("completed_at", evt.CompletedAt),
			)
		}
		return domain.Result{}, err
	}

	computed, err := split.Compute(split.Lesson{
		LessonID:     evt.LessonID,
		InstructorID: evt.InstructorID,
		StudentID:    evt.StudentID,
		TotalPrice:   evt.TotalPrice,
		Currency:     s.policy.Get().Currency,
		CollectedBy:  ledgerdomain.CollectedBy(evt.CollectedBy),
		CompletedAt:  evt.CompletedAt,
	}, profile, s.clock.Now())
	if err != nil {
		return domain.Result{}, err
	}

	recorded, err := s.ledger.RecordSplit(ctx, computed)
	if errors.Is(err, ledgerdomain.ErrDuplicateSplit) {
		existing, getErr := s.ledger.GetSplitByLesson(ctx, evt.LessonID)
		if getErr != nil {
			return domain.Result{}, getErr
		}
		s.log.Debug("intake.duplicate_lesson", zap.String("lesson_id", evt.LessonID))
		return domain.Result{Split: existing, Duplicate: true}, nil
	}
	if err != nil {
		return domain.Result{}, err
	}
	return domain.Result{Split: recorded}, nil
}

func (s *Service) ChangeProfile(ctx context.Context, evt domain.CompensationProfileChanged) error {
	terms, err := compdomain.TermsFrom(compdomain.ModelKind(strings.TrimSpace(evt.ModelKind)), evt.Params)
	if err != nil {
		return err
	}
	profile, err := s.compensation.SetProfile(ctx, compdomain.SetProfileRequest{
		InstructorID:  strings.TrimSpace(evt.InstructorID),
		Terms:         terms,
		EffectiveFrom: evt.EffectiveFrom,
		CreatedBy:     strings.TrimSpace(evt.CreatedBy),
	})
	if err != nil {
		return err
	}
	s.log.Info("intake.profile_changed",
		zap.String("instructor_id", profile.InstructorID),
		zap.String("model_kind", string(profile.Kind())),
		zap.Time("effective_from", profile.EffectiveFrom),
	)
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Field() {
	case "LessonID":
		return domain.ErrInvalidLesson
	case "InstructorID":
		return domain.ErrInvalidInstructor
	case "StudentID":
		return domain.ErrInvalidStudent
	case "CompletedAt":
		return domain.ErrInvalidCompletedAt
	case "TotalPrice":
		return domain.ErrInvalidTotalPrice
	case "CollectedBy":
		return domain.ErrInvalidCollectedBy
	default:
		return domain.ErrValidation
	}
}
