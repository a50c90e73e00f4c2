package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const periodLayout = "2006-01"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       domain.Repository
	Outbox     eventdomain.Publisher
	AuditSvc   auditdomain.Service  `optional:"true"`
	Resetter   domain.StateResetter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       domain.Repository
	outbox     eventdomain.Publisher
	auditSvc   auditdomain.Service
	resetter   domain.StateResetter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		outbox:     p.Outbox,
		auditSvc:   p.AuditSvc,
		resetter:   p.Resetter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) RecordSplit(ctx context.Context, split domain.RevenueSplit) (domain.RevenueSplit, error) {
	split.LessonID = strings.TrimSpace(split.LessonID)
	if split.LessonID == "" {
		return domain.RevenueSplit{}, domain.ErrInvalidLesson
	}
	split.InstructorID = strings.TrimSpace(split.InstructorID)
	if split.InstructorID == "" {
		return domain.RevenueSplit{}, domain.ErrInvalidInstructor
	}
	if split.GrossAmount < 0 || split.SchoolShare < 0 || split.NetInstructor < 0 ||
		split.SchoolShare+split.NetInstructor != split.GrossAmount {
		return domain.RevenueSplit{}, domain.ErrInvalidAmount
	}
	if split.CollectedBy == "" {
		split.CollectedBy = domain.CollectedBySchool
	}
	if !split.CollectedBy.Valid() {
		return domain.RevenueSplit{}, domain.ErrInvalidCollectedBy
	}
	if split.ID == 0 {
		split.ID = s.genID.Generate()
	}
	if split.Currency == "" {
		split.Currency = s.policy.Get().Currency
	}
	if split.ComputedAt.IsZero() {
		split.ComputedAt = s.clock.Now()
	}
	split.CompletedAt = split.CompletedAt.UTC()
	split.ComputedAt = split.ComputedAt.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertSplit(ctx, tx, &split)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateSplit
		}
		return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeRevenueSplitComputed,
			AggregateType: "revenue_split",
			AggregateID:   split.ID.String(),
			Payload: map[string]any{
				"split_id":                split.ID.String(),
				"lesson_id":               split.LessonID,
				"instructor_id":           split.InstructorID,
				"compensation_profile_id": split.CompensationProfileID.String(),
				"model_kind":              split.ModelKind,
				"gross_amount":            split.GrossAmount,
				"school_share":            split.SchoolShare,
				"net_instructor":          split.NetInstructor,
				"currency":                split.Currency,
				"collected_by":            string(split.CollectedBy),
				"completed_at":            split.CompletedAt.Format(time.RFC3339Nano),
			},
		})
	})
	if err != nil {
		return domain.RevenueSplit{}, err
	}

	s.obsMetrics.RecordRevenueSplit(ctx, split.ModelKind, split.GrossAmount)
	s.log.Info("ledger.split_recorded",
		zap.String("lesson_id", split.LessonID),
		zap.String("instructor_id", split.InstructorID),
		zap.String("model_kind", split.ModelKind),
		zap.Int64("gross_amount", split.GrossAmount),
		zap.Int64("school_share", split.SchoolShare),
	)
	return split, nil
}

func (s *Service) GetSplitByLesson(ctx context.Context, lessonID string) (domain.RevenueSplit, error) {
	lessonID = strings.TrimSpace(lessonID)
	if lessonID == "" {
		return domain.RevenueSplit{}, domain.ErrInvalidLesson
	}
	split, err := s.repo.FindSplitByLesson(ctx, s.db, lessonID)
	if err != nil {
		return domain.RevenueSplit{}, err
	}
	if split == nil {
		return domain.RevenueSplit{}, domain.ErrSplitNotFound
	}
	return *split, nil
}

func (s *Service) ListSplits(ctx context.Context, filter domain.SplitFilter) ([]domain.RevenueSplit, error) {
	if filter.From != nil && filter.To != nil && !filter.From.Before(*filter.To) {
		return nil, domain.ErrInvalidTimeRange
	}
	return s.repo.ListSplits(ctx, s.db, filter)
}

func (s *Service) CreateMonthlyFee(ctx context.Context, req domain.CreateMonthlyFeeRequest) (domain.Obligation, error) {
	instructorID := strings.TrimSpace(req.InstructorID)
	if instructorID == "" {
		return domain.Obligation{}, domain.ErrInvalidInstructor
	}
	if req.Amount < 0 {
		return domain.Obligation{}, domain.ErrInvalidAmount
	}
	if req.PeriodMonth.IsZero() {
		return domain.Obligation{}, domain.ErrInvalidPeriod
	}
	if req.DueDate.IsZero() {
		return domain.Obligation{}, domain.ErrInvalidDueDate
	}

	obligation := s.newObligation(domain.KindMonthlyFee, instructorID, req.PeriodMonth, req.Amount, req.DueDate)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertObligation(ctx, tx, &obligation)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateObligation
		}
		return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeMonthlyFeeCreated,
			AggregateType: "obligation",
			AggregateID:   obligation.ID.String(),
			Payload:       s.obligationPayload(obligation),
		})
	})
	if err != nil {
		return domain.Obligation{}, err
	}

	s.obsMetrics.RecordObligationCreated(ctx, string(obligation.Kind))
	s.log.Info("ledger.monthly_fee_created",
		zap.String("obligation_id", obligation.ID.String()),
		zap.String("instructor_id", instructorID),
		zap.String("period", s.formatPeriod(obligation.PeriodMonth)),
		zap.Int64("amount", obligation.Amount),
	)
	return obligation, nil
}

func (s *Service) ListPayoutCandidates(ctx context.Context, before time.Time) ([]domain.PayoutCandidate, error) {
	return s.repo.ListPayoutCandidates(ctx, s.db, before)
}

// CreatePayout books what the school owes an instructor for the given splits.
// The splits must still be unpaid-out and their net total must equal Amount.
func (s *Service) CreatePayout(ctx context.Context, req domain.CreatePayoutRequest) (domain.Obligation, error) {
	instructorID := strings.TrimSpace(req.InstructorID)
	if instructorID == "" {
		return domain.Obligation{}, domain.ErrInvalidInstructor
	}
	splitIDs := uniqueIDs(req.SplitIDs)
	if len(splitIDs) == 0 {
		return domain.Obligation{}, domain.ErrInvalidSplits
	}
	if req.Amount <= 0 {
		return domain.Obligation{}, domain.ErrInvalidAmount
	}
	if req.PeriodMonth.IsZero() {
		return domain.Obligation{}, domain.ErrInvalidPeriod
	}
	if req.DueDate.IsZero() {
		return domain.Obligation{}, domain.ErrInvalidDueDate
	}

	obligation := s.newObligation(domain.KindInstructorPayout, instructorID, req.PeriodMonth, req.Amount, req.DueDate)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidates, err := s.repo.FindPayoutCandidates(ctx, tx, splitIDs, instructorID)
		if err != nil {
			return err
		}
		if len(candidates) != len(splitIDs) {
			return domain.ErrSplitAlreadyPaidOut
		}
		var total int64
		for _, c := range candidates {
			total += c.NetInstructor
		}
		if total != req.Amount {
			return domain.ErrInvalidAmount
		}

		inserted, err := s.repo.InsertObligation(ctx, tx, &obligation)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateObligation
		}

		lines := make([]domain.PayoutLine, 0, len(candidates))
		for _, c := range candidates {
			lines = append(lines, domain.PayoutLine{
				SplitID:      c.SplitID,
				ObligationID: obligation.ID,
				Amount:       c.NetInstructor,
				CreatedAt:    obligation.CreatedAt,
			})
		}
		if err := s.repo.InsertPayoutLines(ctx, tx, lines); err != nil {
			return err
		}

		payload := s.obligationPayload(obligation)
		payload["split_count"] = len(lines)
		return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeInstructorPayoutCreated,
			AggregateType: "obligation",
			AggregateID:   obligation.ID.String(),
			Payload:       payload,
		})
	})
	if err != nil {
		return domain.Obligation{}, err
	}

	s.obsMetrics.RecordObligationCreated(ctx, string(obligation.Kind))
	s.log.Info("ledger.payout_created",
		zap.String("obligation_id", obligation.ID.String()),
		zap.String("instructor_id", instructorID),
		zap.String("period", s.formatPeriod(obligation.PeriodMonth)),
		zap.Int64("amount", obligation.Amount),
		zap.Int("splits", len(splitIDs)),
	)
	return obligation, nil
}

var errSkip = errors.New("skip")

// MarkOverdue moves pending obligations whose due date is before now to overdue.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	candidates, err := s.repo.ListPendingPastDue(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, candidate := range candidates {
		_, err := s.transition(ctx, candidate.ID, domain.StatusOverdue,
			func(o domain.Obligation) (domain.StatusChange, error) {
				if !now.After(o.DueDate) {
					return domain.StatusChange{}, errSkip
				}
				return domain.StatusChange{}, nil
			},
			func(tx *gorm.DB, o domain.Obligation) error {
				return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
					Type:          eventdomain.TypeObligationOverdue,
					AggregateType: "obligation",
					AggregateID:   o.ID.String(),
					Payload:       s.obligationPayload(o),
				})
			},
		)
		switch {
		case err == nil:
			moved++
			s.obsMetrics.RecordObligationTransition(ctx, string(candidate.Kind), string(domain.StatusOverdue), 1)
		case errors.Is(err, errSkip), errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrencyConflict):
			s.log.Debug("ledger.overdue_skipped",
				zap.String("obligation_id", candidate.ID.String()),
				zap.Error(err),
			)
		default:
			return moved, err
		}
	}

	if moved > 0 {
		s.log.Info("ledger.overdue_marked", zap.Int("count", moved), zap.Time("now", now))
	}
	return moved, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (domain.Obligation, error) {
	if req.ObligationID == 0 {
		return domain.Obligation{}, domain.ErrObligationNotFound
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Obligation{}, domain.ErrReasonRequired
	}
	actor := strings.TrimSpace(req.Actor)

	updated, err := s.transition(ctx, req.ObligationID, domain.StatusCancelled,
		func(o domain.Obligation) (domain.StatusChange, error) {
			now := s.clock.Now().UTC()
			change := domain.StatusChange{CancelReason: &reason, CancelledAt: &now}
			if actor != "" {
				change.CancelledBy = &actor
			}
			return change, nil
		},
		func(tx *gorm.DB, o domain.Obligation) error {
			if err := s.reset(ctx, tx, o.ID); err != nil {
				return err
			}
			payload := s.obligationPayload(o)
			payload["reason"] = reason
			if o.Kind == domain.KindInstructorPayout {
				released, err := s.repo.ReleasePayoutLines(ctx, tx, o.ID)
				if err != nil {
					return err
				}
				payload["released_splits"] = released
			}
			if err := s.audit(ctx, tx, "obligation.cancelled", o.ID, payload); err != nil {
				return err
			}
			return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
				Type:          eventdomain.TypeObligationCancelled,
				AggregateType: "obligation",
				AggregateID:   o.ID.String(),
				Payload:       payload,
			})
		},
	)
	if err != nil {
		return domain.Obligation{}, err
	}

	s.obsMetrics.RecordObligationTransition(ctx, string(updated.Kind), string(domain.StatusCancelled), 1)
	s.log.Info("ledger.obligation_cancelled",
		zap.String("obligation_id", updated.ID.String()),
		zap.String("actor", actor),
	)
	return updated, nil
}

func (s *Service) MarkPaid(ctx context.Context, req domain.MarkPaidRequest) (domain.Obligation, error) {
	if req.ObligationID == 0 {
		return domain.Obligation{}, domain.ErrObligationNotFound
	}
	if !req.Method.Valid() {
		return domain.Obligation{}, domain.ErrInvalidPaymentMethod
	}
	if req.PaidAt.IsZero() {
		return domain.Obligation{}, domain.ErrInvalidPaidAt
	}
	paidAt := req.PaidAt.UTC()
	method := req.Method

	updated, err := s.transition(ctx, req.ObligationID, domain.StatusPaid,
		func(o domain.Obligation) (domain.StatusChange, error) {
			return domain.StatusChange{PaidAt: &paidAt, PaymentMethod: &method}, nil
		},
		func(tx *gorm.DB, o domain.Obligation) error {
			if err := s.reset(ctx, tx, o.ID); err != nil {
				return err
			}
			payload := s.obligationPayload(o)
			payload["paid_at"] = paidAt.Format(time.RFC3339Nano)
			payload["payment_method"] = string(method)
			if err := s.audit(ctx, tx, "obligation.paid", o.ID, payload); err != nil {
				return err
			}
			return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
				Type:          eventdomain.TypeObligationPaid,
				AggregateType: "obligation",
				AggregateID:   o.ID.String(),
				Payload:       payload,
			})
		},
	)
	if err != nil {
		return domain.Obligation{}, err
	}

	s.obsMetrics.RecordObligationTransition(ctx, string(updated.Kind), string(domain.StatusPaid), 1)
	s.obsMetrics.RecordSettlement(ctx, string(method), updated.Amount)
	s.log.Info("ledger.obligation_paid",
		zap.String("obligation_id", updated.ID.String()),
		zap.String("payment_method", string(method)),
		zap.Int64("amount", updated.Amount),
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Obligation, error) {
	if id == 0 {
		return domain.Obligation{}, domain.ErrObligationNotFound
	}
	o, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Obligation{}, err
	}
	if o == nil {
		return domain.Obligation{}, domain.ErrObligationNotFound
	}
	return *o, nil
}

func (s *Service) List(ctx context.Context, req domain.ListObligationsRequest) (domain.ListObligationsResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return domain.ListObligationsResponse{}, domain.ErrInvalidStatus
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return domain.ListObligationsResponse{}, domain.ErrInvalidKind
	}

	var period *time.Time
	if raw := strings.TrimSpace(req.PeriodMonth); raw != "" {
		start, err := ParsePeriod(raw, s.policy.Get().Location())
		if err != nil {
			return domain.ListObligationsResponse{}, err
		}
		period = &start
	}

	var cursor *domain.ObligationCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListObligationsResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListObligationsResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListObligationsResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.ObligationCursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	items, err := s.repo.List(ctx, s.db, domain.ObligationFilter{
		InstructorID: req.InstructorID,
		Status:       req.Status,
		Kind:         req.Kind,
		PeriodMonth:  period,
		Cursor:       cursor,
		Limit:        limit,
	})
	if err != nil {
		return domain.ListObligationsResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(item *domain.Obligation) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	out := make([]domain.Obligation, 0, len(items))
	for _, item := range items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return domain.ListObligationsResponse{PageInfo: pageInfo, Obligations: out}, nil
}

// ParsePeriod turns "YYYY-MM" into the UTC instant of that month's start in loc.
func ParsePeriod(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(periodLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, domain.ErrInvalidPeriod
	}
	return t.UTC(), nil
}

// transition applies one version-guarded status change. A lost race is
// retried once from a fresh read before ErrConcurrencyConflict is returned.
func (s *Service) transition(
	ctx context.Context,
	id snowflake.ID,
	to domain.ObligationStatus,
	build func(o domain.Obligation) (domain.StatusChange, error),
	after func(tx *gorm.DB, o domain.Obligation) error,
) (domain.Obligation, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var (
			updated  domain.Obligation
			conflict bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			if current == nil {
				return domain.ErrObligationNotFound
			}
			if !domain.CanTransition(current.Status, to) {
				return domain.ErrInvalidTransition
			}

			change, err := build(*current)
			if err != nil {
				return err
			}
			change.ID = current.ID
			change.ExpectedVersion = current.Version
			change.From = current.Status
			change.To = to
			change.UpdatedAt = s.clock.Now().UTC()

			ok, err := s.repo.UpdateStatus(ctx, tx, change)
			if err != nil {
				return err
			}
			if !ok {
				conflict = true
				return nil
			}

			fresh, err := s.repo.FindByID(ctx, tx, id)
			if err != nil {
				return err
			}
			updated = *fresh
			return after(tx, updated)
		})
		if err != nil {
			return domain.Obligation{}, err
		}
		if !conflict {
			return updated, nil
		}
		s.log.Debug("ledger.version_conflict",
			zap.String("obligation_id", id.String()),
			zap.Int("attempt", attempt+1),
		)
	}
	return domain.Obligation{}, domain.ErrConcurrencyConflict
}

func (s *Service) newObligation(kind domain.ObligationKind, instructorID string, period time.Time, amount int64, due time.Time) domain.Obligation {
	now := s.clock.Now().UTC()
	return domain.Obligation{
		ID:           s.genID.Generate(),
		Kind:         kind,
		InstructorID: instructorID,
		PeriodMonth:  period.UTC(),
		Amount:       amount,
		Currency:     s.policy.Get().Currency,
		DueDate:      due.UTC(),
		Status:       domain.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (s *Service) reset(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	if s.resetter == nil {
		return nil
	}
	return s.resetter.Reset(ctx, tx, []snowflake.ID{id})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, action string, id snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		Action:     action,
		TargetType: "obligation",
		TargetID:   id.String(),
		Metadata:   metadata,
	})
}

func (s *Service) obligationPayload(o domain.Obligation) map[string]any {
	return map[string]any{
		"obligation_id": o.ID.String(),
		"kind":          string(o.Kind),
		"instructor_id": o.InstructorID,
		"period":        s.formatPeriod(o.PeriodMonth),
		"amount":        o.Amount,
		"currency":      o.Currency,
		"due_date":      o.DueDate.In(s.policy.Get().Location()).Format("2006-01-02"),
		"status":        string(o.Status),
	}
}

func (s *Service) formatPeriod(t time.Time) string {
	return t.In(s.policy.Get().Location()).Format(periodLayout)
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
