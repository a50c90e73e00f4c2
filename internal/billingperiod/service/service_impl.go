package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/billingperiod/domain"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/config"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obslogger "github.com/smallbiznis/instructorledger/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log          *zap.Logger
	Policy       *config.PolicyHolder
	Compensation compdomain.Service
	Ledger       ledgerdomain.Service
}

type Service struct {
	log          *zap.Logger
	policy       *config.PolicyHolder
	compensation compdomain.Service
	ledger       ledgerdomain.Service
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:          p.Log.Named("billingperiod.service"),
		policy:       p.Policy,
		compensation: p.Compensation,
		ledger:       p.Ledger,
	}
}

// GenerateMonthlyFees books one monthly fee per flat fee instructor for the
// period starting at periodStart. A zero flat fee books nothing. Failures for
// one instructor never stop the rest.
func (s *Service) GenerateMonthlyFees(ctx context.Context, periodStart time.Time) (domain.GenerationResult, error) {
	policy := s.policy.Get()
	loc := policy.Location()
	periodStart = domain.PeriodStart(periodStart, loc)
	dueDate := domain.AddDays(periodStart, policy.FeeGraceDays, loc)
	result := domain.GenerationResult{PeriodStart: periodStart}

	instructors, err := s.compensation.Instructors(ctx)
	if err != nil {
		return result, err
	}

	for _, instructorID := range instructors {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		log := obslogger.WithInstructor(s.log, instructorID)
		profile, err := s.compensation.Resolve(ctx, instructorID, periodStart)
		if errors.Is(err, compdomain.ErrProfileNotFound) {
			result.Missing++
			log.Warn("billingperiod.profile_missing", zap.Time("period_start", periodStart))
			continue
		}
		if err != nil {
			result.Failed++
			log.Error("billingperiod.profile_resolve_failed", zap.Error(err))
			continue
		}

		terms, ok := profile.Terms.(compdomain.FlatFeeTerms)
		if !ok || terms.MonthlyAmount <= 0 {
			result.Skipped++
			continue
		}

		_, err = s.ledger.CreateMonthlyFee(ctx, ledgerdomain.CreateMonthlyFeeRequest{
			InstructorID: instructorID,
			PeriodMonth:  periodStart,
			Amount:       terms.MonthlyAmount,
			DueDate:      dueDate,
		})
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, ledgerdomain.ErrDuplicateObligation):
			result.Existing++
		default:
			result.Failed++
			log.Error("billingperiod.monthly_fee_failed", zap.Error(err))
		}
	}

	s.log.Info("billingperiod.monthly_fees_generated",
		zap.Time("period_start", periodStart),
		zap.Int("created", result.Created),
		zap.Int("existing", result.Existing),
		zap.Int("skipped", result.Skipped),
		zap.Int("missing", result.Missing),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// AccumulatePayouts books one payout per instructor for school-collected splits
// completed before the end of the period starting at periodStart.
func (s *Service) AccumulatePayouts(ctx context.Context, periodStart time.Time) (domain.PayoutResult, error) {
	policy := s.policy.Get()
	loc := policy.Location()
	periodStart = domain.PeriodStart(periodStart, loc)
	periodEnd := domain.PeriodEnd(periodStart, loc)
	dueDate := domain.AddDays(periodEnd, policy.PayoutGraceDays, loc)
	result := domain.PayoutResult{PeriodStart: periodStart}

	candidates, err := s.ledger.ListPayoutCandidates(ctx, periodEnd)
	if err != nil {
		return result, err
	}

	type bucket struct {
		ids   []snowflake.ID
		total int64
	}
	buckets := make(map[string]*bucket)
	for _, c := range candidates {
		b, ok := buckets[c.InstructorID]
		if !ok {
			b = &bucket{}
			buckets[c.InstructorID] = b
		}
		b.ids = append(b.ids, c.SplitID)
		b.total += c.NetInstructor
	}

	instructors := make([]string, 0, len(buckets))
	for id := range buckets {
		instructors = append(instructors, id)
	}
	sort.Strings(instructors)

	for _, instructorID := range instructors {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		b := buckets[instructorID]
		if b.total <= 0 {
			continue
		}

		_, err := s.ledger.CreatePayout(ctx, ledgerdomain.CreatePayoutRequest{
			InstructorID: instructorID,
			PeriodMonth:  periodStart,
			DueDate:      dueDate,
			SplitIDs:     b.ids,
			Amount:       b.total,
		})
		switch {
		case err == nil:
			result.Created++
			result.Amount += b.total
		case errors.Is(err, ledgerdomain.ErrDuplicateObligation):
			result.Existing++
		default:
			result.Failed++
			obslogger.WithInstructor(s.log, instructorID).Error("billingperiod.payout_failed",
				zap.Int64("amount", b.total),
				zap.Error(err),
			)
		}
	}

	s.log.Info("billingperiod.payouts_accumulated",
		zap.Time("period_start", periodStart),
		zap.Int("created", result.Created),
		zap.Int("existing", result.Existing),
		zap.Int("failed", result.Failed),
		zap.Int64("amount", result.Amount),
	)
	return result, nil
}
