package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeWaiting
	outcomeConflict
	outcomeGone
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Outbox     eventdomain.Publisher
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	outbox     eventdomain.Publisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reminder.service"),
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// Run advances each overdue obligation of an escalating kind by at most one level.
func (s *Service) Run(ctx context.Context, now time.Time, limit int) (domain.RunResult, error) {
	policy := s.policy.Get()
	now = now.UTC()
	var result domain.RunResult

	kinds := make([]string, 0, len(policy.Reminders.Kinds))
	for _, k := range policy.Reminders.Kinds {
		if ledgerdomain.ObligationKind(k).Valid() {
			kinds = append(kinds, k)
		}
	}
	if len(kinds) == 0 {
		return result, nil
	}

	intervals := domain.Intervals{
		WarningAfter:    policy.WarningAfter(),
		SuspensionAfter: policy.SuspensionAfter(),
	}
	candidates, err := s.repo.ListDue(ctx, s.db, domain.DueQuery{
		Kinds:     kinds,
		Now:       now,
		Intervals: intervals,
		Limit:     limit,
	})
	if err != nil {
		return result, err
	}

	for _, o := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++

		level, res, err := s.advance(ctx, o.ObligationID, now, intervals)
		if err != nil {
			return result, err
		}
		switch res {
		case outcomeAdvanced:
			result.Advanced++
			if level == domain.LevelSuspensionTriggered {
				result.Suspensions++
			}
			s.obsMetrics.RecordReminderIssued(ctx, string(level))
			s.log.Info("reminder.issued",
				zap.String("obligation_id", o.ObligationID.String()),
				zap.String("instructor_id", o.InstructorID),
				zap.String("level", string(level)),
			)
		case outcomeWaiting, outcomeGone:
			result.Waiting++
		case outcomeConflict:
			result.Conflicts++
			s.log.Debug("reminder.state_conflict", zap.String("obligation_id", o.ObligationID.String()))
		}
	}
	return result, nil
}

func (s *Service) advance(ctx context.Context, id snowflake.ID, now time.Time, intervals domain.Intervals) (domain.Level, outcome, error) {
	var (
		level domain.Level
		res   outcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.ledgerRepo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if o == nil || o.Status != ledgerdomain.StatusOverdue {
			res = outcomeGone
			return nil
		}

		current, err := s.repo.Find(ctx, tx, id)
		if err != nil {
			return err
		}
		state := domain.State{ObligationID: id, Level: domain.LevelNone}
		if current != nil {
			state = *current
		}

		next, ok := domain.Next(state.Level, state.LastSentAt, now, intervals)
		if !ok {
			res = outcomeWaiting
			return nil
		}

		sentAt := now
		saved, err := s.repo.Save(ctx, tx, domain.State{
			ObligationID: id,
			Level:        next,
			LastSentAt:   &sentAt,
			Version:      state.Version + 1,
			UpdatedAt:    now,
		}, state.Version)
		if err != nil {
			return err
		}
		if !saved {
			res = outcomeConflict
			return nil
		}

		loc := s.policy.Get().Location()
		if err := s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeReminderIssued,
			AggregateType: "obligation",
			AggregateID:   id.String(),
			DedupeKey:     fmt.Sprintf("reminder:%s:%s", id.String(), next),
			Payload: map[string]any{
				"obligation_id": id.String(),
				"instructor_id": o.InstructorID,
				"kind":          string(o.Kind),
				"level":         string(next),
				"amount":        o.Amount,
				"currency":      o.Currency,
				"due_date":      o.DueDate.In(loc).Format("2006-01-02"),
				"sent_at":       now.Format(time.RFC3339),
			},
		}); err != nil {
			return err
		}
		if next == domain.LevelSuspensionTriggered {
			if err := s.outbox.PublishTx(ctx, tx, eventdomain.Event{
				Type:          eventdomain.TypeSuspensionTriggered,
				AggregateType: "instructor",
				AggregateID:   o.InstructorID,
				DedupeKey:     fmt.Sprintf("suspension:%s", id.String()),
				Payload: map[string]any{
					"instructor_id": o.InstructorID,
					"obligation_id": id.String(),
					"amount":        o.Amount,
					"currency":      o.Currency,
					"due_date":      o.DueDate.In(loc).Format("2006-01-02"),
				},
			}); err != nil {
				return err
			}
		}
		level = next
		res = outcomeAdvanced
		return nil
	})
	return level, res, err
}

// Reset returns the given obligations to LevelNone inside tx.
func (s *Service) Reset(ctx context.Context, tx *gorm.DB, obligationIDs []snowflake.ID) error {
	conn := tx
	if conn == nil {
		conn = s.db
	}
	if err := s.repo.Reset(ctx, conn, obligationIDs, s.clock.Now()); err != nil {
		return err
	}
	s.log.Debug("reminder.reset", zap.Int("obligations", len(obligationIDs)))
	return nil
}

func (s *Service) Get(ctx context.Context, obligationID snowflake.ID) (domain.State, error) {
	if obligationID == 0 {
		return domain.State{}, domain.ErrInvalidObligation
	}
	state, err := s.repo.Find(ctx, s.db, obligationID)
	if err != nil {
		return domain.State{}, err
	}
	if state == nil {
		return domain.State{ObligationID: obligationID, Level: domain.LevelNone}, nil
	}
	return *state, nil
}
