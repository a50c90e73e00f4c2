package service

import (
	"context"
	"sort"

	"github.com/smallbiznis/instructorledger/internal/config"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/reporting/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const periodLayout = "2006-01"

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Policy *config.PolicyHolder
	Repo   domain.Repository
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	policy *config.PolicyHolder
	repo   domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("reporting.service"),
		policy: p.Policy,
		repo:   p.Repo,
	}
}

// Summary rolls up splits completed and obligations booked within window.
func (s *Service) Summary(ctx context.Context, window domain.Window) (domain.Summary, error) {
	if err := validate(window); err != nil {
		return domain.Summary{}, err
	}

	splits, err := s.repo.SplitTotals(ctx, s.db, window.From, window.To)
	if err != nil {
		return domain.Summary{}, err
	}
	groups, err := s.repo.ObligationTotals(ctx, s.db, window.From, window.To)
	if err != nil {
		return domain.Summary{}, err
	}

	summary := domain.Summary{
		Window:       domain.Window{From: window.From.UTC(), To: window.To.UTC()},
		Currency:     s.policy.Get().Currency,
		GrossRevenue: splits.GrossAmount,
		SchoolShare:  splits.SchoolShare,
		Lessons:      splits.Lessons,
		ByKind:       make(map[string]domain.StatusTotals),
	}
	for _, g := range groups {
		kindTotals := summary.ByKind[g.Kind]
		addStatus(&kindTotals, g.Status, g.Amount)
		summary.ByKind[g.Kind] = kindTotals
		addStatus(&summary.Obligations, g.Status, g.Amount)

		if g.Kind == string(ledgerdomain.KindMonthlyFee) && g.Status == string(ledgerdomain.StatusPaid) {
			summary.SchoolShare += g.Amount
		}
	}
	summary.NetToInstructors = summary.GrossRevenue - summary.SchoolShare

	s.log.Debug("reporting.summary",
		zap.Time("from", summary.Window.From),
		zap.Time("to", summary.Window.To),
		zap.Int64("gross_revenue", summary.GrossRevenue),
	)
	return summary, nil
}

// Export returns one row per month and instructor, ordered by period then instructor.
func (s *Service) Export(ctx context.Context, window domain.Window) ([]domain.ExportRow, error) {
	if err := validate(window); err != nil {
		return nil, err
	}
	loc := s.policy.Get().Location()

	splits, err := s.repo.Splits(ctx, s.db, window.From, window.To)
	if err != nil {
		return nil, err
	}
	obligations, err := s.repo.Obligations(ctx, s.db, window.From, window.To)
	if err != nil {
		return nil, err
	}

	type key struct{ period, instructor string }
	rows := make(map[key]*domain.ExportRow)
	row := func(period, instructor string) *domain.ExportRow {
		k := key{period, instructor}
		r, ok := rows[k]
		if !ok {
			r = &domain.ExportRow{Period: period, InstructorID: instructor}
			rows[k] = r
		}
		return r
	}

	for _, sp := range splits {
		r := row(sp.CompletedAt.In(loc).Format(periodLayout), sp.InstructorID)
		r.GrossRevenue += sp.GrossAmount
		r.SchoolShare += sp.SchoolShare
	}
	for _, o := range obligations {
		r := row(o.PeriodMonth.In(loc).Format(periodLayout), o.InstructorID)
		switch ledgerdomain.ObligationStatus(o.Status) {
		case ledgerdomain.StatusPaid:
			r.ObligationsPaid += o.Amount
			if o.Kind == string(ledgerdomain.KindMonthlyFee) {
				r.SchoolShare += o.Amount
			}
		case ledgerdomain.StatusPending, ledgerdomain.StatusOverdue:
			r.ObligationsUnpaid += o.Amount
		}
	}

	out := make([]domain.ExportRow, 0, len(rows))
	for _, r := range rows {
		r.Net = r.GrossRevenue - r.SchoolShare
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Period != out[j].Period {
			return out[i].Period < out[j].Period
		}
		return out[i].InstructorID < out[j].InstructorID
	})
	return out, nil
}

func validate(window domain.Window) error {
	if window.From.IsZero() || window.To.IsZero() || !window.From.Before(window.To) {
		return domain.ErrInvalidWindow
	}
	return nil
}

func addStatus(t *domain.StatusTotals, status string, amount int64) {
	switch ledgerdomain.ObligationStatus(status) {
	case ledgerdomain.StatusPaid:
		t.Paid += amount
	case ledgerdomain.StatusPending, ledgerdomain.StatusOverdue:
		t.Unpaid += amount
	case ledgerdomain.StatusCancelled:
		t.Cancelled += amount
	}
}
