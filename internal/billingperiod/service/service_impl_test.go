package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/instructorledger/internal/billingperiod/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	comprepo "github.com/smallbiznis/instructorledger/internal/compensation/repository"
	compservice "github.com/smallbiznis/instructorledger/internal/compensation/service"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/events"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/instructorledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/instructorledger/internal/ledger/service"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var zurich = mustLoad("Europe/Zurich")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

type fixture struct {
	svc    domain.Service
	comp   compdomain.Service
	ledger ledgerdomain.Service
	db     *gorm.DB
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := db.NewTest(t)
	require.NoError(t, conn.AutoMigrate(
		&compdomain.ProfileRecord{},
		&ledgerdomain.RevenueSplit{},
		&ledgerdomain.Obligation{},
		&ledgerdomain.PayoutLine{},
		&eventdomain.LedgerEvent{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: fake})
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())

	comp := compservice.NewService(compservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: comprepo.Provide(), Outbox: outbox,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Policy: policy, Repo: ledgerrepo.Provide(), Outbox: outbox,
	})
	svc := NewService(ServiceParam{Log: zap.NewNop(), Policy: policy, Compensation: comp, Ledger: ledger})
	return fixture{svc: svc, comp: comp, ledger: ledger, db: conn}
}

func (f fixture) profile(t *testing.T, instructor string, terms compdomain.Terms, from time.Time) {
	t.Helper()
	_, err := f.comp.SetProfile(context.Background(), compdomain.SetProfileRequest{
		InstructorID: instructor, Terms: terms, EffectiveFrom: from,
	})
	require.NoError(t, err)
}

func TestPeriodHelpers(t *testing.T) {
	mid := time.Date(2025, 3, 30, 12, 0, 0, 0, time.UTC)
	start := domain.PeriodStart(mid, zurich)
	assert.Equal(t, time.Date(2025, 2, 28, 23, 0, 0, 0, time.UTC), start)
	end := domain.PeriodEnd(start, zurich)
	assert.Equal(t, time.Date(2025, 3, 31, 22, 0, 0, 0, time.UTC), end, "April starts in summer time")
	assert.Equal(t, time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC), domain.PreviousPeriodStart(mid, zurich))
	assert.Equal(t, time.Date(2025, 3, 10, 23, 0, 0, 0, time.UTC), domain.AddDays(start, 10, zurich))
}

func TestGenerateMonthlyFeesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)

	f.profile(t, "flat", compdomain.FlatFeeTerms{MonthlyAmount: 50000}, jan)
	f.profile(t, "commission", compdomain.CommissionTerms{RatePercent: decimal.NewFromInt(20)}, jan)
	f.profile(t, "free", compdomain.FreeTerms{}, jan)
	f.profile(t, "late", compdomain.FlatFeeTerms{MonthlyAmount: 40000}, feb.AddDate(0, 0, 5))

	first, err := f.svc.GenerateMonthlyFees(ctx, feb.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, feb, first.PeriodStart)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 2, first.Skipped)
	assert.Equal(t, 1, first.Missing)
	assert.Zero(t, first.Failed)

	second, err := f.svc.GenerateMonthlyFees(ctx, feb)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 1, second.Existing)

	list, err := f.ledger.List(ctx, ledgerdomain.ListObligationsRequest{Kind: ledgerdomain.KindMonthlyFee})
	require.NoError(t, err)
	require.Len(t, list.Obligations, 1)
	fee := list.Obligations[0]
	assert.Equal(t, "flat", fee.InstructorID)
	assert.Equal(t, int64(50000), fee.Amount)
	assert.True(t, fee.DueDate.Equal(time.Date(2025, 2, 10, 23, 0, 0, 0, time.UTC)))
}

func TestGenerateMonthlyFeesSkipsZeroFlatFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	feb := time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC)
	f.profile(t, "waived", compdomain.FlatFeeTerms{MonthlyAmount: 0}, feb)

	result, err := f.svc.GenerateMonthlyFees(ctx, feb)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 1, result.Skipped)

	list, err := f.ledger.List(ctx, ledgerdomain.ListObligationsRequest{Kind: ledgerdomain.KindMonthlyFee})
	require.NoError(t, err)
	assert.Empty(t, list.Obligations)
}

func TestAccumulatePayoutsSumsSchoolCollectedSplits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jan := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)

	record := func(lesson, instructor string, gross, school int64, by ledgerdomain.CollectedBy, at time.Time) {
		_, err := f.ledger.RecordSplit(ctx, ledgerdomain.RevenueSplit{
			LessonID: lesson, InstructorID: instructor, ModelKind: "commission",
			GrossAmount: gross, SchoolShare: school, NetInstructor: gross - school,
			CollectedBy: by, CompletedAt: at,
		})
		require.NoError(t, err)
	}
	record("l1", "ins-1", 9000, 1800, ledgerdomain.CollectedBySchool, jan.AddDate(0, 0, 3))
	record("l2", "ins-1", 5000, 1000, ledgerdomain.CollectedBySchool, jan.AddDate(0, 0, 20))
	record("l3", "ins-1", 7000, 1400, ledgerdomain.CollectedByInstructor, jan.AddDate(0, 0, 21))
	record("l4", "ins-2", 3000, 3000, ledgerdomain.CollectedBySchool, jan.AddDate(0, 0, 4))
	record("l5", "ins-2", 6000, 0, ledgerdomain.CollectedBySchool, jan.AddDate(0, 1, 2))

	result, err := f.svc.AccumulatePayouts(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created, "zero totals are skipped")
	assert.Equal(t, int64(11200), result.Amount)

	again, err := f.svc.AccumulatePayouts(ctx, jan)
	require.NoError(t, err)
	assert.Zero(t, again.Created)

	list, err := f.ledger.List(ctx, ledgerdomain.ListObligationsRequest{Kind: ledgerdomain.KindInstructorPayout})
	require.NoError(t, err)
	require.Len(t, list.Obligations, 1)
	payout := list.Obligations[0]
	assert.Equal(t, "ins-1", payout.InstructorID)
	assert.True(t, payout.DueDate.Equal(time.Date(2025, 2, 10, 23, 0, 0, 0, time.UTC)))
}
