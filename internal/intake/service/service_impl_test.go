package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/instructorledger/internal/clock"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	comprepo "github.com/smallbiznis/instructorledger/internal/compensation/repository"
	compservice "github.com/smallbiznis/instructorledger/internal/compensation/service"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/events"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/instructorledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/instructorledger/internal/ledger/service"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var jan = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc    domain.Service
	ledger ledgerdomain.Service
	comp   compdomain.Service
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
	fake := clock.NewFakeClock(jan.AddDate(0, 2, 0))
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: fake})
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())

	comp := compservice.NewService(compservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: comprepo.Provide(), Outbox: outbox,
	})
	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Policy: policy, Repo: ledgerrepo.Provide(), Outbox: outbox,
	})
	svc := NewService(Params{Log: zap.NewNop(), Clock: fake, Policy: policy, Compensation: comp, Ledger: ledger})
	return fixture{svc: svc, ledger: ledger, comp: comp, db: conn}
}

func rate(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func lesson(id string, at time.Time, price int64) domain.LessonCompleted {
	return domain.LessonCompleted{LessonID: id, InstructorID: "ins-1", StudentID: "stu-1", CompletedAt: at, TotalPrice: price}
}

func TestRecordLessonIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{
		InstructorID: "ins-1", ModelKind: "commission", Params: compdomain.Params{RatePercent: rate("20")}, EffectiveFrom: jan,
	}))

	first, err := f.svc.RecordLesson(ctx, lesson("l-1", jan.AddDate(0, 0, 5), 9000))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(1800), first.Split.SchoolShare)
	assert.Equal(t, int64(7200), first.Split.NetInstructor)

	again, err := f.svc.RecordLesson(ctx, lesson("l-1", jan.AddDate(0, 0, 5), 12000))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Split.ID, again.Split.ID)
	assert.Equal(t, int64(9000), again.Split.GrossAmount)

	var splits int64
	require.NoError(t, f.db.Model(&ledgerdomain.RevenueSplit{}).Count(&splits).Error)
	assert.Equal(t, int64(1), splits)
}

func TestRecordLessonConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{
		InstructorID: "ins-1", ModelKind: "commission", Params: compdomain.Params{RatePercent: rate("20")}, EffectiveFrom: jan,
	}))

	const workers = 8
	var (
		wg      sync.WaitGroup
		results = make([]domain.Result, workers)
		errs    = make([]error, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.RecordLesson(ctx, lesson("l-race", jan.AddDate(0, 0, 5), 9000))
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if !results[i].Duplicate {
			created++
		}
		assert.Equal(t, results[0].Split.ID, results[i].Split.ID)
	}
	assert.Equal(t, 1, created)

	var splits int64
	require.NoError(t, f.db.Model(&ledgerdomain.RevenueSplit{}).Where("lesson_id = ?", "l-race").Count(&splits).Error)
	assert.Equal(t, int64(1), splits)
}

func TestProfileChangeKeepsHistoricSplits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{
		InstructorID: "ins-1", ModelKind: "commission", Params: compdomain.Params{RatePercent: rate("20")}, EffectiveFrom: jan,
	}))
	before, err := f.svc.RecordLesson(ctx, lesson("l-1", jan.AddDate(0, 0, 10), 10000))
	require.NoError(t, err)

	feb := jan.AddDate(0, 1, 0)
	amount := int64(50000)
	require.NoError(t, f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{
		InstructorID: "ins-1", ModelKind: "flat_fee", Params: compdomain.Params{MonthlyAmount: &amount}, EffectiveFrom: feb,
	}))
	after, err := f.svc.RecordLesson(ctx, lesson("l-2", feb.AddDate(0, 0, 1), 10000))
	require.NoError(t, err)
	assert.Zero(t, after.Split.SchoolShare)
	assert.Equal(t, "flat_fee", after.Split.ModelKind)

	stored, err := f.ledger.GetSplitByLesson(ctx, "l-1")
	require.NoError(t, err)
	assert.Equal(t, before.Split.SchoolShare, stored.SchoolShare)
	assert.Equal(t, "commission", stored.ModelKind)
	assert.Equal(t, int64(2000), stored.RateBasisPoints)
}

func TestRecordLessonFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RecordLesson(ctx, lesson("l-1", jan, 100))
	assert.ErrorIs(t, err, compdomain.ErrProfileNotFound)

	cases := map[string]struct {
		evt domain.LessonCompleted
		err error
	}{
		"missing lesson":     {domain.LessonCompleted{InstructorID: "i", CompletedAt: jan}, domain.ErrInvalidLesson},
		"missing instructor": {domain.LessonCompleted{LessonID: "l", CompletedAt: jan}, domain.ErrInvalidInstructor},
		"missing completion": {domain.LessonCompleted{LessonID: "l", InstructorID: "i"}, domain.ErrInvalidCompletedAt},
		"negative price":     {domain.LessonCompleted{LessonID: "l", InstructorID: "i", CompletedAt: jan, TotalPrice: -1}, domain.ErrInvalidTotalPrice},
		"bad collector":      {domain.LessonCompleted{LessonID: "l", InstructorID: "i", CompletedAt: jan, CollectedBy: "bank"}, domain.ErrInvalidCollectedBy},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.RecordLesson(ctx, tc.evt)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	err = f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{InstructorID: "ins-1", ModelKind: "hourly", EffectiveFrom: jan})
	assert.ErrorIs(t, err, compdomain.ErrInvalidModelKind)
}

func TestInstructorCollectedLesson(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.ChangeProfile(ctx, domain.CompensationProfileChanged{
		InstructorID: "ins-1", ModelKind: "free", EffectiveFrom: jan,
	}))
	evt := lesson("l-1", jan.AddDate(0, 0, 1), 8000)
	evt.CollectedBy = "Instructor"
	res, err := f.svc.RecordLesson(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.CollectedByInstructor, res.Split.CollectedBy)

	candidates, err := f.ledger.ListPayoutCandidates(ctx, jan.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
