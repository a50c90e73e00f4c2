package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/instructorledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/instructorledger/internal/audit/service"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/compensation/repository"
	"github.com/smallbiznis/instructorledger/internal/events"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var jan = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()
	conn := db.NewTest(t)
	require.NoError(t, conn.AutoMigrate(&domain.ProfileRecord{}, &eventdomain.LedgerEvent{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(jan)

	audit := auditservice.NewService(auditservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: fake,
	})
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Repo:     repository.Provide(),
		Outbox:   events.NewOutbox(events.OutboxParams{GenID: node, Clock: fake}),
		AuditSvc: audit,
	})
	return svc, conn
}

func commission(rate string) domain.CommissionTerms {
	return domain.CommissionTerms{RatePercent: decimal.RequireFromString(rate)}
}

func TestSetProfileClosesPreviousProfile(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	first, err := svc.SetProfile(ctx, domain.SetProfileRequest{
		InstructorID: "ins-1", Terms: commission("20"), EffectiveFrom: jan, CreatedBy: "admin",
	})
	require.NoError(t, err)

	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	second, err := svc.SetProfile(ctx, domain.SetProfileRequest{
		InstructorID: "ins-1", Terms: domain.FlatFeeTerms{MonthlyAmount: 50000}, EffectiveFrom: march,
	})
	require.NoError(t, err)

	history, err := svc.History(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	require.NotNil(t, history[0].EffectiveTo)
	assert.True(t, history[0].EffectiveTo.Equal(march.Add(-time.Microsecond)))
	assert.Nil(t, history[1].EffectiveTo)

	current, err := svc.Current(ctx, "ins-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, domain.ModelFlatFee, current.Kind())

	var count int64
	require.NoError(t, conn.Model(&eventdomain.LedgerEvent{}).
		Where("event_type = ?", eventdomain.TypeCompensationProfileChanged).Count(&count).Error)
	assert.EqualValues(t, 2, count)
	require.NoError(t, conn.Model(&auditdomain.AuditLog{}).
		Where("action = ?", "compensation.profile_set").Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestResolveUsesIntervalContainment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: commission("20"), EffectiveFrom: jan})
	require.NoError(t, err)
	_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: domain.FreeTerms{}, EffectiveFrom: march})
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		want domain.ModelKind
	}{
		{"start of first", jan, domain.ModelCommission},
		{"last microsecond of first", march.Add(-time.Microsecond), domain.ModelCommission},
		{"start of second", march, domain.ModelFree},
		{"far future", march.AddDate(5, 0, 0), domain.ModelFree},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := svc.Resolve(ctx, "ins-1", tc.at)
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Kind())
		})
	}

	_, err = svc.Resolve(ctx, "ins-1", jan.Add(-time.Second))
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	_, err = svc.Resolve(ctx, "ins-unknown", march)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestSetProfileRejectsOverlappingEffectiveFrom(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: commission("10"), EffectiveFrom: jan})
	require.NoError(t, err)
	_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: commission("20"), EffectiveFrom: march})
	require.NoError(t, err)

	for _, at := range []time.Time{march, jan, jan.AddDate(0, 1, 0)} {
		_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: domain.FreeTerms{}, EffectiveFrom: at})
		assert.ErrorIs(t, err, domain.ErrInvalidEffectiveFrom)
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	history, err := svc.History(ctx, "ins-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Nil(t, history[1].EffectiveTo)
}

func TestSetProfileBackfillsBeforeEarliest(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	current, err := svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: commission("20"), EffectiveFrom: march})
	require.NoError(t, err)

	// Lessons before March had no profile to resolve against.
	feb10 := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	_, err = svc.Resolve(ctx, "ins-1", feb10)
	require.ErrorIs(t, err, domain.ErrProfileNotFound)

	backfilled, err := svc.SetProfile(ctx, domain.SetProfileRequest{
		InstructorID: "ins-1", Terms: domain.FlatFeeTerms{MonthlyAmount: 30000}, EffectiveFrom: jan,
	})
	require.NoError(t, err)
	require.NotNil(t, backfilled.EffectiveTo)
	assert.True(t, backfilled.EffectiveTo.Equal(march.Add(-time.Microsecond)))

	p, err := svc.Resolve(ctx, "ins-1", feb10)
	require.NoError(t, err)
	assert.Equal(t, backfilled.ID, p.ID)
	assert.Equal(t, domain.ModelFlatFee, p.Kind())

	open, err := svc.Current(ctx, "ins-1")
	require.NoError(t, err)
	assert.Equal(t, current.ID, open.ID)
	assert.Nil(t, open.EffectiveTo)

	// The backfilled interval is now the earliest; anything inside it overlaps.
	_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: domain.FreeTerms{}, EffectiveFrom: feb10})
	assert.ErrorIs(t, err, domain.ErrInvalidEffectiveFrom)

	var count int64
	require.NoError(t, conn.Model(&eventdomain.LedgerEvent{}).
		Where("event_type = ?", eventdomain.TypeCompensationProfileChanged).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestSetProfileValidatesBounds(t *testing.T) {
	cases := []struct {
		name  string
		terms domain.Terms
		want  error
	}{
		{"rate at max", commission("50"), nil},
		{"rate zero", commission("0"), nil},
		{"rate two decimals", commission("12.25"), nil},
		{"rate above max", commission("50.01"), domain.ErrInvalidCommissionRate},
		{"rate negative", commission("-1"), domain.ErrInvalidCommissionRate},
		{"rate three decimals", commission("12.345"), domain.ErrInvalidCommissionRate},
		{"flat fee at max", domain.FlatFeeTerms{MonthlyAmount: 500000}, nil},
		{"flat fee above max", domain.FlatFeeTerms{MonthlyAmount: 500001}, domain.ErrInvalidFlatFee},
		{"flat fee negative", domain.FlatFeeTerms{MonthlyAmount: -1}, domain.ErrInvalidFlatFee},
		{"missing terms", nil, domain.ErrInvalidModelKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			_, err := svc.SetProfile(context.Background(), domain.SetProfileRequest{
				InstructorID: "ins-1", Terms: tc.terms, EffectiveFrom: jan,
			})
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, domain.ErrValidation)

			_, err = svc.Current(context.Background(), "ins-1")
			assert.ErrorIs(t, err, domain.ErrProfileNotFound)
		})
	}
}

func TestSetProfileRequiresFields(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: " ", Terms: domain.FreeTerms{}, EffectiveFrom: jan})
	assert.ErrorIs(t, err, domain.ErrInvalidInstructor)

	_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-1", Terms: domain.FreeTerms{}})
	assert.ErrorIs(t, err, domain.ErrMissingEffectiveFrom)
}

func TestActiveAtAndInstructors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	feb := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-b", Terms: domain.FlatFeeTerms{MonthlyAmount: 50000}, EffectiveFrom: jan})
	require.NoError(t, err)
	_, err = svc.SetProfile(ctx, domain.SetProfileRequest{InstructorID: "ins-a", Terms: commission("15"), EffectiveFrom: feb})
	require.NoError(t, err)

	active, err := svc.ActiveAt(ctx, jan)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ins-b", active[0].InstructorID)

	active, err = svc.ActiveAt(ctx, feb)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	ids, err := svc.Instructors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ins-a", "ins-b"}, ids)
}

func TestProfileRecordRoundTripKeepsRate(t *testing.T) {
	p := domain.Profile{ID: 1, InstructorID: "ins-1", Terms: commission("12.5"), EffectiveFrom: jan}
	back := domain.ToRecord(p).ToProfile()
	assert.True(t, back.RatePercent().Equal(decimal.RequireFromString("12.5")))
}
