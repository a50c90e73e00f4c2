package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/instructorledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/instructorledger/internal/audit/service"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/events"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/instructorledger/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/instructorledger/internal/ledger/service"
	"github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"github.com/smallbiznis/instructorledger/internal/settlement/repository"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var due = time.Date(2025, 2, 10, 23, 0, 0, 0, time.UTC)

// flakyRepo loses the first n optimistic updates.
type flakyRepo struct {
	ledgerdomain.Repository
	failures atomic.Int32
}

func (r *flakyRepo) UpdateStatus(ctx context.Context, conn *gorm.DB, change ledgerdomain.StatusChange) (bool, error) {
	if r.failures.Add(-1) >= 0 {
		return false, nil
	}
	return r.Repository.UpdateStatus(ctx, conn, change)
}

type resetRecorder struct{ ids []snowflake.ID }

func (r *resetRecorder) Reset(_ context.Context, _ *gorm.DB, ids []snowflake.ID) error {
	r.ids = append(r.ids, ids...)
	return nil
}

type fixture struct {
	svc      domain.Service
	ledger   ledgerdomain.Service
	db       *gorm.DB
	flaky    *flakyRepo
	resetter *resetRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := db.NewTest(t)
	require.NoError(t, conn.AutoMigrate(
		&ledgerdomain.RevenueSplit{},
		&ledgerdomain.Obligation{},
		&ledgerdomain.PayoutLine{},
		&domain.BatchPayment{},
		&domain.BatchPaymentItem{},
		&eventdomain.LedgerEvent{},
		&auditdomain.AuditLog{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 2, 20, 9, 0, 0, 0, time.UTC))
	outbox := events.NewOutbox(events.OutboxParams{GenID: node, Clock: fake})
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	flaky := &flakyRepo{Repository: ledgerrepo.Provide()}
	resetter := &resetRecorder{}

	ledger := ledgerservice.NewService(ledgerservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fake, Policy: policy, Repo: ledgerrepo.Provide(), Outbox: outbox,
	})
	svc := NewService(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fake,
		Policy:     policy,
		Repo:       repository.Provide(),
		LedgerRepo: flaky,
		Outbox:     outbox,
		AuditSvc: auditservice.NewService(auditservice.Params{
			DB: conn, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: fake,
		}),
		Resetter: resetter,
	})
	return fixture{svc: svc, ledger: ledger, db: conn, flaky: flaky, resetter: resetter}
}

func (f fixture) overdueFees(t *testing.T, prefix string, amounts ...int64) []snowflake.ID {
	t.Helper()
	ctx := context.Background()
	ids := make([]snowflake.ID, 0, len(amounts))
	for i, amount := range amounts {
		o, err := f.ledger.CreateMonthlyFee(ctx, ledgerdomain.CreateMonthlyFeeRequest{
			InstructorID: prefix + string(rune('a'+i)),
			PeriodMonth:  time.Date(2025, 1, 31, 23, 0, 0, 0, time.UTC),
			Amount:       amount,
			DueDate:      due,
		})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}
	_, err := f.ledger.MarkOverdue(ctx, due.Add(time.Hour), 100)
	require.NoError(t, err)
	return ids
}

func TestSettleThreeOverdueObligations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.overdueFees(t, "ins-", 10000, 20000, 30000)
	paymentDate := time.Date(2025, 2, 19, 0, 0, 0, 0, time.UTC)

	batch, err := f.svc.Settle(ctx, domain.SettleRequest{
		ObligationIDs: append(ids, ids[0]),
		PaymentDate:   paymentDate,
		Method:        "bank_transfer",
		Notes:         "February run",
		CreatedBy:     "user:1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(60000), batch.TotalAmount)
	assert.Equal(t, 3, batch.ObligationCount)
	assert.Len(t, batch.Reference, 26)
	assert.ElementsMatch(t, ids, batch.ObligationIDs())
	assert.ElementsMatch(t, ids, f.resetter.ids)

	for _, id := range ids {
		o, err := f.ledger.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledgerdomain.StatusPaid, o.Status)
		require.NotNil(t, o.PaidAt)
		assert.True(t, o.PaidAt.Equal(paymentDate))
		require.NotNil(t, o.BatchPaymentID)
		assert.Equal(t, batch.ID, *o.BatchPaymentID)
	}

	stored, err := f.svc.Get(ctx, batch.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, stored.ObligationIDs())

	var completed int64
	require.NoError(t, f.db.Model(&eventdomain.LedgerEvent{}).
		Where("event_type = ?", eventdomain.TypeSettlementCompleted).Count(&completed).Error)
	assert.Equal(t, int64(1), completed)
}

func TestSettleRejectsWholeBatchWhenOneIsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.overdueFees(t, "ins-", 100, 200, 300)
	_, err := f.ledger.MarkPaid(ctx, ledgerdomain.MarkPaidRequest{
		ObligationID: ids[1], PaidAt: due, Method: ledgerdomain.PaymentCash,
	})
	require.NoError(t, err)

	_, err = f.svc.Settle(ctx, domain.SettleRequest{ObligationIDs: ids, PaymentDate: due, Method: "cash"})
	require.ErrorIs(t, err, domain.ErrNotSettleable)
	var notSettleable *domain.NotSettleableError
	require.ErrorAs(t, err, &notSettleable)
	assert.Equal(t, []snowflake.ID{ids[1]}, notSettleable.ObligationIDs)

	for _, id := range []snowflake.ID{ids[0], ids[2]} {
		o, err := f.ledger.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledgerdomain.StatusOverdue, o.Status)
	}
	var batches int64
	require.NoError(t, f.db.Model(&domain.BatchPayment{}).Count(&batches).Error)
	assert.Zero(t, batches)
}

func TestSettleUnknownObligation(t *testing.T) {
	f := newFixture(t)
	ids := f.overdueFees(t, "ins-", 100)
	_, err := f.svc.Settle(context.Background(), domain.SettleRequest{
		ObligationIDs: []snowflake.ID{ids[0], 999}, PaymentDate: due, Method: "cash",
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrObligationNotFound)
}

func TestSettleRetriesOnceOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.overdueFees(t, "ins-", 100, 200)

	f.flaky.failures.Store(1)
	batch, err := f.svc.Settle(ctx, domain.SettleRequest{ObligationIDs: ids, PaymentDate: due, Method: "twint"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), batch.TotalAmount)

	more := f.overdueFees(t, "late-", 400)
	f.flaky.failures.Store(2)
	_, err = f.svc.Settle(ctx, domain.SettleRequest{ObligationIDs: more, PaymentDate: due, Method: "twint"})
	assert.ErrorIs(t, err, ledgerdomain.ErrConcurrencyConflict)

	var batches int64
	require.NoError(t, f.db.Model(&domain.BatchPayment{}).Count(&batches).Error)
	assert.Equal(t, int64(1), batches)
}

func TestSettleValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		req domain.SettleRequest
		err error
	}{
		"no ids":         {domain.SettleRequest{PaymentDate: due, Method: "cash"}, domain.ErrInvalidObligations},
		"zero id":        {domain.SettleRequest{ObligationIDs: []snowflake.ID{0}, PaymentDate: due, Method: "cash"}, domain.ErrInvalidObligations},
		"no date":        {domain.SettleRequest{ObligationIDs: []snowflake.ID{1}, Method: "cash"}, domain.ErrInvalidPaymentDate},
		"bad method":     {domain.SettleRequest{ObligationIDs: []snowflake.ID{1}, PaymentDate: due, Method: "cheque"}, domain.ErrInvalidMethod},
		"missing method": {domain.SettleRequest{ObligationIDs: []snowflake.ID{1}, PaymentDate: due}, domain.ErrInvalidMethod},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Settle(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.err)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestListBatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.overdueFees(t, "ins-", 100, 200)
	_, err := f.svc.Settle(ctx, domain.SettleRequest{ObligationIDs: ids[:1], PaymentDate: due, Method: "cash"})
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, domain.SettleRequest{ObligationIDs: ids[1:], PaymentDate: due.AddDate(0, 0, 1), Method: "card"})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, domain.ListRequest{})
	require.NoError(t, err)
	require.Len(t, all.BatchPayments, 2)
	for _, b := range all.BatchPayments {
		assert.Len(t, b.Items, 1)
	}

	to := due.Add(time.Hour)
	early, err := f.svc.List(ctx, domain.ListRequest{To: &to})
	require.NoError(t, err)
	require.Len(t, early.BatchPayments, 1)
	assert.Equal(t, ledgerdomain.PaymentCash, early.BatchPayments[0].PaymentMethod)

	_, err = f.svc.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrBatchNotFound)
}
