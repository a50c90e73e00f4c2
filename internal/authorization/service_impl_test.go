package authorization

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/instructorledger/internal/observability/context"
	"github.com/smallbiznis/instructorledger/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(nil)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func userCtx(role string) context.Context {
	return obscontext.WithActor(context.Background(), "user", "u-1", role)
}

func TestAuthorizeRoles(t *testing.T) {
	svc := newTestService(t)

	cases := []struct {
		name   string
		role   string
		object string
		action string
		want   error
	}{
		{"admin can do anything", RoleAdmin, ObjectObligation, ActionCancel, nil},
		{"accountant settles", RoleAccountant, ObjectSettlement, ActionCreate, nil},
		{"accountant reads reports", RoleAccountant, ObjectReport, ActionRead, nil},
		{"accountant cannot record lessons", RoleAccountant, ObjectLesson, ActionRecord, ErrForbidden},
		{"viewer reads", RoleViewer, ObjectObligation, ActionRead, nil},
		{"viewer cannot pay", RoleViewer, ObjectObligation, ActionPay, ErrForbidden},
		{"unknown role", "intern", ObjectObligation, ActionRead, ErrForbidden},
		{"missing role", "", ObjectObligation, ActionRead, ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.Authorize(userCtx(tc.role), "user:u-1", tc.object, tc.action)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAuthorizeSystemActor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, SystemActor, ObjectLesson, ActionRecord))
	assert.NoError(t, svc.Authorize(ctx, SystemActor, ObjectScheduler, ActionRun))
	assert.ErrorIs(t, svc.Authorize(ctx, SystemActor, ObjectSettlement, ActionCreate), ErrForbidden)
}

func TestAuthorizeRoleChangeReplacesGrouping(t *testing.T) {
	svc := newTestService(t)

	require.NoError(t, svc.Authorize(userCtx(RoleAdmin), "user:u-1", ObjectSettlement, ActionCreate))
	assert.ErrorIs(t, svc.Authorize(userCtx(RoleViewer), "user:u-1", ObjectSettlement, ActionCreate), ErrForbidden)
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := userCtx(RoleAdmin)

	assert.ErrorIs(t, svc.Authorize(ctx, "", ObjectReport, ActionRead), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:1", ObjectReport, ActionRead), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:", ObjectReport, ActionRead), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:u-1", " ", ActionRead), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "user:u-1", ObjectReport, ""), ErrInvalidAction)
}

func TestEnforcerPersistsPoliciesThroughAdapter(t *testing.T) {
	conn := db.NewTest(t)

	_, err := NewEnforcer(conn)
	require.NoError(t, err)

	// a second start must not duplicate seeded rows
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Table("casbin_rule").Where("ptype = ?", "p").Count(&count).Error)
	assert.EqualValues(t, 10, count)

	ok, err := enforcer.Enforce(SystemActor, ObjectLesson, ActionRecord)
	require.NoError(t, err)
	assert.True(t, ok)
}
