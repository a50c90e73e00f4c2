package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	obscontext "github.com/smallbiznis/instructorledger/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

var knownRoles = map[string]struct{}{
	RoleAdmin:      {},
	RoleAccountant: {},
	RoleSystem:     {},
	RoleViewer:     {},
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer builds the RBAC enforcer. A nil db keeps policies in memory.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if db != nil {
		adapter, err := gormadapter.NewAdapterByDB(db)
		if err != nil {
			return nil, err
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
		if err != nil {
			return nil, err
		}
		enforcer.EnableAutoSave(true)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
		if err != nil {
			return nil, err
		}
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if db != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor)
	if err != nil {
		s.auditDenied(ctx, actor, object, action)
		return err
	}
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization.denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, subject, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor string) (string, string, error) {
	if actor == SystemActor {
		return actor, roleSubject(RoleSystem), nil
	}
	if !strings.HasPrefix(actor, "user:") {
		return "", "", ErrInvalidActor
	}
	if strings.TrimSpace(strings.TrimPrefix(actor, "user:")) == "" {
		return "", "", ErrInvalidActor
	}

	role := strings.ToLower(obscontext.RoleFromContext(ctx))
	if _, ok := knownRoles[role]; !ok {
		return actor, "", ErrForbidden
	}
	return actor, roleSubject(role), nil
}

// ensureGrouping keeps a single role link per subject; the gateway may change a
// user's role between requests.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	if subject == SystemActor {
		return nil
	}
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, subject string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		Action:     "authorization.denied",
		TargetType: "authorization",
		TargetID:   object,
		Metadata: map[string]any{
			"object":  object,
			"action":  action,
			"subject": subject,
			"role":    obscontext.RoleFromContext(ctx),
		},
	})
	if err != nil {
		s.log.Warn("authorization.audit_failed", zap.Error(err))
	}
}

func roleSubject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Admin
		{"role:admin", "*", "*"},

		// Accountant: reads everything, settles and cancels obligations
		{"role:accountant", "*", ActionRead},
		{"role:accountant", ObjectObligation, ActionCancel},
		{"role:accountant", ObjectObligation, ActionPay},
		{"role:accountant", ObjectSettlement, ActionCreate},

		// System: inbound events and scheduled jobs
		{"role:system", "*", ActionRead},
		{"role:system", ObjectLesson, ActionRecord},
		{"role:system", ObjectCompensationProfile, ActionWrite},
		{"role:system", ObjectScheduler, ActionRun},

		// Viewer
		{"role:viewer", "*", ActionRead},
	}
	if _, err := enforcer.AddGroupingPolicy(SystemActor, roleSubject(RoleSystem)); err != nil {
		return err
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
