package authorization

import "context"

const (
	ObjectCompensationProfile = "compensation_profile"
	ObjectLesson              = "lesson"
	ObjectRevenueSplit        = "revenue_split"
	ObjectObligation          = "obligation"
	ObjectSettlement          = "settlement"
	ObjectReport              = "report"
	ObjectAuditLog            = "audit_log"
	ObjectScheduler           = "scheduler"
)

const (
	ActionRead   = "read"
	ActionRecord = "record"
	ActionWrite  = "write"
	ActionCancel = "cancel"
	ActionPay    = "pay"
	ActionCreate = "create"
	ActionRun    = "run"
)

const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleSystem     = "system"
	RoleViewer     = "viewer"
)

// SystemActor is the subject used by scheduled jobs and inbound consumers.
const SystemActor = "system"

type Service interface {
	// Authorize checks actor ("system" or "user:<id>") against object and action.
	// User roles are read from the request context.
	Authorize(ctx context.Context, actor string, object string, action string) error
}
