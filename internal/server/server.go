package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/instructorledger/internal/audit"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	"github.com/smallbiznis/instructorledger/internal/authorization"
	"github.com/smallbiznis/instructorledger/internal/billingperiod"
	"github.com/smallbiznis/instructorledger/internal/compensation"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/smallbiznis/instructorledger/internal/events"
	"github.com/smallbiznis/instructorledger/internal/intake"
	intakedomain "github.com/smallbiznis/instructorledger/internal/intake/domain"
	"github.com/smallbiznis/instructorledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/notification"
	"github.com/smallbiznis/instructorledger/internal/observability"
	obslogger "github.com/smallbiznis/instructorledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/instructorledger/internal/observability/tracing"
	"github.com/smallbiznis/instructorledger/internal/providers"
	"github.com/smallbiznis/instructorledger/internal/ratelimit"
	"github.com/smallbiznis/instructorledger/internal/reminder"
	reminderdomain "github.com/smallbiznis/instructorledger/internal/reminder/domain"
	"github.com/smallbiznis/instructorledger/internal/reporting"
	reportingdomain "github.com/smallbiznis/instructorledger/internal/reporting/domain"
	"github.com/smallbiznis/instructorledger/internal/settlement"
	settlementdomain "github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	events.Module,
	providers.Module,
	notification.Module,
	ratelimit.Module,
	compensation.Module,
	ledger.Module,
	reminder.Module,
	billingperiod.Module,
	settlement.Module,
	reporting.Module,
	intake.Module,
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.RequestLogger(obslogger.RequestLogConfig{
		Debug:       obsCfg.Debug(),
		Classify:    classifyErrorForLog,
		QuietRoutes: []string{"/health", "/metrics"},
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http.server.failed", zap.Error(err))
				}
			}()
			log.Info("http.server.listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	policy          *config.PolicyHolder
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	compensationSvc compdomain.Service
	ledgerSvc       ledgerdomain.Service
	reminderSvc     reminderdomain.Service
	settlementSvc   settlementdomain.Service
	reportingSvc    reportingdomain.Service
	intakeSvc       intakedomain.Service
	intakeLimiter   *ratelimit.IntakeLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Policy          *config.PolicyHolder
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	CompensationSvc compdomain.Service
	LedgerSvc       ledgerdomain.Service
	ReminderSvc     reminderdomain.Service
	SettlementSvc   settlementdomain.Service
	ReportingSvc    reportingdomain.Service
	IntakeSvc       intakedomain.Service
	IntakeLimiter   *ratelimit.IntakeLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		policy:          p.Policy,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		compensationSvc: p.CompensationSvc,
		ledgerSvc:       p.LedgerSvc,
		reminderSvc:     p.ReminderSvc,
		settlementSvc:   p.SettlementSvc,
		reportingSvc:    p.ReportingSvc,
		intakeSvc:       p.IntakeSvc,
		intakeLimiter:   p.IntakeLimiter,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(ActorContext())

	api.POST("/lessons/completed", s.authorize(authorization.ObjectLesson, authorization.ActionRecord), s.IntakeRateLimit(), s.RecordLessonCompleted)

	api.GET("/revenue-splits", s.authorize(authorization.ObjectRevenueSplit, authorization.ActionRead), s.ListRevenueSplits)
	api.GET("/revenue-splits/:lessonId", s.authorize(authorization.ObjectRevenueSplit, authorization.ActionRead), s.GetRevenueSplit)

	api.POST("/instructors/:id/compensation-profiles", s.authorize(authorization.ObjectCompensationProfile, authorization.ActionWrite), s.SetCompensationProfile)
	api.GET("/instructors/:id/compensation-profiles", s.authorize(authorization.ObjectCompensationProfile, authorization.ActionRead), s.ListCompensationProfiles)
	api.GET("/instructors/:id/compensation-profiles/current", s.authorize(authorization.ObjectCompensationProfile, authorization.ActionRead), s.GetCurrentCompensationProfile)

	api.GET("/obligations", s.authorize(authorization.ObjectObligation, authorization.ActionRead), s.ListObligations)
	api.GET("/obligations/:id", s.authorize(authorization.ObjectObligation, authorization.ActionRead), s.GetObligation)
	api.POST("/obligations/:id/cancel", s.authorize(authorization.ObjectObligation, authorization.ActionCancel), s.CancelObligation)
	api.POST("/obligations/:id/pay", s.authorize(authorization.ObjectObligation, authorization.ActionPay), s.PayObligation)

	api.POST("/settlements", s.authorize(authorization.ObjectSettlement, authorization.ActionCreate), s.CreateSettlement)
	api.GET("/settlements", s.authorize(authorization.ObjectSettlement, authorization.ActionRead), s.ListSettlements)
	api.GET("/settlements/:id", s.authorize(authorization.ObjectSettlement, authorization.ActionRead), s.GetSettlement)

	api.GET("/reports/summary", s.authorize(authorization.ObjectReport, authorization.ActionRead), s.ReportSummary)
	api.GET("/reports/export", s.authorize(authorization.ObjectReport, authorization.ActionRead), s.ReportExport)

	api.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionRead), s.ListAuditLogs)
}
