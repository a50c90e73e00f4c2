package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/smallbiznis/instructorledger/internal/audit/domain"
	"github.com/smallbiznis/instructorledger/internal/clock"
	"github.com/smallbiznis/instructorledger/internal/config"
	eventdomain "github.com/smallbiznis/instructorledger/internal/events/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/instructorledger/internal/observability/metrics"
	"github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAttempts = 2

var errVersionMismatch = errors.New("settlement version mismatch")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Policy     *config.PolicyHolder
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Outbox     eventdomain.Publisher
	AuditSvc   auditdomain.Service        `optional:"true"`
	Resetter   ledgerdomain.StateResetter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	policy     *config.PolicyHolder
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	outbox     eventdomain.Publisher
	auditSvc   auditdomain.Service
	resetter   ledgerdomain.StateResetter
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		policy:     p.Policy,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		outbox:     p.Outbox,
		auditSvc:   p.AuditSvc,
		resetter:   p.Resetter,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Settle marks every requested obligation paid as one batch, or none of them.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.BatchPayment, error) {
	req.Method = strings.TrimSpace(req.Method)
	req.Notes = strings.TrimSpace(req.Notes)
	req.CreatedBy = strings.TrimSpace(req.CreatedBy)
	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return domain.BatchPayment{}, fieldError(fieldErrs[0])
		}
		return domain.BatchPayment{}, domain.ErrValidation
	}
	ids := uniqueIDs(req.ObligationIDs)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		batch, err := s.settleOnce(ctx, req, ids)
		if err == nil {
			s.log.Info("settlement.completed",
				zap.String("batch_payment_id", batch.ID.String()),
				zap.String("reference", batch.Reference),
				zap.Int("obligations", batch.ObligationCount),
				zap.Int64("total_amount", batch.TotalAmount),
				zap.String("payment_method", string(batch.PaymentMethod)),
			)
			s.obsMetrics.RecordSettlement(ctx, string(batch.PaymentMethod), batch.TotalAmount)
			s.obsMetrics.RecordObligationTransition(ctx, "batch", string(ledgerdomain.StatusPaid), batch.ObligationCount)
			return batch, nil
		}
		if !errors.Is(err, errVersionMismatch) {
			return domain.BatchPayment{}, err
		}
		s.log.Warn("settlement.version_conflict",
			zap.Int("attempt", attempt),
			zap.Int("obligations", len(ids)),
		)
	}
	return domain.BatchPayment{}, ledgerdomain.ErrConcurrencyConflict
}

func (s *Service) settleOnce(ctx context.Context, req domain.SettleRequest, ids []snowflake.ID) (domain.BatchPayment, error) {
	now := s.clock.Now().UTC()
	paymentDate := req.PaymentDate.UTC()
	method := ledgerdomain.PaymentMethod(req.Method)

	var batch domain.BatchPayment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lockStart := time.Now()
		obligations, err := s.ledgerRepo.LockByIDs(ctx, tx, ids)
		obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceObligationsForSettle, time.Since(lockStart))
		if err != nil {
			return err
		}
		if len(obligations) != len(ids) {
			return ledgerdomain.ErrObligationNotFound
		}

		var blocked []snowflake.ID
		for _, o := range obligations {
			if !o.Status.Open() {
				blocked = append(blocked, o.ID)
			}
		}
		if len(blocked) > 0 {
			return &domain.NotSettleableError{ObligationIDs: blocked}
		}

		batch = domain.BatchPayment{
			ID:              s.genID.Generate(),
			Reference:       ulid.Make().String(),
			PaymentDate:     paymentDate,
			PaymentMethod:   method,
			Currency:        s.policy.Get().Currency,
			ObligationCount: len(obligations),
			Notes:           req.Notes,
			CreatedBy:       req.CreatedBy,
			CreatedAt:       now,
		}
		items := make([]domain.BatchPaymentItem, 0, len(obligations))
		for _, o := range obligations {
			batch.TotalAmount += o.Amount
			items = append(items, domain.BatchPaymentItem{
				BatchPaymentID: batch.ID,
				ObligationID:   o.ID,
				Kind:           o.Kind,
				InstructorID:   o.InstructorID,
				Amount:         o.Amount,
			})
		}
		batch.Items = items

		if err := s.repo.Insert(ctx, tx, &batch); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}

		for _, o := range obligations {
			ok, err := s.ledgerRepo.UpdateStatus(ctx, tx, ledgerdomain.StatusChange{
				ID:              o.ID,
				ExpectedVersion: o.Version,
				From:            o.Status,
				To:              ledgerdomain.StatusPaid,
				PaidAt:          &paymentDate,
				PaymentMethod:   &method,
				BatchPaymentID:  &batch.ID,
				UpdatedAt:       now,
			})
			if err != nil {
				return err
			}
			if !ok {
				return errVersionMismatch
			}
		}

		if s.resetter != nil {
			if err := s.resetter.Reset(ctx, tx, ids); err != nil {
				return err
			}
		}

		obligationIDs := make([]string, 0, len(ids))
		for _, id := range batch.ObligationIDs() {
			obligationIDs = append(obligationIDs, id.String())
		}
		payload := map[string]any{
			"batch_payment_id": batch.ID.String(),
			"reference":        batch.Reference,
			"obligation_ids":   obligationIDs,
			"total_amount":     batch.TotalAmount,
			"currency":         batch.Currency,
			"payment_method":   string(batch.PaymentMethod),
			"payment_date":     paymentDate.Format(time.RFC3339),
		}

		if s.auditSvc != nil {
			if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				Action:     "settlement.completed",
				TargetType: "batch_payment",
				TargetID:   batch.ID.String(),
				Metadata:   payload,
			}); err != nil {
				return err
			}
		}

		for _, o := range obligations {
			if err := s.outbox.PublishTx(ctx, tx, eventdomain.Event{
				Type:          eventdomain.TypeObligationPaid,
				AggregateType: "obligation",
				AggregateID:   o.ID.String(),
				Payload: map[string]any{
					"obligation_id":    o.ID.String(),
					"kind":             string(o.Kind),
					"instructor_id":    o.InstructorID,
					"amount":           o.Amount,
					"batch_payment_id": batch.ID.String(),
					"payment_method":   string(method),
				},
			}); err != nil {
				return err
			}
		}
		return s.outbox.PublishTx(ctx, tx, eventdomain.Event{
			Type:          eventdomain.TypeSettlementCompleted,
			AggregateType: "batch_payment",
			AggregateID:   batch.ID.String(),
			Payload:       payload,
		})
	})
	if err != nil {
		return domain.BatchPayment{}, err
	}
	return batch, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.BatchPayment, error) {
	if id == 0 {
		return domain.BatchPayment{}, domain.ErrBatchNotFound
	}
	batch, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.BatchPayment{}, err
	}
	if batch == nil {
		return domain.BatchPayment{}, domain.ErrBatchNotFound
	}
	items, err := s.repo.ListItems(ctx, s.db, []snowflake.ID{batch.ID})
	if err != nil {
		return domain.BatchPayment{}, err
	}
	batch.Items = items
	return *batch, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}

	var cursor *domain.BatchCursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return domain.ListResponse{}, domain.ErrInvalidPageToken
		}
		cursor = &domain.BatchCursor{ID: id, CreatedAt: createdAt}
	}

	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, domain.ListFilter{From: req.From, To: req.To, Cursor: cursor, Limit: limit})
	if err != nil {
		return domain.ListResponse{}, err
	}
	rows, pageInfo := pagination.BuildCursorPageInfo(rows, limit, func(b *domain.BatchPayment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        b.ID.String(),
			CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})

	batchIDs := make([]snowflake.ID, 0, len(rows))
	for _, b := range rows {
		batchIDs = append(batchIDs, b.ID)
	}
	items, err := s.repo.ListItems(ctx, s.db, batchIDs)
	if err != nil {
		return domain.ListResponse{}, err
	}
	byBatch := make(map[snowflake.ID][]domain.BatchPaymentItem, len(rows))
	for _, item := range items {
		byBatch[item.BatchPaymentID] = append(byBatch[item.BatchPaymentID], item)
	}

	out := make([]domain.BatchPayment, 0, len(rows))
	for _, b := range rows {
		b.Items = byBatch[b.ID]
		out = append(out, *b)
	}
	return domain.ListResponse{PageInfo: pageInfo, BatchPayments: out}, nil
}

func fieldError(fe validator.FieldError) error {
	if strings.HasPrefix(fe.Field(), "ObligationIDs") {
		return domain.ErrInvalidObligations
	}
	switch fe.Field() {
	case "Method":
		return domain.ErrInvalidMethod
	case "PaymentDate":
		return domain.ErrInvalidPaymentDate
	case "Notes":
		return domain.ErrInvalidNotes
	case "CreatedBy":
		return domain.ErrInvalidCreatedBy
	default:
		return domain.ErrValidation
	}
}

func uniqueIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
