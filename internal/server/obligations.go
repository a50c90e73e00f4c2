package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
)

type listObligationsQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	InstructorID string `form:"instructor_id"`
	Status       string `form:"status"`
	Kind         string `form:"kind"`
	Period       string `form:"period"`
}

func (s *Server) ListObligations(c *gin.Context) {
	var query listObligationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.ledgerSvc.List(c.Request.Context(), ledgerdomain.ListObligationsRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		InstructorID: strings.TrimSpace(query.InstructorID),
		Status:       ledgerdomain.ObligationStatus(strings.TrimSpace(query.Status)),
		Kind:         ledgerdomain.ObligationKind(strings.TrimSpace(query.Kind)),
		PeriodMonth:  strings.TrimSpace(query.Period),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Obligations, "page_info": resp.PageInfo})
}

func (s *Server) GetObligation(c *gin.Context) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	obligation, err := s.ledgerSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	reminder, err := s.reminderSvc.Get(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": obligation, "reminder": reminder})
}

type cancelObligationRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelObligation(c *gin.Context) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req cancelObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	obligation, err := s.ledgerSvc.Cancel(c.Request.Context(), ledgerdomain.CancelRequest{
		ObligationID: id,
		Reason:       req.Reason,
		Actor:        actorName(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": obligation})
}

type payObligationRequest struct {
	PaidAt        *time.Time `json:"paid_at"`
	PaymentMethod string     `json:"payment_method"`
}

func (s *Server) PayObligation(c *gin.Context) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req payObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	paidAt := time.Now().UTC()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	obligation, err := s.ledgerSvc.MarkPaid(c.Request.Context(), ledgerdomain.MarkPaidRequest{
		ObligationID: id,
		PaidAt:       paidAt,
		Method:       ledgerdomain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		Actor:        actorName(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": obligation})
}
