package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	settlementdomain "github.com/smallbiznis/instructorledger/internal/settlement/domain"
	"github.com/smallbiznis/instructorledger/pkg/db/pagination"
)

func (s *Server) CreateSettlement(c *gin.Context) {
	var req settlementdomain.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.CreatedBy = actorName(c)

	batch, err := s.settlementSvc.Settle(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": batch})
}

type listSettlementsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	From      string `form:"from"`
	To        string `form:"to"`
}

func (s *Server) ListSettlements(c *gin.Context) {
	var query listSettlementsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	loc := s.policy.Get().Location()
	from, err := parseOptionalTime("from", query.From, loc, false)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	to, err := parseOptionalTime("to", query.To, loc, true)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.settlementSvc.List(c.Request.Context(), settlementdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		From: from,
		To:   to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.BatchPayments, "page_info": resp.PageInfo})
}

func (s *Server) GetSettlement(c *gin.Context) {
	id, err := parseSnowflakeID("id", c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	batch, err := s.settlementSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": batch})
}
