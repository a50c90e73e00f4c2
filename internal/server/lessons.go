package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	intakedomain "github.com/smallbiznis/instructorledger/internal/intake/domain"
	ledgerdomain "github.com/smallbiznis/instructorledger/internal/ledger/domain"
	"github.com/smallbiznis/instructorledger/internal/observability/logger"
	"go.uber.org/zap"
)

const maxSplitListLimit = 500

func (s *Server) RecordLessonCompleted(c *gin.Context) {
	var req intakedomain.LessonCompleted
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.intakeSvc.RecordLesson(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"data": result.Split, "duplicate": result.Duplicate})
}

type listRevenueSplitsQuery struct {
	InstructorID string `form:"instructor_id"`
	From         string `form:"from"`
	To           string `form:"to"`
	Limit        int    `form:"limit"`
}

func (s *Server) ListRevenueSplits(c *gin.Context) {
	var query listRevenueSplitsQuery
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
	if query.Limit < 0 {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if query.Limit == 0 || query.Limit > maxSplitListLimit {
		query.Limit = maxSplitListLimit
	}

	splits, err := s.ledgerSvc.ListSplits(c.Request.Context(), ledgerdomain.SplitFilter{
		InstructorID: strings.TrimSpace(query.InstructorID),
		From:         from,
		To:           to,
		Limit:        query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": splits})
}

func (s *Server) GetRevenueSplit(c *gin.Context) {
	split, err := s.ledgerSvc.GetSplitByLesson(c.Request.Context(), c.Param("lessonId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": split})
}

// IntakeRateLimit throttles lesson submissions per caller. Limiter outages
// fail closed with 503.
func (s *Server) IntakeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.intakeLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		source := actorName(c)
		if source == "" {
			source = c.ClientIP()
		}

		result, err := s.intakeLimiter.Allow(ctx, source)
		if err != nil {
			logger.FromContext(ctx).Warn("intake rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			retryAfter := int(result.RetryAfter.Round(time.Second) / time.Second)
			if retryAfter < 1 {
				retryAfter = 1
			}
			logger.FromContext(ctx).Warn("intake rate limit exceeded",
				zap.String("source", source),
				zap.Int("retry_after_s", retryAfter),
			)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
