package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	compdomain "github.com/smallbiznis/instructorledger/internal/compensation/domain"
)

type setCompensationProfileRequest struct {
	ModelKind string `json:"model_kind"`
	compdomain.Params
	EffectiveFrom time.Time `json:"effective_from"`
}

func (s *Server) SetCompensationProfile(c *gin.Context) {
	var req setCompensationProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	terms, err := compdomain.TermsFrom(compdomain.ModelKind(strings.TrimSpace(req.ModelKind)), req.Params)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	profile, err := s.compensationSvc.SetProfile(c.Request.Context(), compdomain.SetProfileRequest{
		InstructorID:  strings.TrimSpace(c.Param("id")),
		Terms:         terms,
		EffectiveFrom: req.EffectiveFrom,
		CreatedBy:     actorName(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": profile})
}

func (s *Server) ListCompensationProfiles(c *gin.Context) {
	instructorID := strings.TrimSpace(c.Param("id"))
	ctx := c.Request.Context()

	if raw := strings.TrimSpace(c.Query("at")); raw != "" {
		at, err := parseRequiredTime("at", raw, s.policy.Get().Location(), false)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		profile, err := s.compensationSvc.Resolve(ctx, instructorID, at)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": profile})
		return
	}

	history, err := s.compensationSvc.History(ctx, instructorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": history})
}

func (s *Server) GetCurrentCompensationProfile(c *gin.Context) {
	profile, err := s.compensationSvc.Current(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profile})
}
