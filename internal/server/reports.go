package server

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	reportingdomain "github.com/smallbiznis/instructorledger/internal/reporting/domain"
)

type reportWindowQuery struct {
	From   string `form:"from"`
	To     string `form:"to"`
	Format string `form:"format"`
}

func (s *Server) reportWindow(c *gin.Context) (reportWindowQuery, reportingdomain.Window, error) {
	var query reportWindowQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return query, reportingdomain.Window{}, invalidRequestError()
	}

	loc := s.policy.Get().Location()
	from, err := parseRequiredTime("from", query.From, loc, false)
	if err != nil {
		return query, reportingdomain.Window{}, err
	}
	to, err := parseRequiredTime("to", query.To, loc, true)
	if err != nil {
		return query, reportingdomain.Window{}, err
	}
	return query, reportingdomain.Window{From: from, To: to}, nil
}

func (s *Server) ReportSummary(c *gin.Context) {
	_, window, err := s.reportWindow(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.reportingSvc.Summary(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

var exportHeader = []string{
	"period", "instructor_id", "gross_revenue", "school_share", "net",
	"obligations_paid", "obligations_unpaid",
}

func (s *Server) ReportExport(c *gin.Context) {
	query, window, err := s.reportWindow(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rows, err := s.reportingSvc.Export(c.Request.Context(), window)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !strings.EqualFold(strings.TrimSpace(query.Format), "csv") {
		c.JSON(http.StatusOK, gin.H{"data": rows})
		return
	}

	b := &bytes.Buffer{}
	w := csv.NewWriter(b)
	if err := w.Write(exportHeader); err != nil {
		AbortWithError(c, err)
		return
	}
	for _, row := range rows {
		record := []string{
			row.Period,
			row.InstructorID,
			strconv.FormatInt(row.GrossRevenue, 10),
			strconv.FormatInt(row.SchoolShare, 10),
			strconv.FormatInt(row.Net, 10),
			strconv.FormatInt(row.ObligationsPaid, 10),
			strconv.FormatInt(row.ObligationsUnpaid, 10),
		}
		if err := w.Write(record); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=instructor_report.csv")
	c.Data(http.StatusOK, "text/csv", b.Bytes())
}
