package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cardreport/internal/report/aggregator"
	reportdomain "github.com/smallbiznis/cardreport/internal/report/domain"
	"go.uber.org/zap"
)

type reportResponse struct {
	Label string `json:"label"`
	*reportdomain.Aggregate
}

func (s *Server) GetDailyReport(c *gin.Context) {
	day, err := time.ParseInLocation(dateOnlyLayout, c.Param("date"), time.UTC)
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD"))
		return
	}
	s.writeReport(c, aggregator.Daily{Year: day.Year(), Month: day.Month(), Day: day.Day()})
}

func (s *Server) GetWeeklyReport(c *gin.Context) {
	year, month, ok := yearMonthParams(c)
	if !ok {
		return
	}
	term, err := parsePathInt(c.Param("term"))
	if err != nil {
		AbortWithError(c, newValidationError("term", "invalid_term", "invalid term"))
		return
	}
	s.writeReport(c, aggregator.Weekly{Year: year, Month: month, Term: term})
}

func (s *Server) GetMonthlyReport(c *gin.Context) {
	year, month, ok := yearMonthParams(c)
	if !ok {
		return
	}
	s.writeReport(c, aggregator.Monthly{Year: year, Month: month})
}

func (s *Server) writeReport(c *gin.Context, period aggregator.Period) {
	agg, ok, err := s.aggregators.For(period.Granularity()).Get(c.Request.Context(), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !ok {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, reportResponse{Label: period.Label(), Aggregate: agg})
}

// RunDispatch runs the daily summary dispatch immediately.
func (s *Server) RunDispatch(c *gin.Context) {
	result, err := s.dispatcher.RunOnce(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if stepErr := result.Err(); stepErr != nil {
		s.log.Warn("manual dispatch finished with failures",
			zap.String("run_id", result.RunID),
			zap.Error(stepErr),
		)
	}

	c.JSON(http.StatusOK, result)
}

func yearMonthParams(c *gin.Context) (int, time.Month, bool) {
	year, err := parsePathInt(c.Param("year"))
	if err != nil {
		AbortWithError(c, newValidationError("year", "invalid_year", "invalid year"))
		return 0, 0, false
	}
	month, err := parsePathInt(c.Param("month"))
	if err != nil || month > 12 {
		AbortWithError(c, newValidationError("month", "invalid_month", "invalid month"))
		return 0, 0, false
	}
	return year, time.Month(month), true
}
