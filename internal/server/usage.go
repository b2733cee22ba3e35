package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/cardreport/internal/usage/domain"
)

type editRecordRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.CreateRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.usagesvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (s *Server) GetRecord(c *gin.Context) {
	record, err := s.usagesvc.Get(c.Request.Context(), c.Param("path"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) EditRecord(c *gin.Context) {
	var req editRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.usagesvc.Edit(c.Request.Context(), c.Param("path"), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) DeleteRecord(c *gin.Context) {
	record, err := s.usagesvc.Delete(c.Request.Context(), c.Param("path"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) ReactivateRecord(c *gin.Context) {
	record, err := s.usagesvc.Reactivate(c.Request.Context(), c.Param("path"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (s *Server) ListRecords(c *gin.Context) {
	var req usagedomain.ListRecordsRequest

	from, err := parseOptionalTime(s.aggregators.Calendar(), c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(s.aggregators.Calendar(), c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	includeInactive, err := parseOptionalBool(c.Query("include_inactive"))
	if err != nil {
		AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid include_inactive"))
		return
	}
	pageSize, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	req.From = derefTime(from)
	req.To = derefTime(to)
	req.IncludeInactive = includeInactive != nil && *includeInactive
	req.PageToken = c.Query("page_token")
	req.PageSize = pageSize

	resp, err := s.usagesvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
