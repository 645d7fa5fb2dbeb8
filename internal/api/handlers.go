package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/internal/middleware"
	"github.com/health-risk-engine/internal/service"
)

// explainRequest is the optional body of POST /risk/explain.
type explainRequest struct {
	WhatIf map[string]float64 `json:"what_if"`
}

func (s *Server) handleExplain(c *gin.Context) {
	var req explainRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			s.badRequest(c, "Malformed request body", err.Error())
			return
		}
	}

	result, err := s.deps.Engine.Explain(c.Request.Context(), patientID(c), req.WhatIf)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSimulate(c *gin.Context) {
	var params service.SimulationParams
	var err error

	if params.Months, err = intQuery(c, "months"); err != nil {
		s.badRequest(c, "Invalid months parameter", err.Error())
		return
	}
	if params.Paths, err = intQuery(c, "paths"); err != nil {
		s.badRequest(c, "Invalid paths parameter", err.Error())
		return
	}
	if raw, ok := c.GetQuery("seed"); ok {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.badRequest(c, "Invalid seed parameter", err.Error())
			return
		}
		params.Seed = &seed
	}

	result, err := s.deps.Engine.Simulate(c.Request.Context(), patientID(c), params)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleGlobalImportance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"global_importance": s.deps.Engine.GlobalImportance()})
}

func (s *Server) handleHistory(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil || limit < 0 {
		s.badRequest(c, "Invalid limit parameter", "limit must be a non-negative integer")
		return
	}

	records, err := s.deps.Engine.History(c.Request.Context(), patientID(c), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"patient_id": patientID(c),
		"count":      len(records),
		"records":    records,
	})
}

func patientID(c *gin.Context) string {
	return c.GetString(middleware.PatientIDKey)
}

// intQuery parses an optional integer query parameter. Absent means 0.
func intQuery(c *gin.Context, name string) (int, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func (s *Server) badRequest(c *gin.Context, message, details string) {
	abortWithError(c, domain.NewAPIError(
		domain.ErrInvalidInput, message, details, c.GetString(middleware.CorrelationIDKey)))
}

// writeError maps service errors onto API errors. Internal details are
// logged, not returned.
func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.CorrelationIDKey)

	if verr, ok := domain.AsValidationError(err); ok {
		abortWithError(c, domain.NewAPIError(domain.ErrValidation, verr.Error(), verr.Field, requestID))
		return
	}

	logger := s.deps.Logger.WithError(err).WithField("correlation_id", requestID)
	if errors.Is(err, service.ErrDataSource) {
		logger.Error("Patient data source failure")
		abortWithError(c, domain.NewAPIError(
			domain.ErrDatabaseError, "Patient data is temporarily unavailable", "", requestID))
		return
	}

	logger.Error("Unhandled service error")
	abortWithError(c, domain.NewAPIError(domain.ErrInternalServer, "Internal server error", "", requestID))
}

func abortWithError(c *gin.Context, apiErr *domain.APIError) {
	c.AbortWithStatusJSON(apiErr.Status(), apiErr)
}
