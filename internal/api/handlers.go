// Package api implements the spec §6 HTTP surface: request binding,
// the /api/v1 handler set, and the Gin middleware chain. Adapted from
// the teacher's cmd/api-server/main.go flat
// handler-closure-over-service style (kept: ShouldBindJSON + apperr-
// shaped JSON error responses, per-handler closures built in the
// router), repointed at this spec's orchestrator/feedback/repository
// surface instead of the teacher's ingestion/analytics services.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sentinel/fraud-engine/internal/apperr"
	"github.com/sentinel/fraud-engine/internal/auth"
	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/feedback"
	"github.com/sentinel/fraud-engine/internal/models"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/orchestrator"
)

const maxBatchSize = 100

func toScoreRequest(req CheckTransactionRequest) orchestrator.ScoreRequest {
	return orchestrator.ScoreRequest{
		TransactionID:     req.TransactionID,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		TransactionType:   req.TransactionType,
		Vertical:          req.Vertical,
		BVN:               req.BVN,
		Phone:             req.Phone,
		Email:             req.Email,
		DeviceID:          req.DeviceID,
		IPAddress:         req.IPAddress,
		UserAgent:         req.UserAgent,
		DeviceFingerprint: req.DeviceFingerprint,
		Location:          req.Location,
	}
}

func checkTransactionHandler(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		var req CheckTransactionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeAppError(c, apperr.InvalidRequest(err.Error()))
			return
		}

		tx, err := orch.Score(c.Request.Context(), tenant, toScoreRequest(req))
		if err != nil {
			writeOrchestratorError(c, err)
			return
		}

		c.JSON(http.StatusOK, toTransactionResponse(tx))
	}
}

func checkTransactionsBatchHandler(orch *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		var req CheckTransactionsBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeAppError(c, apperr.InvalidRequest(err.Error()))
			return
		}
		if len(req.Transactions) > maxBatchSize {
			writeAppError(c, apperr.InvalidRequest("at most 100 transactions per batch"))
			return
		}

		start := time.Now()
		scoreReqs := make([]orchestrator.ScoreRequest, len(req.Transactions))
		for i, item := range req.Transactions {
			scoreReqs[i] = toScoreRequest(item)
		}

		results, errs := orch.ScoreBatch(c.Request.Context(), tenant, scoreReqs)

		resp := BatchResponse{
			Results:        make([]BatchResult, len(req.Transactions)),
			TotalProcessed: len(req.Transactions),
		}
		for i, item := range req.Transactions {
			if errs[i] != nil {
				resp.Results[i] = BatchResult{TransactionID: item.TransactionID, Error: errs[i].Error()}
				continue
			}
			txResp := toTransactionResponse(results[i])
			resp.Results[i] = BatchResult{TransactionID: item.TransactionID, Result: &txResp}
		}
		resp.ProcessingTimeMs = time.Since(start).Milliseconds()

		c.JSON(http.StatusOK, resp)
	}
}

func getTransactionHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)
		id := c.Param("id")

		tx, err := txRepo.GetByID(c.Request.Context(), tenant.TenantID, id)
		if err != nil {
			if errors.Is(err, repositories.ErrTransactionNotFound) {
				writeAppError(c, apperr.NotFound("transaction not found"))
				return
			}
			writeAppError(c, apperr.DependencyUnavailable("failed to read transaction"))
			return
		}

		c.JSON(http.StatusOK, toTransactionResponse(tx))
	}
}

func feedbackHandler(handler *feedback.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		var req FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeAppError(c, apperr.InvalidRequest(err.Error()))
			return
		}

		err := handler.Submit(c.Request.Context(), tenant.TenantID, req.TransactionID, req.ActualFraud)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		case errors.Is(err, repositories.ErrTransactionNotFound):
			writeAppError(c, apperr.NotFound("transaction not found"))
		case errors.Is(err, feedback.ErrAlreadyApplied):
			writeAppError(c, apperr.InvalidRequest("feedback already recorded for this transaction"))
		default:
			writeAppError(c, apperr.DependencyUnavailable("failed to record feedback"))
		}
	}
}

func statsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		days := 7
		if raw := c.Query("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > 90 {
				writeAppError(c, apperr.InvalidRequest("days must be an integer between 1 and 90"))
				return
			}
			days = n
		}

		s, err := txRepo.GetStats(c.Request.Context(), tenant.TenantID, days)
		if err != nil {
			writeAppError(c, apperr.DependencyUnavailable("failed to read stats"))
			return
		}

		c.JSON(http.StatusOK, StatsResponse{
			Days:              days,
			TotalTransactions: s.TotalTransactions,
			FlaggedCount:      s.FlaggedCount,
			BlockedCount:      s.BlockedCount,
			AvgRiskScore:      s.AvgRiskScore,
			HighRiskCount:     s.HighRiskCount,
			CriticalRiskCount: s.CriticalRiskCount,
		})
	}
}

func listTransactionsHandler(txRepo *repositories.TransactionRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		offset := 0
		if raw := c.Query("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				offset = n
			}
		}
		riskLevel := c.Query("risk_level")

		txs, total, err := txRepo.List(c.Request.Context(), tenant.TenantID, riskLevel, limit, offset)
		if err != nil {
			writeAppError(c, apperr.DependencyUnavailable("failed to list transactions"))
			return
		}

		c.JSON(http.StatusOK, models.PaginatedTransactions{
			Data: txs,
			Pagination: models.Pagination{
				Page:     offset/limit + 1,
				PageSize: limit,
				Total:    total,
			},
		})
	}
}

// clientInfoHandler reads today's per-tenant call count, the simple
// usage counter the rate-limit middleware maintains alongside the
// minute bucket (spec §6 /client-info).
func clientInfoHandler(callCounter *CallCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant, _ := auth.TenantFromContext(c)

		callsToday, err := callCounter.Today(c.Request.Context(), tenant.TenantID)
		if err != nil {
			log.Warn().Err(err).Msg("failed to read today's call count")
		}

		c.JSON(http.StatusOK, ClientInfoResponse{
			TenantName:         tenant.Name,
			Plan:               planFor(tenant.RateLimitPerMinute),
			RateLimitPerMinute: tenant.RateLimitPerMinute,
			CallsToday:         callsToday,
		})
	}
}

// planFor derives a display-only plan label from the tenant's rate
// limit — the data model (spec §3) has no separate plan field, and
// introducing persisted plan state has no grounding in the spec.
func planFor(rateLimitPerMinute int) string {
	switch {
	case rateLimitPerMinute >= 5000:
		return "enterprise"
	case rateLimitPerMinute >= 500:
		return "growth"
	default:
		return "standard"
	}
}

func consortiumInsightsHandler(consortiumRepo *repositories.ConsortiumRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := consortiumRepo.Insights(c.Request.Context())
		if err != nil {
			writeAppError(c, apperr.DependencyUnavailable("failed to read consortium insights"))
			return
		}

		resp := ConsortiumInsightsResponse{
			TotalEntries:  summary.TotalEntries,
			TotalFraud:    summary.TotalFraud,
			TotalObserved: summary.TotalObserved,
		}
		if summary.TotalObserved > 0 {
			resp.FraudRate = float64(summary.TotalFraud) / float64(summary.TotalObserved)
		}
		c.JSON(http.StatusOK, resp)
	}
}

// healthHandler reports liveness plus each dependency's actual
// reachability, so a load balancer pulls an instance that can't reach
// Postgres or Redis out of rotation instead of treating the process as
// healthy because it can still answer HTTP.
func healthHandler(db *repositories.Database, store cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		deps := gin.H{}
		healthy := true

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			deps["database"] = err.Error()
			healthy = false
		} else {
			deps["database"] = "ok"
			stats := db.Stats()
			deps["database_pool"] = gin.H{
				"total_conns": stats.TotalConns(),
				"idle_conns":  stats.IdleConns(),
			}
		}

		if err := store.Ping(c.Request.Context()); err != nil {
			deps["cache"] = err.Error()
			healthy = false
		} else {
			deps["cache"] = "ok"
		}

		status := http.StatusOK
		statusText := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			statusText = "degraded"
		}

		c.JSON(status, gin.H{
			"status":       statusText,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"dependencies": deps,
		})
	}
}

func writeAppError(c *gin.Context, appErr *apperr.Error) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
}

func writeOrchestratorError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		writeAppError(c, appErr)
		return
	}
	log.Error().Err(err).Msg("unhandled scoring error")
	writeAppError(c, apperr.Internal("failed to score transaction"))
}
