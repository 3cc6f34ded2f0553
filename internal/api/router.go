package api

import (
	"github.com/gin-gonic/gin"

	"github.com/sentinel/fraud-engine/internal/auth"
	"github.com/sentinel/fraud-engine/internal/cache"
	"github.com/sentinel/fraud-engine/internal/feedback"
	"github.com/sentinel/fraud-engine/internal/ratelimit"
	"github.com/sentinel/fraud-engine/internal/repositories"
	"github.com/sentinel/fraud-engine/internal/scoring/orchestrator"
)

// Deps bundles the collaborators the router needs to build handlers,
// mirroring the flat dependency bag the teacher's setupRoutes takes.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Feedback     *feedback.Handler
	Resolver     *auth.Resolver
	RateLimiter  *ratelimit.Limiter
	CallCounter  *CallCounter
	Transactions *repositories.TransactionRepository
	Consortium   *repositories.ConsortiumRepository
	DB           *repositories.Database
	Cache        cache.Store
}

// NewRouter builds the full Gin engine: global middleware plus the
// public/protected route groups from spec §6.
func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(loggingMiddleware())
	r.Use(corsMiddleware())

	r.GET("/health", healthHandler(deps.DB, deps.Cache))

	v1 := r.Group("/api/v1")
	v1.Use(auth.Middleware(deps.Resolver))
	v1.Use(rateLimitMiddleware(deps.RateLimiter, deps.CallCounter))

	v1.POST("/check-transaction", checkTransactionHandler(deps.Orchestrator))
	v1.POST("/check-transactions-batch", checkTransactionsBatchHandler(deps.Orchestrator))
	v1.GET("/transaction/:id", getTransactionHandler(deps.Transactions))
	v1.POST("/feedback", feedbackHandler(deps.Feedback))
	v1.GET("/stats", statsHandler(deps.Transactions))
	v1.GET("/transactions", listTransactionsHandler(deps.Transactions))
	v1.GET("/client-info", clientInfoHandler(deps.CallCounter))
	v1.GET("/consortium-insights", consortiumInsightsHandler(deps.Consortium))

	return r
}
