package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-ledger/internal/middleware"
)

// RegisterRoutes mounts the v1 API on the given group
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers, jwtSecret string) {
	// Health check (public)
	v1.GET("/health", h.Health.Index)

	protected := v1.Group("")
	protected.Use(middleware.Auth(jwtSecret))
	{
		// Admin-only routes
		admin := protected.Group("")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/recompute", h.Recompute.Run)
			admin.DELETE("/transactions/:transaction_id", h.Ledger.DeleteTransaction)
			admin.DELETE("/payments/:payment_id", h.Ledger.DeletePayment)
			admin.DELETE("/loans/:loan_id", h.Loan.Delete)
			admin.POST("/loans/:loan_id/adjustments", h.Loan.Adjust)
			admin.GET("/audits", h.Audit.Index)
			admin.GET("/jobs/status", h.Job.Status)
		}

		// Operators book into the ledger and move loans through their lifecycle
		operator := protected.Group("")
		operator.Use(middleware.RequireRole(middleware.RoleAdmin, middleware.RoleOperator))
		{
			operator.POST("/payments", h.Ledger.RecordPayment)
			operator.POST("/payments/:payment_id/transactions", h.Ledger.AppendTransaction)
			operator.POST("/loans", h.Loan.Create)
			operator.POST("/loans/:loan_id/approve", h.Loan.Approve)
			operator.POST("/loans/:loan_id/reject", h.Loan.Reject)
			operator.POST("/loans/:loan_id/fund", h.Loan.Fund)
			operator.POST("/artifacts/check_limit", h.Artifact.CheckLimit)
		}

		// Read access for every authenticated role
		protected.GET("/companies/:company_id/financial_summaries/:date", h.Summary.Show)
		protected.GET("/companies/:company_id/financial_summaries/:date/preview", h.Summary.Preview)
		protected.GET("/companies/:company_id/contract", h.Summary.Contract)
		protected.GET("/loans/:loan_id/transactions", h.Ledger.LoanTransactions)
		protected.GET("/artifacts/loan_sums", h.Artifact.LoanSums)
	}
}
