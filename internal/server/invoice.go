package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
)

type generateInvoiceRequest struct {
	UserID       string `json:"user_id"`
	BillingMonth string `json:"billing_month"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserField(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	inv, err := s.invoiceSvc.Generate(c.Request.Context(), userID, strings.TrimSpace(req.BillingMonth))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}

type generateAllInvoicesRequest struct {
	BillingMonth string `json:"billing_month"`
}

func (s *Server) GenerateAllInvoices(c *gin.Context) {
	var req generateAllInvoicesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.invoiceSvc.GenerateAll(c.Request.Context(), strings.TrimSpace(req.BillingMonth))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) ListInvoices(c *gin.Context) {
	month, err := s.monthOrDefault(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invoices, err := s.invoiceSvc.ListByMonth(c.Request.Context(), month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"month": month, "invoices": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	userID, err := parseUserParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	month := strings.TrimSpace(c.Param("month"))
	if _, _, monthErr := ledgerdomain.MonthBounds(month); monthErr != nil {
		AbortWithError(c, newValidationError("month", "invalid_month", "month must look like 2026-08"))
		return
	}

	inv, err := s.invoiceSvc.Get(c.Request.Context(), userID, month)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, inv)
}
