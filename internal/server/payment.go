package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/printora/internal/payment/domain"
)

type recordPaymentRequest struct {
	Amount         int64  `json:"amount"`
	Method         string `json:"method"`
	ReceivedAmount int64  `json:"received_amount"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.paymentSvc.RecordPayment(c.Request.Context(), paymentdomain.RecordPaymentRequest{
		OrderID:        strings.TrimSpace(c.Param("id")),
		Amount:         req.Amount,
		Method:         strings.TrimSpace(req.Method),
		ReceivedAmount: req.ReceivedAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrderPayments(c *gin.Context) {
	resp, err := s.paymentSvc.ListByOrder(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOutstanding(c *gin.Context) {
	outstanding, err := s.paymentSvc.Outstanding(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"outstanding": outstanding}})
}

func (s *Server) DeletePayment(c *gin.Context) {
	if err := s.paymentSvc.DeletePayment(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}
