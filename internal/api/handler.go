package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"order-fulfillment/internal/models"
	"order-fulfillment/internal/service"
	"order-fulfillment/internal/txn"
	"order-fulfillment/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService   *service.OrderService
	paymentService *service.PaymentService
	salesService   *service.SalesService
	dependencies   map[string]Pinger
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler. dependencies are pinged by /ready.
func NewHandler(
	orderService *service.OrderService,
	paymentService *service.PaymentService,
	salesService *service.SalesService,
	dependencies map[string]Pinger,
) *Handler {
	return &Handler{
		orderService:   orderService,
		paymentService: paymentService,
		salesService:   salesService,
		dependencies:   dependencies,
		logger:         util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/payments/:id/complete", h.completePayment)
		v1.POST("/sales/reprocess", h.reprocessSales)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, "Failed to create order", err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	resp, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// cancelOrder cancels an unpaid order right away
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.orderService.CancelOrder(c.Request.Context(), orderID); err != nil {
		h.writeError(c, "Failed to cancel order", err)
		return
	}

	resp, err := h.orderService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeError(c, "Failed to get order", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// completePayment runs the payment completion saga
func (h *Handler) completePayment(c *gin.Context) {
	paymentID, ok := pathID(c)
	if !ok {
		return
	}

	var req service.CompletePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.paymentService.CompletePayment(c.Request.Context(), paymentID, &req)
	if err != nil {
		h.writeError(c, "Failed to complete payment", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type reprocessSalesRequest struct {
	Items []models.LineItem `json:"items" binding:"required,min=1"`
}

// reprocessSales replays a dead-lettered sales accumulation
func (h *Handler) reprocessSales(c *gin.Context) {
	var req reprocessSalesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.salesService.Accumulate(c.Request.Context(), txn.New(), req.Items); err != nil {
		h.writeError(c, "Failed to accumulate sales", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accumulated", "items": len(req.Items)})
}

func (h *Handler) writeError(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case models.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
