package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	actorHeader       = "X-Actor"
	idempotencyHeader = "Idempotency-Key"
)

type HTTPHandler struct {
	ledger  *service.LedgerService
	logger  *zap.Logger
	metrics http.Handler
}

// NewHTTPHandler serves the ledger over JSON. metrics may be nil.
func NewHTTPHandler(ledger *service.LedgerService, logger *zap.Logger, metrics http.Handler) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{ledger: ledger, logger: logger, metrics: metrics}
}

func (h *HTTPHandler) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), h.accessLog())

	router.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		router.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := router.Group("/api/v1/inventory")
	{
		api.GET("", h.List)
		api.GET("/locate", h.Locate)
		api.GET("/expiring", h.ExpiringSoon)
		api.GET("/low-stock", h.LowStock)
		api.GET("/total", h.TotalQuantity)

		api.POST("/check-in", h.CheckIn)
		api.POST("/check-out", h.CheckOut)
		api.POST("/adjust", h.Adjust)
		api.POST("/transfer", h.Transfer)
		api.POST("/write-off", h.WriteOff)
		api.POST("/physical-count", h.PhysicalCount)

		api.GET("/:id", h.Get)
		api.DELETE("/:id", h.Delete)
		api.GET("/:id/movements", h.Movements)
	}

	return router
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HTTPHandler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	rec, err := h.ledger.CheckIn(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) CheckOut(c *gin.Context) {
	var req CheckOutRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	rec, err := h.ledger.CheckOut(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	rec, err := h.ledger.AdjustQuantity(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	res, err := h.ledger.Transfer(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, TransferResponse{
		TransferID: res.TransferID,
		Source:     toRecordResponse(res.Source),
		Target:     toRecordResponse(res.Target),
	})
}

func (h *HTTPHandler) WriteOff(c *gin.Context) {
	var req WriteOffRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	rec, err := h.ledger.WriteOff(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) PhysicalCount(c *gin.Context) {
	var req PhysicalCountRequest
	if !h.bind(c, &req) {
		return
	}
	req.RequestID = requestID(c, req.RequestID)

	rec, err := h.ledger.PhysicalCountAdjustment(c.Request.Context(), req.command(c.GetHeader(actorHeader)))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) Get(c *gin.Context) {
	rec, err := h.ledger.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

func (h *HTTPHandler) Delete(c *gin.Context) {
	err := h.ledger.Delete(c.Request.Context(), service.DeleteCommand{
		RequestID: requestID(c, ""),
		Actor:     c.GetHeader(actorHeader),
		ID:        c.Param("id"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPHandler) Movements(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.ledger.ListMovements(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toMovementPage(res, page))
}

func (h *HTTPHandler) Locate(c *gin.Context) {
	rec, err := h.ledger.Locate(c.Request.Context(), service.LocateQuery{
		WarehouseID: c.Query("warehouse_id"),
		VariantID:   c.Query("variant_id"),
		UnitID:      c.Query("unit_id"),
		Status:      domain.InventoryStatus(c.Query("status")),
		Batch:       c.Query("batch"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if rec == nil {
		h.fail(c, domain.ErrInventoryNotFound)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(*rec))
}

func (h *HTTPHandler) List(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter, err := filterFromQuery(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.ledger.FindPage(c.Request.Context(), filter, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordPage(res, page))
}

func (h *HTTPHandler) ExpiringSoon(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	days, err := intQuery(c, "days", 30)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.ledger.ExpiringSoon(c.Request.Context(), c.Query("warehouse_id"), days, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordPage(res, page))
}

func (h *HTTPHandler) LowStock(c *gin.Context) {
	page, err := pageRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	threshold, err := intQuery(c, "threshold", 10)
	if err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.ledger.LowStock(c.Request.Context(), c.Query("warehouse_id"), threshold, page)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordPage(res, page))
}

func (h *HTTPHandler) TotalQuantity(c *gin.Context) {
	total, err := h.ledger.TotalQuantity(c.Request.Context(),
		c.Query("warehouse_id"), c.Query("variant_id"), c.Query("unit_id"), domain.InventoryStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total})
}

func (h *HTTPHandler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "validation",
			Message: "invalid request body",
		})
		return false
	}
	return true
}

func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := httpStatus(err)
	kind := domain.Kind(err)
	message := err.Error()

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		message = "internal error"
	} else {
		h.logger.Debug("request rejected", zap.String("path", c.FullPath()), zap.String("kind", kind), zap.Error(err))
	}

	c.JSON(status, ErrorResponse{Success: false, Error: kind, Message: message})
}

func (h *HTTPHandler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAttributeMismatch),
		errors.Is(err, domain.ErrExpiredStock),
		errors.Is(err, domain.ErrNoAdjustmentNeeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrNonZeroStockDeletion),
		errors.Is(err, domain.ErrConcurrencyConflict),
		errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func requestID(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(idempotencyHeader)
}

func pageRequest(c *gin.Context) (domain.PageRequest, error) {
	limit, err := intQuery(c, "limit", 0)
	if err != nil {
		return domain.PageRequest{}, err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return domain.PageRequest{}, err
	}
	return domain.PageRequest{
		Limit:  limit,
		Offset: offset,
		SortBy: domain.SortField(c.Query("sort")),
		Desc:   c.Query("order") == "desc",
	}, nil
}

func filterFromQuery(c *gin.Context) (domain.Filter, error) {
	f := domain.Filter{
		WarehouseID: c.Query("warehouse_id"),
		VariantID:   c.Query("variant_id"),
		UnitID:      c.Query("unit_id"),
		Batch:       c.Query("batch"),
		Status:      domain.InventoryStatus(c.Query("status")),
	}

	var err error
	if f.ExpiresAfter, err = timeQuery(c, "expires_after"); err != nil {
		return f, err
	}
	if f.ExpiresBefore, err = timeQuery(c, "expires_before"); err != nil {
		return f, err
	}
	return f, nil
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrValidation, key)
	}
	return n, nil
}

func timeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", domain.ErrValidation, key)
	}
	return &t, nil
}
