package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

func newTestLedger(t *testing.T) *service.LedgerService {
	t.Helper()

	now := time.Now().UTC()
	catalog := storage.NewMemoryCatalog()
	catalog.AddWarehouse(domain.Warehouse{ID: "W1", Code: "W1", Name: "Main", RegistrationExpirationDate: now.AddDate(1, 0, 0)})
	catalog.AddWarehouse(domain.Warehouse{ID: "W2", Code: "W2", Name: "Overflow", RegistrationExpirationDate: now.AddDate(1, 0, 0)})
	catalog.AddVariant(domain.Variant{ID: "V1", SKU: "SKU-1"})
	catalog.AddUnit(domain.Unit{ID: "U1", Name: "piece"})

	return service.NewLedgerService(
		storage.NewMemoryRepository(),
		catalog,
		storage.NewLocalLocker(),
		service.NewBatchGenerator(storage.NewMemorySequencer()),
		service.WithIdempotency(storage.NewMemoryIdempotency()),
	)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewHTTPHandler(newTestLedger(t), nil, nil).Router()
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHTTP_HealthCheck(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHTTP_CheckInCheckOut(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", CheckInRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 100, Batch: "B1",
	}, actorHeader, "alice")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rec := decode[RecordResponse](t, w)
	assert.Equal(t, 100, rec.Quantity)
	assert.Equal(t, "available", rec.Status)
	assert.Equal(t, "alice", rec.CreatedBy)
	assert.NotNil(t, rec.ExpirationDate)

	w = doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-out", CheckOutRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 30,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 70, decode[RecordResponse](t, w).Quantity)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 70, decode[RecordResponse](t, w).Quantity)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/"+rec.ID+"/movements", nil)
	require.Equal(t, http.StatusOK, w.Code)
	movements := decode[PageResponse[MovementResponse]](t, w)
	require.Len(t, movements.Items, 2)
	assert.Equal(t, "check_out", movements.Items[0].Type)
	assert.Equal(t, -30, movements.Items[0].Delta)
}

func TestHTTP_ErrorMapping(t *testing.T) {
	router := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", CheckInRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 10, Batch: "B1",
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   string
	}{
		{"malformed body", http.MethodPost, "/api/v1/inventory/check-in", "nope", http.StatusBadRequest, "validation"},
		{"zero quantity", http.MethodPost, "/api/v1/inventory/check-in",
			CheckInRequest{WarehouseID: "W1", VariantID: "V1", UnitID: "U1"}, http.StatusBadRequest, "validation"},
		{"unknown warehouse", http.MethodPost, "/api/v1/inventory/check-in",
			CheckInRequest{WarehouseID: "W9", VariantID: "V1", UnitID: "U1", Quantity: 1}, http.StatusNotFound, "not_found"},
		{"insufficient", http.MethodPost, "/api/v1/inventory/check-out",
			CheckOutRequest{WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 11}, http.StatusConflict, "insufficient_stock"},
		{"no stock at all", http.MethodPost, "/api/v1/inventory/check-out",
			CheckOutRequest{WarehouseID: "W2", VariantID: "V1", UnitID: "U1", Quantity: 1}, http.StatusNotFound, "inventory_not_found"},
		{"bad limit", http.MethodGet, "/api/v1/inventory?limit=x", nil, http.StatusBadRequest, "validation"},
		{"bad timestamp", http.MethodGet, "/api/v1/inventory?expires_after=tomorrow", nil, http.StatusBadRequest, "validation"},
		{"unknown record", http.MethodGet, "/api/v1/inventory/missing", nil, http.StatusNotFound, "inventory_not_found"},
		{"locate nothing", http.MethodGet, "/api/v1/inventory/locate?warehouse_id=W2&variant_id=V1&unit_id=U1", nil, http.StatusNotFound, "inventory_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.Error)
		})
	}
}

func TestHTTP_TransferAndQueries(t *testing.T) {
	router := newTestRouter(t)
	doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", CheckInRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 8, Batch: "B1",
	})

	w := doJSON(t, router, http.MethodPost, "/api/v1/inventory/transfer", TransferRequest{
		SourceWarehouseID: "W1", TargetWarehouseID: "W2", VariantID: "V1", UnitID: "U1", Quantity: 5,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[TransferResponse](t, w)
	assert.NotEmpty(t, res.TransferID)
	assert.Equal(t, 3, res.Source.Quantity)
	assert.Equal(t, 5, res.Target.Quantity)
	assert.Equal(t, "B1", res.Target.Batch)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/total?warehouse_id=W2&variant_id=V1&unit_id=U1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":5}`, w.Body.String())

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/low-stock?threshold=4", nil)
	require.Equal(t, http.StatusOK, w.Code)
	low := decode[PageResponse[RecordResponse]](t, w)
	require.Equal(t, 1, low.Total)
	assert.Equal(t, "W1", low.Items[0].WarehouseID)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory?variant_id=V1&sort=quantity&order=desc&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[PageResponse[RecordResponse]](t, w)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 5, page.Items[0].Quantity)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/expiring?days=400", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[PageResponse[RecordResponse]](t, w).Total)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/locate?warehouse_id=W2&variant_id=V1&unit_id=U1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.Target.ID, decode[RecordResponse](t, w).ID)
}

func TestHTTP_WriteOffCountAndDelete(t *testing.T) {
	router := newTestRouter(t)
	w := doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", CheckInRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 10,
	})
	rec := decode[RecordResponse](t, w)

	w = doJSON(t, router, http.MethodPost, "/api/v1/inventory/write-off", WriteOffRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 4, Reason: "damaged in transit",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 6, decode[RecordResponse](t, w).Quantity)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/inventory/"+rec.ID, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/inventory/physical-count", PhysicalCountRequest{
		WarehouseID: "W1", VariantID: "V1", UnitID: "U1", PhysicalCount: 0, Reason: "cycle count",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, decode[RecordResponse](t, w).Quantity)

	w = doJSON(t, router, http.MethodDelete, "/api/v1/inventory/"+rec.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/"+rec.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_IdempotencyKeyHeader(t *testing.T) {
	router := newTestRouter(t)
	body := CheckInRequest{WarehouseID: "W1", VariantID: "V1", UnitID: "U1", Quantity: 3, Batch: "B1"}

	w := doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", body, idempotencyHeader, "req-1")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/inventory/check-in", body, idempotencyHeader, "req-1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_request", decode[ErrorResponse](t, w).Error)

	w = doJSON(t, router, http.MethodGet, "/api/v1/inventory/total?warehouse_id=W1&variant_id=V1&unit_id=U1", nil)
	assert.JSONEq(t, `{"total":3}`, w.Body.String())
}

func TestHTTP_MetricsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ledger_operations_total 1\n"))
	})
	router := NewHTTPHandler(newTestLedger(t), nil, metrics).Router()

	w := doJSON(t, router, http.MethodGet, "/metrics", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ledger_operations_total")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(domain.ErrAttributeMismatch))
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(domain.ErrExpiredStock))
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(domain.ErrNoAdjustmentNeeded))
	assert.Equal(t, http.StatusConflict, httpStatus(domain.ErrConcurrencyConflict))
	assert.Equal(t, http.StatusConflict, httpStatus(domain.ErrNonZeroStockDeletion))
	assert.Equal(t, http.StatusInternalServerError, httpStatus(assert.AnError))
}
