package v1_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/domain/catalogs/warehouse"
	"backoffice/internal/domain/registers/stock"
	v1 "backoffice/internal/infrastructure/http/v1"
	"backoffice/internal/infrastructure/http/v1/handlers"
	"backoffice/internal/infrastructure/http/v1/middleware"
	"backoffice/internal/infrastructure/storage/memory"
	"backoffice/pkg/logger"
)

type apiFixture struct {
	router    http.Handler
	movements *memory.MovementRepo
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()

	main := warehouse.NewWarehouse("MAIN", "Main")
	bar := warehouse.NewWarehouse("BAR", "Bar")
	registry := warehouse.NewService(memory.NewWarehouseRepo(main, bar), nil, "Main")

	movements := memory.NewMovementRepo()
	svc := stock.NewService(movements, memory.NewBalanceRepo(), registry, nil)

	router := v1.NewRouter(v1.RouterConfig{
		Logger:      logger.NewNop(),
		Stock:       svc,
		Warehouses:  registry,
		Idempotency: memory.NewIdempotencyStore(10 * time.Minute),
		Health:      handlers.NewHealthHandler("backoffice", "test", "memory", nil, nil),
	})
	return &apiFixture{router: router, movements: movements}
}

type envelope struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data"`
	Message  string          `json:"message"`
	Code     string          `json:"code"`
	Details  map[string]any  `json:"details"`
	Warnings []struct {
		Code string `json:"code"`
	} `json:"warnings"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
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

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func assertDecimal(t *testing.T, want, got string) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(decimal.RequireFromString(got)), "want %s, got %s", want, got)
}

func TestAPI_AppendThenReadBalance(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"itemId":        "flour",
		"warehouseName": "main",
		"movementType":  "purchase",
		"quantity":      10,
		"unitPrice":     "2.5",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.True(t, env.Success)

	var created struct {
		Movement struct {
			ID            string `json:"id"`
			MovementType  string `json:"movementType"`
			WarehouseName string `json:"warehouseName"`
		} `json:"movement"`
		Balance struct {
			Quantity   string `json:"quantity"`
			TotalValue string `json:"totalValue"`
		} `json:"balance"`
	}
	decodeData(t, env, &created)
	assert.Equal(t, "PURCHASE", created.Movement.MovementType)
	assert.Equal(t, "Main", created.Movement.WarehouseName)
	assertDecimal(t, "10", created.Balance.Quantity)
	assertDecimal(t, "25", created.Balance.TotalValue)

	rec, env = f.do(t, http.MethodGet, "/api/inventory/balance/flour?warehouseName=MAIN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal struct {
		Quantity     string `json:"quantity"`
		AveragePrice string `json:"averagePrice"`
	}
	decodeData(t, env, &bal)
	assertDecimal(t, "10", bal.Quantity)
	assertDecimal(t, "2.5", bal.AveragePrice)
}

func TestAPI_AppendListsEveryInvalidField(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"movementType": "TELEPORT",
		"quantity":     -1,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	fields, ok := env.Details["fields"].([]any)
	require.True(t, ok)
	var names []string
	for _, fe := range fields {
		names = append(names, fe.(map[string]any)["field"].(string))
	}
	assert.ElementsMatch(t, []string{"itemId", "warehouseName", "quantity", "movementType"}, names)
	assert.Zero(t, f.movements.Len())
}

func TestAPI_MalformedBody(t *testing.T) {
	f := newAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/inventory/stock-movements", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestAPI_ActorFromUserHeader(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"itemId": "milk", "warehouseName": "Main", "movementType": "INITIAL", "quantity": 4, "unitPrice": 1,
	}, middleware.HeaderUserID, "chef-7")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		Movement struct {
			CreatedBy string `json:"createdBy"`
		} `json:"movement"`
	}
	decodeData(t, env, &created)
	assert.Equal(t, "chef-7", created.Movement.CreatedBy)
}

func TestAPI_IdempotentAppendReplays(t *testing.T) {
	f := newAPI(t)
	body := map[string]any{
		"itemId": "sugar", "warehouseName": "Main", "movementType": "PURCHASE", "quantity": 3, "unitPrice": 2,
	}

	first, _ := f.do(t, http.MethodPost, "/api/inventory/stock-movements", body, middleware.HeaderIdempotencyKey, "k-1")
	second, _ := f.do(t, http.MethodPost, "/api/inventory/stock-movements", body, middleware.HeaderIdempotencyKey, "k-1")

	require.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, f.movements.Len())

	body["quantity"] = 4
	rec, env := f.do(t, http.MethodPost, "/api/inventory/stock-movements", body, middleware.HeaderIdempotencyKey, "k-1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_CONFLICT", env.Code)
	assert.Equal(t, 1, f.movements.Len())
}

func TestAPI_IdempotentValidationFailureReplays(t *testing.T) {
	f := newAPI(t)
	body := map[string]any{"itemId": "x", "movementType": "SALE", "quantity": 0}

	first, _ := f.do(t, http.MethodPost, "/api/inventory/stock-movements", body, middleware.HeaderIdempotencyKey, "k-2")
	second, _ := f.do(t, http.MethodPost, "/api/inventory/stock-movements", body, middleware.HeaderIdempotencyKey, "k-2")

	assert.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestAPI_ReconcileNoopAndAdjustment(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/inventory/reconcile", map[string]any{
		"itemId": "rice", "warehouseName": "Main", "newQuantity": 8, "unitPrice": 3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var adj struct {
		Noop  bool   `json:"noop"`
		Delta string `json:"delta"`
	}
	decodeData(t, env, &adj)
	assert.False(t, adj.Noop)
	assertDecimal(t, "8", adj.Delta)

	rec, env = f.do(t, http.MethodPost, "/api/inventory/reconcile", map[string]any{
		"itemId": "rice", "warehouseName": "Main", "newQuantity": "8.0000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var noop struct {
		Noop     bool            `json:"noop"`
		Movement json.RawMessage `json:"movement"`
	}
	decodeData(t, env, &noop)
	assert.True(t, noop.Noop)
	assert.Equal(t, "null", string(noop.Movement))
	assert.Equal(t, 1, f.movements.Len())
}

func TestAPI_ReconcileRequiresNewQuantity(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodPost, "/api/inventory/reconcile", map[string]any{"itemId": "rice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestAPI_WritesRequireWarehouse(t *testing.T) {
	f := newAPI(t)

	cases := []struct {
		path string
		body map[string]any
	}{
		{"/api/inventory/stock-movements", map[string]any{"itemId": "rice", "movementType": "PURCHASE", "quantity": 2, "unitPrice": 1}},
		{"/api/inventory/reconcile", map[string]any{"itemId": "rice", "newQuantity": 4}},
		{"/api/inventory/sync-balance", map[string]any{"itemId": "rice"}},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			rec, env := f.do(t, http.MethodPost, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "VALIDATION_ERROR", env.Code)
			assert.Contains(t, env.Message, "warehouse is required")

			fields, ok := env.Details["fields"].([]any)
			require.True(t, ok)
			require.Len(t, fields, 1)
			assert.Equal(t, "warehouseName", fields[0].(map[string]any)["field"])
		})
	}
	assert.Zero(t, f.movements.Len())
}

func TestAPI_TransferAndAggregate(t *testing.T) {
	f := newAPI(t)

	_, _ = f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"itemId": "oil", "warehouseName": "Main", "movementType": "PURCHASE", "quantity": 10, "unitPrice": 4,
	})
	rec, _ := f.do(t, http.MethodPost, "/api/inventory/transfers", map[string]any{
		"itemId": "oil", "fromWarehouse": "MAIN", "toWarehouse": "Bar", "quantity": 4,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := f.do(t, http.MethodGet, "/api/inventory/balance?itemId=oil", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []struct {
			WarehouseName string `json:"warehouseName"`
			Quantity      string `json:"quantity"`
		} `json:"items"`
		Count int `json:"count"`
	}
	decodeData(t, env, &list)
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "Bar", list.Items[0].WarehouseName)
	assertDecimal(t, "4", list.Items[0].Quantity)
	assertDecimal(t, "6", list.Items[1].Quantity)

	_, env = f.do(t, http.MethodGet, "/api/inventory/balance/oil", nil)
	var agg struct {
		WarehouseID  string `json:"warehouseId"`
		Quantity     string `json:"quantity"`
		AveragePrice string `json:"averagePrice"`
	}
	decodeData(t, env, &agg)
	assert.Empty(t, agg.WarehouseID)
	assertDecimal(t, "10", agg.Quantity)
	assertDecimal(t, "4", agg.AveragePrice)

	rec, env = f.do(t, http.MethodPost, "/api/inventory/transfers", map[string]any{
		"itemId": "oil", "fromWarehouse": "Bar", "toWarehouse": "Main", "quantity": 5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", env.Code)
}

func TestAPI_OverdrawWarnsAndSyncBalance(t *testing.T) {
	f := newAPI(t)

	_, _ = f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"itemId": "salt", "warehouseName": "Main", "movementType": "INITIAL", "quantity": 2, "unitPrice": 1,
	})
	rec, env := f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
		"itemId": "salt", "warehouseName": "Main", "movementType": "SALE", "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, env.Warnings, 1)
	assert.Equal(t, "NEGATIVE_BALANCE_ANOMALY", env.Warnings[0].Code)

	rec, env = f.do(t, http.MethodPost, "/api/inventory/sync-balance", map[string]any{"itemId": "salt", "warehouseName": "Main"})
	require.Equal(t, http.StatusOK, rec.Code)
	var synced struct {
		Balance struct {
			Quantity     string `json:"quantity"`
			AnomalyCount int    `json:"anomalyCount"`
		} `json:"balance"`
	}
	decodeData(t, env, &synced)
	assertDecimal(t, "0", synced.Balance.Quantity)
	assert.Equal(t, 1, synced.Balance.AnomalyCount)
	assert.Len(t, env.Warnings, 1)
}

func TestAPI_HistoryFiltersAndBadQuery(t *testing.T) {
	f := newAPI(t)

	for _, mt := range []string{"PURCHASE", "SALE", "PURCHASE"} {
		rec, _ := f.do(t, http.MethodPost, "/api/inventory/stock-movements", map[string]any{
			"itemId": "tea", "warehouseName": "Main", "movementType": mt, "quantity": 1, "unitPrice": 1,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec, env := f.do(t, http.MethodGet, "/api/inventory/stock-movements?itemId=tea&movementType=purchase", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count int `json:"count"`
	}
	decodeData(t, env, &list)
	assert.Equal(t, 2, list.Count)

	rec, env = f.do(t, http.MethodGet, "/api/inventory/stock-movements?limit=ten", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/inventory/stock-movements?fromDate=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Warehouses(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodGet, "/api/warehouses?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Items []struct {
			Code string `json:"code"`
		} `json:"items"`
	}
	decodeData(t, env, &list)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "BAR", list.Items[0].Code)

	rec, env = f.do(t, http.MethodGet, "/api/warehouses/default", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var def struct {
		Name string `json:"name"`
	}
	decodeData(t, env, &def)
	assert.Equal(t, "Main", def.Name)

	rec, _ = f.do(t, http.MethodGet, "/api/warehouses?status=closed", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ItemStockWithoutCache(t *testing.T) {
	f := newAPI(t)

	rec, env := f.do(t, http.MethodGet, "/api/inventory/items/flour/stock", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Code)
}

func TestAPI_HealthAndUnknownRoute(t *testing.T) {
	f := newAPI(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	r, env := f.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, r.Code)
	assert.Equal(t, "NOT_FOUND", env.Code)
	assert.NotEmpty(t, r.Header().Get(middleware.HeaderRequestID))
}
