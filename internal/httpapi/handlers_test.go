package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/httpapi"
	"github.com/matheusmosca/order-placement-engine/internal/idempotency"
	"github.com/matheusmosca/order-placement-engine/internal/memstore"
	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

var secret = []byte("test-secret")

// memoryIdempotency mirrors idempotency.Store without redis.
type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string

	// completeErr, when set, fails every Complete call.
	completeErr error
	completes   int
}

func (m *memoryIdempotency) Begin(_ context.Context, userID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userID + ":" + key
	v, ok := m.keys[k]
	if !ok {
		m.keys[k] = ""
		return "", nil
	}
	if v == "" {
		return "", idempotency.ErrInFlight
	}
	return v, nil
}

func (m *memoryIdempotency) Complete(_ context.Context, userID, key, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completes++
	if m.completeErr != nil {
		return m.completeErr
	}
	m.keys[userID+":"+key] = orderID
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, userID+":"+key)
	return nil
}

type server struct {
	router *gin.Engine
	store  *memstore.Store
	idem   *memoryIdempotency
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	metrics := orders.NoopMetrics()
	tracer := noop.NewTracerProvider().Tracer("test")
	policy := orders.RetryPolicy{MaxAttempts: 10, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	runner := orders.NewTxRunner(store, policy, zap.NewNop(), metrics)
	idem := &memoryIdempotency{keys: map[string]string{}}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Orders:       orders.NewOrderUseCase(runner, store, store, zap.NewNop(), tracer, metrics),
		Products:     orders.NewProductUseCase(runner, store, zap.NewNop(), tracer),
		Idempotency:  idem,
		Logger:       zap.NewNop(),
		Tracer:       tracer,
		JWTSecret:    secret,
		OrderTimeout: 5 * time.Second,
	})
	return &server{router: router, store: store, idem: idem}
}

func token(t *testing.T, userID string, role orders.Role) string {
	t.Helper()
	tok, err := httpapi.SignToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type orderBody struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Products []struct {
		ProductID string  `json:"productId"`
		Name      string  `json:"name"`
		Price     float64 `json:"price"`
		Quantity  int     `json:"quantity"`
	} `json:"products"`
	TotalPrice float64 `json:"totalPrice"`
	Status     string  `json:"status"`
}

type errorBody struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Errors  []string `json:"errors"`
}

type productBody struct {
	ID    string  `json:"id"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

func (s *server) createProduct(t *testing.T, name string, price float64, stock int) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/products", token(t, "admin-1", orders.RoleAdmin), map[string]any{
		"name":     name,
		"price":    price,
		"stock":    stock,
		"category": "test",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[productBody](t, w).ID
}

func item(productID string, qty int) map[string]any {
	return map[string]any{"productId": productID, "quantity": qty}
}

func TestPlaceOrder(t *testing.T) {
	s := newServer(t)
	productA := s.createProduct(t, "A", 100.00, 10)
	productB := s.createProduct(t, "B", 50.00, 5)
	alice := token(t, "alice", orders.RoleUser)

	w := s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{
		"products": []any{item(productA, 2), item(productB, 2)},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	order := decode[orderBody](t, w)
	assert.Equal(t, "alice", order.UserID)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, 300.00, order.TotalPrice)
	require.Len(t, order.Products, 2)
	assert.Equal(t, "A", order.Products[0].Name)
	assert.Equal(t, 100.00, order.Products[0].Price)

	w = s.do(t, http.MethodGet, "/api/products/"+productA, alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 8, decode[productBody](t, w).Stock)

	w = s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{
		"products": []any{item(productA, 1), item(productB, 10)},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Message, "insufficient stock")

	w = s.do(t, http.MethodGet, "/api/products/"+productA, alice, nil)
	assert.Equal(t, 8, decode[productBody](t, w).Stock)
}

func TestPlaceOrderIgnoresClientPrices(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "Laptop", 1999.99, 3)

	w := s.do(t, http.MethodPost, "/api/orders", token(t, "mallory", orders.RoleUser), map[string]any{
		"products": []any{map[string]any{
			"productId": productID,
			"quantity":  1,
			"price":     0.01,
			"name":      "free laptop",
		}},
		"totalPrice": 0.01,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	order := decode[orderBody](t, w)
	assert.Equal(t, 1999.99, order.TotalPrice)
	assert.Equal(t, "Laptop", order.Products[0].Name)
	assert.Equal(t, 1999.99, order.Products[0].Price)
}

func TestPlaceOrderValidation(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 10)
	alice := token(t, "alice", orders.RoleUser)

	tests := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{
			name:   "empty product list",
			body:   map[string]any{"products": []any{}},
			status: http.StatusBadRequest,
			field:  "products",
		},
		{
			name:   "zero quantity",
			body:   map[string]any{"products": []any{item(productID, 0)}},
			status: http.StatusBadRequest,
			field:  "products[0].quantity",
		},
		{
			name:   "negative quantity",
			body:   map[string]any{"products": []any{item(productID, -2)}},
			status: http.StatusBadRequest,
			field:  "products[0].quantity",
		},
		{
			name:   "malformed product id",
			body:   map[string]any{"products": []any{item("not-an-id", 1)}},
			status: http.StatusBadRequest,
			field:  "products[0].productId",
		},
		{
			name:   "quantity beyond any stock",
			body:   map[string]any{"products": []any{item(productID, 3_000_000_000)}},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown product",
			body:   map[string]any{"products": []any{item(uuid.NewString(), 1)}},
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/orders", alice, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			body := decode[errorBody](t, w)
			assert.False(t, body.Success)
			if tt.field != "" {
				require.NotEmpty(t, body.Errors)
				assert.Contains(t, body.Errors[0], tt.field)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	s := newServer(t)

	w := s.do(t, http.MethodGet, "/api/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	forged, err := httpapi.SignToken([]byte("other-secret"), "alice", orders.RoleAdmin, time.Hour)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/orders", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := httpapi.SignToken(secret, "alice", orders.RoleUser, -time.Minute)
	require.NoError(t, err)
	w = s.do(t, http.MethodGet, "/api/orders", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetOrderOwnership(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 10)

	w := s.do(t, http.MethodPost, "/api/orders", token(t, "alice", orders.RoleUser), map[string]any{
		"products": []any{item(productID, 1)},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[orderBody](t, w).ID

	w = s.do(t, http.MethodGet, "/api/orders/"+orderID, token(t, "alice", orders.RoleUser), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/orders/"+orderID, token(t, "bob", orders.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/orders/"+orderID, token(t, "admin-1", orders.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", token(t, "bob", orders.RoleUser), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConcurrentOrdersForLastUnit(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "Last one", 25, 1)

	tokens := []string{token(t, "alice", orders.RoleUser), token(t, "bob", orders.RoleUser)}

	var wg sync.WaitGroup
	codes := make([]int, len(tokens))
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := s.do(t, http.MethodPost, "/api/orders", tokens[i], map[string]any{
				"products": []any{item(productID, 1)},
			})
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusBadRequest}, codes)

	w := s.do(t, http.MethodGet, "/api/products/"+productID, token(t, "alice", orders.RoleUser), nil)
	assert.Equal(t, 0, decode[productBody](t, w).Stock)
}

func TestListOrders(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 100)
	alice := token(t, "alice", orders.RoleUser)

	for range 3 {
		w := s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{"products": []any{item(productID, 1)}})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/orders", token(t, "bob", orders.RoleUser), map[string]any{
		"products": []any{item(productID, 1)},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(t, http.MethodGet, "/api/orders?page=1&limit=2", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	page := decode[struct {
		Data       []orderBody `json:"data"`
		PageNumber int         `json:"pageNumber"`
		PageSize   int         `json:"pageSize"`
		TotalPages int         `json:"totalPages"`
		TotalSize  int         `json:"totalSize"`
	}](t, w)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, 1, page.PageNumber)
	assert.Equal(t, 2, page.PageSize)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, 3, page.TotalSize)
	for _, o := range page.Data {
		assert.Equal(t, "alice", o.UserID)
	}

	w = s.do(t, http.MethodGet, "/api/orders?status=lost", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/orders?limit=500", alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelOrder(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 5)
	alice := token(t, "alice", orders.RoleUser)

	w := s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{"products": []any{item(productID, 3)}})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[orderBody](t, w).ID

	w = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cancelled", decode[orderBody](t, w).Status)

	w = s.do(t, http.MethodGet, "/api/products/"+productID, alice, nil)
	assert.Equal(t, 5, decode[productBody](t, w).Stock)

	w = s.do(t, http.MethodPost, "/api/orders/"+orderID+"/cancel", alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIdempotentPlaceOrder(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 5)
	alice := token(t, "alice", orders.RoleUser)
	body := map[string]any{"products": []any{item(productID, 1)}}

	first := s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code)

	second := s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, decode[orderBody](t, first).ID, decode[orderBody](t, second).ID)

	w := s.do(t, http.MethodGet, "/api/products/"+productID, alice, nil)
	assert.Equal(t, 4, decode[productBody](t, w).Stock)

	// A failed attempt frees the key for a retry.
	w = s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{
		"products": []any{item(productID, 50)},
	}, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestIdempotencyCompleteFailureReleasesKey(t *testing.T) {
	s := newServer(t)
	s.idem.completeErr = errors.New("redis: connection reset")
	productID := s.createProduct(t, "A", 10, 5)
	alice := token(t, "alice", orders.RoleUser)
	body := map[string]any{"products": []any{item(productID, 1)}}

	w := s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 3, s.idem.completes)

	s.idem.mu.Lock()
	_, pending := s.idem.keys["alice:k-1"]
	s.idem.mu.Unlock()
	assert.False(t, pending)

	// The key is free again, so a retry places a new order instead of a 409.
	w = s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestIdempotencyCompleteRecovers(t *testing.T) {
	s := newServer(t)
	productID := s.createProduct(t, "A", 10, 5)
	alice := token(t, "alice", orders.RoleUser)
	body := map[string]any{"products": []any{item(productID, 1)}}

	s.idem.completeErr = errors.New("redis: timeout")
	go func() {
		time.Sleep(5 * time.Millisecond)
		s.idem.mu.Lock()
		s.idem.completeErr = nil
		s.idem.mu.Unlock()
	}()

	first := s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := s.do(t, http.MethodPost, "/api/orders", alice, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.Code, second.Body.String())
	assert.Equal(t, decode[orderBody](t, first).ID, decode[orderBody](t, second).ID)
}

func TestListOrdersPageBound(t *testing.T) {
	s := newServer(t)
	alice := token(t, "alice", orders.RoleUser)

	w := s.do(t, http.MethodGet, "/api/orders?page=2000000", alice, nil)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	body := decode[errorBody](t, w)
	require.NotEmpty(t, body.Errors)
	assert.Contains(t, body.Errors[0], "page")

	w = s.do(t, http.MethodGet, "/api/orders?page=1000000", alice, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRestockBounds(t *testing.T) {
	s := newServer(t)
	adminTok := token(t, "admin-1", orders.RoleAdmin)
	productID := s.createProduct(t, "Widget", 20, 5)

	w := s.do(t, http.MethodPost, "/api/products/"+productID+"/restock", adminTok, map[string]any{"quantity": 9_223_372_036_854_775_807})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	// Within the field bound but past the stock ceiling.
	w = s.do(t, http.MethodPost, "/api/products/"+productID+"/restock", adminTok, map[string]any{"quantity": orders.MaxStock})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, "/api/products", adminTok, map[string]any{
		"name":  "Huge",
		"price": 1,
		"stock": 3_000_000_000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/products/"+productID, adminTok, nil)
	assert.Equal(t, 5, decode[productBody](t, w).Stock)
}

func TestProductAdministration(t *testing.T) {
	s := newServer(t)
	alice := token(t, "alice", orders.RoleUser)
	adminTok := token(t, "admin-1", orders.RoleAdmin)

	w := s.do(t, http.MethodPost, "/api/products", alice, map[string]any{"name": "X", "price": 1, "stock": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/products", adminTok, map[string]any{"name": "X", "price": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	productID := s.createProduct(t, "Widget", 20, 2)

	w = s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{"products": []any{item(productID, 1)}})
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode[orderBody](t, w).ID

	w = s.do(t, http.MethodPatch, "/api/products/"+productID, adminTok, map[string]any{"price": 35})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 35.0, decode[productBody](t, w).Price)

	w = s.do(t, http.MethodGet, "/api/orders/"+orderID, alice, nil)
	assert.Equal(t, 20.0, decode[orderBody](t, w).TotalPrice)

	w = s.do(t, http.MethodPost, "/api/products/"+productID+"/restock", alice, map[string]any{"quantity": 5})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPost, "/api/products/"+productID+"/restock", adminTok, map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, decode[productBody](t, w).Stock)

	w = s.do(t, http.MethodPatch, "/api/products/"+productID, adminTok, map[string]any{"status": "retired"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, "/api/orders", alice, map[string]any{"products": []any{item(productID, 1)}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
