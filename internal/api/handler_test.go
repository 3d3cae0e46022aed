package api_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/payorder-gateway/internal/api"
	"github.com/ayo6706/payorder-gateway/internal/api/middleware"
	"github.com/ayo6706/payorder-gateway/internal/config"
	"github.com/ayo6706/payorder-gateway/internal/domain"
	"github.com/ayo6706/payorder-gateway/internal/gateway"
	"github.com/ayo6706/payorder-gateway/internal/models"
	"github.com/ayo6706/payorder-gateway/internal/notify"
	"github.com/ayo6706/payorder-gateway/internal/observability"
	"github.com/ayo6706/payorder-gateway/internal/qr"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/ayo6706/payorder-gateway/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "payorder-gateway-test"
	testJWTAudience = "payorder-dashboard-test"
	paymentLinkKey  = "payment-link-test-key"
)

func TestMain(m *testing.M) {
	observability.Init()
	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)
	os.Exit(m.Run())
}

type inlineQueue struct{}

func (inlineQueue) Enqueue(_ string, fn func(ctx context.Context) error) error {
	return fn(context.Background())
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, notify.Notification) {}

type nopWebhooks struct{}

func (nopWebhooks) Send(context.Context, notify.Webhook) error { return nil }

type testEnv struct {
	t        *testing.T
	backend  *repository.SQLite
	merchant *models.Merchant
	bank     *models.Bank
	handler  http.Handler
}

// volatileBackend reports the SQLite store as non-durable, the way the redis
// fallback does.
type volatileBackend struct {
	*repository.SQLite
}

func (volatileBackend) Durable() bool { return false }

func setupAPI(t *testing.T, mutate func(m *models.Merchant)) *testEnv {
	t.Helper()
	return setupAPIWith(t, mutate, false)
}

func setupAPIWith(t *testing.T, mutate func(m *models.Merchant), volatile bool) *testEnv {
	t.Helper()
	backend := testutil.SQLite(t)
	var active repository.Backend = backend
	if volatile {
		active = volatileBackend{backend}
	}
	storage, err := repository.NewResolver(repository.ResolverConfig{
		Order:    []string{domain.BackendSQLite},
		Prefixes: map[string]string{domain.BackendSQLite: "SQW"},
	}, active)
	require.NoError(t, err)

	ledger := service.NewLedger(service.LedgerConfig{MaxAttempts: 50, MinBackoff: time.Millisecond, MaxBackoff: 3 * time.Millisecond})
	assigner := service.NewAssigner(0)
	queue := inlineQueue{}
	orders := service.NewOrderService(
		service.OrderConfig{PaymentPageURL: "https://pay.example", PaymentLinkKey: paymentLinkKey},
		storage,
		service.NewValidator(storage, gateway.NewStaticDirectory()),
		domain.NewOrderIDGenerator(),
		qr.NewResolver(qr.Config{Method: qr.MethodRemote, ServiceURL: "https://img.example"}),
		assigner,
		ledger,
		queue,
		nopNotifier{},
	)
	cfg := &config.Config{
		StaffTokenTTL:      time.Hour,
		PublicRateLimitRPS: 1000,
		AuthRateLimitRPS:   1000,
		BulkRateLimit:      2,
		BulkRateWindow:     time.Minute,
	}
	router := api.NewRouter(cfg, zap.NewNop(), api.Services{
		Storage:     storage,
		Auth:        service.NewAuthenticator(storage, testutil.Hasher()),
		Orders:      orders,
		Withdrawals: service.NewWithdrawalService(storage, assigner, ledger, queue, nopWebhooks{}),
	})
	return &testEnv{
		t:        t,
		backend:  backend,
		merchant: testutil.Merchant(t, backend, mutate),
		bank:     testutil.Bank(t, backend),
		handler:  router.Routes(),
	}
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) merchantDo(method, path string, body any) *httptest.ResponseRecorder {
	return e.do(method, path, body, map[string]string{middleware.APIKeyHeader: testutil.APIKey})
}

func (e *testEnv) ordersPath() string {
	return "/v1/orders/" + e.merchant.PublicID
}

func (e *testEnv) deposit(amount int64) map[string]any {
	return map[string]any{
		"orderType":   "deposit",
		"amount":      amount,
		"bankId":      e.bank.ID,
		"callbackUrl": "https://merchant.example/callback",
	}
}

func withdrawal(amount int64) map[string]any {
	return map[string]any{
		"orderType":            "withdraw",
		"amount":               amount,
		"bankCode":             "VCB",
		"receiveAccountNumber": "0123456789",
		"receiveOwnerName":     "Nguyen Van A",
		"callbackUrl":          "https://merchant.example/callback",
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Results []struct {
		Index   int    `json:"index"`
		Success bool   `json:"success"`
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"results"`
	Summary service.BatchSummary `json:"summary"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) service.OrderView {
	t.Helper()
	var view service.OrderView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &view))
	return view
}

func TestRFC7807ProblemDetails(t *testing.T) {
	env := setupAPI(t, nil)

	w := env.do("GET", env.ordersPath(), nil, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["type"])
	assert.Equal(t, float64(http.StatusUnauthorized), body["status"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["detail"])
	assert.Equal(t, env.ordersPath(), body["instance"])
	assert.NotEmpty(t, body["request_id"])
}

func TestCreateOrder(t *testing.T) {
	env := setupAPI(t, nil)

	cases := []struct {
		name    string
		path    string
		key     string
		body    func() any
		status  int
		field   string
		checkFn func(t *testing.T, w *httptest.ResponseRecorder)
	}{
		{
			name:   "deposit",
			path:   env.ordersPath(),
			key:    testutil.APIKey,
			body:   func() any { return env.deposit(100_000) },
			status: http.StatusOK,
			checkFn: func(t *testing.T, w *httptest.ResponseRecorder) {
				view := decodeOrder(t, w)
				assert.True(t, strings.HasPrefix(view.OrderID, "SQW"), view.OrderID)
				assert.Equal(t, domain.StatusProcessing, view.Status)
				assert.Equal(t, "https://pay.example/pay/"+view.OrderID, view.PaymentURL)
				assert.NotNil(t, view.QRPayload)
			},
		},
		{
			name:   "withdrawal hides qr",
			path:   env.ordersPath(),
			key:    testutil.APIKey,
			body:   func() any { return withdrawal(50_000) },
			status: http.StatusOK,
			checkFn: func(t *testing.T, w *httptest.ResponseRecorder) {
				view := decodeOrder(t, w)
				assert.Equal(t, domain.StatusPending, view.Status)
				assert.Nil(t, view.QRPayload)
				assert.Empty(t, view.PaymentURL)
			},
		},
		{
			name: "missing callback",
			path: env.ordersPath(),
			key:  testutil.APIKey,
			body: func() any {
				d := env.deposit(100_000)
				delete(d, "callbackUrl")
				return d
			},
			status: http.StatusBadRequest,
			field:  "callbackUrl",
		},
		{
			name:   "malformed json",
			path:   env.ordersPath(),
			key:    testutil.APIKey,
			body:   func() any { return `{"orderType":` },
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong api key",
			path:   env.ordersPath(),
			key:    "nope",
			body:   func() any { return env.deposit(100_000) },
			status: http.StatusUnauthorized,
		},
		{
			name:   "unknown merchant",
			path:   "/v1/orders/unknown-merchant",
			key:    testutil.APIKey,
			body:   func() any { return env.deposit(100_000) },
			status: http.StatusUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do("POST", tc.path, tc.body(), map[string]string{middleware.APIKeyHeader: tc.key})
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.field != "" {
				var body map[string]any
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, tc.field, body["field"])
			}
			if tc.checkFn != nil {
				tc.checkFn(t, w)
			}
		})
	}
}

func TestCreateBatchEnvelope(t *testing.T) {
	env := setupAPI(t, nil)

	body := map[string]any{
		"globalOrderType":   "deposit",
		"globalBankId":      env.bank.ID,
		"globalCallbackUrl": "https://merchant.example/callback",
		"orders": []map[string]any{
			{"amount": 100_000},
			{"amount": "abc"},
			{"amount": 250_000, "merchantOrderId": "m-3"},
		},
	}
	w := env.merchantDo("POST", env.ordersPath(), body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeEnvelope(t, w)
	assert.False(t, res.Success)
	assert.Equal(t, service.BatchSummary{Total: 3, SuccessCount: 2, FailureCount: 1, Strategy: service.StrategyParallel}, res.Summary)
	require.Len(t, res.Results, 3)
	assert.True(t, res.Results[0].Success)
	assert.False(t, res.Results[1].Success)
	assert.Equal(t, "amount", res.Results[1].Field)
	assert.True(t, res.Results[2].Success)
}

func TestCreateBatchLimits(t *testing.T) {
	t.Run("over cap", func(t *testing.T) {
		env := setupAPI(t, nil)
		orders := make([]map[string]any, 201)
		for i := range orders {
			orders[i] = env.deposit(100_000)
		}
		w := env.merchantDo("POST", env.ordersPath(), orders)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("empty batch", func(t *testing.T) {
		env := setupAPI(t, nil)
		w := env.merchantDo("POST", env.ordersPath(), `{"orders":[]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bulk rate limit", func(t *testing.T) {
		env := setupAPI(t, nil)
		batch := []map[string]any{env.deposit(100_000), env.deposit(120_000)}
		for i := 0; i < 2; i++ {
			w := env.merchantDo("POST", env.ordersPath(), batch)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		}
		w := env.merchantDo("POST", env.ordersPath(), batch)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))

		// single orders are never bulk limited
		w = env.merchantDo("POST", env.ordersPath(), env.deposit(100_000))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestGetAndListOrders(t *testing.T) {
	env := setupAPI(t, nil)
	created := decodeOrder(t, env.merchantDo("POST", env.ordersPath(), env.deposit(100_000)))
	require.Equal(t, http.StatusOK, env.merchantDo("POST", env.ordersPath(), withdrawal(50_000)).Code)

	w := env.merchantDo("GET", env.ordersPath()+"/"+created.OrderID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.OrderID, decodeOrder(t, w).OrderID)

	w = env.merchantDo("GET", env.ordersPath()+"?orderType=deposit", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []service.OrderView
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, domain.KindDeposit, views[0].Kind)

	w = env.merchantDo("GET", env.ordersPath()+"?orderType=refund", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	other := testutil.Merchant(t, env.backend, nil)
	w = env.do("GET", "/v1/orders/"+other.PublicID+"/"+created.OrderID, nil, map[string]string{middleware.APIKeyHeader: testutil.APIKey})
	assert.Equal(t, http.StatusNotFound, w.Code, "orders of another merchant must not be visible")
}

func signPaymentLink(key, orderID, backend string) string {
	body := base64.RawURLEncoding.EncodeToString([]byte(orderID + "|" + backend))
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(body))
	return body + "." + base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func TestPaymentLink(t *testing.T) {
	env := setupAPI(t, nil)
	dep := decodeOrder(t, env.merchantDo("POST", env.ordersPath(), env.deposit(250_000)))
	wd := decodeOrder(t, env.merchantDo("POST", env.ordersPath(), withdrawal(50_000)))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"deposit", signPaymentLink(paymentLinkKey, dep.OrderID, domain.BackendSQLite), http.StatusOK},
		{"wrong key", signPaymentLink("other-key", dep.OrderID, domain.BackendSQLite), http.StatusNotFound},
		{"withdrawal", signPaymentLink(paymentLinkKey, wd.OrderID, domain.BackendSQLite), http.StatusNotFound},
		{"malformed", "not-a-token", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", "/v1/pay/"+tt.token, nil, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status == http.StatusOK {
				view := decodeOrder(t, w)
				assert.Equal(t, dep.OrderID, view.OrderID)
				assert.Equal(t, int64(250_000), view.Amount)
			}
		})
	}
}

func TestIssuedEncodedPaymentLinkIsServed(t *testing.T) {
	env := setupAPIWith(t, nil, true)
	dep := decodeOrder(t, env.merchantDo("POST", env.ordersPath(), env.deposit(250_000)))

	require.True(t, strings.HasPrefix(dep.PaymentURL, "https://pay.example/v1/pay/"), dep.PaymentURL)
	assert.NotContains(t, dep.PaymentURL, dep.OrderID)

	w := env.do("GET", strings.TrimPrefix(dep.PaymentURL, "https://pay.example"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, dep.OrderID, decodeOrder(t, w).OrderID)
}

func TestIPWhitelistEnforced(t *testing.T) {
	env := setupAPI(t, func(m *models.Merchant) {
		m.EnforceIPWhitelist = true
		m.DepositIPs = []string{"10.0.0.*"}
	})

	cases := []struct {
		name   string
		ip     string
		status int
	}{
		{name: "allowed", ip: "10.0.0.7", status: http.StatusOK},
		{name: "rejected", ip: "192.168.1.1", status: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do("POST", env.ordersPath(), env.deposit(100_000), map[string]string{
				middleware.APIKeyHeader: testutil.APIKey,
				"X-Real-IP":             tc.ip,
			})
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}
}

func login(t *testing.T, env *testEnv, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	return env.do("POST", "/v1/staff/login", map[string]string{"username": username, "password": password}, nil)
}

func token(t *testing.T, env *testEnv, username string) string {
	t.Helper()
	w := login(t, env, username, testutil.APIKey)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestStaffWithdrawalFlow(t *testing.T) {
	env := setupAPI(t, nil)
	processor := testutil.Staff(t, env.backend, "processor", true)
	require.NoError(t, env.backend.UpsertStaff(context.Background(), &models.Staff{
		ID:           uuid.NewString(),
		Username:     "admin",
		PasswordHash: testutil.APIKeyHash(t),
		Role:         domain.RoleAdmin,
	}))

	assert.Equal(t, http.StatusUnauthorized, login(t, env, "processor", "wrong").Code)
	staffTok := token(t, env, "processor")
	adminTok := token(t, env, "admin")

	created := decodeOrder(t, env.merchantDo("POST", env.ordersPath(), withdrawal(50_000)))

	w := env.do("GET", "/v1/staff/withdrawals", nil, bearer(staffTok))
	require.Equal(t, http.StatusOK, w.Code)
	var pending []models.Order
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, created.OrderID, pending[0].OrderID)
	assert.Equal(t, processor.ID, pending[0].AssignedProcessorID)

	w = env.do("GET", "/v1/staff/processors", nil, bearer(staffTok))
	require.Equal(t, http.StatusOK, w.Code)
	var loads []models.ProcessorLoad
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &loads))
	require.Len(t, loads, 1)

	resolvePath := fmt.Sprintf("/v1/staff/withdrawals/%s/resolve", created.OrderID)
	w = env.do("POST", resolvePath, map[string]string{"decision": "complete"}, bearer(staffTok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resolved models.Order
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resolved))
	assert.Equal(t, domain.StatusCompleted, resolved.Status)
	assert.Equal(t, resolved.Amount, resolved.PaidAmount)

	w = env.do("POST", resolvePath, map[string]string{"decision": "cancel"}, bearer(staffTok))
	assert.Equal(t, http.StatusConflict, w.Code, "terminal orders have no exits")

	w = env.do("POST", resolvePath, map[string]string{"decision": "refund"}, bearer(staffTok))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do("POST", "/v1/staff/withdrawals/reassign", nil, bearer(staffTok))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do("POST", "/v1/staff/withdrawals/reassign", nil, bearer(adminTok))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("PUT", "/v1/staff/me/ready", map[string]bool{"ready": false}, bearer(staffTok))
	require.Equal(t, http.StatusOK, w.Code)
	s, err := env.backend.GetStaff(context.Background(), processor.ID)
	require.NoError(t, err)
	assert.False(t, s.Ready)
}

func TestStaffAuthRejections(t *testing.T) {
	env := setupAPI(t, nil)

	cases := []struct {
		name    string
		headers map[string]string
	}{
		{name: "missing header", headers: nil},
		{name: "not bearer", headers: map[string]string{"Authorization": "Basic abc"}},
		{name: "garbage token", headers: map[string]string{"Authorization": "Bearer not-a-jwt"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do("GET", "/v1/staff/withdrawals", nil, tc.headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupAPI(t, nil)

	cases := []struct {
		name string
		path string
	}{
		{name: "live", path: "/health/live"},
		{name: "ready", path: "/health/ready"},
		{name: "metrics", path: "/metrics"},
		{name: "openapi", path: "/openapi.yaml"},
		{name: "swagger", path: "/swagger/index.html"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do("GET", tc.path, nil, nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
