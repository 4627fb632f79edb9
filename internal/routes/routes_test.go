package routes

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/gateway"
	"github.com/lidapay/backend/internal/handlers"
	"github.com/lidapay/backend/internal/models"
	"github.com/lidapay/backend/internal/reconcile"
	"github.com/lidapay/backend/internal/store"
	"github.com/lidapay/backend/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router      *gin.Engine
	statusCalls *int32
	token       string
}

func newTestServer(t *testing.T, statusBody string) *testServer {
	t.Helper()

	var statusCalls int32
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/initiate":
			w.Write([]byte(`{"data":{"checkoutUrl":"https://gw/pay?token=abc123","token":"abc123","order-id":"ORD-1"}}`))
		case "/status":
			atomic.AddInt32(&statusCalls, 1)
			w.Write([]byte(statusBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(gw.Close)

	client := gateway.NewClient(gateway.Config{
		BaseURL:      gw.URL,
		InitiatePath: "/initiate",
		StatusPath:   "/status",
		Timeout:      2 * time.Second,
	})
	machine := reconcile.NewMachine(
		store.NewPendingStore(store.NewMemoryKV(), store.Options{}),
		client,
		nil,
		reconcile.Config{Poller: reconcile.PollerConfig{MaxRetries: 2}},
	)
	t.Cleanup(machine.Close)

	router := gin.New()
	SetupRoutes(router, Handlers{
		Checkout:     handlers.NewCheckoutHandler(machine, "lidapay://redirect-url"),
		Preferences:  handlers.NewPreferencesHandler(machine),
		Transactions: handlers.NewTransactionHandler(nil),
		Health:       handlers.NewHealthHandler(nil),
		Device:       handlers.NewDeviceHandler(testSecret, time.Hour),
	}, Options{JWTSecret: testSecret})

	issued, err := utils.GenerateDeviceToken(testSecret, "device-1", "user-1", time.Hour)
	require.NoError(t, err)

	return &testServer{router: router, statusCalls: &statusCalls, token: issued.AccessToken}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type outcomeResponse struct {
	Outcome   models.Outcome `json:"outcome"`
	Duplicate bool           `json:"duplicate"`
	Error     string         `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) outcomeResponse {
	t.Helper()
	var resp outcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

var purchase = gin.H{"transType": "AIRTIMETOPUP", "recipientNumber": "0241234567", "amount": 10}

func TestCheckoutRequiresDeviceToken(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)
	s.token = "garbage"

	w := s.do(http.MethodPost, "/api/checkout", purchase)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBeginRejectsSecondPurchase(t *testing.T) {
	s := newTestServer(t, `{"status":"PENDING"}`)

	w := s.do(http.MethodPost, "/api/checkout", purchase)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "https://gw/pay?token=abc123")

	w = s.do(http.MethodPost, "/api/checkout", purchase)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.MsgInFlight, decode(t, w).Error)

	w = s.do(http.MethodGet, "/api/checkout/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(reconcile.StateAwaitingExternalAuth))
}

func TestBeginValidation(t *testing.T) {
	s := newTestServer(t, `{"status":"PENDING"}`)

	w := s.do(http.MethodPost, "/api/checkout", gin.H{"transType": "BITCOIN", "recipientNumber": "1", "amount": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/checkout", gin.H{"transType": "MOMO", "recipientNumber": "1", "amount": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeepLinkCompletesOnce(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED","resultText":"Approved","amount":"10.00","transactionId":"TX-9"}`)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/checkout", purchase).Code)

	link := gin.H{"url": "lidapay://redirect-url?token=abc123&orderId=ORD-1"}
	w := s.do(http.MethodPost, "/api/checkout/deeplink", link)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, models.OutcomeReceipt, resp.Outcome.Kind)
	assert.Equal(t, models.DestinationReceipt, resp.Outcome.Destination)
	assert.Equal(t, "TX-9", resp.Outcome.Result.TransactionID)

	w = s.do(http.MethodPost, "/api/checkout/deeplink", link)
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode(t, w)
	assert.True(t, resp.Duplicate)
	assert.Equal(t, models.OutcomeReceipt, resp.Outcome.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(s.statusCalls))

	w = s.do(http.MethodGet, "/api/checkout/pending", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMalformedDeepLink(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/checkout", purchase).Code)

	w := s.do(http.MethodPost, "/api/checkout/deeplink", gin.H{"url": "lidapay://redirect-url?foo=bar"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, models.OutcomeError, resp.Outcome.Kind)
	assert.Equal(t, models.MsgMalformedDeepLink, resp.Outcome.Message)
	assert.Equal(t, int32(0), atomic.LoadInt32(s.statusCalls))
}

func TestGatewayRedirectHandsOverToApp(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED","transactionId":"TX-3"}`)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/checkout", purchase).Code)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/redirect-url?token=abc123&orderId=ORD-1", nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "lidapay://redirect-url?token=abc123&orderId=ORD-1", w.Header().Get("Location"))

	w = s.do(http.MethodGet, "/api/checkout/outcome", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, models.OutcomeReceipt, resp.Outcome.Kind)
	assert.Equal(t, "TX-3", resp.Outcome.Result.TransactionID)

	// the app forwarding the same link afterwards is a no-op
	w = s.do(http.MethodPost, "/api/checkout/deeplink", gin.H{"url": "lidapay://redirect-url?token=abc123&orderId=ORD-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode(t, w).Duplicate)
	assert.Equal(t, int32(1), atomic.LoadInt32(s.statusCalls))
}

func TestRedirectJSONForUnknownToken(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)

	req := httptest.NewRequest(http.MethodGet, "/redirect-url?token=nope&orderId=ORD-1", nil)
	req.Header.Set("Accept", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.MsgCorruptedState, decode(t, w).Outcome.Message)
}

func TestResumeAndOutcomeWithNothingPending(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/api/checkout/resume", nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodGet, "/api/checkout/outcome", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/checkout/poll", nil).Code)

	w := s.do(http.MethodDelete, "/api/checkout/poll", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cancelled":false}`, w.Body.String())
}

func TestPollingReportsFailure(t *testing.T) {
	s := newTestServer(t, `{"status":"FAILED","resultText":"Insufficient funds"}`)
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/checkout", purchase).Code)

	w := s.do(http.MethodPost, "/api/checkout/poll", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	assert.Eventually(t, func() bool {
		w := s.do(http.MethodGet, "/api/checkout/outcome", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp outcomeResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Outcome.Kind == models.OutcomeError && resp.Outcome.Message == "Insufficient funds"
	}, 2*time.Second, 10*time.Millisecond)

	// the record is kept as FAILED and no longer blocks a new purchase
	w = s.do(http.MethodGet, "/api/checkout/pending", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(reconcile.StateFailed))
	assert.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/checkout", purchase).Code)
}

func TestPreferencesRoundTrip(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)

	w := s.do(http.MethodPut, "/api/preferences", gin.H{"userCountry": "GH", "themeMode": "dark"})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPut, "/api/preferences", gin.H{"themeMode": "sepia"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/preferences", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"userCountry":"GH","themeMode":"dark"}`, w.Body.String())
}

func TestHistoryUnavailableWithoutDatabase(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/transactions", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(http.MethodGet, "/api/transactions/LP_20240502_TESTREF1", nil).Code)
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t, `{"status":"COMPLETED"}`)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/devices/token", strings.NewReader(`{"deviceId":"device-2"}`))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
