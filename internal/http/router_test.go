package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"ticketbackend/internal/app"
	"ticketbackend/internal/config"
	intdb "ticketbackend/internal/db"
	"ticketbackend/internal/events"
	"ticketbackend/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := config.Default()
	cfg.Auth.JWTSecret = "router-test-secret"
	cfg.Database.DSN = filepath.Join(t.TempDir(), "router.db")

	conn, err := config.Open(ctx, cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, intdb.Migrate(ctx, conn, intdb.DialectSQLite))

	a, err := app.New(ctx, cfg, conn, gateway.NewMockGateway("whsec_router", "http://checkout.test"), &events.Recorder{})
	require.NoError(t, err)
	return NewRouter(a)
}

func do(t *testing.T, r http.Handler, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func login(t *testing.T, r http.Handler, name, email, role string) string {
	t.Helper()
	w, _ := do(t, r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "correct-horse", "role": role,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, body := do(t, r, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := body["data"].(map[string]any)
	return data["token"].(string)
}

func TestHealthAndRequestID(t *testing.T) {
	r := newTestRouter(t)

	w, body := do(t, r, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, body = do(t, r, http.MethodGet, "/api/db-check", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["users_in_db"])

	w, body = do(t, r, http.MethodGet, "/api/nowhere", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])
}

func TestAuthRequired(t *testing.T) {
	r := newTestRouter(t)

	w, body := do(t, r, http.MethodGet, "/api/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", body["code"])

	w, _ = do(t, r, http.MethodGet, "/api/bookings", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginFailures(t *testing.T) {
	r := newTestRouter(t)
	login(t, r, "Ana Silva", "ana@example.com", "user")

	w, body := do(t, r, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_credentials", body["code"])

	w, _ = do(t, r, http.MethodPost, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = do(t, r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"name": "Root", "email": "root@example.com", "password": "correct-horse", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestRoleGuards(t *testing.T) {
	r := newTestRouter(t)
	vendor := login(t, r, "Coastline Express", "ops@coastline.example", "vendor")
	user := login(t, r, "Ana Silva", "ana@example.com", "user")

	w, body := do(t, r, http.MethodPost, "/api/bookings", vendor, map[string]any{"routeId": 1, "quantity": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_authorized", body["code"])

	w, _ = do(t, r, http.MethodGet, "/api/vendor/bookings", user, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = do(t, r, http.MethodPut, "/api/admin/routes/1/verification", vendor, map[string]string{"status": "approved"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = do(t, r, http.MethodPost, "/api/bookings", user, map[string]any{"routeId": 999, "quantity": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])

	w, body = do(t, r, http.MethodGet, "/api/bookings/abc", user, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])

	w, body = do(t, r, http.MethodGet, "/api/bookings", user, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]any)
	assert.EqualValues(t, 0, data["pagination"].(map[string]any)["total"])

	w, body = do(t, r, http.MethodGet, "/api/bookings?page=9223372036854775807&limit=100", user, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data = body["data"].(map[string]any)
	assert.EqualValues(t, 1_000_000, data["pagination"].(map[string]any)["page"])
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook",
		bytes.NewBufferString(`{"id":"evt_1","type":"checkout.session.completed","data":{"sessionId":"cs_1"}}`))
	req.Header.Set("X-Webhook-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_signature", body["code"])
	assert.Equal(t, false, body["retryable"])

	req = httptest.NewRequest(http.MethodPost, "/api/payments/webhook", bytes.NewBufferString(""))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
