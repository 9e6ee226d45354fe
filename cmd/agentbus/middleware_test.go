package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentbus/config"
	"github.com/BaSui01/agentbus/internal/ctxkeys"
	"github.com/BaSui01/agentbus/internal/metrics"
)

// testNamespaceSeq 为每个用例生成唯一的 Prometheus 命名空间,
// 避免 promauto 在默认注册表上的重复注册 panic。
var testNamespaceSeq atomic.Int64

func nextTestNamespace() string {
	return fmt.Sprintf("cmdtest%d", testNamespaceSeq.Add(1))
}

func TestChain_AppliesInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "inner")
	})

	handler := Chain(inner, mk("first"), mk("second"), mk("third"))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third", "inner"}, order)
}

func TestRecovery(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := Recovery(zap.NewNop())(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestRequestID_Generates(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = ctxkeys.RequestID(r.Context())
	})

	handler := RequestID()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	headerID := w.Header().Get("X-Request-ID")
	assert.NotEmpty(t, headerID)
	assert.Equal(t, headerID, ctxID)
}

func TestRequestID_PreservesClientID(t *testing.T) {
	var ctxID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID, _ = ctxkeys.RequestID(r.Context())
	})

	handler := RequestID()(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "client-chosen-id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.Equal(t, "client-chosen-id", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "client-chosen-id", ctxID)
}

func TestRequestLogger_PassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	handler := Chain(inner, RequestID(), RequestLogger(zap.NewNop()))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tea", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/messages", "/api/v1/messages"},
		{"/api/v1/breakers/reset", "/api/v1/breakers/reset"},
		{"/api/v1/config/changes", "/api/v1/config/changes"},
		{"/api/v1/checkpoints/5f2a9c3b-1d4e-4f6a-8b7c-9d0e1f2a3b4c", "/api/v1/checkpoints/:id"},
		{"/api/v1/sessions/12345", "/api/v1/sessions/:id"},
		{"/api/v1/runs/deadbeefcafe", "/api/v1/runs/:id"},
		{"/api/v1/mastery/topics", "/api/v1/mastery/topics"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.in), "normalizePath(%q)", tt.in)
	}
}

func TestMetricsMiddleware_PassesThrough(t *testing.T) {
	collector := metrics.NewCollector(nextTestNamespace(), zap.NewNop())

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})

	handler := MetricsMiddleware(collector)(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/messages", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "created", w.Body.String())
}

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := RateLimiter(ctx, 1, 2, zap.NewNop())(inner)

	// 突发容量 2:前两个请求放行,第三个拒绝
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestCORS(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allowed origin echoed", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(inner)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disallowed origin gets no headers", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(inner)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("preflight for allowed origin", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(inner)

		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no origins configured rejects preflight", func(t *testing.T) {
		handler := CORS(nil)(inner)

		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://anywhere.example.com")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

// signTestToken 用 HS256 签发测试令牌。
func signTestToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTAuth(t *testing.T) {
	cfg := config.JWTConfig{Enabled: true, Secret: "test-secret"}

	t.Run("valid token injects claims", func(t *testing.T) {
		var tenantID, userID string
		var roles []string
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, _ = ctxkeys.TenantID(r.Context())
			userID, _ = ctxkeys.UserID(r.Context())
			roles, _ = ctxkeys.Roles(r.Context())
		})

		handler := JWTAuth(cfg, nil, zap.NewNop())(inner)

		token := signTestToken(t, "test-secret", jwt.MapClaims{
			"tenant_id": "tenant-a",
			"user_id":   "user-1",
			"roles":     []string{"admin", "operator"},
			"exp":       time.Now().Add(time.Hour).Unix(),
		})

		r := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "tenant-a", tenantID)
		assert.Equal(t, "user-1", userID)
		assert.Equal(t, []string{"admin", "operator"}, roles)
	})

	t.Run("missing header rejected", func(t *testing.T) {
		handler := JWTAuth(cfg, nil, zap.NewNop())(okHandler())

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assertErrorCode(t, w.Body.Bytes(), "AUTHENTICATION")
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		handler := JWTAuth(cfg, nil, zap.NewNop())(okHandler())

		r := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
		r.Header.Set("Authorization", "Bearer not.a.token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		handler := JWTAuth(cfg, nil, zap.NewNop())(okHandler())

		token := signTestToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(-time.Hour).Unix(),
		})

		r := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		handler := JWTAuth(cfg, nil, zap.NewNop())(okHandler())

		token := signTestToken(t, "some-other-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		r := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("skip path exempt", func(t *testing.T) {
		handler := JWTAuth(cfg, []string{"/health"}, zap.NewNop())(okHandler())

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("issuer mismatch rejected", func(t *testing.T) {
		issuerCfg := config.JWTConfig{Enabled: true, Secret: "test-secret", Issuer: "agentbus"}
		handler := JWTAuth(issuerCfg, nil, zap.NewNop())(okHandler())

		token := signTestToken(t, "test-secret", jwt.MapClaims{
			"iss": "someone-else",
			"exp": time.Now().Add(time.Hour).Unix(),
		})

		r := httptest.NewRequest(http.MethodGet, "/api/v1/breakers", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestTenantRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inner := okHandler()

	// 注入租户身份的包装,模拟 JWTAuth 在链上游的效果
	withTenant := func(tenant string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithTenantID(r.Context(), tenant)))
		})
	}

	limited := TenantRateLimiter(ctx, 1, 1, zap.NewNop())(inner)

	// tenant-a 耗尽配额
	w := httptest.NewRecorder()
	withTenant("tenant-a", limited).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	withTenant("tenant-a", limited).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// tenant-b 的配额独立
	w = httptest.NewRecorder()
	withTenant("tenant-b", limited).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteJSONError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSONError(w, http.StatusUnauthorized, "AUTHENTICATION", "missing token")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assertErrorCode(t, w.Body.Bytes(), "AUTHENTICATION")
}

// okHandler 返回总是 200 的处理器。
func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// assertErrorCode 校验统一错误响应中的 error.code 字段。
func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, want, resp.Error.Code)
}
