package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimitByIP(t *testing.T) {
	h := RateLimitByIP(2, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/access/abc", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, call("10.0.0.1:1000").Code)
	require.Equal(t, http.StatusOK, call("10.0.0.1:1001").Code)

	throttled := call("10.0.0.1:1002")
	require.Equal(t, http.StatusTooManyRequests, throttled.Code)
	require.JSONEq(t, `{"error":"service_error","message":"Request was throttled"}`, throttled.Body.String())

	require.Equal(t, http.StatusOK, call("10.0.0.2:1000").Code, "other clients are not affected")
}
