package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"gtg-gateway/pkg/logging/logging"
)

func TestLoggingContextSetsSession(t *testing.T) {
	var got string
	h := LoggingContext(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = logging.SessionID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/photos/x", nil)
	req.Header.Set(SessionHeader, "s-42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "s-42", got)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "anon", got)
}

func TestRecovererAnswers500(t *testing.T) {
	h := Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal_server_error"}`, rr.Body.String())
}

func TestTimeoutPassesFastHandlers(t *testing.T) {
	h := Timeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("jpeg"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))
	assert.Equal(t, "jpeg", rr.Body.String())
}

func TestTimeoutAnswers504(t *testing.T) {
	h := Timeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		_, _ = w.Write([]byte("late"))
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.JSONEq(t, `{"error":"gateway_timeout"}`, rr.Body.String())
}
