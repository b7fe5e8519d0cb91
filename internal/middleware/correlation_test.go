package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newCorrelationRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(Correlation())
	r.GET("/ping", func(c *gin.Context) {
		seen = CorrelationID(c)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestCorrelationEchoesSuppliedID(t *testing.T) {
	r, seen := newCorrelationRouter()

	id := uuid.NewString()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationHeader, id)
	r.ServeHTTP(w, req)

	require.Equal(t, id, w.Header().Get(CorrelationHeader))
	require.Equal(t, id, *seen)
}

func TestCorrelationGeneratesIDWhenAbsent(t *testing.T) {
	r, seen := newCorrelationRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	generated := w.Header().Get(CorrelationHeader)
	require.NoError(t, uuid.Validate(generated))
	require.Equal(t, generated, *seen)
}

func TestCorrelationReplacesMalformedID(t *testing.T) {
	r, _ := newCorrelationRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationHeader, "not-a-uuid")
	r.ServeHTTP(w, req)

	generated := w.Header().Get(CorrelationHeader)
	require.NotEqual(t, "not-a-uuid", generated)
	require.NoError(t, uuid.Validate(generated))
}
