package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func correlationTestRouter(captured *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationID())
	r.GET("/ping", func(c *gin.Context) {
		*captured = c.GetString(CorrelationIDKey)
		c.Status(http.StatusOK)
	})
	return r
}

func TestCorrelationID_MintsWhenAbsent(t *testing.T) {
	var contextID string
	router := correlationTestRouter(&contextID)

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	headerID := rr.Header().Get(CorrelationIDHeader)
	require.NotEmpty(t, headerID)
	_, err := uuid.Parse(headerID)
	require.NoError(t, err, "minted id must be a UUID")
	assert.Equal(t, headerID, contextID, "header and context must carry the same id")
}

func TestCorrelationID_EchoesInbound(t *testing.T) {
	var contextID string
	router := correlationTestRouter(&contextID)

	inbound := uuid.NewString()
	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, inbound)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, inbound, rr.Header().Get(CorrelationIDHeader))
	assert.Equal(t, inbound, contextID)
}

func TestGetCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("present", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		want := uuid.NewString()
		c.Set(CorrelationIDKey, want)

		assert.Equal(t, want, GetCorrelationID(c))
	})

	t.Run("absent", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())

		assert.Empty(t, GetCorrelationID(c))
	})

	t.Run("wrong type", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(CorrelationIDKey, 42)

		assert.Empty(t, GetCorrelationID(c))
	})
}
