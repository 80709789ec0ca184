package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	ok := func(c *gin.Context) { c.String(http.StatusOK, "ok") }
	r.GET("/", ok)
	r.POST("/", ok)
	r.OPTIONS("/", ok)
	r.GET("/healthz", ok)
	r.GET("/items/:id", ok)
	r.GET("/boom", func(c *gin.Context) { panic("boom") })
	r.GET("/fail", func(c *gin.Context) { c.String(http.StatusBadGateway, "down") })
	return r
}

func serve(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
