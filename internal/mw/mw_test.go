package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(rate.Limit(1), 2))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPRateLimiter_ReusesBucket(t *testing.T) {
	l := NewIPRateLimiter(rate.Limit(1), 1, time.Minute)
	assert.Same(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.1"))
	assert.NotSame(t, l.GetLimiter("10.0.0.1"), l.GetLimiter("10.0.0.2"))
}

func TestCache(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/state", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})
	r.GET("/missing", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
	})

	get := func(path string, header http.Header) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range header {
			req.Header[k] = v
		}
		r.ServeHTTP(w, req)
		return w
	}

	first := get("/state", nil)
	second := get("/state", nil)
	assert.Equal(t, 1, calls)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))

	get("/missing", nil)
	get("/missing", nil)
	assert.Equal(t, 3, calls, "error responses are not cached")

	upgrade := http.Header{"Connection": {"upgrade"}, "Upgrade": {"websocket"}}
	get("/state", upgrade)
	assert.Equal(t, 4, calls, "websocket upgrades bypass the cache")
}

func TestCache_KeyedByDeviceAndQuery(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(cache.New(time.Minute, time.Minute), time.Minute))
	r.GET("/devices/:id/log", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"device": c.Param("id"), "calls": calls})
	})

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	get("/devices/washer-1/log?limit=5&order=desc")
	hit := get("/devices/washer-1/log?order=desc&limit=5")
	assert.Equal(t, 1, calls, "reordered query parameters share an entry")
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))

	other := get("/devices/dryer-1/log?limit=5&order=desc")
	assert.Equal(t, 2, calls)
	assert.Empty(t, other.Header().Get("X-Cache"))
	assert.Contains(t, other.Body.String(), `"device":"dryer-1"`)

	get("/devices/washer-1/log?limit=6&order=desc")
	assert.Equal(t, 3, calls, "a different limit is a different entry")
}
