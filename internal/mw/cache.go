package mw

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"

	"factory-dashboard-backend/internal/metrics"
)

// view is a rendered dashboard response.
type view struct {
	status int
	header http.Header
	body   []byte
}

// recorder tees the handler's body into a buffer.
type recorder struct {
	gin.ResponseWriter
	buf *bytes.Buffer
}

func (r recorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r recorder) WriteString(s string) (int, error) {
	r.buf.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Set by whichever writer chain serves the request, not by the cached view.
var transportHeaders = map[string]bool{
	"Content-Encoding": true,
	"Content-Length":   true,
	"Vary":             true,
}

func successful(status int) bool { return status >= 200 && status < 300 }

// Cache serves repeated GET requests from memory for ttl. Any successful
// write flushes every entry, so a view is never older than the latest log.
func Cache(views *cache.Cache, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			if successful(c.Writer.Status()) {
				views.Flush()
				metrics.ResponseCacheTotal.WithLabelValues("flush").Inc()
			}
			return
		}

		key := c.Request.URL.RequestURI()
		if v, found := views.Get(key); found {
			metrics.ResponseCacheTotal.WithLabelValues("hit").Inc()
			replay(c, v.(view))
			return
		}
		metrics.ResponseCacheTotal.WithLabelValues("miss").Inc()

		rec := recorder{ResponseWriter: c.Writer, buf: &bytes.Buffer{}}
		c.Writer = rec
		c.Header("X-Cache", "MISS")
		c.Next()

		if successful(rec.Status()) {
			views.Set(key, view{status: rec.Status(), header: rec.Header().Clone(), body: rec.buf.Bytes()}, ttl)
		}
	}
}

func replay(c *gin.Context, v view) {
	h := c.Writer.Header()
	for k, vals := range v.header {
		if !transportHeaders[k] {
			h[k] = vals
		}
	}
	h.Set("X-Cache", "HIT")
	c.Writer.WriteHeader(v.status)
	c.Writer.Write(v.body)
	c.Abort()
}
