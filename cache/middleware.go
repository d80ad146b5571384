package cache

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches rendered post pages per site domain. Only successful
// HTML responses to GET /posts/:slug are stored.
func Middleware(maxAge time.Duration, domainFor func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}

		slug := extractSlug(c.Request.URL.Path)
		if slug == "" {
			c.Next()
			return
		}

		domain := domainFor(c)
		if domain == "" {
			c.Next()
			return
		}

		if cached, found := ReadCache(domain, slug, maxAge); found {
			c.Header("X-Cache", "HIT")
			c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(cached))
			c.Abort()
			return
		}

		c.Header("X-Cache", "MISS")

		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           bytes.NewBuffer(nil),
		}
		c.Writer = writer

		c.Next()

		if c.Writer.Status() == http.StatusOK &&
			strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/html") {
			WriteCache(domain, slug, writer.body.String())
		}
	}
}

// extractSlug pulls the slug out of a /posts/:slug path; anything else is
// not cacheable.
func extractSlug(path string) string {
	const prefix = "/posts/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	slug := strings.TrimPrefix(path, prefix)
	if slug == "" || strings.Contains(slug, "/") {
		return ""
	}
	return slug
}
