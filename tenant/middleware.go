package tenant

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"letterpress/models"
)

// Context keys set by Middleware.
const (
	ContextKey = "tenant"
	SiteKey    = "site"
)

// Middleware resolves the request host to a site and stores it in the gin
// context. A missing site is a 404 for the visitor; a lookup failure is a
// 500. Admin-host requests pass through unresolved paths untouched, the
// admin module scopes by site itself.
func Middleware(resolver *Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tctx, err := resolver.Resolve(c.Request.Host)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				c.HTML(http.StatusNotFound, "blog_error.html", gin.H{
					"error": "Site not found",
				})
			} else {
				c.HTML(http.StatusInternalServerError, "blog_error.html", gin.H{
					"error": "Unable to resolve site",
				})
			}
			c.Abort()
			return
		}

		c.Set(ContextKey, tctx)
		c.Set(SiteKey, tctx.Site)
		c.Next()
	}
}

// FromContext returns the resolved tenant context, or nil when the
// middleware did not run.
func FromContext(c *gin.Context) *Context {
	v, ok := c.Get(ContextKey)
	if !ok {
		return nil
	}
	tctx, _ := v.(*Context)
	return tctx
}

// SiteFromContext returns the resolved site, or nil.
func SiteFromContext(c *gin.Context) *models.Site {
	tctx := FromContext(c)
	if tctx == nil {
		return nil
	}
	return tctx.Site
}
