package blog

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	htmlrenderer "github.com/yuin/goldmark/renderer/html"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"letterpress/cache"
	"letterpress/models"
	"letterpress/posts"
	"letterpress/tenant"
)

// markdown renderer configured with Goldmark and useful extensions
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,     // tables, strikethrough, task lists, autolinks (GFM set)
		extension.Linkify, // linkify raw URLs
	),
	goldmark.WithRendererOptions(
		htmlrenderer.WithUnsafe(), // raw HTML passes through, sanitizer strips it below
	),
)

// post bodies are subscriber-authored markdown; strip anything outside the
// UGC whitelist after rendering
var sanitizer = bluemonday.UGCPolicy()

type BlogModule struct {
	db    *gorm.DB
	posts *posts.Service
}

func NewBlogModule(db *gorm.DB, postService *posts.Service) *BlogModule {
	return &BlogModule{db: db, posts: postService}
}

func (b *BlogModule) RegisterRoutes(router *gin.Engine, resolver *tenant.Resolver) {
	group := router.Group("/", tenant.Middleware(resolver))
	group.GET("/", b.index)
	group.GET("/sitemap.xml", b.sitemap)
	group.GET("/posts/:postSlug",
		cache.Middleware(5*time.Minute, func(c *gin.Context) string {
			return tenant.NormalizeHostname(c.Request.Host)
		}),
		b.post)
	group.GET("/subscribe", b.subscribePage)
	group.POST("/subscribe", RateLimit(), b.subscribe)
	group.GET("/unsubscribe", b.unsubscribePage)
	group.POST("/unsubscribe", b.unsubscribe)
}

func (b *BlogModule) index(c *gin.Context) {
	site := tenant.SiteFromContext(c)

	visible, err := b.posts.VisiblePosts(site.ID, time.Now())
	if err != nil {
		c.HTML(http.StatusInternalServerError, "blog_error.html", gin.H{
			"error": "Unable to load posts",
		})
		return
	}

	c.HTML(http.StatusOK, "blog_index.html", gin.H{
		"site":  site,
		"posts": visible,
	})
}

func (b *BlogModule) post(c *gin.Context) {
	site := tenant.SiteFromContext(c)
	postSlug := c.Param("postSlug")
	now := time.Now()

	post, err := b.posts.VisibleBySlug(site.ID, postSlug, now)
	if err != nil {
		// Slug miss: the slug may be a retired one with a redirect target.
		target, ok, redirErr := b.posts.ResolveRedirect(site.ID, postSlug, now)
		if redirErr == nil && ok {
			c.Redirect(http.StatusMovedPermanently, "/posts/"+target)
			return
		}
		c.HTML(http.StatusNotFound, "blog_error.html", gin.H{
			"error": "Post not found",
			"site":  site,
		})
		return
	}

	contentHTML := template.HTML(renderMarkdown(post.ContentMd))

	c.HTML(http.StatusOK, "blog_post.html", gin.H{
		"site": site,
		"post": gin.H{
			"ID":          post.ID,
			"Title":       post.Title,
			"Slug":        post.Slug,
			"Content":     contentHTML,
			"PublishedAt": post.PublishedAt,
		},
	})
}

func (b *BlogModule) sitemap(c *gin.Context) {
	site := tenant.SiteFromContext(c)

	visible, err := b.posts.VisiblePosts(site.ID, time.Now())
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")
	sb.WriteString(fmt.Sprintf("  <url><loc>https://%s/</loc></url>\n", site.Domain))
	for _, post := range visible {
		sb.WriteString(fmt.Sprintf("  <url><loc>https://%s/posts/%s</loc></url>\n", site.Domain, post.Slug))
	}
	sb.WriteString("</urlset>\n")

	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(sb.String()))
}

func (b *BlogModule) subscribePage(c *gin.Context) {
	site := tenant.SiteFromContext(c)
	c.HTML(http.StatusOK, "blog_subscribe.html", gin.H{
		"site":    site,
		"message": c.Query("message"),
	})
}

// subscribe upserts the (site, email) subscriber back to active, so
// re-subscribing after an unsubscribe just flips the status.
func (b *BlogModule) subscribe(c *gin.Context) {
	site := tenant.SiteFromContext(c)

	email := strings.ToLower(strings.TrimSpace(c.PostForm("email")))
	if email == "" {
		c.Redirect(http.StatusFound, "/subscribe?message=Email+is+required")
		return
	}

	subscriber := models.Subscriber{
		SiteID:           site.ID,
		Email:            email,
		Status:           models.SubscriberStatusActive,
		UnsubscribedAt:   nil,
		UnsubscribeToken: uuid.NewString(),
	}

	err := b.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "site_id"}, {Name: "email"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":          models.SubscriberStatusActive,
			"unsubscribed_at": nil,
		}),
	}).Create(&subscriber).Error
	if err != nil {
		c.Redirect(http.StatusFound, "/subscribe?message=Something+went+wrong")
		return
	}

	c.Redirect(http.StatusFound, "/subscribe?message=You+are+subscribed")
}

func (b *BlogModule) unsubscribePage(c *gin.Context) {
	site := tenant.SiteFromContext(c)

	// One-click unsubscribe via the token mailed with every notification.
	if token := c.Query("token"); token != "" {
		now := time.Now()
		res := b.db.Model(&models.Subscriber{}).
			Where("site_id = ? AND unsubscribe_token = ?", site.ID, token).
			Updates(map[string]interface{}{
				"status":          models.SubscriberStatusUnsubscribed,
				"unsubscribed_at": &now,
			})
		if res.Error == nil && res.RowsAffected > 0 {
			c.HTML(http.StatusOK, "blog_unsubscribe.html", gin.H{
				"site":    site,
				"message": "You are unsubscribed",
			})
			return
		}
	}

	c.HTML(http.StatusOK, "blog_unsubscribe.html", gin.H{
		"site":    site,
		"message": c.Query("message"),
	})
}

// unsubscribe flips the subscriber to unsubscribed; the row is kept for
// outbox audit references.
func (b *BlogModule) unsubscribe(c *gin.Context) {
	site := tenant.SiteFromContext(c)

	email := strings.ToLower(strings.TrimSpace(c.PostForm("email")))
	if email == "" {
		c.Redirect(http.StatusFound, "/unsubscribe?message=Email+is+required")
		return
	}

	now := time.Now()
	err := b.db.Model(&models.Subscriber{}).
		Where("site_id = ? AND email = ?", site.ID, email).
		Updates(map[string]interface{}{
			"status":          models.SubscriberStatusUnsubscribed,
			"unsubscribed_at": &now,
		}).Error
	if err != nil {
		c.Redirect(http.StatusFound, "/unsubscribe?message=Something+went+wrong")
		return
	}

	c.Redirect(http.StatusFound, "/unsubscribe?message=You+are+unsubscribed")
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		// On render failure serve the raw markdown rather than break the page
		return sanitizer.Sanitize(content)
	}
	return sanitizer.Sanitize(buf.String())
}
