package admin

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"letterpress/models"
)

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (a *AdminModule) exportSubscribers(c *gin.Context) {
	site := siteFrom(c)

	var subscribers []models.Subscriber
	err := a.db.Where("site_id = ?", site.ID).Order("created_at ASC").Find(&subscribers).Error
	if err != nil {
		c.String(http.StatusInternalServerError, "Unable to load subscribers")
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="subscribers.csv"`)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"email", "status", "subscribed_at", "unsubscribed_at"})
	for _, sub := range subscribers {
		w.Write([]string{
			sub.Email,
			sub.Status,
			sub.CreatedAt.UTC().Format(time.RFC3339),
			formatTimePtr(sub.UnsubscribedAt),
		})
	}
	w.Flush()
}

func (a *AdminModule) exportPosts(c *gin.Context) {
	site := siteFrom(c)

	postList, err := a.posts.ListPosts(site.ID)
	if err != nil {
		c.String(http.StatusInternalServerError, "Unable to load posts")
		return
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="posts.csv"`)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"id", "title", "slug", "status", "notify_on_publish", "published_at", "created_at"})
	for _, post := range postList {
		w.Write([]string{
			strconv.Itoa(int(post.ID)),
			post.Title,
			post.Slug,
			post.Status,
			strconv.FormatBool(post.NotifyOnPublish),
			formatTimePtr(post.PublishedAt),
			post.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
}
