package admin

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"letterpress/cache"
	"letterpress/models"
	"letterpress/outbox"
	"letterpress/posts"
	"letterpress/tenant"
)

type AdminModule struct {
	db       *gorm.DB
	posts    *posts.Service
	outbox   *outbox.Engine
	resolver *tenant.Resolver
}

func NewAdminModule(db *gorm.DB, postService *posts.Service, engine *outbox.Engine, resolver *tenant.Resolver) *AdminModule {
	return &AdminModule{
		db:       db,
		posts:    postService,
		outbox:   engine,
		resolver: resolver,
	}
}

func (a *AdminModule) RegisterRoutes(router *gin.Engine) {
	router.GET("/login", a.loginPage)
	router.POST("/login", a.loginPost)

	adminGroup := router.Group("/admin")
	adminGroup.Use(a.requireAuth, a.loadSite)
	{
		adminGroup.GET("/", a.dashboard)
		adminGroup.POST("/posts", a.createDraft)
		adminGroup.GET("/post/:id", a.editPost)
		adminGroup.POST("/post/:id", a.updatePost)
		adminGroup.POST("/post/:id/publish", a.publishPost)
		adminGroup.GET("/settings", a.settings)
		adminGroup.POST("/settings", a.updateSettings)
		adminGroup.GET("/subscribers", a.listSubscribers)
		adminGroup.POST("/emails/send", a.sendPendingEmails)
		adminGroup.POST("/promote", a.promoteScheduled)
		adminGroup.GET("/exports/subscribers.csv", a.exportSubscribers)
		adminGroup.GET("/exports/posts.csv", a.exportPosts)
	}

	router.GET("/admin/logout", a.logout)
}

func (a *AdminModule) requireAuth(c *gin.Context) {
	session := sessions.Default(c)
	userID := session.Get("user_id")

	if userID == nil {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	c.Set("user_id", userID)
	c.Next()
}

// loadSite scopes every admin operation to the site resolved from the
// request host (admin.<domain> or the domain itself). There is no ambient
// "selected site" state.
func (a *AdminModule) loadSite(c *gin.Context) {
	tctx, err := a.resolver.Resolve(c.Request.Host)
	if err != nil || tctx.Site == nil {
		c.HTML(http.StatusNotFound, "admin_error.html", gin.H{"error": "Site not found"})
		c.Abort()
		return
	}

	c.Set("site", tctx.Site)
	c.Next()
}

func siteFrom(c *gin.Context) *models.Site {
	v, _ := c.Get("site")
	site, _ := v.(*models.Site)
	return site
}

func (a *AdminModule) loginPage(c *gin.Context) {
	session := sessions.Default(c)
	if session.Get("user_id") != nil {
		c.Redirect(http.StatusFound, "/admin/")
		return
	}

	c.HTML(http.StatusOK, "admin_login.html", gin.H{})
}

func (a *AdminModule) loginPost(c *gin.Context) {
	email := c.PostForm("email")
	password := c.PostForm("password")

	var user models.User
	if err := a.db.Where("email = ?", email).First(&user).Error; err != nil {
		c.HTML(http.StatusUnauthorized, "admin_login.html", gin.H{
			"error": "Invalid email or password",
			"email": email,
		})
		return
	}

	if !checkPasswordHash(password, user.PasswordHash) {
		c.HTML(http.StatusUnauthorized, "admin_login.html", gin.H{
			"error": "Invalid email or password",
			"email": email,
		})
		return
	}

	session := sessions.Default(c)
	session.Set("user_id", user.ID)
	session.Save()

	c.Redirect(http.StatusFound, "/admin/")
}

func (a *AdminModule) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()

	c.Redirect(http.StatusFound, "/login")
}

func (a *AdminModule) dashboard(c *gin.Context) {
	site := siteFrom(c)

	postList, err := a.posts.ListPosts(site.ID)
	if err != nil {
		c.HTML(http.StatusInternalServerError, "admin_error.html", gin.H{"error": "Unable to load posts"})
		return
	}

	pending, _ := a.outbox.PendingCount()

	c.HTML(http.StatusOK, "admin_dashboard.html", gin.H{
		"site":    site,
		"posts":   postList,
		"pending": pending,
		"error":   c.Query("error"),
		"send":    c.Query("send"),
	})
}

func (a *AdminModule) createDraft(c *gin.Context) {
	site := siteFrom(c)

	title := c.PostForm("title")
	rawSlug := c.PostForm("slug")

	post, err := a.posts.CreateDraft(site.ID, title, rawSlug)
	if err != nil {
		c.Redirect(http.StatusFound, "/admin/?error="+errQuery(err))
		return
	}

	c.Redirect(http.StatusFound, "/admin/post/"+strconv.Itoa(int(post.ID)))
}

func (a *AdminModule) editPost(c *gin.Context) {
	site := siteFrom(c)

	postID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.Redirect(http.StatusFound, "/admin/")
		return
	}

	post, err := a.posts.GetPost(site.ID, uint(postID))
	if err != nil {
		c.HTML(http.StatusNotFound, "admin_error.html", gin.H{"error": "Post not found"})
		return
	}

	c.HTML(http.StatusOK, "admin_edit_post.html", gin.H{
		"site":  site,
		"post":  post,
		"error": c.Query("error"),
		"send":  c.Query("send"),
	})
}

func (a *AdminModule) updatePost(c *gin.Context) {
	site := siteFrom(c)

	postID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.Redirect(http.StatusFound, "/admin/")
		return
	}

	before, err := a.posts.GetPost(site.ID, uint(postID))
	if err != nil {
		c.HTML(http.StatusNotFound, "admin_error.html", gin.H{"error": "Post not found"})
		return
	}

	title := c.PostForm("title")
	rawSlug := c.PostForm("slug")
	contentMd := c.PostForm("content_md")

	post, err := a.posts.UpdateContent(site.ID, uint(postID), title, rawSlug, contentMd, time.Now())
	if err != nil {
		c.Redirect(http.StatusFound, "/admin/post/"+c.Param("id")+"?error="+errQuery(err))
		return
	}

	cache.ClearCache(site.Domain, before.Slug)
	cache.ClearCache(site.Domain, post.Slug)

	c.Redirect(http.StatusFound, "/admin/post/"+c.Param("id"))
}

func (a *AdminModule) publishPost(c *gin.Context) {
	site := siteFrom(c)

	postID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.Redirect(http.StatusFound, "/admin/")
		return
	}

	mode := c.PostForm("mode")
	if mode == "" {
		mode = "quiet"
	}
	notify := c.PostForm("notify") == "on"
	now := time.Now()

	var post *models.Post
	switch mode {
	case "quiet":
		post, err = a.posts.PublishQuiet(site.ID, uint(postID), now)
	case "notify":
		post, err = a.posts.PublishNotify(site.ID, uint(postID), now)
	case "scheduled":
		var scheduleAt time.Time
		scheduleAt, err = posts.ParseScheduleTime(c.PostForm("scheduleAt"))
		if err == nil {
			post, err = a.posts.PublishScheduled(site.ID, uint(postID), scheduleAt, notify, now)
		}
	default:
		err = models.NewValidationError("mode", "unknown publish mode")
	}

	if err != nil {
		c.Redirect(http.StatusFound, "/admin/post/"+c.Param("id")+"?error="+errQuery(err))
		return
	}

	cache.ClearCache(site.Domain, post.Slug)

	if mode == "notify" {
		c.Redirect(http.StatusFound, "/admin/post/"+c.Param("id")+"?send=1")
		return
	}
	c.Redirect(http.StatusFound, "/admin/post/"+c.Param("id"))
}

func (a *AdminModule) settings(c *gin.Context) {
	site := siteFrom(c)

	c.HTML(http.StatusOK, "admin_settings.html", gin.H{
		"site":    site,
		"error":   c.Query("error"),
		"success": c.Query("success"),
	})
}

func (a *AdminModule) updateSettings(c *gin.Context) {
	site := siteFrom(c)

	enabled := c.PostForm("emailEnabled") == "on"
	emailFrom := c.PostForm("emailFrom")
	senderName := c.PostForm("emailSenderName")

	if enabled && emailFrom == "" {
		c.Redirect(http.StatusFound, "/admin/settings?error=Email+from+address+is+required")
		return
	}

	site.EmailEnabled = enabled
	site.EmailFrom = emailFrom
	site.EmailSenderName = senderName

	if err := a.db.Save(site).Error; err != nil {
		c.Redirect(http.StatusFound, "/admin/settings?error=Unable+to+save+settings")
		return
	}

	c.Redirect(http.StatusFound, "/admin/settings?success=Saved")
}

func (a *AdminModule) listSubscribers(c *gin.Context) {
	site := siteFrom(c)

	var subscribers []models.Subscriber
	err := a.db.Where("site_id = ?", site.ID).Order("created_at DESC").Find(&subscribers).Error
	if err != nil {
		c.HTML(http.StatusInternalServerError, "admin_error.html", gin.H{"error": "Unable to load subscribers"})
		return
	}

	c.HTML(http.StatusOK, "admin_subscribers.html", gin.H{
		"site":        site,
		"subscribers": subscribers,
	})
}

// sendPendingEmails drains one outbox batch. The trigger is idempotent and
// safe to invoke redundantly; a run with nothing to do reports zeros.
func (a *AdminModule) sendPendingEmails(c *gin.Context) {
	result, err := a.outbox.ProcessBatch(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read outbox"})
		return
	}

	c.JSON(http.StatusOK, result)
}

// promoteScheduled runs the scheduled-post promotion sweep on demand; the
// background ticker runs the same sweep periodically.
func (a *AdminModule) promoteScheduled(c *gin.Context) {
	promoted, err := a.posts.PromoteDue(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Promotion sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"promoted": promoted})
}

// errQuery formats a service error for a redirect query string, keeping
// slug conflict suggestions visible to the author.
func errQuery(err error) string {
	var conflict *models.SlugConflictError
	if errors.As(err, &conflict) && conflict.Suggestion != "" {
		return url.QueryEscape(conflict.Error() + ", try " + conflict.Suggestion)
	}
	return url.QueryEscape(err.Error())
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 14)
	return string(bytes), err
}

func checkPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
