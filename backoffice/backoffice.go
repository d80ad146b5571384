package backoffice

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"letterpress/models"
	"letterpress/tenant"
)

// BackofficeModule is the cross-site operator surface: it creates sites
// and flips their email sending, which per-site admins cannot do.
type BackofficeModule struct {
	db *gorm.DB
}

func NewBackofficeModule(db *gorm.DB) *BackofficeModule {
	return &BackofficeModule{db: db}
}

func (b *BackofficeModule) RegisterRoutes(router *gin.Engine) {
	backofficeGroup := router.Group("/$")
	{
		backofficeGroup.GET("/index", b.requireBackofficeAuth, b.index)
		backofficeGroup.POST("/create-site", b.requireBackofficeAuth, b.createSite)
		backofficeGroup.POST("/toggle-email/:siteID", b.requireBackofficeAuth, b.toggleEmail)
	}
}

// requireBackofficeAuth rides the admin session and additionally checks
// the user against the operator allow-list.
func (b *BackofficeModule) requireBackofficeAuth(c *gin.Context) {
	session := sessions.Default(c)
	userID := session.Get("user_id")

	if userID == nil {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	var user models.User
	if err := b.db.First(&user, userID).Error; err != nil {
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}

	if !b.isBackofficeEmail(user.Email) {
		c.HTML(http.StatusForbidden, "backoffice_error.html", gin.H{
			"error": "Access denied",
		})
		c.Abort()
		return
	}

	c.Set("backoffice_user", user)
	c.Next()
}

// isBackofficeEmail checks the BACKOFFICE_EMAILS allow-list.
func (b *BackofficeModule) isBackofficeEmail(email string) bool {
	backofficeEmails := os.Getenv("BACKOFFICE_EMAILS")
	if backofficeEmails == "" {
		return false
	}

	for _, allowed := range strings.Split(backofficeEmails, ",") {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}

func (b *BackofficeModule) index(c *gin.Context) {
	var sites []models.Site
	if err := b.db.Order("created_at ASC").Find(&sites).Error; err != nil {
		c.HTML(http.StatusInternalServerError, "backoffice_error.html", gin.H{
			"error": "Unable to load sites",
		})
		return
	}

	c.HTML(http.StatusOK, "backoffice_index.html", gin.H{
		"sites": sites,
		"error": c.Query("error"),
	})
}

func (b *BackofficeModule) createSite(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	domain := tenant.NormalizeHostname(c.PostForm("domain"))

	if name == "" || domain == "" {
		c.Redirect(http.StatusFound, "/$/index?error=Name+and+domain+are+required")
		return
	}

	var existing models.Site
	if err := b.db.Where("domain = ?", domain).First(&existing).Error; err == nil {
		c.Redirect(http.StatusFound, "/$/index?error=Domain+already+in+use")
		return
	}

	site := models.Site{
		Name:   name,
		Domain: domain,
	}
	if err := b.db.Create(&site).Error; err != nil {
		c.Redirect(http.StatusFound, "/$/index?error=Unable+to+create+site")
		return
	}

	c.Redirect(http.StatusFound, "/$/index")
}

func (b *BackofficeModule) toggleEmail(c *gin.Context) {
	siteID, err := strconv.Atoi(c.Param("siteID"))
	if err != nil {
		c.Redirect(http.StatusFound, "/$/index")
		return
	}

	var site models.Site
	if err := b.db.First(&site, siteID).Error; err != nil {
		c.Redirect(http.StatusFound, "/$/index?error=Site+not+found")
		return
	}

	site.EmailEnabled = !site.EmailEnabled
	if err := b.db.Save(&site).Error; err != nil {
		c.Redirect(http.StatusFound, "/$/index?error=Unable+to+save+site")
		return
	}

	c.Redirect(http.StatusFound, "/$/index")
}
