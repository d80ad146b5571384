package main

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"letterpress/admin"
	"letterpress/backoffice"
	"letterpress/blog"
	"letterpress/common"
	"letterpress/database"
	"letterpress/email"
	"letterpress/metrics"
	"letterpress/models"
	"letterpress/outbox"
	"letterpress/posts"
	"letterpress/tenant"
)

func main() {
	common.LoadEnv()

	db := common.ConnectDb()
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	seedAdminUser(db)

	router := gin.Default()

	sessionSecret := os.Getenv("SESSION_SECRET")
	if sessionSecret == "" {
		log.Fatal("SESSION_SECRET environment variable not set")
	}

	store := cookie.NewStore([]byte(sessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   false,
	})

	router.Use(sessions.Sessions("letterpress-session", store))

	router.LoadHTMLGlob("*/views/*.html")

	collector := metrics.NewCollector()

	resolver := tenant.NewResolver(db)
	postService := posts.NewService(db)
	engine := outbox.NewEngine(db, email.NewSMTPSender(), collector)
	postService.SetEnqueuer(engine)

	adminModule := admin.NewAdminModule(db, postService, engine, resolver)
	adminModule.RegisterRoutes(router)

	backofficeModule := backoffice.NewBackofficeModule(db)
	backofficeModule.RegisterRoutes(router)

	blogModule := blog.NewBlogModule(db, postService)
	blogModule.RegisterRoutes(router, resolver)

	router.GET("/metrics", gin.WrapH(collector.Handler()))

	go runPromotionSweep(postService, collector)
	go runOutboxDrain(engine)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}

// seedAdminUser creates the initial admin account from the environment on
// first boot.
func seedAdminUser(db *gorm.DB) {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminEmail == "" || adminPassword == "" {
		return
	}

	var existing models.User
	if err := db.Where("email = ?", adminEmail).First(&existing).Error; err == nil {
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), 14)
	if err != nil {
		log.Printf("Error hashing admin password: %v", err)
		return
	}

	user := models.User{Email: adminEmail, PasswordHash: string(hash)}
	if err := db.Create(&user).Error; err != nil {
		log.Printf("Error seeding admin user: %v", err)
		return
	}
	log.Printf("Seeded admin user %s", adminEmail)
}

func intervalFromEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.Printf("Invalid %s: %q, using default", key, raw)
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// runPromotionSweep periodically turns due scheduled posts into published
// ones, so a post never stays invisible past its schedule for long.
func runPromotionSweep(postService *posts.Service, collector *metrics.Collector) {
	interval := intervalFromEnv("PROMOTE_INTERVAL_SECONDS", time.Minute)
	for range time.Tick(interval) {
		promoted, err := postService.PromoteDue(time.Now())
		if err != nil {
			log.Printf("promotion sweep: %v", err)
			continue
		}
		if promoted > 0 {
			log.Printf("promotion sweep: promoted %d post(s)", promoted)
			collector.PostsPromoted(promoted)
		}
	}
}

// runOutboxDrain periodically processes pending notification batches in
// addition to the manual admin trigger.
func runOutboxDrain(engine *outbox.Engine) {
	interval := intervalFromEnv("OUTBOX_INTERVAL_SECONDS", time.Minute)
	for range time.Tick(interval) {
		result, err := engine.ProcessBatch(50)
		if err != nil {
			log.Printf("outbox drain: %v", err)
			continue
		}
		if result.Processed > 0 {
			log.Printf("outbox drain: processed=%d sent=%d failed=%d deferred=%d",
				result.Processed, result.Sent, result.Failed, result.Deferred)
		}
	}
}
