package posts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"letterpress/models"
)

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.Site{}, &models.Post{}, &models.SlugHistory{}, &models.Subscriber{}, &models.OutboxEntry{})
	return db
}

func createTestSite(db *gorm.DB) *models.Site {
	site := &models.Site{
		Name:   "Test Site",
		Domain: "test.example.com",
	}
	db.Create(site)
	return site
}

func createTestPost(db *gorm.DB, siteID int, slug, status string) *models.Post {
	post := &models.Post{
		SiteID:    siteID,
		Title:     "Test Post",
		Slug:      slug,
		ContentMd: "# Test Content\n\nThis is a **test** post.",
		Status:    status,
	}
	db.Create(post)
	return post
}

type fakeEnqueuer struct {
	posts []uint
}

func (f *fakeEnqueuer) Enqueue(post *models.Post) (int, error) {
	f.posts = append(f.posts, post.ID)
	return 1, nil
}

func TestCreateDraft_AutoSlugFromTitle(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)

	post, err := service.CreateDraft(site.ID, "Hello, World!", "")

	assert.NoError(t, err)
	assert.Equal(t, "hello-world", post.Slug)
	assert.Equal(t, models.PostStatusDraft, post.Status)
	assert.Nil(t, post.PublishedAt)
}

func TestCreateDraft_TitleRequired(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)

	_, err := service.CreateDraft(site.ID, "   ", "")

	assert.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestCreateDraft_ExplicitSlugConflict(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	_, err := service.CreateDraft(site.ID, "Another Launch", "launch")

	assert.True(t, models.IsSlugConflict(err))

	var conflict *models.SlugConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Empty(t, conflict.Suggestion)
}

func TestCreateDraft_AutoSlugConflictSuggests(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	_, err := service.CreateDraft(site.ID, "Launch", "")

	var conflict *models.SlugConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.Equal(t, "launch-2", conflict.Suggestion)
}

func TestCreateDraft_SlugUniquePerSiteOnly(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	other := &models.Site{Name: "Other", Domain: "other.example.com"}
	db.Create(other)
	createTestPost(db, other.ID, "launch", models.PostStatusPublished)

	post, err := service.CreateDraft(site.ID, "Launch", "")

	assert.NoError(t, err)
	assert.Equal(t, "launch", post.Slug)
}

func TestPublishQuiet(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	now := time.Now()
	post, err := service.PublishQuiet(site.ID, draft.ID, now)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.NotNil(t, post.PublishedAt)
	assert.WithinDuration(t, now, *post.PublishedAt, time.Second)
	assert.False(t, post.NotifyOnPublish)
}

func TestPublishQuiet_NoOutboxEntries(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	enqueuer := &fakeEnqueuer{}
	service.SetEnqueuer(enqueuer)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	_, err := service.PublishQuiet(site.ID, draft.ID, time.Now())

	assert.NoError(t, err)
	assert.Empty(t, enqueuer.posts)
}

func TestPublishQuiet_RepublishKeepsOriginalTime(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	first := time.Now().Add(-24 * time.Hour)
	_, err := service.PublishQuiet(site.ID, draft.ID, first)
	assert.NoError(t, err)

	post, err := service.PublishQuiet(site.ID, draft.ID, time.Now())
	assert.NoError(t, err)
	assert.WithinDuration(t, first, *post.PublishedAt, time.Second)
}

func TestPublishNotify_EnqueuesOnce(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	enqueuer := &fakeEnqueuer{}
	service.SetEnqueuer(enqueuer)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	post, err := service.PublishNotify(site.ID, draft.ID, time.Now())

	assert.NoError(t, err)
	assert.True(t, post.NotifyOnPublish)
	assert.Equal(t, []uint{post.ID}, enqueuer.posts)
}

func TestPublishScheduled_RequiresFutureTime(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)
	now := time.Now()

	_, err := service.PublishScheduled(site.ID, draft.ID, time.Time{}, false, now)
	assert.True(t, models.IsValidation(err))

	_, err = service.PublishScheduled(site.ID, draft.ID, now.Add(-time.Hour), false, now)
	assert.True(t, models.IsValidation(err))

	_, err = service.PublishScheduled(site.ID, draft.ID, now, false, now)
	assert.True(t, models.IsValidation(err))
}

func TestPublishScheduled_SetsState(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)
	now := time.Now()
	scheduleAt := now.Add(time.Hour)

	post, err := service.PublishScheduled(site.ID, draft.ID, scheduleAt, true, now)

	assert.NoError(t, err)
	assert.Equal(t, models.PostStatusScheduled, post.Status)
	assert.WithinDuration(t, scheduleAt, *post.PublishedAt, time.Second)
	assert.True(t, post.NotifyOnPublish)
}

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"", true},
		{"not a time", true},
		{"2030-06-01T10:30", false},
		{"2030-06-01 10:30", false},
		{"2030-06-01T10:30:00Z", false},
	}

	for _, tt := range tests {
		_, err := ParseScheduleTime(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			assert.True(t, models.IsValidation(err), "input %q", tt.input)
		} else {
			assert.NoError(t, err, "input %q", tt.input)
		}
	}
}

func TestPromoteDue_PromotesAndNotifies(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	enqueuer := &fakeEnqueuer{}
	service.SetEnqueuer(enqueuer)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	scheduleAt := time.Now().Add(time.Hour)
	_, err := service.PublishScheduled(site.ID, draft.ID, scheduleAt, true, time.Now())
	assert.NoError(t, err)

	// Before the scheduled time nothing moves.
	promoted, err := service.PromoteDue(time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Empty(t, enqueuer.posts)

	// After the scheduled time the sweep publishes and notifies.
	promoted, err = service.PromoteDue(scheduleAt.Add(time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, []uint{draft.ID}, enqueuer.posts)

	var post models.Post
	db.First(&post, draft.ID)
	assert.Equal(t, models.PostStatusPublished, post.Status)
	assert.WithinDuration(t, scheduleAt, *post.PublishedAt, time.Second)

	// A second sweep finds nothing; notification happened exactly once.
	promoted, err = service.PromoteDue(scheduleAt.Add(2 * time.Minute))
	assert.NoError(t, err)
	assert.Equal(t, 0, promoted)
	assert.Len(t, enqueuer.posts, 1)
}

func TestPromoteDue_SkipsQuietScheduled(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	enqueuer := &fakeEnqueuer{}
	service.SetEnqueuer(enqueuer)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	scheduleAt := time.Now().Add(time.Hour)
	_, err := service.PublishScheduled(site.ID, draft.ID, scheduleAt, false, time.Now())
	assert.NoError(t, err)

	promoted, err := service.PromoteDue(scheduleAt.Add(time.Minute))

	assert.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Empty(t, enqueuer.posts)
}

func TestVisibility_ScheduledStaysHiddenUntilPromoted(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	scheduleAt := time.Now().Add(-time.Hour)
	post := draft
	post.Status = models.PostStatusScheduled
	post.PublishedAt = &scheduleAt
	db.Save(post)

	// Past its time but not yet promoted: still invisible.
	visible, err := service.VisiblePosts(site.ID, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, visible)

	_, err = service.VisibleBySlug(site.ID, "launch", time.Now())
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = service.PromoteDue(time.Now())
	assert.NoError(t, err)

	visible, err = service.VisiblePosts(site.ID, time.Now())
	assert.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestVisibility_DraftHidden(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	visible, err := service.VisiblePosts(site.ID, time.Now())

	assert.NoError(t, err)
	assert.Empty(t, visible)
}

func TestUpdateContent_SlugChangeRecordsHistory(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	post, err := service.UpdateContent(site.ID, draft.ID, "Launch v2", "launch-v2", "updated body", time.Now())

	assert.NoError(t, err)
	assert.Equal(t, "launch-v2", post.Slug)

	var history models.SlugHistory
	err = db.Where("site_id = ? AND slug = ?", site.ID, "launch").First(&history).Error
	assert.NoError(t, err)
	assert.Equal(t, draft.ID, history.PostID)
}

func TestUpdateContent_SlugChangeOnLivePostBumpsPublishedAt(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	publishedAt := time.Now().Add(-24 * time.Hour)
	_, err := service.PublishQuiet(site.ID, draft.ID, publishedAt)
	assert.NoError(t, err)

	editTime := time.Now()
	post, err := service.UpdateContent(site.ID, draft.ID, "Launch", "launch-v2", "body", editTime)

	assert.NoError(t, err)
	assert.WithinDuration(t, editTime, *post.PublishedAt, time.Second)
}

func TestUpdateContent_DraftSlugChangeNoPublishTime(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	post, err := service.UpdateContent(site.ID, draft.ID, "Launch", "launch-v2", "body", time.Now())

	assert.NoError(t, err)
	assert.Nil(t, post.PublishedAt)
}

func TestUpdateContent_SameSlugNoHistory(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	_, err := service.UpdateContent(site.ID, draft.ID, "New Title", "launch", "body", time.Now())

	assert.NoError(t, err)

	var count int64
	db.Model(&models.SlugHistory{}).Count(&count)
	assert.Zero(t, count)
}

func TestUpdateContent_ConflictWithLivePost(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	draft := createTestPost(db, site.ID, "launch", models.PostStatusDraft)
	other := &models.Post{SiteID: site.ID, Title: "Other", Slug: "taken", Status: models.PostStatusPublished}
	db.Create(other)

	_, err := service.UpdateContent(site.ID, draft.ID, "Launch", "taken", "body", time.Now())

	assert.True(t, models.IsSlugConflict(err))

	// The failed update applied nothing: no history row, slug unchanged.
	var count int64
	db.Model(&models.SlugHistory{}).Count(&count)
	assert.Zero(t, count)

	var reloaded models.Post
	db.First(&reloaded, draft.ID)
	assert.Equal(t, "launch", reloaded.Slug)
	assert.Equal(t, "Test Post", reloaded.Title)
}

func TestUpdateContent_ConflictWithHistoryOfOtherPost(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	renamed := createTestPost(db, site.ID, "old-name", models.PostStatusPublished)
	_, err := service.UpdateContent(site.ID, renamed.ID, "Renamed", "new-name", "body", time.Now())
	assert.NoError(t, err)

	victim := &models.Post{SiteID: site.ID, Title: "Victim", Slug: "victim", Status: models.PostStatusDraft}
	db.Create(victim)

	// "old-name" is retired but still reserved by the other post's history.
	_, err = service.UpdateContent(site.ID, victim.ID, "Victim", "old-name", "body", time.Now())

	assert.True(t, models.IsSlugConflict(err))
}

func TestUpdateContent_ReclaimOwnRetiredSlug(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	post := createTestPost(db, site.ID, "first", models.PostStatusDraft)

	_, err := service.UpdateContent(site.ID, post.ID, "Test Post", "second", "body", time.Now())
	assert.NoError(t, err)

	// Going back to a slug this post itself retired is allowed.
	updated, err := service.UpdateContent(site.ID, post.ID, "Test Post", "first", "body", time.Now())
	assert.NoError(t, err)
	assert.Equal(t, "first", updated.Slug)
}

func TestUpdateContent_OtherSiteNotFound(t *testing.T) {
	db := setupTestDB()
	service := NewService(db)
	site := createTestSite(db)
	other := &models.Site{Name: "Other", Domain: "other.example.com"}
	db.Create(other)
	post := createTestPost(db, site.ID, "launch", models.PostStatusDraft)

	_, err := service.UpdateContent(other.ID, post.ID, "Launch", "", "body", time.Now())

	assert.ErrorIs(t, err, models.ErrNotFound)
}
