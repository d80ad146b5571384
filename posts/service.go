package posts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"letterpress/models"
)

// Enqueuer creates notification outbox entries for a freshly published
// post. Implemented by the outbox engine; wired after construction to keep
// the packages decoupled.
type Enqueuer interface {
	Enqueue(post *models.Post) (int, error)
}

// Service owns the draft/scheduled/published lifecycle of posts, the slug
// history that feeds redirects, and the promotion sweep for scheduled
// posts. Every operation is scoped by an explicit site id.
type Service struct {
	db       *gorm.DB
	enqueuer Enqueuer
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// SetEnqueuer wires the notification outbox. Publish-with-notify and the
// promotion sweep are no-ops on the outbox side until this is set.
func (s *Service) SetEnqueuer(e Enqueuer) {
	s.enqueuer = e
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", models.ErrStorage, op, err)
}

func (s *Service) getPost(tx *gorm.DB, siteID int, postID uint) (*models.Post, error) {
	var post models.Post
	err := tx.Where("id = ? AND site_id = ?", postID, siteID).First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: post %d", models.ErrNotFound, postID)
		}
		return nil, storageErr("load post", err)
	}
	return &post, nil
}

// slugTaken reports whether slug collides with another live post of the
// site or with a history entry retired by a different post. A post's own
// history entries don't count: reclaiming a retired slug of the same post
// short-circuits in the redirector.
func (s *Service) slugTaken(tx *gorm.DB, siteID int, slug string, selfID uint) (bool, error) {
	var count int64
	err := tx.Model(&models.Post{}).
		Where("site_id = ? AND slug = ? AND id != ?", siteID, slug, selfID).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check live slugs", err)
	}
	if count > 0 {
		return true, nil
	}

	err = tx.Model(&models.SlugHistory{}).
		Where("site_id = ? AND slug = ? AND post_id != ?", siteID, slug, selfID).
		Count(&count).Error
	if err != nil {
		return false, storageErr("check slug history", err)
	}
	return count > 0, nil
}

func (s *Service) nextAvailableSlug(tx *gorm.DB, siteID int, base string, selfID uint) string {
	for i := 2; i < 50; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		taken, err := s.slugTaken(tx, siteID, candidate, selfID)
		if err != nil {
			return ""
		}
		if !taken {
			return candidate
		}
	}
	return ""
}

// CreateDraft creates a draft post. When rawSlug is empty the slug is
// derived from the title, and a slug conflict then carries a disambiguated
// suggestion; an explicitly chosen slug conflicts without one.
func (s *Service) CreateDraft(siteID int, title, rawSlug string) (*models.Post, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("title", "title is required")
	}

	autoDerived := strings.TrimSpace(rawSlug) == ""
	slug := Slugify(rawSlug)
	if autoDerived {
		slug = Slugify(title)
	}

	var post *models.Post
	err := s.db.Transaction(func(tx *gorm.DB) error {
		taken, err := s.slugTaken(tx, siteID, slug, 0)
		if err != nil {
			return err
		}
		if taken {
			conflict := &models.SlugConflictError{Slug: slug}
			if autoDerived {
				conflict.Suggestion = s.nextAvailableSlug(tx, siteID, slug, 0)
			}
			return conflict
		}

		post = &models.Post{
			SiteID: siteID,
			Title:  title,
			Slug:   slug,
			Status: models.PostStatusDraft,
		}
		if err := tx.Create(post).Error; err != nil {
			return storageErr("create draft", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// UpdateContent updates title, slug and body in any lifecycle state. A
// slug change records the previous slug in history and, when the post is
// live, bumps PublishedAt so the edited post resurfaces in feeds. Either
// every write applies or none do.
func (s *Service) UpdateContent(siteID int, postID uint, title, rawSlug, contentMd string, now time.Time) (*models.Post, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("title", "title is required")
	}

	autoDerived := strings.TrimSpace(rawSlug) == ""
	slug := Slugify(rawSlug)
	if autoDerived {
		slug = Slugify(title)
	}

	var post *models.Post
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		post, err = s.getPost(tx, siteID, postID)
		if err != nil {
			return err
		}

		if slug != post.Slug {
			taken, err := s.slugTaken(tx, siteID, slug, post.ID)
			if err != nil {
				return err
			}
			if taken {
				conflict := &models.SlugConflictError{Slug: slug}
				if autoDerived {
					conflict.Suggestion = s.nextAvailableSlug(tx, siteID, slug, post.ID)
				}
				return conflict
			}

			history := models.SlugHistory{
				SiteID: siteID,
				Slug:   post.Slug,
				PostID: post.ID,
			}
			// The same slug can be retired more than once when a post
			// reclaims it in between; the first history row wins.
			err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&history).Error
			if err != nil {
				return storageErr("record slug history", err)
			}

			post.Slug = slug
			if post.Status == models.PostStatusPublished {
				post.PublishedAt = &now
			}
		}

		post.Title = title
		post.ContentMd = contentMd

		if err := tx.Save(post).Error; err != nil {
			return storageErr("update post", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// PublishQuiet publishes without notifying subscribers. Republishing keeps
// the original publish time.
func (s *Service) PublishQuiet(siteID int, postID uint, now time.Time) (*models.Post, error) {
	return s.publish(siteID, postID, now, false)
}

// PublishNotify publishes and synchronously enqueues one outbox entry per
// active subscriber of the site.
func (s *Service) PublishNotify(siteID int, postID uint, now time.Time) (*models.Post, error) {
	post, err := s.publish(siteID, postID, now, true)
	if err != nil {
		return nil, err
	}
	if s.enqueuer != nil {
		if _, err := s.enqueuer.Enqueue(post); err != nil {
			return nil, err
		}
	}
	return post, nil
}

func (s *Service) publish(siteID int, postID uint, now time.Time, notify bool) (*models.Post, error) {
	var post *models.Post
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		post, err = s.getPost(tx, siteID, postID)
		if err != nil {
			return err
		}

		post.Status = models.PostStatusPublished
		if post.PublishedAt == nil {
			post.PublishedAt = &now
		}
		post.NotifyOnPublish = notify

		if err := tx.Save(post).Error; err != nil {
			return storageErr("publish post", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// PublishScheduled schedules the post for a strictly future time. The post
// stays invisible until the promotion sweep runs after scheduleAt.
func (s *Service) PublishScheduled(siteID int, postID uint, scheduleAt time.Time, notify bool, now time.Time) (*models.Post, error) {
	if scheduleAt.IsZero() {
		return nil, models.NewValidationError("scheduleAt", "schedule time is required")
	}
	if !scheduleAt.After(now) {
		return nil, models.NewValidationError("scheduleAt", "schedule time must be in the future")
	}

	var post *models.Post
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		post, err = s.getPost(tx, siteID, postID)
		if err != nil {
			return err
		}

		post.Status = models.PostStatusScheduled
		post.PublishedAt = &scheduleAt
		post.NotifyOnPublish = notify

		if err := tx.Save(post).Error; err != nil {
			return storageErr("schedule post", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

// scheduleLayouts accepted from publish forms, in match order.
var scheduleLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04", // datetime-local inputs
	"2006-01-02 15:04",
}

// ParseScheduleTime parses a schedule form value or rejects it as a
// ValidationError.
func ParseScheduleTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, models.NewValidationError("scheduleAt", "schedule time is required")
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, models.NewValidationError("scheduleAt", "invalid schedule time")
}

// PromoteDue transitions every scheduled post whose time has passed to
// published, keeping PublishedAt unchanged, and enqueues notifications
// exactly once per promoted post. Returns the number of posts promoted.
func (s *Service) PromoteDue(now time.Time) (int, error) {
	var due []models.Post
	err := s.db.Where("status = ? AND published_at <= ?", models.PostStatusScheduled, now).
		Find(&due).Error
	if err != nil {
		return 0, storageErr("list due posts", err)
	}

	promoted := 0
	for i := range due {
		post := &due[i]

		// Conditional update so a concurrent sweep promotes each post at
		// most once.
		res := s.db.Model(&models.Post{}).
			Where("id = ? AND status = ?", post.ID, models.PostStatusScheduled).
			Update("status", models.PostStatusPublished)
		if res.Error != nil {
			return promoted, storageErr("promote post", res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		post.Status = models.PostStatusPublished
		promoted++

		if post.NotifyOnPublish && s.enqueuer != nil {
			if _, err := s.enqueuer.Enqueue(post); err != nil {
				return promoted, err
			}
		}
	}
	return promoted, nil
}

// VisiblePosts lists the externally visible posts of a site, newest
// publish time first. Visible means published with a publish time at or
// before now; scheduled posts stay hidden until promoted.
func (s *Service) VisiblePosts(siteID int, now time.Time) ([]models.Post, error) {
	var visible []models.Post
	err := s.db.Where("site_id = ? AND status = ? AND published_at <= ?",
		siteID, models.PostStatusPublished, now).
		Order("published_at DESC").
		Find(&visible).Error
	if err != nil {
		return nil, storageErr("list visible posts", err)
	}
	return visible, nil
}

// VisibleBySlug returns the visible post with the given current slug, or
// models.ErrNotFound.
func (s *Service) VisibleBySlug(siteID int, slug string, now time.Time) (*models.Post, error) {
	var post models.Post
	err := s.db.Where("site_id = ? AND slug = ? AND status = ? AND published_at <= ?",
		siteID, slug, models.PostStatusPublished, now).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: post %q", models.ErrNotFound, slug)
		}
		return nil, storageErr("load visible post", err)
	}
	return &post, nil
}

// GetPost loads a post of the site regardless of visibility, for the admin
// surface.
func (s *Service) GetPost(siteID int, postID uint) (*models.Post, error) {
	return s.getPost(s.db, siteID, postID)
}

// ListPosts lists every post of the site for the admin surface, newest
// first.
func (s *Service) ListPosts(siteID int) ([]models.Post, error) {
	var all []models.Post
	err := s.db.Where("site_id = ?", siteID).Order("created_at DESC").Find(&all).Error
	if err != nil {
		return nil, storageErr("list posts", err)
	}
	return all, nil
}
