package posts

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"letterpress/models"
)

// ResolveRedirect maps a requested slug that no longer matches any current
// post to the owning post's current slug. The redirect is honored only
// when that post is published and due; retired slugs of drafts or
// not-yet-promoted posts must not leak their existence. Requesting a slug
// the post currently owns short-circuits to no-redirect.
func (s *Service) ResolveRedirect(siteID int, slug string, now time.Time) (string, bool, error) {
	var entry models.SlugHistory
	err := s.db.Where("site_id = ? AND slug = ?", siteID, slug).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, storageErr("load slug history", err)
	}

	var post models.Post
	err = s.db.Where("id = ? AND site_id = ?", entry.PostID, siteID).First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// History points at a deleted post; nothing to redirect to.
			return "", false, nil
		}
		return "", false, storageErr("load redirect post", err)
	}

	if post.Slug == slug {
		return "", false, nil
	}
	if post.Status != models.PostStatusPublished {
		return "", false, nil
	}
	if post.PublishedAt == nil || post.PublishedAt.After(now) {
		return "", false, nil
	}

	return post.Slug, true, nil
}
