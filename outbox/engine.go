package outbox

import (
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"letterpress/metrics"
	"letterpress/models"
)

// Sender is the external mail transport. Implementations must bound the
// call with a timeout; an expired timeout is a transient failure.
type Sender interface {
	Send(from, to, subject, text string) error
}

// BatchResult reports one ProcessBatch run. Every processed entry lands in
// exactly one of Sent, Failed or Deferred.
type BatchResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// Engine derives outbox entries from publish events and drains them in
// idempotent, retryable batches.
type Engine struct {
	db        *gorm.DB
	sender    Sender
	collector *metrics.Collector
}

func NewEngine(db *gorm.DB, sender Sender, collector *metrics.Collector) *Engine {
	return &Engine{db: db, sender: sender, collector: collector}
}

// Enqueue creates one pending entry per active subscriber of the post's
// site. The (post, subscriber) unique index makes repeated enqueues for
// the same publish event no-ops, so re-publishing never duplicates
// notifications. Returns the number of entries actually created.
func (e *Engine) Enqueue(post *models.Post) (int, error) {
	var subscribers []models.Subscriber
	err := e.db.Where("site_id = ? AND status = ?", post.SiteID, models.SubscriberStatusActive).
		Find(&subscribers).Error
	if err != nil {
		return 0, fmt.Errorf("%w: list subscribers: %v", models.ErrStorage, err)
	}
	if len(subscribers) == 0 {
		return 0, nil
	}

	entries := make([]models.OutboxEntry, 0, len(subscribers))
	for _, sub := range subscribers {
		entries = append(entries, models.OutboxEntry{
			PostID:       post.ID,
			SiteID:       post.SiteID,
			SubscriberID: sub.ID,
			ToEmail:      sub.Email,
			Status:       models.OutboxStatusPending,
		})
	}

	res := e.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: enqueue outbox entries: %v", models.ErrStorage, res.Error)
	}

	created := int(res.RowsAffected)
	e.collector.OutboxEnqueued(created)
	return created, nil
}

// PendingCount counts entries still eligible for a batch run.
func (e *Engine) PendingCount() (int64, error) {
	var count int64
	err := e.db.Model(&models.OutboxEntry{}).
		Where("status IN ? AND permanent = ?",
			[]string{models.OutboxStatusPending, models.OutboxStatusFailed}, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("%w: count pending entries: %v", models.ErrStorage, err)
	}
	return count, nil
}

// ProcessBatch attempts delivery for up to limit entries, oldest first.
// Permanently failed entries are never selected again. Per-entry outcomes
// are committed independently; only the inability to read the batch itself
// is returned as an error.
func (e *Engine) ProcessBatch(limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	var result BatchResult

	var entries []models.OutboxEntry
	err := e.db.Where("status IN ? AND permanent = ?",
		[]string{models.OutboxStatusPending, models.OutboxStatusFailed}, false).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return result, fmt.Errorf("%w: list outbox entries: %v", models.ErrStorage, err)
	}

	for i := range entries {
		entry := &entries[i]

		// Atomic claim: only one concurrent batch run may move the entry
		// into processing.
		claim := e.db.Model(&models.OutboxEntry{}).
			Where("id = ? AND status IN ? AND permanent = ?", entry.ID,
				[]string{models.OutboxStatusPending, models.OutboxStatusFailed}, false).
			Update("status", models.OutboxStatusProcessing)
		if claim.Error != nil {
			log.Printf("outbox: claim entry %d: %v", entry.ID, claim.Error)
			continue
		}
		if claim.RowsAffected == 0 {
			// Claimed by an overlapping run.
			continue
		}

		result.Processed++

		switch e.processEntry(entry) {
		case outcomeSent:
			result.Sent++
			e.collector.OutboxSent()
		case outcomeFailedPermanent:
			result.Failed++
			e.collector.OutboxFailed(true)
		case outcomeFailedTransient:
			result.Failed++
			e.collector.OutboxFailed(false)
		case outcomeDeferred:
			result.Deferred++
			e.collector.OutboxDeferred()
		}
	}

	e.collector.OutboxBatch()
	return result, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailedPermanent
	outcomeFailedTransient
	outcomeDeferred
)

// processEntry runs the eligibility checks in order and commits the
// entry's outcome. The entry is already claimed.
func (e *Engine) processEntry(entry *models.OutboxEntry) outcome {
	var post models.Post
	var site models.Site
	var subscriber models.Subscriber

	postErr := e.db.First(&post, entry.PostID).Error
	siteErr := e.db.First(&site, entry.SiteID).Error
	subErr := e.db.First(&subscriber, entry.SubscriberID).Error

	for _, err := range []error{postErr, siteErr, subErr} {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			// Infrastructure hiccup, not a verdict on the entry.
			log.Printf("outbox: load context for entry %d: %v", entry.ID, err)
			e.release(entry)
			return outcomeDeferred
		}
	}

	if postErr != nil || siteErr != nil || subErr != nil {
		e.markPermanent(entry, "invalid send context")
		return outcomeFailedPermanent
	}

	if subscriber.Status != models.SubscriberStatusActive || !post.NotifyOnPublish {
		e.markPermanent(entry, "notification disabled")
		return outcomeFailedPermanent
	}

	if !site.EmailEnabled || site.EmailFrom == "" || post.Status != models.PostStatusPublished {
		e.release(entry)
		return outcomeDeferred
	}

	if post.PublishedAt != nil && post.PublishedAt.After(time.Now()) {
		e.release(entry)
		return outcomeDeferred
	}

	subject := BuildSubject(site.Name, post.Title)
	text := BuildBody(site.Name, site.Domain, post.Title, post.Slug, post.ContentMd)

	if err := e.sender.Send(FromAddress(&site), entry.ToEmail, subject, text); err != nil {
		e.markTransient(entry, err.Error())
		return outcomeFailedTransient
	}

	now := time.Now()
	err := e.db.Model(entry).Updates(map[string]interface{}{
		"status":     models.OutboxStatusSent,
		"sent_at":    &now,
		"last_error": "",
		"attempts":   gorm.Expr("attempts + 1"),
	}).Error
	if err != nil {
		// The mail went out; keep the entry claimed rather than risk a
		// duplicate send on the next batch.
		log.Printf("outbox: mark entry %d sent: %v", entry.ID, err)
	}
	return outcomeSent
}

func (e *Engine) markPermanent(entry *models.OutboxEntry, reason string) {
	err := e.db.Model(entry).Updates(map[string]interface{}{
		"status":     models.OutboxStatusFailed,
		"permanent":  true,
		"last_error": reason,
		"attempts":   gorm.Expr("attempts + 1"),
	}).Error
	if err != nil {
		log.Printf("outbox: mark entry %d permanently failed: %v", entry.ID, err)
	}
}

func (e *Engine) markTransient(entry *models.OutboxEntry, reason string) {
	err := e.db.Model(entry).Updates(map[string]interface{}{
		"status":     models.OutboxStatusFailed,
		"permanent":  false,
		"last_error": reason,
		"attempts":   gorm.Expr("attempts + 1"),
	}).Error
	if err != nil {
		log.Printf("outbox: mark entry %d failed: %v", entry.ID, err)
	}
}

// release returns a claimed entry to its pre-claim status untouched, so a
// later batch re-evaluates it.
func (e *Engine) release(entry *models.OutboxEntry) {
	err := e.db.Model(&models.OutboxEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.OutboxStatusProcessing).
		Update("status", entry.Status).Error
	if err != nil {
		log.Printf("outbox: release entry %d: %v", entry.ID, err)
	}
}
