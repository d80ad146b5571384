package models

import "time"

// Post lifecycle statuses.
const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
)

// Subscriber statuses.
const (
	SubscriberStatusActive       = "active"
	SubscriberStatusUnsubscribed = "unsubscribed"
)

// Outbox entry statuses. "processing" marks an entry claimed by a running
// batch so overlapping batch runs never send the same entry twice.
const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessing = "processing"
	OutboxStatusSent       = "sent"
	OutboxStatusFailed     = "failed"
)

type User struct {
	ID           int    `gorm:"primary_key;autoIncrement" json:"id"`
	PasswordHash string `gorm:"not null" json:"-"` // json:"-" prevents password from being exposed in API
	Email        string `gorm:"unique;not null" json:"email"`
	SessionToken string `json:"-"` // for session management
}

type Site struct {
	ID              int       `gorm:"primary_key;autoIncrement" json:"id"`
	Name            string    `gorm:"not null" json:"name"`
	Domain          string    `gorm:"unique;not null;index" json:"domain"`
	EmailEnabled    bool      `gorm:"default:false" json:"email_enabled"`
	EmailFrom       string    `json:"email_from"`
	EmailSenderName string    `json:"email_sender_name"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Post struct {
	ID              uint       `gorm:"primary_key"`
	SiteID          int        `gorm:"not null;index;uniqueIndex:idx_site_slug" json:"site_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Title           string     `gorm:"not null" json:"title"`
	Slug            string     `gorm:"not null;uniqueIndex:idx_site_slug" json:"slug"`
	ContentMd       string     `gorm:"type:text" json:"content_md"`
	Status          string     `gorm:"not null;default:'draft';index" json:"status"`
	PublishedAt     *time.Time `gorm:"index" json:"published_at,omitempty"`
	NotifyOnPublish bool       `gorm:"default:false" json:"notify_on_publish"`
}

// SlugHistory keeps retired slugs pointing at the post that used to own
// them. Rows are insert-only; redirects always resolve to the post's
// current slug.
type SlugHistory struct {
	ID        uint      `gorm:"primary_key"`
	SiteID    int       `gorm:"not null;index;uniqueIndex:idx_site_old_slug" json:"site_id"`
	Slug      string    `gorm:"not null;uniqueIndex:idx_site_old_slug" json:"slug"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Subscriber struct {
	ID               uint       `gorm:"primary_key"`
	SiteID           int        `gorm:"not null;index;uniqueIndex:idx_site_email" json:"site_id"`
	Email            string     `gorm:"not null;uniqueIndex:idx_site_email" json:"email"`
	Status           string     `gorm:"not null;default:'active';index" json:"status"`
	UnsubscribedAt   *time.Time `json:"unsubscribed_at,omitempty"`
	UnsubscribeToken string     `gorm:"index" json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// OutboxEntry is one (post, subscriber) notification obligation. The
// (post_id, subscriber_id) unique index makes enqueue idempotent. Permanent
// marks failures that later batches must never retry.
type OutboxEntry struct {
	ID           uint       `gorm:"primary_key"`
	PostID       uint       `gorm:"not null;index;uniqueIndex:idx_post_subscriber" json:"post_id"`
	SiteID       int        `gorm:"not null;index" json:"site_id"`
	SubscriberID uint       `gorm:"not null;uniqueIndex:idx_post_subscriber" json:"subscriber_id"`
	ToEmail      string     `gorm:"not null" json:"to_email"`
	Status       string     `gorm:"not null;default:'pending';index" json:"status"`
	Permanent    bool       `gorm:"default:false" json:"permanent"`
	Attempts     int        `gorm:"default:0" json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
