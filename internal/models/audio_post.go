package models

import (
	"time"

	"github.com/gocql/gocql"
)

const (
	MaxAudioDurationSeconds = 300
	MaxAudioSizeBytes       = 100 * 1024 * 1024
)

type PostKind string

const (
	PostKindText  PostKind = "text"
	PostKindAudio PostKind = "audio"
)

// Post is the metadata row kept for quota accounting and audio lookup.
type Post struct {
	AccountID       string     `json:"email" db:"account_id"`
	PostID          gocql.UUID `json:"id" db:"post_id"`
	Kind            PostKind   `json:"type" db:"kind"`
	ObjectKey       string     `json:"objectKey,omitempty" db:"object_key"`
	ContentType     string     `json:"contentType,omitempty" db:"content_type"`
	DurationSeconds float64    `json:"duration,omitempty" db:"duration_seconds"`
	SizeBytes       int64      `json:"size,omitempty" db:"size_bytes"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
}

// AlertPost is a candidate for a keyword alert, as sent by the feed.
type AlertPost struct {
	ID   string `json:"id" validate:"required"`
	Text string `json:"text"`
}

// KeywordAlert is one post that matched a keyword.
type KeywordAlert struct {
	PostID  string `json:"postId"`
	Keyword string `json:"keyword"`
	Title   string `json:"title"`
	Body    string `json:"body"`
}
