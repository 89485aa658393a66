package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultNotificationLimit = 50

var ErrNotificationNotFound = errors.New("notification not found")

// Notification is an in-app notice for User about something Actor did.
type Notification struct {
	ID        string    `json:"id" bson:"_id"`
	User      string    `json:"user" bson:"user"`
	Actor     string    `json:"actor,omitempty" bson:"actor,omitempty"`
	Message   string    `json:"message,omitempty" bson:"message,omitempty"`
	ReviewID  string    `json:"reviewId,omitempty" bson:"reviewId,omitempty"`
	CommentID string    `json:"commentId,omitempty" bson:"commentId,omitempty"`
	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

type NotificationRepository interface {
	// Create stores n. Creating a second notification for the same user and comment is a no-op.
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, user string, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, id, user string) (*Notification, error)
	EnsureIndexes(ctx context.Context) error
}

// CommentNotice is the part of a comment event a notification is built from.
type CommentNotice struct {
	TargetUser string
	Actor      string
	Message    string
	ReviewID   string
	CommentID  string
}

// NewNotification returns an unread notification for notice.TargetUser, or false when there is nobody to notify.
func NewNotification(notice CommentNotice, now time.Time) (*Notification, bool) {
	user := strings.TrimSpace(notice.TargetUser)
	if user == "" {
		return nil, false
	}

	return &Notification{
		ID:        uuid.NewString(),
		User:      user,
		Actor:     notice.Actor,
		Message:   notice.Message,
		ReviewID:  notice.ReviewID,
		CommentID: notice.CommentID,
		Read:      false,
		CreatedAt: now.UTC(),
	}, true
}

// NormalizeLimit clamps limit to (0, DefaultNotificationLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > DefaultNotificationLimit {
		return DefaultNotificationLimit
	}
	return limit
}
