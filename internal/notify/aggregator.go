// Package notify owns notification aggregation and the background delivery
// of notifications after a message write.
package notify

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100

	// createAttempts bounds the create/merge loop when racing writers keep
	// flipping the unread record underneath us.
	createAttempts = 3
)

var leadingCount = regexp.MustCompile(`^(\d+)`)

// MergedTitle is the title of an aggregated new_message notification.
func MergedTitle(count int) string {
	return fmt.Sprintf("%d unread messages in circle", count)
}

// Request is one notification event.
type Request struct {
	RecipientID uuid.UUID               `json:"recipient_id"`
	ActorID     uuid.UUID               `json:"actor_id"`
	Type        models.NotificationType `json:"type"`
	Title       string                  `json:"title"`
	Body        string                  `json:"body"`
	Link        *string                 `json:"link,omitempty"`
}

// Display is the light notification:new payload for badges.
type Display struct {
	Title string                  `json:"title"`
	Body  string                  `json:"body"`
	Link  *string                 `json:"link"`
	Type  models.NotificationType `json:"type"`
}

// Aggregator decides between creating a notification and merging into an
// existing unread one, then pushes the result to the recipient.
type Aggregator struct {
	repo   repository.NotificationRepository
	bus    fanout.Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(repo repository.NotificationRepository, bus fanout.Publisher, logger *zap.Logger) *Aggregator {
	return &Aggregator{repo: repo, bus: bus, logger: logger, now: time.Now}
}

// Notify records req and returns the created or merged notification, or
// nil when the recipient is the actor.
//
// new_message events with a link merge into the recipient's unread record
// for that link: the count goes up by one, the title becomes
// "<count> unread messages in circle", the body becomes the latest preview
// and updated_at moves to now. Concurrent creators are collapsed by the
// store's unique index; the loser sees Conflict and merges instead.
func (a *Aggregator) Notify(ctx context.Context, req Request) (*models.Notification, error) {
	if req.RecipientID == req.ActorID {
		return nil, nil
	}

	n, err := a.write(ctx, req)
	if err != nil {
		return nil, err
	}
	a.push(ctx, n)
	return n, nil
}

func (a *Aggregator) write(ctx context.Context, req Request) (*models.Notification, error) {
	mergeable := req.Type == models.NotifyNewMessage && req.Link != nil

	for attempt := 0; attempt < createAttempts; attempt++ {
		if mergeable {
			n, err := a.merge(ctx, req)
			if err != nil {
				return nil, err
			}
			if n != nil {
				return n, nil
			}
		}

		n, err := a.repo.Create(ctx, models.Notification{
			RecipientID: req.RecipientID,
			ActorID:     req.ActorID,
			Type:        req.Type,
			Title:       req.Title,
			Body:        req.Body,
			Link:        req.Link,
			Count:       1,
		})
		if err == nil {
			return n, nil
		}
		if !mergeable || !apperr.HasCode(err, apperr.CodeConflict) {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		a.logger.Debug("lost unread notification race, merging",
			zap.Stringer("recipient_id", req.RecipientID), zap.Int("attempt", attempt))
	}
	return nil, apperr.Conflict("notification kept changing while merging")
}

// merge returns nil, nil when there is nothing unread to merge into.
func (a *Aggregator) merge(ctx context.Context, req Request) (*models.Notification, error) {
	existing, err := a.repo.FindUnread(ctx, req.RecipientID, models.NotifyNewMessage, *req.Link)
	if err != nil {
		return nil, fmt.Errorf("find unread notification: %w", err)
	}
	if existing == nil {
		return nil, nil
	}

	count := nextCount(existing)
	n, err := a.repo.Merge(ctx, existing.ID, MergedTitle(count), req.Body, count, a.now())
	if err != nil {
		return nil, fmt.Errorf("merge notification: %w", err)
	}
	return n, nil
}

// nextCount prefers the stored counter. Rows written before the counter
// existed carry 0 and fall back to the number leading the title, with 1
// (so 2 after this merge) when there is none.
func nextCount(n *models.Notification) int {
	base := n.Count
	if base < 1 {
		base = 1
		if m := leadingCount.FindStringSubmatch(n.Title); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil && v > 0 {
				base = v
			}
		}
	}
	return base + 1
}

// push is best effort: the record is durable and the client picks it up on
// its next list.
func (a *Aggregator) push(ctx context.Context, n *models.Notification) {
	ch := fanout.UserChannel(n.RecipientID)
	if err := a.bus.Publish(ctx, ch, fanout.EventNotification, n); err != nil {
		a.logger.Error("failed to push notification", zap.Stringer("recipient_id", n.RecipientID), zap.Error(err))
	}
	display := Display{Title: n.Title, Body: n.Body, Link: n.Link, Type: n.Type}
	if err := a.bus.Publish(ctx, ch, fanout.EventNotificationNew, display); err != nil {
		a.logger.Error("failed to push notification badge", zap.Stringer("recipient_id", n.RecipientID), zap.Error(err))
	}
}

// List returns the recipient's visible notifications, most recently bumped
// first.
func (a *Aggregator) List(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	list, err := a.repo.ListVisible(ctx, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

// MarkRead marks a notification read and hides it: viewing dismisses.
// Marking an already-read notification again is a no-op. Another user's
// notification is reported as not found.
func (a *Aggregator) MarkRead(ctx context.Context, recipientID, id uuid.UUID) error {
	n, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get notification: %w", err)
	}
	if n == nil || n.RecipientID != recipientID {
		return apperr.ErrNotificationNotFound
	}
	if _, err := a.repo.MarkReadAndHide(ctx, id); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
