package sharing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/podshare/podshare-go/internal/platform/logutil"
	"github.com/podshare/podshare-go/internal/store"
)

// Notification type tags.
const (
	NotificationInvite = "invite-notification"
	NotificationReply  = "invite-reply"
)

// notificationTimestamp is the dtstamp layout of notification payloads.
const notificationTimestamp = "20060102T150405Z"

// NotificationChannel delivers typed notification documents to a principal's
// inbox. Writes join the caller's transaction so a rolled-back share never
// leaves a stray notification behind.
type NotificationChannel interface {
	Write(ctx context.Context, tx store.Stores, principalUID, notificationUID, typeTag string, payload map[string]any) error
	Remove(ctx context.Context, tx store.Stores, principalUID, notificationUID string) error
}

// InboxChannel is the store-backed notification channel.
type InboxChannel struct {
	logger *slog.Logger
}

// NewInboxChannel creates the default store-backed notification channel.
func NewInboxChannel(logger *slog.Logger) *InboxChannel {
	return &InboxChannel{logger: logutil.NoopIfNil(logger)}
}

var _ NotificationChannel = (*InboxChannel)(nil)

// Write implements NotificationChannel.
func (c *InboxChannel) Write(ctx context.Context, tx store.Stores, principalUID, notificationUID, typeTag string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode notification %q: %w", notificationUID, err)
	}
	c.logger.Debug("writing inbox notification",
		slog.String("principal", principalUID),
		slog.String("uid", notificationUID),
		slog.String("type", typeTag))
	return tx.Notifications().Write(ctx, principalUID, notificationUID, typeTag, raw)
}

// Remove implements NotificationChannel.
func (c *InboxChannel) Remove(ctx context.Context, tx store.Stores, principalUID, notificationUID string) error {
	c.logger.Debug("removing inbox notification",
		slog.String("principal", principalUID),
		slog.String("uid", notificationUID))
	return tx.Notifications().Remove(ctx, principalUID, notificationUID)
}

// invitePayload builds the invite notification document for one sharee
// view. status conveys the invitation state the sharee should see, which is
// BindStatusDeleted when a live share is being revoked.
func invitePayload(ownerUID, ownerName, shareeUID, shareUID, resourceType, summary string, mode store.BindMode, status store.BindStatus, components []string) map[string]any {
	payload := map[string]any{
		"notification-type": NotificationInvite,
		"shared-type":       resourceType,
		"dtstamp":           time.Now().UTC().Format(notificationTimestamp),
		"owner":             ownerUID,
		"sharee":            shareeUID,
		"uid":               shareUID,
		"status":            status,
		"access":            mode,
		"ownerName":         ownerName,
		"summary":           summary,
	}
	if len(components) > 0 {
		payload["supported-components"] = components
	}
	return payload
}

// replyPayload builds the accept/decline reply document for the owner's
// inbox. The document UID is derived from the share UID so a later reply
// replaces the earlier one.
func replyPayload(ownerUID, shareeUID, shareUID, resourceType, summary string, status store.BindStatus) map[string]any {
	return map[string]any{
		"notification-type": NotificationReply,
		"shared-type":       resourceType,
		"dtstamp":           time.Now().UTC().Format(notificationTimestamp),
		"owner":             ownerUID,
		"sharee":            shareeUID,
		"status":            status,
		"summary":           summary,
		"in-reply-to":       shareUID,
	}
}

// replyNotificationUID returns the inbox document UID for a reply to the
// given share.
func replyNotificationUID(shareUID string) string {
	return shareUID + "-reply"
}
