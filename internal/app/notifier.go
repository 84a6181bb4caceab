/**
 * @description
 * This file contains the Notifier, the single path for user-facing messages
 * and operator alerts. Sends go to the Telegram bot API; every send is also
 * mirrored to the event bus so other services can audit outbound traffic.
 *
 * @notes
 * - Notification failures are logged and swallowed. A broken bot API must
 *   never abort payment settlement or a lifecycle transition.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/onesitepls/commerce-service/internal/domain"
	"github.com/onesitepls/commerce-service/pkg/botclient"
	"github.com/onesitepls/commerce-service/pkg/rabbitmq"
)

// BotSender abstracts the Telegram bot client for testing.
type BotSender interface {
	SendMessage(ctx context.Context, chatID, text string, buttons [][]botclient.InlineButton) error
}

// Notifier delivers user messages and operator alerts.
type Notifier struct {
	sender         BotSender
	producer       rabbitmq.Publisher
	exchange       string
	adminChatID    string
	miniAppBaseURL string
}

// NewNotifier creates a Notifier. adminChatID may be empty, in which case
// operator alerts are log-only.
func NewNotifier(sender BotSender, producer rabbitmq.Publisher, exchange, adminChatID, miniAppBaseURL string) *Notifier {
	return &Notifier{
		sender:         sender,
		producer:       producer,
		exchange:       exchange,
		adminChatID:    adminChatID,
		miniAppBaseURL: miniAppBaseURL,
	}
}

// RentalDeepLink builds the inline button that opens a rental inside the
// mini-app.
func (n *Notifier) RentalDeepLink(label, rentalID string) [][]botclient.InlineButton {
	return [][]botclient.InlineButton{{
		{Text: label, URL: fmt.Sprintf("%s?startapp=rental-%s", n.miniAppBaseURL, rentalID)},
	}}
}

// NotifyUser sends a message to a user, best effort.
func (n *Notifier) NotifyUser(ctx context.Context, chatID, kind, text string, buttons [][]botclient.InlineButton) {
	if n == nil || n.sender == nil || chatID == "" {
		return
	}
	if err := n.sender.SendMessage(ctx, chatID, text, buttons); err != nil {
		log.Printf("level=error component=notifier msg=\"user notification failed\" chat_id=%s kind=%s err=%v", chatID, kind, err)
		return
	}
	n.mirror(ctx, chatID, kind)
}

// AlertOperator raises an operator alert on the admin chat, best effort.
func (n *Notifier) AlertOperator(ctx context.Context, text string) {
	if n == nil {
		return
	}
	log.Printf("level=error component=notifier msg=\"operator alert\" text=%q", text)
	if n.sender == nil || n.adminChatID == "" {
		return
	}
	if err := n.sender.SendMessage(ctx, n.adminChatID, "⚠️ "+text, nil); err != nil {
		log.Printf("level=error component=notifier msg=\"operator alert delivery failed\" err=%v", err)
		return
	}
	n.mirror(ctx, n.adminChatID, "operator_alert")
}

func (n *Notifier) mirror(ctx context.Context, chatID, kind string) {
	if n.producer == nil {
		return
	}
	event := domain.NotificationSentEvent{
		ChatID:     chatID,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	}
	if err := n.producer.Publish(ctx, n.exchange, domain.RoutingNotificationSent, event); err != nil {
		log.Printf("level=warn component=notifier msg=\"failed to mirror notification event\" kind=%s err=%v", kind, err)
	}
}
