package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// NotificationDedupe is a distributed guard that remembers which
// payment-id/status pairs have already been reconciled, so redelivered
// notifications skip the store round-trip. It is advisory only: when Redis is
// unavailable every notification is treated as unseen and the idempotent
// lifecycle merge absorbs the replay.
type NotificationDedupe struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewNotificationDedupe(client redis.UniversalClient, prefix string) *NotificationDedupe {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "billing:webhook_seen"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &NotificationDedupe{
		client: client,
		prefix: trimmedPrefix,
		ttl:    defaultDedupeTTL,
	}
}

// Seen reports whether the payment-id/status pair was already reconciled. It
// only reads: the pair is recorded by Mark once the apply succeeds, so a
// delivery that failed mid-apply is never mistaken for a processed one. The
// status detail participates in the key so a voucher moving from pending to
// accredited is not mistaken for a replay.
func (d *NotificationDedupe) Seen(ctx context.Context, paymentID, status, statusDetail string) bool {
	if d == nil || d.client == nil {
		return false
	}
	key := d.key(paymentID, status, statusDetail)
	if key == "" {
		return false
	}
	n, err := d.client.Exists(ctx, key).Result()
	if err != nil {
		log.Printf("level=warn component=webhook_dedupe msg=\"dedupe check failed; treating notification as unseen\" payment_id=%s err=%v", paymentID, err)
		return false
	}
	return n > 0
}

// Mark records the payment-id/status pair as reconciled. Callers invoke it
// only after the outcome apply succeeded; a failure here is logged and
// ignored, the worst case being one redundant idempotent re-apply.
func (d *NotificationDedupe) Mark(ctx context.Context, paymentID, status, statusDetail string) {
	if d == nil || d.client == nil {
		return
	}
	key := d.key(paymentID, status, statusDetail)
	if key == "" {
		return
	}
	if err := d.client.SetNX(ctx, key, 1, d.ttl).Err(); err != nil {
		log.Printf("level=warn component=webhook_dedupe msg=\"dedupe record failed\" payment_id=%s err=%v", paymentID, err)
	}
}

func (d *NotificationDedupe) key(paymentID, status, statusDetail string) string {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s:%s:%s", d.prefix, paymentID, strings.ToLower(status), strings.ToLower(statusDetail))
}
