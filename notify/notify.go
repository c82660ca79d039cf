// Package notify delivers fire-and-forget messages about rewards events.
// Senders never report failures back to the caller; a lost notification must
// not undo a committed transaction.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"rewards-backend/logging"

	"github.com/google/uuid"
)

type Kind string

const (
	KindPremiumActivated Kind = "premium_activated"
	KindPremiumRenewed   Kind = "premium_renewed"
	KindPremiumExpired   Kind = "premium_expired"
	KindRedemptionReady  Kind = "redemption_ready"
	KindCouponReset      Kind = "coupon_reset"
)

type Notification struct {
	UserID uuid.UUID
	Kind   Kind
	Data   map[string]string
}

type Sender interface {
	Send(ctx context.Context, n Notification)
}

// LogSender writes notifications to a structured logger.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, n Notification) {
	attrs := []any{"user_id", n.UserID, "kind", n.Kind}
	for k, v := range n.Data {
		attrs = append(attrs, k, v)
	}
	logging.OrDefault(s.Logger).InfoContext(ctx, "notification", attrs...)
}

// Multi fans a notification out to every sender.
type Multi []Sender

func (m Multi) Send(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Send(ctx, n)
	}
}

type Nop struct{}

func (Nop) Send(context.Context, Notification) {}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Send(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// OfKind returns the recorded notifications of kind k.
func (r *Recorder) OfKind(k Kind) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}
