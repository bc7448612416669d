package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/orderpay-backend/pkg/db/models"
	"github.com/angelmondragon/orderpay-backend/pkg/logger"
)

const sendTimeout = 10 * time.Second

// Sender is the transactional email surface the notifier depends on.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, to, subject, html string) error
}

// EmailNotifier emails customers about order outcomes. Dispatch is
// fire-and-forget: a failed or unconfigured send is logged and never fails
// the checkout or the webhook.
type EmailNotifier struct {
	sender   Sender
	logg     *logger.Logger
	dispatch func(func())
}

// NewEmailNotifier wires the notifier around the email sender.
func NewEmailNotifier(sender Sender, logg *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender:   sender,
		logg:     logg,
		dispatch: func(fn func()) { go fn() },
	}
}

// OrderApproved emails the payment confirmation.
func (n *EmailNotifier) OrderApproved(ctx context.Context, order *models.Order) {
	subject := fmt.Sprintf("Payment approved for order %s", order.ID)
	html := fmt.Sprintf(
		"<p>Your payment of %s %s was approved.</p><p>Order: %s</p>",
		order.Amount.StringFixed(2), order.Currency, order.ID)
	n.send(ctx, order, subject, html)
}

// OrderDeclined emails the payment rejection.
func (n *EmailNotifier) OrderDeclined(ctx context.Context, order *models.Order) {
	subject := fmt.Sprintf("Payment declined for order %s", order.ID)
	html := fmt.Sprintf(
		"<p>Your payment of %s %s was declined. No charge was made.</p><p>Order: %s</p>",
		order.Amount.StringFixed(2), order.Currency, order.ID)
	n.send(ctx, order, subject, html)
}

func (n *EmailNotifier) send(ctx context.Context, order *models.Order, subject, html string) {
	if order == nil || order.Customer == nil || order.Customer.Email == "" {
		return
	}
	if n.sender == nil || !n.sender.Configured() {
		n.logg.Info(ctx, "email sender not configured, skipping notification")
		return
	}

	to := order.Customer.Email
	// detached from the request lifecycle but keeps the log fields
	base := context.WithoutCancel(ctx)
	n.dispatch(func() {
		sendCtx, cancel := context.WithTimeout(base, sendTimeout)
		defer cancel()
		if err := n.sender.Send(sendCtx, to, subject, html); err != nil {
			n.logg.Error(sendCtx, "failed to send order notification", err)
		}
	})
}
