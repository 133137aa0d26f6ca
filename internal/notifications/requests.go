package notifications

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/threadline/settlement-backend/pkg/enums"
	"github.com/threadline/settlement-backend/pkg/outbox"
	"github.com/threadline/settlement-backend/pkg/outbox/payloads"
)

// Request builds a notification_requested outbox event addressed to userID.
// Delivery is owned by the notification service; a failed delivery never
// affects the state change that produced the request.
func Request(userID uuid.UUID, kind enums.NotificationType, title, message string, relatedID uuid.UUID, actor *outbox.ActorRef) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   relatedID,
		Actor:         actor,
		Data: payloads.NotificationRequestedEvent{
			UserID:    userID,
			Type:      kind,
			Title:     title,
			Message:   message,
			RelatedID: relatedID,
		},
	}
}

// OrderCreated notifies the seller and confirms to the buyer.
func OrderCreated(orderID, buyerID, sellerID uuid.UUID, title string, actor *outbox.ActorRef) []outbox.DomainEvent {
	return []outbox.DomainEvent{
		Request(sellerID, enums.NotificationTypeOrderCreated, "New order received",
			fmt.Sprintf("You received a new order for %s.", title), orderID, actor),
		Request(buyerID, enums.NotificationTypeOrderCreated, "Order placed",
			fmt.Sprintf("Your order for %s was placed.", title), orderID, actor),
	}
}

// OrderStatusChanged tells the counterparty that an order moved to status.
func OrderStatusChanged(orderID, recipientID uuid.UUID, status enums.OrderStatus, actor *outbox.ActorRef) outbox.DomainEvent {
	return Request(recipientID, enums.NotificationTypeOrderStatusChanged, "Order updated",
		fmt.Sprintf("Your order is now %s.", humanize(status.String())), orderID, actor)
}

// PaymentConfirmed notifies both parties that the order is paid.
func PaymentConfirmed(orderID, buyerID, sellerID uuid.UUID, actor *outbox.ActorRef) []outbox.DomainEvent {
	return []outbox.DomainEvent{
		Request(buyerID, enums.NotificationTypePaymentConfirmed, "Payment confirmed",
			"We received your payment.", orderID, actor),
		Request(sellerID, enums.NotificationTypePaymentConfirmed, "Order paid",
			"The buyer's payment was confirmed.", orderID, actor),
	}
}

// PaymentRefunded tells the buyer that money was returned.
func PaymentRefunded(orderID, buyerID uuid.UUID, amountCents int64, currency string, actor *outbox.ActorRef) outbox.DomainEvent {
	return Request(buyerID, enums.NotificationTypePaymentRefunded, "Refund issued",
		fmt.Sprintf("A refund of %s %s was issued.", formatCents(amountCents), currency), orderID, actor)
}

// StockSignal alerts a seller that an inventory item hit a threshold.
func StockSignal(itemID, sellerID uuid.UUID, name string, kind enums.NotificationType, stock int) outbox.DomainEvent {
	title := "Low stock"
	message := fmt.Sprintf("%s is running low (%d left).", name, stock)
	if kind == enums.NotificationTypeOutOfStock {
		title = "Out of stock"
		message = fmt.Sprintf("%s is out of stock.", name)
	}
	return Request(sellerID, kind, title, message, itemID, nil)
}

func humanize(value string) string {
	return strings.ReplaceAll(value, "_", " ")
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
