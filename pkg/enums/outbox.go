package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder              OutboxAggregateType = "order"
	AggregatePaymentTransaction OutboxAggregateType = "payment_transaction"
	AggregateInventoryItem      OutboxAggregateType = "inventory_item"
	AggregateNotification       OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregatePaymentTransaction,
	AggregateInventoryItem,
	AggregateNotification,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event stored in outbox_events.
type OutboxEventType string

const (
	EventOrderCreated              OutboxEventType = "order_created"
	EventOrderStateChanged         OutboxEventType = "order_state_changed"
	EventOrderCanceled             OutboxEventType = "order_canceled"
	EventReservationReleased       OutboxEventType = "reservation_released"
	EventPaymentInitiated          OutboxEventType = "payment_initiated"
	EventPaymentSettled            OutboxEventType = "payment_settled"
	EventPaymentFailed             OutboxEventType = "payment_failed"
	EventPaymentRefunded           OutboxEventType = "payment_refunded"
	EventRiskBlocked               OutboxEventType = "risk_blocked"
	EventInventoryThresholdCrossed OutboxEventType = "inventory_threshold_crossed"
	EventNotificationRequested     OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStateChanged,
	EventOrderCanceled,
	EventReservationReleased,
	EventPaymentInitiated,
	EventPaymentSettled,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventRiskBlocked,
	EventInventoryThresholdCrossed,
	EventNotificationRequested,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// IsNotification reports whether the event is delivered to the notification topic.
func (e OutboxEventType) IsNotification() bool {
	return e == EventNotificationRequested
}
