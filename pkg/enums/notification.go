package enums

import "fmt"

// NotificationType classifies notification requests handed to the notification service.
type NotificationType string

const (
	NotificationTypeOrderCreated       NotificationType = "order_created"
	NotificationTypeOrderStatusChanged NotificationType = "order_status_changed"
	NotificationTypePaymentConfirmed   NotificationType = "payment_confirmed"
	NotificationTypePaymentRefunded    NotificationType = "payment_refunded"
	NotificationTypeLowStock           NotificationType = "low_stock"
	NotificationTypeOutOfStock         NotificationType = "out_of_stock"
)

var validNotificationTypes = []NotificationType{
	NotificationTypeOrderCreated,
	NotificationTypeOrderStatusChanged,
	NotificationTypePaymentConfirmed,
	NotificationTypePaymentRefunded,
	NotificationTypeLowStock,
	NotificationTypeOutOfStock,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
