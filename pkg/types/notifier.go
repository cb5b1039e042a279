package types

// Notification types understood by webhook receivers.
const (
	NotifyInfo      = "info"
	NotifyOnline    = "online"
	NotifyOffline   = "offline"
	NotifyWarning   = "warning"
	NotifyCritical  = "critical"
	NotifyHeartbeat = "heartbeat"
	NotifyStatus    = "status"
	NotifyUpdate    = "update"
)

// Notifier defines the common interface for outbound device notifications.
type Notifier interface {
	// Send delivers message with the given notification type.
	// It returns false when nothing was sent, either because no
	// endpoint is configured or because delivery failed.
	Send(message, kind string) bool

	// SendPayload delivers a structured payload of the given type.
	SendPayload(kind string, fields map[string]any) bool

	// SendOnline announces that the device came online.
	SendOnline(info string) bool

	// SendOffline announces that the device is going offline.
	SendOffline(reason string) bool
}
