// Package notifications delivers Pi Manager's device notifications.
//
// Every notification is posted as JSON to the webhook URL configured in the
// config store:
//
//	{"device": "...", "message": "...", "type": "update", "timestamp": "...", "status": "online"}
//
// The URL and the device name are read from the store at send time, so edits
// made through the API apply to the next notification. An empty URL disables
// the webhook.
//
// Messages (not heartbeats or status payloads) are also relayed through Shoutrrr
// to any service URLs given on the command line, formatted with a text template.
//
// Key components:
//   - Notifier: Webhook delivery and the types.Notifier implementation (notifier.go).
//   - Relay: Shoutrrr fan-out with templating and a send queue (shoutrrr.go).
//   - Templates: Built-in relay message templates (common_templates.go).
//
// Usage example:
//
//	notifier, err := notifications.New(notifications.Config{Store: db, URLs: urls})
//	if err != nil {
//		return err
//	}
//	defer notifier.Close()
//
//	notifier.Send("Application updated and restarting", types.NotifyUpdate)
package notifications
