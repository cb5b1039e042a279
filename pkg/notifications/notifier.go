package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/henningd/pi-manager/pkg/types"
)

// Webhook delivery settings.
const (
	UserAgent        = "Pi-Manager/1.0"
	DefaultTimeout   = 10 * time.Second
	HeartbeatTimeout = 5 * time.Second
)

// Device states reported in the payload status field.
const (
	statusOnline  = "online"
	statusOffline = "offline"
)

var (
	// errUnexpectedStatus is returned for non-2xx webhook responses.
	errUnexpectedStatus = errors.New("unexpected webhook response status")
	// errNoEndpoint marks a skipped delivery when no webhook URL is configured.
	errNoEndpoint = errors.New("no notification URL configured")
)

// Config holds the notifier configuration.
type Config struct {
	Store    types.ConfigReader // Source of notification_url and device_name.
	URLs     []string           // Shoutrrr service URLs receiving relayed messages.
	Template string             // Relay message template or built-in template name.
	Stdout   bool               // Log Shoutrrr diagnostics to stdout instead of logrus.
	Client   *http.Client       // HTTP client for the webhook, a default client when nil.
}

// Notifier posts device notifications to the configured webhook.
type Notifier struct {
	store  types.ConfigReader
	client *http.Client
	relay  *relay
	now    func() time.Time
}

// New creates a Notifier.
//
// Parameters:
//   - config: Notifier configuration.
//
// Returns:
//   - *Notifier: Notifier ready to send.
//   - error: Non-nil if a Shoutrrr URL or the relay template is invalid.
func New(config Config) (*Notifier, error) {
	client := config.Client
	if client == nil {
		client = &http.Client{}
	}

	notifier := &Notifier{
		store:  config.Store,
		client: client,
		now:    time.Now,
	}

	if len(config.URLs) > 0 {
		r, err := newRelay(config.URLs, config.Template, config.Stdout)
		if err != nil {
			return nil, err
		}

		notifier.relay = r
	}

	logrus.WithFields(logrus.Fields{
		"services": GetNames(config.URLs),
	}).Debug("Created notifier")

	return notifier, nil
}

// Close waits until relayed messages have been handed to their services.
func (n *Notifier) Close() {
	if n.relay != nil {
		n.relay.close()
	}
}

// Send delivers message with the given notification type.
//
// Returns:
//   - bool: True if the webhook accepted the payload or the message was queued for relay.
func (n *Notifier) Send(message, kind string) bool {
	relayed := false

	if n.relay != nil {
		relayed = n.relay.enqueue(Message{
			Device:    n.deviceName(),
			Type:      kind,
			Message:   message,
			Timestamp: n.now().UTC(),
		})
	}

	err := n.post(kind, map[string]any{"message": message}, DefaultTimeout)
	if errors.Is(err, errNoEndpoint) {
		logrus.Debug("No notification URL configured, skipping notification")

		return relayed
	}

	if err != nil {
		LocalLog.WithError(err).WithField("type", kind).Error("Notification failed")

		return relayed
	}

	LocalLog.WithField("type", kind).Info("Notification sent: " + message)

	return true
}

// SendPayload delivers a structured payload of the given type.
//
// Fields are merged into the envelope; device, type, timestamp and status are
// always set by the notifier. Heartbeats use a shorter timeout.
func (n *Notifier) SendPayload(kind string, fields map[string]any) bool {
	timeout := DefaultTimeout
	if kind == types.NotifyHeartbeat {
		timeout = HeartbeatTimeout
	}

	err := n.post(kind, fields, timeout)
	if errors.Is(err, errNoEndpoint) {
		return false
	}

	if err != nil {
		LocalLog.WithError(err).WithField("type", kind).Warn("Notification payload failed")

		return false
	}

	return true
}

// SendOnline announces that the device came online.
func (n *Notifier) SendOnline(info string) bool {
	return n.Send(n.announcement("is now online", info), types.NotifyOnline)
}

// SendOffline announces that the device is going offline.
func (n *Notifier) SendOffline(reason string) bool {
	return n.Send(n.announcement("is going offline", reason), types.NotifyOffline)
}

func (n *Notifier) announcement(event, detail string) string {
	message := n.deviceName() + " " + event
	if detail != "" {
		message += ": " + detail
	}

	return message
}

// post builds the envelope and posts it to the webhook.
func (n *Notifier) post(kind string, fields map[string]any, timeout time.Duration) error {
	endpoint, _, err := n.store.Get(types.KeyNotificationURL)
	if err != nil {
		return fmt.Errorf("failed to read notification URL: %w", err)
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return errNoEndpoint
	}

	payload := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		payload[key] = value
	}

	status := statusOnline
	if kind == types.NotifyOffline {
		status = statusOffline
	}

	payload["device"] = n.deviceName()
	payload["type"] = kind
	payload["timestamp"] = n.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	payload["status"] = status

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s", errUnexpectedStatus, resp.Status)
	}

	return nil
}

// deviceName returns the configured device name or the default.
func (n *Notifier) deviceName() string {
	name, _, err := n.store.Get(types.KeyDeviceName)
	if err != nil || strings.TrimSpace(name) == "" {
		return types.DefaultDeviceName
	}

	return strings.TrimSpace(name)
}
