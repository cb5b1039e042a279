package notifications

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// LocalLog is a logrus logger for entries about notification delivery itself.
var LocalLog = logrus.WithField("notify", "no")

// relayQueueSize bounds the messages waiting for Shoutrrr delivery.
const relayQueueSize = 16

// Message is the data a relay template is executed with.
type Message struct {
	Device    string
	Type      string
	Message   string
	Timestamp time.Time
}

// router defines the interface for sending Shoutrrr notifications.
type router interface {
	Send(message string, params *shoutrrrTypes.Params) []error
}

// relay forwards notification messages to Shoutrrr services in the background.
type relay struct {
	urls     []string
	router   router
	template *template.Template
	messages chan Message
	done     chan struct{}
}

// GetScheme extracts the scheme part of a Shoutrrr URL.
// It returns "invalid" if no scheme is found.
func GetScheme(url string) string {
	schemeEnd := strings.Index(url, ":")
	if schemeEnd <= 0 {
		return "invalid"
	}

	return url[:schemeEnd]
}

// GetNames returns the service names of Shoutrrr URLs.
func GetNames(urls []string) []string {
	names := make([]string, len(urls))
	for i, u := range urls {
		names[i] = GetScheme(u)
	}

	return names
}

// GetTitle returns the relay title for a device and notification type.
func GetTitle(device, kind string) string {
	if kind == "" {
		return device
	}

	return device + ": " + cases.Title(language.English).String(kind)
}

// newRelay creates a relay for the given Shoutrrr URLs and starts its sender.
func newRelay(urls []string, tplString string, stdout bool) (*relay, error) {
	tpl, err := getShoutrrrTemplate(tplString)
	if err != nil {
		return nil, err
	}

	var logger shoutrrrTypes.StdLogger
	if stdout {
		logger = log.New(os.Stdout, ``, 0)
	} else {
		logger = log.New(logrus.StandardLogger().WriterLevel(logrus.TraceLevel), "Shoutrrr: ", 0)
	}

	sender, err := shoutrrr.NewSender(logger, urls...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Shoutrrr notifications: %w", err)
	}

	r := &relay{
		urls:     urls,
		router:   sender,
		template: tpl,
		messages: make(chan Message, relayQueueSize),
		done:     make(chan struct{}),
	}

	go r.run()

	return r, nil
}

// enqueue queues a message without blocking. It reports whether the message was queued.
func (r *relay) enqueue(msg Message) bool {
	select {
	case r.messages <- msg:
		return true
	default:
		LocalLog.WithField("type", msg.Type).Warn("Notification relay queue full, dropping message")

		return false
	}
}

// run sends queued messages until the queue is closed.
func (r *relay) run() {
	defer close(r.done)

	for msg := range r.messages {
		r.send(msg)
	}
}

func (r *relay) send(msg Message) {
	body, err := r.buildMessage(msg)
	if err != nil {
		LocalLog.WithError(err).Error("Notification template error")

		return
	}

	if body == "" {
		LocalLog.Debug("Skipping notification due to empty message")

		return
	}

	params := &shoutrrrTypes.Params{}
	params.SetTitle(GetTitle(msg.Device, msg.Type))

	for i, err := range r.router.Send(body, params) {
		if err != nil {
			LocalLog.WithFields(logrus.Fields{
				"service": GetScheme(r.urls[i]),
				"index":   i,
			}).WithError(err).Error("Failed to send shoutrrr notification")
		}
	}
}

// buildMessage renders msg with the relay template.
func (r *relay) buildMessage(msg Message) (string, error) {
	var body bytes.Buffer

	if err := r.template.Execute(&body, msg); err != nil {
		return "", fmt.Errorf("failed to execute notification template: %w", err)
	}

	return strings.TrimSpace(body.String()), nil
}

// close stops accepting messages and waits until the queue is drained.
func (r *relay) close() {
	close(r.messages)

	LocalLog.Debug("Waiting for the notification goroutine to finish")

	<-r.done
}

// getShoutrrrTemplate parses a template string or resolves a built-in template name.
// An empty string selects the default template.
func getShoutrrrTemplate(tplString string) (*template.Template, error) {
	if tplString == "" {
		tplString = defaultTemplate
	}

	if builtin, found := commonTemplates[tplString]; found {
		logrus.WithField("template", tplString).Debug("Using common template")

		tplString = builtin
	}

	tpl, err := template.New("").Funcs(templateFuncs).Parse(tplString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse notification template string: %w", err)
	}

	return tpl, nil
}
