package notifications

import (
	"errors"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/sirupsen/logrus"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// mockRouter records sent messages and returns the configured errors.
type mockRouter struct {
	mu      sync.Mutex
	bodies  []string
	titles  []string
	errs    []error
	release chan struct{}
}

func (m *mockRouter) Send(message string, params *shoutrrrTypes.Params) []error {
	if m.release != nil {
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	title, _ := params.Title()

	m.bodies = append(m.bodies, message)
	m.titles = append(m.titles, title)

	return m.errs
}

func (m *mockRouter) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.bodies...)
}

func newTestRelay(tplString string, r router, queue int) *relay {
	tpl, err := getShoutrrrTemplate(tplString)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	rel := &relay{
		urls:     []string{"telegram://token@telegram?chats=1", "discord://token@id"},
		router:   r,
		template: tpl,
		messages: make(chan Message, queue),
		done:     make(chan struct{}),
	}

	go rel.run()

	return rel
}

var testMessage = Message{
	Device:    "kitchen-pi",
	Type:      "update",
	Message:   "Application updated and restarting",
	Timestamp: time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
}

var _ = ginkgo.Describe("the Shoutrrr relay", func() {
	var logBuffer *gbytes.Buffer

	ginkgo.BeforeEach(func() {
		logBuffer = gbytes.NewBuffer()
		logrus.SetOutput(logBuffer)
		logrus.SetLevel(logrus.TraceLevel)
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors:    true,
			DisableTimestamp: true,
		})
	})

	ginkgo.AfterEach(func() {
		logrus.SetOutput(ginkgo.GinkgoWriter)
		logrus.SetLevel(logrus.InfoLevel)
	})

	ginkgo.When("using the default template", func() {
		ginkgo.It("should send the bare message with a titled type", func() {
			mock := &mockRouter{}
			rel := newTestRelay("", mock, 4)

			gomega.Expect(rel.enqueue(testMessage)).To(gomega.BeTrue())
			rel.close()

			gomega.Expect(mock.sent()).To(gomega.Equal([]string{"Application updated and restarting"}))
			gomega.Expect(mock.titles).To(gomega.Equal([]string{"kitchen-pi: Update"}))
		})
	})

	ginkgo.When("passing a common template name", func() {
		ginkgo.It("should format using that template", func() {
			mock := &mockRouter{}
			rel := newTestRelay("detailed", mock, 4)

			rel.enqueue(testMessage)
			rel.close()

			gomega.Expect(mock.sent()).
				To(gomega.Equal([]string{"[UPDATE] kitchen-pi: Application updated and restarting"}))
		})

		ginkgo.It("should render timestamps in UTC", func() {
			rel := newTestRelay("timestamped", &mockRouter{}, 1)
			defer rel.close()

			body, err := rel.buildMessage(testMessage)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(body).To(gomega.Equal(
				"2026-03-01T12:30:00Z Update on kitchen-pi: Application updated and restarting"))
		})
	})

	ginkgo.When("given a valid custom template", func() {
		ginkgo.It("should format the messages using the custom template", func() {
			rel := newTestRelay(`{{ToLower .Device}} says {{.Message}}`, &mockRouter{}, 1)
			defer rel.close()

			body, err := rel.buildMessage(Message{Device: "Garage", Message: "hi"})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(body).To(gomega.Equal("garage says hi"))
		})
	})

	ginkgo.When("given an invalid custom template", func() {
		ginkgo.It("should return a parse error", func() {
			_, err := getShoutrrrTemplate(`{{ intentionalSyntaxError`)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})

		ginkgo.It("should reject the relay", func() {
			_, err := newRelay([]string{"logger://"}, `{{ intentionalSyntaxError`, false)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.When("the template renders an empty message", func() {
		ginkgo.It("should skip sending", func() {
			mock := &mockRouter{}
			rel := newTestRelay(`{{if eq .Type "heartbeat"}}{{.Message}}{{end}}`, mock, 4)

			rel.enqueue(testMessage)
			rel.close()

			gomega.Expect(mock.sent()).To(gomega.BeEmpty())
			gomega.Eventually(logBuffer).Should(gbytes.Say("Skipping notification due to empty message"))
		})
	})

	ginkgo.When("a service fails", func() {
		ginkgo.It("should log the failing service", func() {
			mock := &mockRouter{errs: []error{nil, errors.New("rate limited")}}
			rel := newTestRelay("", mock, 4)

			rel.enqueue(testMessage)
			rel.close()

			gomega.Expect(logBuffer).To(gbytes.Say(`service=discord`))
		})
	})

	ginkgo.When("the queue is full", func() {
		ginkgo.It("should drop the message without blocking", func() {
			mock := &mockRouter{release: make(chan struct{})}
			rel := newTestRelay("", mock, 1)

			gomega.Expect(rel.enqueue(testMessage)).To(gomega.BeTrue())

			// The sender holds the first message; fill the single queue slot.
			gomega.Eventually(func() bool { return rel.enqueue(testMessage) }).Should(gomega.BeTrue())
			gomega.Expect(rel.enqueue(testMessage)).To(gomega.BeFalse())

			close(mock.release)
			rel.close()

			gomega.Expect(mock.sent()).To(gomega.HaveLen(2))
		})
	})

	ginkgo.When("a logger URL is configured", func() {
		ginkgo.It("should create a working Shoutrrr sender", func() {
			rel, err := newRelay([]string{"logger://"}, "", false)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(rel.enqueue(testMessage)).To(gomega.BeTrue())
			rel.close()
		})
	})

	ginkgo.When("an unknown service is configured", func() {
		ginkgo.It("should fail to create the relay", func() {
			_, err := newRelay([]string{"nosuchservice://x"}, "", false)
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})
})
