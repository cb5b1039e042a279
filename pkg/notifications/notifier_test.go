package notifications_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/henningd/pi-manager/pkg/notifications"
	"github.com/henningd/pi-manager/pkg/types"
)

// settings is a minimal config reader for notifier tests.
type settings struct {
	mu     sync.Mutex
	values map[string]string
}

func (s *settings) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]

	return value, ok, nil
}

func (s *settings) set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
}

// capturedRequest is one request received by the webhook receiver.
type capturedRequest struct {
	header  http.Header
	payload map[string]any
}

var _ = ginkgo.Describe("the webhook notifier", func() {
	var (
		server   *httptest.Server
		received chan capturedRequest
		status   atomic.Int64
		store    *settings
		notifier *notifications.Notifier
	)

	ginkgo.BeforeEach(func() {
		received = make(chan capturedRequest, 10)
		status.Store(http.StatusOK)

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)

			var payload map[string]any
			_ = json.Unmarshal(body, &payload)

			received <- capturedRequest{header: r.Header.Clone(), payload: payload}

			w.WriteHeader(int(status.Load()))
		}))

		store = &settings{values: map[string]string{
			types.KeyNotificationURL: server.URL + "/hook",
			types.KeyDeviceName:      "kitchen-pi",
		}}

		var err error
		notifier, err = notifications.New(notifications.Config{Store: store})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
	})

	ginkgo.AfterEach(func() {
		notifier.Close()
		server.Close()
	})

	ginkgo.When("a message is sent", func() {
		ginkgo.It("should post the JSON envelope with the agent headers", func() {
			gomega.Expect(notifier.Send("Application updated and restarting", types.NotifyUpdate)).
				To(gomega.BeTrue())

			var req capturedRequest
			gomega.Eventually(received).Should(gomega.Receive(&req))

			gomega.Expect(req.header.Get("User-Agent")).To(gomega.Equal(notifications.UserAgent))
			gomega.Expect(req.header.Get("Content-Type")).To(gomega.Equal("application/json"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("device", "kitchen-pi"))
			gomega.Expect(req.payload).
				To(gomega.HaveKeyWithValue("message", "Application updated and restarting"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("type", "update"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("status", "online"))

			timestamp, ok := req.payload["timestamp"].(string)
			gomega.Expect(ok).To(gomega.BeTrue())

			_, err := time.Parse(time.RFC3339, timestamp)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
		})
	})

	ginkgo.When("no notification URL is configured", func() {
		ginkgo.It("should skip the delivery", func() {
			store.set(types.KeyNotificationURL, "  ")

			gomega.Expect(notifier.Send("hello", types.NotifyInfo)).To(gomega.BeFalse())
			gomega.Expect(notifier.SendPayload(types.NotifyHeartbeat, nil)).To(gomega.BeFalse())
			gomega.Consistently(received, 100*time.Millisecond).ShouldNot(gomega.Receive())
		})
	})

	ginkgo.When("the device name is empty", func() {
		ginkgo.It("should use the default device name", func() {
			store.set(types.KeyDeviceName, "")

			gomega.Expect(notifier.SendOnline("System started")).To(gomega.BeTrue())

			var req capturedRequest
			gomega.Eventually(received).Should(gomega.Receive(&req))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("device", types.DefaultDeviceName))
			gomega.Expect(req.payload).
				To(gomega.HaveKeyWithValue("message", "Raspberry Pi is now online: System started"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("type", "online"))
		})
	})

	ginkgo.When("the device goes offline", func() {
		ginkgo.It("should report the offline status", func() {
			gomega.Expect(notifier.SendOffline("")).To(gomega.BeTrue())

			var req capturedRequest
			gomega.Eventually(received).Should(gomega.Receive(&req))
			gomega.Expect(req.payload).
				To(gomega.HaveKeyWithValue("message", "kitchen-pi is going offline"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("status", "offline"))
		})
	})

	ginkgo.When("a structured payload is sent", func() {
		ginkgo.It("should merge the fields into the envelope", func() {
			ok := notifier.SendPayload(types.NotifyHeartbeat, map[string]any{
				"uptime": 42.5,
				"device": "spoofed",
			})
			gomega.Expect(ok).To(gomega.BeTrue())

			var req capturedRequest
			gomega.Eventually(received).Should(gomega.Receive(&req))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("uptime", 42.5))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("device", "kitchen-pi"))
			gomega.Expect(req.payload).To(gomega.HaveKeyWithValue("type", "heartbeat"))
			gomega.Expect(req.payload).NotTo(gomega.HaveKey("message"))
		})
	})

	ginkgo.When("the receiver rejects the payload", func() {
		ginkgo.It("should report the failure", func() {
			status.Store(http.StatusInternalServerError)

			gomega.Expect(notifier.Send("hello", types.NotifyInfo)).To(gomega.BeFalse())
			gomega.Eventually(received).Should(gomega.Receive())
		})
	})

	ginkgo.When("the receiver is unreachable", func() {
		ginkgo.It("should report the failure", func() {
			store.set(types.KeyNotificationURL, "http://127.0.0.1:1/hook")

			gomega.Expect(notifier.Send("hello", types.NotifyWarning)).To(gomega.BeFalse())
		})
	})

	ginkgo.When("the URL changes between sends", func() {
		ginkgo.It("should use the URL stored at send time", func() {
			other := make(chan string, 1)
			second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				other <- r.URL.Path
			}))
			defer second.Close()

			store.set(types.KeyNotificationURL, second.URL+"/moved")

			gomega.Expect(notifier.Send("hello", types.NotifyInfo)).To(gomega.BeTrue())
			gomega.Eventually(other).Should(gomega.Receive(gomega.Equal("/moved")))
			gomega.Expect(received).NotTo(gomega.Receive())
		})
	})
})

var _ = ginkgo.Describe("notification titles", func() {
	ginkgo.It("should title-case the notification type", func() {
		gomega.Expect(notifications.GetTitle("kitchen-pi", "update")).
			To(gomega.Equal("kitchen-pi: Update"))
		gomega.Expect(notifications.GetTitle("kitchen-pi", "")).To(gomega.Equal("kitchen-pi"))
	})

	ginkgo.It("should extract service names from URLs", func() {
		gomega.Expect(notifications.GetNames([]string{"telegram://token@telegram", "bogus"})).
			To(gomega.Equal([]string{"telegram", "invalid"}))
	})
})
