package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/henningd/pi-manager/pkg/metrics"
	"github.com/henningd/pi-manager/pkg/types"
)

// MockBackups records backup calls.
type MockBackups struct {
	mu sync.Mutex

	CreateErr     error
	RestoreResult bool

	Created      []types.BackupRecord
	Restored     []types.BackupRecord
	PrunedWith   []int
	CreateCalled int
}

// CreateBackup records a snapshot or fails with CreateErr.
func (m *MockBackups) CreateBackup(sourceRevision string) (types.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalled++

	if m.CreateErr != nil {
		return types.BackupRecord{}, m.CreateErr
	}

	record := types.BackupRecord{
		Path:           "/backups/backup-" + sourceRevision,
		CreatedAt:      time.Now(),
		SourceRevision: sourceRevision,
	}
	m.Created = append(m.Created, record)

	return record, nil
}

// Restore records the restore and returns RestoreResult.
func (m *MockBackups) Restore(record types.BackupRecord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Restored = append(m.Restored, record)

	return m.RestoreResult
}

// Prune records the retention it was called with.
func (m *MockBackups) Prune(keep int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PrunedWith = append(m.PrunedWith, keep)

	return 0, nil
}

// MockInstaller simulates the dependency installer.
type MockInstaller struct {
	mu sync.Mutex

	Changed    bool
	ChangedErr error
	InstallErr error

	InstallCount int
}

// ManifestChanged returns the configured answer.
func (m *MockInstaller) ManifestChanged(_, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Changed, m.ChangedErr
}

// Install records the call and returns InstallErr.
func (m *MockInstaller) Install(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InstallCount++

	return "installed", m.InstallErr
}

// MockStore is an in-memory config store.
type MockStore struct {
	mu     sync.Mutex
	Values map[string]string
	Err    error
}

// NewMockStore creates a store seeded with values.
func NewMockStore(values map[string]string) *MockStore {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}

	return &MockStore{Values: copied}
}

// Get returns the stored value.
func (m *MockStore) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", false, m.Err
	}

	value, ok := m.Values[key]

	return value, ok, nil
}

// Set stores a value.
func (m *MockStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Values[key] = value

	return nil
}

// All returns a copy of all values.
func (m *MockStore) All() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		copied[k] = v
	}

	return copied, nil
}

// Notification is one message captured by MockNotifier.
type Notification struct {
	Kind    string
	Message string
	Fields  map[string]any
}

// MockNotifier captures notifications.
type MockNotifier struct {
	mu   sync.Mutex
	Sent []Notification
}

// Send records a message.
func (m *MockNotifier) Send(message, kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, Notification{Kind: kind, Message: message})

	return true
}

// SendPayload records a structured payload.
func (m *MockNotifier) SendPayload(kind string, fields map[string]any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Sent = append(m.Sent, Notification{Kind: kind, Fields: fields})

	return true
}

// SendOnline records an online notification.
func (m *MockNotifier) SendOnline(info string) bool {
	return m.Send(info, types.NotifyOnline)
}

// SendOffline records an offline notification.
func (m *MockNotifier) SendOffline(reason string) bool {
	return m.Send(reason, types.NotifyOffline)
}

// Notifications returns a copy of all captured notifications in order.
func (m *MockNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Notification(nil), m.Sent...)
}

// Kinds returns the kinds of all captured notifications in order.
func (m *MockNotifier) Kinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make([]string, 0, len(m.Sent))
	for _, n := range m.Sent {
		kinds = append(kinds, n.Kind)
	}

	return kinds
}

// Messages returns the messages of all captured notifications in order.
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	messages := make([]string, 0, len(m.Sent))
	for _, n := range m.Sent {
		messages = append(messages, n.Message)
	}

	return messages
}

// MockRecorder captures metrics.
type MockRecorder struct {
	mu     sync.Mutex
	Checks []*metrics.Metric
	Images []bool
}

// RegisterCheck records a check metric.
func (m *MockRecorder) RegisterCheck(metric *metrics.Metric) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Checks = append(m.Checks, metric)
}

// RegisterImageCheck records an image check outcome.
func (m *MockRecorder) RegisterImageCheck(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Images = append(m.Images, available)
}

// MockRestarter counts restart requests.
type MockRestarter struct {
	Requested chan struct{}
}

// NewMockRestarter creates a restarter with a buffered signal channel.
func NewMockRestarter() *MockRestarter {
	return &MockRestarter{Requested: make(chan struct{}, 10)}
}

// RequestRestart signals Requested.
func (m *MockRestarter) RequestRestart() {
	m.Requested <- struct{}{}
}
