// Package mocks provides mock implementations for testing Pi Manager's update orchestration.
package mocks

import (
	"context"
	"errors"
	"sync"

	"github.com/henningd/pi-manager/pkg/types"
)

// ErrMock is returned by mocks configured to fail.
var ErrMock = errors.New("mock failure")

// SourceData holds the simulated state and recorded calls of a MockSource.
type SourceData struct {
	Repository bool   // Whether the tree is a working copy.
	Current    string // Checked out revision.
	Remote     string // Last fetched remote revision.
	Upstream   string // Remote revision that the next fetch brings in; empty keeps Remote.
	LatestTag  string // Newest tag.
	ExactTag   string // Tag pointing at Current.

	InitializeErr error
	FetchErr      error
	PullErr       error
	ResetErr      error
	TagErr        error

	// PullMovesHead simulates a pull that moves HEAD before failing.
	PullMovesHead bool

	InitializeCount int
	FetchCount      int
	PullCount       int
	ResetCount      int
	ResetTargets    []string

	// PullStarted, when set, receives a value when a pull begins and the pull
	// blocks until PullRelease is closed.
	PullStarted chan struct{}
	PullRelease chan struct{}

	// FetchStarted and FetchRelease do the same for fetches.
	FetchStarted chan struct{}
	FetchRelease chan struct{}
}

// MockSource simulates a git working copy.
type MockSource struct {
	mu   sync.Mutex
	Data *SourceData
}

// NewMockSource creates a MockSource over data.
func NewMockSource(data *SourceData) *MockSource {
	return &MockSource{Data: data}
}

// IsRepository reports the simulated repository state.
func (m *MockSource) IsRepository() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Data.Repository
}

// Initialize turns the simulated tree into a working copy at the remote revision.
func (m *MockSource) Initialize(_ context.Context, _, _ string) (types.RepositoryState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Data.InitializeCount++

	if m.Data.InitializeErr != nil {
		return types.RepositoryState{}, m.Data.InitializeErr
	}

	if m.Data.Upstream != "" {
		m.Data.Remote = m.Data.Upstream
	}

	m.Data.Repository = true
	m.Data.Current = m.Data.Remote

	return types.RepositoryState{
		Initialized:     true,
		CurrentRevision: m.Data.Current,
		RemoteRevision:  m.Data.Remote,
	}, nil
}

// Fetch brings in the upstream revision. It fails once ctx is done.
func (m *MockSource) Fetch(ctx context.Context, _ bool) error {
	m.mu.Lock()
	started, release := m.Data.FetchStarted, m.Data.FetchRelease
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Data.FetchCount++

	if err := ctx.Err(); err != nil {
		return err
	}

	if m.Data.FetchErr != nil {
		return m.Data.FetchErr
	}

	if m.Data.Upstream != "" {
		m.Data.Remote = m.Data.Upstream
	}

	return nil
}

// CurrentRevision returns the checked out revision.
func (m *MockSource) CurrentRevision() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Data.Current, nil
}

// RemoteRevision returns the last fetched remote revision.
func (m *MockSource) RemoteRevision(_ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Data.Remote, nil
}

// Pull moves the checked out revision to the remote one.
func (m *MockSource) Pull(_ context.Context, _ string) error {
	m.mu.Lock()
	started, release := m.Data.PullStarted, m.Data.PullRelease
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
		<-release
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Data.PullCount++

	if m.Data.PullErr != nil {
		if m.Data.PullMovesHead {
			m.Data.Current = m.Data.Remote
		}

		return m.Data.PullErr
	}

	m.Data.Current = m.Data.Remote

	return nil
}

// HardResetTo moves the checked out revision.
func (m *MockSource) HardResetTo(revision string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Data.ResetCount++
	m.Data.ResetTargets = append(m.Data.ResetTargets, revision)

	if m.Data.ResetErr != nil {
		return m.Data.ResetErr
	}

	m.Data.Current = revision

	return nil
}

// LatestTag returns the newest simulated tag.
func (m *MockSource) LatestTag() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Data.LatestTag, m.Data.TagErr
}

// DescribeCurrentRevision returns the tag at the checked out revision.
func (m *MockSource) DescribeCurrentRevision() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Data.ExactTag, nil
}
