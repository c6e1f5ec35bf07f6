package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kilupskalvis/qsync/internal/lifecycle"
	"github.com/kilupskalvis/qsync/internal/models"
)

var errBoom = errors.New("boom")

// fakeGateway records calls. Hooks, when set, replace the default behaviour
// and may block to stage interleavings.
type fakeGateway struct {
	mu        sync.Mutex
	nextID    int
	creates   []models.Delta
	mutations []lifecycle.MutationRequest
	reads     int

	createHook func(clientKey string) (string, error)
	mutateHook func(id string, req lifecycle.MutationRequest) error
	readHook   func() ([]models.Query, error)
}

func (f *fakeGateway) CreateRecord(_ context.Context, clientKey string, fields models.Delta) (string, error) {
	f.mu.Lock()
	f.creates = append(f.creates, fields)
	hook := f.createHook
	f.nextID++
	id := fmt.Sprintf("Q-%d", f.nextID)
	f.mu.Unlock()

	if hook != nil {
		return hook(clientKey)
	}
	return id, nil
}

func (f *fakeGateway) MutateRecord(_ context.Context, id string, req lifecycle.MutationRequest, _ models.PriorState) error {
	f.mu.Lock()
	f.mutations = append(f.mutations, req)
	hook := f.mutateHook
	f.mu.Unlock()

	if hook != nil {
		return hook(id, req)
	}
	return nil
}

func (f *fakeGateway) ReadAll(_ context.Context) ([]models.Query, error) {
	f.mu.Lock()
	f.reads++
	hook := f.readHook
	f.mu.Unlock()

	if hook != nil {
		return hook()
	}
	return nil, nil
}

func (f *fakeGateway) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeGateway) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mutations)
}

// gate lets a test hold gateway calls open and release them one by one.
type gate struct {
	entered chan string
	release chan error
}

func newGate() *gate {
	return &gate{entered: make(chan string, 16), release: make(chan error)}
}

func (g *gate) wait(label string) error {
	g.entered <- label
	return <-g.release
}

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu      sync.Mutex
	snap    *models.Snapshot
	saves   int
	cleared bool
}

func (m *memCache) Save(s models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := s.Clone()
	m.snap = &c
	m.saves++
	return nil
}

func (m *memCache) Load() (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, nil
	}
	c := m.snap.Clone()
	return &c, nil
}

func (m *memCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = nil
	m.cleared = true
	return nil
}

func (m *memCache) load() *models.Snapshot {
	s, _ := m.Load()
	return s
}
