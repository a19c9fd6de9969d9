package mocks

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/V4T54L/hb-acquire/internal/domain"
)

// MockObjectStore is a mock implementation of domain.ObjectStore for testing.
// PutErrs and TagErrs hold per-key scripted failures consumed one per call.
type MockObjectStore struct {
	mu       sync.Mutex
	Objects  map[string][]byte
	Tags     map[string]map[string]string
	PutOrder []string
	PutCalls int
	TagCalls int
	PutErrs  map[string][]error
	TagErrs  map[string][]error
}

func NewMockObjectStore() *MockObjectStore {
	return &MockObjectStore{
		Objects: make(map[string][]byte),
		Tags:    make(map[string]map[string]string),
		PutErrs: make(map[string][]error),
		TagErrs: make(map[string][]error),
	}
}

func (m *MockObjectStore) PutObject(ctx context.Context, key, sourcePath string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if errs := m.PutErrs[key]; len(errs) > 0 {
		m.PutErrs[key] = errs[1:]
		return 0, errs[0]
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("mock put %s: %w", key, err)
	}
	m.Objects[key] = data
	m.PutOrder = append(m.PutOrder, key)
	return int64(len(data)), nil
}

func (m *MockObjectStore) SetObjectTags(ctx context.Context, key string, tags map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TagCalls++
	if errs := m.TagErrs[key]; len(errs) > 0 {
		m.TagErrs[key] = errs[1:]
		return errs[0]
	}
	if _, ok := m.Objects[key]; !ok {
		return fmt.Errorf("mock tag %s: no such object", key)
	}
	m.Tags[key] = tags
	return nil
}

// Uploaded returns the keys in the order they were stored.
func (m *MockObjectStore) Uploaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.PutOrder...)
}

// LineStep is one scripted ReadLine result.
type LineStep struct {
	Line []byte
	Err  error
}

// MockLineSource is a mock implementation of domain.LineSource for testing.
// Once the script is exhausted it reports domain.ErrNoData.
type MockLineSource struct {
	mu     sync.Mutex
	Steps  []LineStep
	Reads  int
	Closed bool
}

func NewMockLineSource(lines ...string) *MockLineSource {
	m := &MockLineSource{}
	for _, l := range lines {
		m.Steps = append(m.Steps, LineStep{Line: []byte(l)})
	}
	return m
}

func (m *MockLineSource) ReadLine() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads++
	if len(m.Steps) == 0 {
		return nil, domain.ErrNoData
	}
	step := m.Steps[0]
	m.Steps = m.Steps[1:]
	return step.Line, step.Err
}

func (m *MockLineSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// MockUploadJournal is a mock implementation of domain.UploadJournal for testing.
type MockUploadJournal struct {
	mu        sync.Mutex
	Entries   []domain.JournalEntry
	Truncates int
	WriteErr  error
	ReplayErr error
}

func (m *MockUploadJournal) Write(ctx context.Context, entry domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WriteErr != nil {
		return m.WriteErr
	}
	m.Entries = append(m.Entries, entry)
	return nil
}

func (m *MockUploadJournal) Replay(ctx context.Context, handler func(entry domain.JournalEntry) error) error {
	m.mu.Lock()
	entries := append([]domain.JournalEntry(nil), m.Entries...)
	m.mu.Unlock()
	if m.ReplayErr != nil {
		return m.ReplayErr
	}
	for _, e := range entries {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockUploadJournal) Truncate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Truncates++
	m.Entries = nil
	return nil
}

// MockUploadCatalog is a mock implementation of domain.UploadCatalog for testing.
type MockUploadCatalog struct {
	mu       sync.Mutex
	Recorded []domain.UploadedObject
	Err      error
}

func (m *MockUploadCatalog) RecordUpload(ctx context.Context, obj domain.UploadedObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Recorded = append(m.Recorded, obj)
	return nil
}

// MockStatusPublisher is a mock implementation of domain.StatusPublisher for testing.
type MockStatusPublisher struct {
	mu        sync.Mutex
	Published []domain.Status
	Err       error
}

func (m *MockStatusPublisher) PublishStatus(ctx context.Context, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Published = append(m.Published, status)
	return nil
}

func (m *MockStatusPublisher) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Published)
}
