package testutil

import (
	"context"
	"sync"

	"github.com/superset-studio/cloudchain/internal/models"
)

type recordKey struct {
	service  string
	username string
}

// MemoryStore is a map-backed record store that counts calls.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]models.Record
	puts    int
	gets    int
	scans   int
	written [][]*models.Record
	failPut error
	failGet error
	failAll error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]models.Record)}
}

// FailPut makes PutRecord return err.
func (s *MemoryStore) FailPut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = err
}

// FailGet makes GetRecord and ScanRecords return err.
func (s *MemoryStore) FailGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet = err
}

// FailAll makes every call return err.
func (s *MemoryStore) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = err
}

func (s *MemoryStore) PutRecord(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.puts++
	if s.failAll != nil {
		return s.failAll
	}
	if s.failPut != nil {
		return s.failPut
	}
	s.records[recordKey{rec.Service, rec.Username}] = *rec
	return nil
}

func (s *MemoryStore) GetRecord(_ context.Context, service, username string) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	if s.failAll != nil {
		return nil, s.failAll
	}
	if s.failGet != nil {
		return nil, s.failGet
	}
	rec, ok := s.records[recordKey{service, username}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryStore) ScanRecords(_ context.Context) ([]*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scans++
	if s.failAll != nil {
		return nil, s.failAll
	}
	if s.failGet != nil {
		return nil, s.failGet
	}
	out := make([]*models.Record, 0, len(s.records))
	for _, rec := range s.records {
		rec := rec
		out = append(out, &rec)
	}
	return out, nil
}

// WriteSnapshot records the batch so tests can inspect it.
func (s *MemoryStore) WriteSnapshot(_ context.Context, records []*models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAll != nil {
		return s.failAll
	}
	batch := make([]*models.Record, len(records))
	for i, rec := range records {
		cp := *rec
		batch[i] = &cp
	}
	s.written = append(s.written, batch)
	return nil
}

// Seed stores a record without counting it as a call.
func (s *MemoryStore) Seed(rec models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{rec.Service, rec.Username}] = rec
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts + s.gets + s.scans
}

func (s *MemoryStore) PutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

func (s *MemoryStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Snapshots returns every batch passed to WriteSnapshot.
func (s *MemoryStore) Snapshots() [][]*models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]*models.Record(nil), s.written...)
}
