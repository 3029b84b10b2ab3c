package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dunamismax/imagehub/internal/domain"
)

// MemoryRecordStore keeps records in a map behind a RWMutex.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]domain.ImageRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]domain.ImageRecord),
	}
}

func (s *MemoryRecordStore) Create(_ context.Context, record domain.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return fmt.Errorf("record %s already exists", record.ID)
	}
	s.records[record.ID] = record
	return nil
}

func (s *MemoryRecordStore) Get(_ context.Context, id string) (domain.ImageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	return record, ok, nil
}

func (s *MemoryRecordStore) SetTransformPath(_ context.Context, id, path string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	record.TransformPath = path
	record.UpdatedAt = updatedAt
	s.records[id] = record
	return nil
}

func (s *MemoryRecordStore) ListByOwner(_ context.Context, owner string, filter ListFilter, limit, offset int) ([]domain.ImageRecord, error) {
	s.mu.RLock()
	matched := make([]domain.ImageRecord, 0)
	for _, record := range s.records {
		if record.Owner != owner {
			continue
		}
		switch filter {
		case ListTransformed:
			if !record.Transformed() {
				continue
			}
		case ListUntransformed:
			if record.Transformed() {
				continue
			}
		}
		matched = append(matched, record)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.ImageRecord{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return fmt.Errorf("%w: id %s", domain.ErrNotFound, id)
	}
	delete(s.records, id)
	return nil
}
