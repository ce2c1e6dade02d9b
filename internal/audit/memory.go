package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used for development and tests. All
// appends go through one mutex, which is what makes sequence assignment a
// total order.
type MemoryStore struct {
	mu        sync.RWMutex
	records   []Record
	byRequest map[string]int
	sequence  uint64
	chainHead string
}

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRequest: make(map[string]int),
		chainHead: genesisHash,
	}
}

// Append stores rec at the next sequence position, or returns the previously
// stored record when its request id was already recorded.
func (s *MemoryStore) Append(ctx context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.byRequest[rec.RequestID]; ok {
		return s.records[i], true, nil
	}

	s.sequence++
	rec.Sequence = s.sequence
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	rec.PrevHash = s.chainHead

	hash, err := computeRecordHash(rec)
	if err != nil {
		s.sequence--
		return Record{}, false, err
	}
	rec.Hash = hash
	s.chainHead = hash

	s.byRequest[rec.RequestID] = len(s.records)
	s.records = append(s.records, rec)
	return rec, false, nil
}

// Query returns records matching the filter in sequence order.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Record, 0)
	for _, rec := range s.records {
		if !f.matches(rec) {
			continue
		}
		results = append(results, rec)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results, nil
}

// VerifyChain recomputes every hash and returns the number of intact records.
func (s *MemoryStore) VerifyChain(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyRecords(s.records)
}

// Ping reports the store as available.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close releases nothing; the store lives and dies with the process.
func (s *MemoryStore) Close() error { return nil }

// Size returns the number of stored records.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
