package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/interpelli-crawler/internal/crawler"
)

// NoticeStore is an in-memory crawler.RecordSink with the same uniqueness
// and ordering rules as the Postgres store.
type NoticeStore struct {
	mu      sync.RWMutex
	clock   crawler.Clock
	nextID  int64
	keys    map[string]struct{}
	records []crawler.Record
}

// NewNoticeStore creates an empty store. clock stamps InsertedAt.
func NewNoticeStore(clock crawler.Clock) *NoticeStore {
	return &NoticeStore{
		clock: clock,
		keys:  make(map[string]struct{}),
	}
}

// Insert stores the record or returns crawler.ErrDuplicate.
func (s *NoticeStore) Insert(_ context.Context, record crawler.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.Key()
	if _, exists := s.keys[key]; exists {
		return 0, crawler.ErrDuplicate
	}
	s.nextID++
	record.ID = s.nextID
	if s.clock != nil {
		record.InsertedAt = s.clock.Now()
	}
	s.keys[key] = struct{}{}
	s.records = append(s.records, record)
	return record.ID, nil
}

// QueryAll returns every record ordered by class, region and newest first.
func (s *NoticeStore) QueryAll(_ context.Context) ([]crawler.Record, error) {
	return s.selectWhere(func(crawler.Record) bool { return true }), nil
}

// QueryBy returns the records matching filter.
func (s *NoticeStore) QueryBy(_ context.Context, filter crawler.Filter) ([]crawler.Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.MinHours != nil {
		minHours := *filter.MinHours
		return s.selectWhere(func(r crawler.Record) bool {
			return r.WeeklyHours != nil && *r.WeeklyHours >= minHours
		}), nil
	}
	class := strings.TrimSpace(filter.ClassCode)
	return s.selectWhere(func(r crawler.Record) bool { return r.ClassCode == class }), nil
}

// DistinctClasses returns the sorted set of non-empty class codes.
func (s *NoticeStore) DistinctClasses(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{})
	for _, r := range s.records {
		if r.ClassCode != "" {
			set[r.ClassCode] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for class := range set {
		out = append(out, class)
	}
	sort.Strings(out)
	return out, nil
}

// Wipe removes every record and resets IDs.
func (s *NoticeStore) Wipe(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.keys = make(map[string]struct{})
	s.nextID = 0
	return nil
}

// Len returns the number of stored records.
func (s *NoticeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *NoticeStore) selectWhere(keep func(crawler.Record) bool) []crawler.Record {
	s.mu.RLock()
	out := make([]crawler.Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ClassCode != b.ClassCode {
			// empty class sorts last, like NULL in an ascending ORDER BY
			if a.ClassCode == "" || b.ClassCode == "" {
				return b.ClassCode == ""
			}
			return a.ClassCode < b.ClassCode
		}
		if a.Region != b.Region {
			return a.Region < b.Region
		}
		if !a.InsertedAt.Equal(b.InsertedAt) {
			return a.InsertedAt.After(b.InsertedAt)
		}
		return a.ID > b.ID
	})
	return out
}
