package journal

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

const defaultMemoryMaxEntries = 10000

type MemoryOption func(*MemoryStore)

func WithNowFunc(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithMaxEntries caps retained entries; the oldest are evicted first.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

type MemoryStore struct {
	mu         sync.Mutex
	nowFn      func() time.Time
	entries    []Entry
	ids        map[string]struct{}
	maxEntries int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		nowFn:      time.Now,
		ids:        make(map[string]struct{}),
		maxEntries: defaultMemoryMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e = normalize(e, s.nowFn)
	if _, ok := s.ids[e.ID]; ok {
		return ErrEntryExists
	}
	s.ids[e.ID] = struct{}{}
	s.entries = append(s.entries, e)

	if over := len(s.entries) - s.maxEntries; over > 0 {
		for _, old := range s.entries[:over] {
			delete(s.ids, old.ID)
		}
		s.entries = append([]Entry(nil), s.entries[over:]...)
	}
	return nil
}

func (s *MemoryStore) List(req ListRequest) (ListResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := clampLimit(req.Limit)
	items := lo.Filter(s.entries, func(e Entry, _ int) bool {
		if req.VideoID != "" && e.VideoID != req.VideoID {
			return false
		}
		if req.Kind != "" && e.Kind != req.Kind {
			return false
		}
		if req.Strategy != "" && e.Strategy != req.Strategy {
			return false
		}
		if req.Result != "" && e.Result != req.Result {
			return false
		}
		return req.Before.IsZero() || e.CreatedAt.Before(req.Before)
	})

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return ListResponse{Items: items}, nil
}

func (s *MemoryStore) Close() error { return nil }
