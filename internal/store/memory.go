package store

import (
	"sync"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

// MemoryStore keeps pipeline runs for the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	runs  map[string]*models.Run
	order []string
	seen  map[string]struct{} // per-run idempotency
	limit int
}

// NewMemoryStore keeps at most limit runs; older runs are evicted first. A limit
// <= 0 keeps everything.
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*models.Run),
		seen:  make(map[string]struct{}),
		limit: limit,
	}
}

func (s *MemoryStore) MarkSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *MemoryStore) PutRun(run models.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		s.order = append(s.order, run.ID)
	}
	r := run
	s.runs[run.ID] = &r
	for s.limit > 0 && len(s.order) > s.limit {
		old := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, old)
		s.forget(old)
	}
}

func (s *MemoryStore) forget(runID string) {
	prefix := runID + "|"
	for k := range s.seen {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.seen, k)
		}
	}
}

func (s *MemoryStore) Run(id string) (models.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return models.Run{}, false
	}
	return *r, true
}

func (s *MemoryStore) Latest() (models.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return models.Run{}, false
	}
	return *s.runs[s.order[len(s.order)-1]], true
}

// Runs returns the stored runs, oldest first, without their reports.
func (s *MemoryStore) Runs() []models.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Run, 0, len(s.order))
	for _, id := range s.order {
		r := *s.runs[id]
		r.Reports = nil
		out = append(out, r)
	}
	return out
}

func (s *MemoryStore) Query(runID string, f func(models.AdReport) bool) []models.AdReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil
	}
	var out []models.AdReport
	for _, rep := range r.Reports {
		if f == nil || f(rep) {
			out = append(out, rep)
		}
	}
	return out
}
