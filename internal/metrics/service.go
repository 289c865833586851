package metrics

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
)

var (
	ErrRunNotFound    = errors.New("run not found")
	ErrReportNotFound = errors.New("report not found")
)

// Service answers report queries over the stored runs.
type Service struct{ st *store.MemoryStore }

func NewService(st *store.MemoryStore) *Service { return &Service{st: st} }
func norm(s string) string                      { return strings.ToLower(strings.TrimSpace(s)) }

func csvSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, p := range strings.Split(s, ",") {
		p = norm(p)
		if p != "" {
			out[p] = struct{}{}
		}
	}
	return out
}

// QueryReports filters the reports of one run, the latest when run_id is empty.
// Supported parameters: run_id, region, rating, min_score, underperforming, limit
// and offset. Results are ordered by overall score, unscored ads last.
func (s *Service) QueryReports(v url.Values) ([]models.AdReport, error) {
	runID, err := s.runID(v.Get("run_id"))
	if err != nil {
		return nil, err
	}
	regions := csvSet(v.Get("region"))
	ratings := csvSet(v.Get("rating"))
	var minScore *float64
	if raw := strings.TrimSpace(v.Get("min_score")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("bad min_score %q", raw)
		}
		minScore = &f
	}
	onlyUnder := norm(v.Get("underperforming")) == "true"
	limit := atoiDef(v.Get("limit"), 100)
	offset := atoiDef(v.Get("offset"), 0)

	rows := s.st.Query(runID, func(r models.AdReport) bool {
		if len(regions) > 0 {
			if _, ok := regions[norm(r.Region)]; !ok {
				return false
			}
		}
		if len(ratings) > 0 {
			if _, ok := ratings[norm(string(r.Score.Rating))]; !ok {
				return false
			}
		}
		if minScore != nil {
			o, ok := r.Score.Overall.Get()
			if !ok || o < *minScore {
				return false
			}
		}
		if onlyUnder && !hasUnderperformer(r.Score) {
			return false
		}
		return true
	})

	sort.SliceStable(rows, func(i, j int) bool {
		a, aok := rows[i].Score.Overall.Get()
		b, bok := rows[j].Score.Overall.Get()
		if aok != bok {
			return aok
		}
		if aok && a != b {
			return a > b
		}
		return rows[i].AdID < rows[j].AdID
	})

	limit, offset = clampLimitOffset(limit, offset, len(rows))
	return paginate(rows, limit, offset), nil
}

// Report returns a single ad's report from a run, the latest when runID is empty.
func (s *Service) Report(runID, adID string) (models.AdReport, error) {
	runID, err := s.runID(runID)
	if err != nil {
		return models.AdReport{}, err
	}
	rows := s.st.Query(runID, func(r models.AdReport) bool { return r.AdID == adID })
	if len(rows) == 0 {
		return models.AdReport{}, fmt.Errorf("%w: %s", ErrReportNotFound, adID)
	}
	return rows[0], nil
}

func (s *Service) runID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		latest, ok := s.st.Latest()
		if !ok {
			return "", ErrRunNotFound
		}
		return latest.ID, nil
	}
	if _, ok := s.st.Run(id); !ok {
		return "", fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return id, nil
}

func hasUnderperformer(p models.PerformanceScore) bool {
	for _, seg := range p.Segments {
		if seg.Underperforming {
			return true
		}
	}
	return false
}

func paginate[T any](rows []T, limit, offset int) []T {
	if offset >= len(rows) {
		return []T{}
	}
	end := offset + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[offset:end]
}

func atoiDef(s string, d int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

func clampLimitOffset(limit, offset, n int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = n
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset > n {
		offset = n
	}
	return limit, offset
}
