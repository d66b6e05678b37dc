package retrieval

import (
	"sort"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Dedup merges record lists in order, keeping the first record seen for each
// DedupKey. Records with an empty key are dropped. Applying Dedup to its own
// output returns the same list.
func Dedup(lists ...[]domain.PaperRecord) []domain.PaperRecord {
	seen := make(map[string]struct{})
	var out []domain.PaperRecord
	for _, list := range lists {
		for _, rec := range list {
			key := rec.DedupKey()
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}
	return out
}

// RankByScore attaches scores and sorts descending. Equal scores keep their
// insertion order.
func RankByScore(records []domain.PaperRecord, scores []float64) []domain.PaperRecord {
	ranked := make([]domain.PaperRecord, len(records))
	copy(ranked, records)
	for i := range ranked {
		s := scores[i]
		ranked[i].Score = &s
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return *ranked[i].Score > *ranked[j].Score
	})
	return ranked
}

// capRecords returns at most n records.
func capRecords(records []domain.PaperRecord, n int) []domain.PaperRecord {
	if n > 0 && len(records) > n {
		return records[:n]
	}
	return records
}
