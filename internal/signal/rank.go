// Package signal reduces raw signal rows into the ranked, deduplicated view
// the dashboard renders: one entry per (person, level), most recent wins,
// ordered by severity then recency.
package signal

import (
	"sort"
	"time"

	"github.com/control-tower/backend/internal/storage/models"
)

// Filter narrows the ranked view. Nil/empty fields mean "no constraint".
// Date bounds are inclusive on both ends and are applied before
// deduplication.
type Filter struct {
	Levels []Level
	From   *time.Time
	Until  *time.Time
}

func (f Filter) wantsLevel(l Level) bool {
	if len(f.Levels) == 0 {
		return true
	}
	for _, want := range f.Levels {
		if l == want {
			return true
		}
	}
	return false
}

func (f Filter) inRange(ts time.Time) bool {
	if f.From != nil && ts.Before(*f.From) {
		return false
	}
	if f.Until != nil && ts.After(*f.Until) {
		return false
	}
	return true
}

// Rank reduces an unordered signal collection to at most one record per
// (person, level) pair and sorts it by severity priority, then timestamp
// descending. The input is not mutated; ranking the same input twice yields
// identical output.
//
// Tie-break at equal timestamps within a (person, level) group: the
// lexicographically larger signal ID wins, so monotonically increasing IDs
// favor the later insert.
func Rank(signals []models.Signal, filter Filter) []models.Signal {
	type key struct {
		personID string
		level    Level
	}

	latest := make(map[key]models.Signal)
	for _, s := range signals {
		if !filter.inRange(s.CreatedAt) {
			continue
		}

		k := key{personID: s.PersonID, level: ParseLevel(s.Level)}
		cur, seen := latest[k]
		if !seen || newer(s, cur) {
			latest[k] = s
		}
	}

	ranked := make([]models.Signal, 0, len(latest))
	for k, s := range latest {
		if !filter.wantsLevel(k.level) {
			continue
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		pi, pj := ParseLevel(ranked[i].Level).Priority(), ParseLevel(ranked[j].Level).Priority()
		if pi != pj {
			return pi < pj
		}
		if !ranked[i].CreatedAt.Equal(ranked[j].CreatedAt) {
			return ranked[i].CreatedAt.After(ranked[j].CreatedAt)
		}
		return ranked[i].ID > ranked[j].ID
	})

	return ranked
}

func newer(a, b models.Signal) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
