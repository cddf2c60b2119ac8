package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/control-tower/backend/internal/storage/models"
)

func sig(id, person, level string, ts time.Time) models.Signal {
	return models.Signal{
		ID:        id,
		PersonID:  person,
		Level:     level,
		Reason:    "test",
		CreatedAt: ts,
	}
}

func TestRankDedupKeepsMostRecentPerPersonLevel(t *testing.T) {
	t1 := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	input := []models.Signal{
		sig("s1", "A", "critical", t1),
		sig("s2", "A", "critical", t2),
		sig("s3", "A", "info", t3),
	}

	out := Rank(input, Filter{})

	require.Len(t, out, 2)
	assert.Equal(t, "s2", out[0].ID)
	assert.Equal(t, "critical", out[0].Level)
	assert.Equal(t, "s3", out[1].ID)
	assert.Equal(t, "info", out[1].Level)
}

func TestRankOrdering(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "info", base.Add(5*time.Hour)),
		sig("s2", "B", "critical", base.Add(1*time.Hour)),
		sig("s3", "C", "warn", base.Add(3*time.Hour)),
		sig("s4", "D", "critical", base.Add(2*time.Hour)),
		sig("s5", "E", "risk", base.Add(4*time.Hour)),
	}

	out := Rank(input, Filter{})
	require.Len(t, out, 5)

	for i := 0; i < len(out)-1; i++ {
		pi := ParseLevel(out[i].Level).Priority()
		pj := ParseLevel(out[i+1].Level).Priority()
		assert.LessOrEqual(t, pi, pj)
		if pi == pj {
			assert.False(t, out[i].CreatedAt.Before(out[i+1].CreatedAt))
		}
	}

	// Critical entries first, newest critical before older.
	assert.Equal(t, "s4", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)
}

func TestRankWarnAndWarningCollapse(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "warn", base),
		sig("s2", "A", "warning", base.Add(time.Hour)),
	}

	out := Rank(input, Filter{})

	require.Len(t, out, 1)
	assert.Equal(t, "s2", out[0].ID)
}

func TestRankUnknownLevelsSortLast(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "sev1", base.Add(time.Hour)),
		sig("s2", "B", "info", base),
	}

	out := Rank(input, Filter{})

	require.Len(t, out, 2)
	assert.Equal(t, "s2", out[0].ID)
	assert.Equal(t, "s1", out[1].ID)
}

func TestRankLevelFilter(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "critical", base),
		sig("s2", "A", "warn", base),
		sig("s3", "B", "info", base),
	}

	out := Rank(input, Filter{Levels: []Level{LevelCritical, LevelWarn}})

	require.Len(t, out, 2)
	assert.Equal(t, "s1", out[0].ID)
	assert.Equal(t, "s2", out[1].ID)
}

func TestRankDateRangeInclusiveAppliedBeforeDedup(t *testing.T) {
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		// Newest record for (A, critical) sits outside the window; the
		// in-window record must win the group, not vanish with it.
		sig("s1", "A", "critical", until.Add(time.Hour)),
		sig("s2", "A", "critical", from.Add(time.Hour)),
		sig("s3", "A", "info", from),  // inclusive lower bound
		sig("s4", "B", "warn", until), // inclusive upper bound
		sig("s5", "C", "risk", from.Add(-time.Second)),
	}

	out := Rank(input, Filter{From: &from, Until: &until})

	require.Len(t, out, 3)
	assert.Equal(t, "s2", out[0].ID)
	assert.Equal(t, "s4", out[1].ID)
	assert.Equal(t, "s3", out[2].ID)
}

func TestRankEqualTimestampTieBreaksOnID(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "critical", ts),
		sig("s9", "A", "critical", ts),
		sig("s5", "A", "critical", ts),
	}

	out := Rank(input, Filter{})

	require.Len(t, out, 1)
	assert.Equal(t, "s9", out[0].ID)
}

func TestRankIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	input := []models.Signal{
		sig("s1", "A", "critical", base.Add(time.Hour)),
		sig("s2", "A", "critical", base),
		sig("s3", "B", "warning", base.Add(2*time.Hour)),
		sig("s4", "C", "sev9", base),
	}

	first := Rank(input, Filter{})
	second := Rank(input, Filter{})

	assert.Equal(t, first, second)
}

func TestRankEmptyInput(t *testing.T) {
	assert.Empty(t, Rank(nil, Filter{}))
	assert.Empty(t, Rank([]models.Signal{}, Filter{Levels: []Level{LevelInfo}}))
}
