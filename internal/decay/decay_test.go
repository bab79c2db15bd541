package decay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelBands(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		overdue time.Duration
		want    int
	}{
		{"not yet due", -time.Hour, LevelFresh},
		{"just due", 0, LevelFresh},
		{"inside grace", 23*time.Hour + 59*time.Minute + 59*time.Second, LevelFresh},
		{"exactly 24h", 24 * time.Hour, LevelStale},
		{"47h59m", 47*time.Hour + 59*time.Minute, LevelStale},
		{"exactly 48h", 48 * time.Hour, LevelDecaying},
		{"49h", 49 * time.Hour, LevelDecaying},
		{"exactly 72h", 72 * time.Hour, LevelRotten},
		{"a week", 7 * 24 * time.Hour, LevelRotten},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Level(due, false, due.Add(tc.overdue)))
		})
	}
}

func TestLevelCompletedAlwaysFresh(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, LevelFresh, p.Level(due, true, due.Add(200*time.Hour)))
}

func TestLevelMonotonicInOverdueTime(t *testing.T) {
	p := DefaultPolicy()
	due := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	prev := 0
	for h := 0; h <= 240; h++ {
		level := p.Level(due, false, due.Add(time.Duration(h)*time.Hour))
		require.GreaterOrEqual(t, level, prev, "level regressed at %dh overdue", h)
		require.LessOrEqual(t, level, MaxLevel)
		prev = level
	}
}

func TestDueAt(t *testing.T) {
	end := "10:00"
	due, err := DueAt("2024-01-01", &end, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), due)

	// No end time: due at end of the scheduled day.
	due, err = DueAt("2024-01-01", nil, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), due)

	_, err = DueAt("not-a-date", nil, time.UTC)
	assert.Error(t, err)

	bad := "25:99"
	_, err = DueAt("2024-01-01", &bad, time.UTC)
	assert.Error(t, err)
}

func TestDebtScore(t *testing.T) {
	assert.Equal(t, 0, DebtScore(nil))
	assert.Equal(t, 0, DebtScore([]int{}))
	assert.Equal(t, 0, DebtScore([]int{0, 0, 0}))
	assert.Equal(t, 100, DebtScore([]int{3, 3, 3}))
	assert.Equal(t, 67, DebtScore([]int{1, 2, 3}))
	assert.Equal(t, 33, DebtScore([]int{1}))
	assert.Equal(t, 17, DebtScore([]int{1, 0}))
}

func TestPenalty(t *testing.T) {
	assert.Equal(t, 10, Penalty(0, 1, 10))
	assert.Equal(t, 20, Penalty(0, 2, 10))
	assert.Equal(t, 10, Penalty(2, 3, 10))
	assert.Equal(t, 0, Penalty(2, 2, 10))
	assert.Equal(t, 0, Penalty(3, 1, 10))
}
