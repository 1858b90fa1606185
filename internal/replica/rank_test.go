package replica

import (
	"testing"

	"combat-meter/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func players(values map[int64]float64) map[int64]domain.Player {
	out := make(map[int64]domain.Player, len(values))
	for uid, v := range values {
		out[uid] = domain.Player{ID: uid, TotalDamage: v, TotalHealing: v / 2}
	}
	return out
}

func uids(rows []Row) []int64 {
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.UID)
	}
	return out
}

func TestRank_FiltersAndSorts(t *testing.T) {
	rows := Rank(players(map[int64]float64{1: 300, 2: 0, 3: 600, 4: 100}), MetricDPS)

	assert.Equal(t, []int64{3, 1, 4}, uids(rows))
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 100.0, rows[0].BarPct)
	assert.Equal(t, 50.0, rows[1].BarPct)
	assert.InDelta(t, 60.0, rows[0].SharePct, 1e-9)
	assert.InDelta(t, 30.0, rows[1].SharePct, 1e-9)
	assert.InDelta(t, 10.0, rows[2].SharePct, 1e-9)
}

func TestRank_TiesAreStable(t *testing.T) {
	in := players(map[int64]float64{9: 50, 2: 50, 5: 50, 7: 80})
	for i := 0; i < 20; i++ {
		assert.Equal(t, []int64{7, 2, 5, 9}, uids(Rank(in, MetricDPS)))
	}
}

func TestRank_PercentInvariants(t *testing.T) {
	rows := Rank(players(map[int64]float64{1: 1, 2: 3, 3: 7, 4: 11, 5: 13}), MetricHeal)
	require.NotEmpty(t, rows)

	var share float64
	for i, r := range rows {
		assert.GreaterOrEqual(t, r.BarPct, 0.0)
		assert.LessOrEqual(t, r.BarPct, 100.0)
		share += r.SharePct
		if i > 0 {
			assert.GreaterOrEqual(t, rows[i-1].Value, r.Value)
		}
	}
	assert.Equal(t, 100.0, rows[0].BarPct)
	assert.InDelta(t, 100.0, share, 1e-9)
}

func TestRank_MetricSelection(t *testing.T) {
	in := map[int64]domain.Player{
		1: {ID: 1, TotalDamage: 10, TakenDamage: 500},
		2: {ID: 2, TotalHealing: 40},
	}

	assert.Equal(t, []int64{1}, uids(Rank(in, MetricDPS)))
	assert.Equal(t, []int64{2}, uids(Rank(in, MetricHeal)))
	assert.Equal(t, []int64{1}, uids(Rank(in, MetricTank)))
	assert.Empty(t, Rank(nil, MetricDPS))
}
