package skillmerge

import (
	"fmt"
	"math/rand"
	"testing"

	"combat-meter/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_AliasDamageReportedUnderPrimary(t *testing.T) {
	skills := map[string]domain.Skill{
		"100": {DisplayName: "Gale Slash"},
		"101": {TotalDamage: 1000, TotalCount: 4},
	}
	table := NewTable(map[string][]string{"100": {"101"}})

	out := Merge(skills, table, nil)

	require.Contains(t, out, "100")
	assert.NotContains(t, out, "101")
	assert.Equal(t, 1000.0, out["100"].TotalDamage)
	assert.Equal(t, "Gale Slash", out["100"].DisplayName)
}

func TestMerge_AliasOnlyKeepsFirstPresentAlias(t *testing.T) {
	skills := map[string]domain.Skill{
		"101": {DisplayName: "Gale Slash", TotalDamage: 1000, TotalCount: 4},
	}
	table := NewTable(map[string][]string{"100": {"101"}})

	out := Merge(skills, table, nil)

	require.Contains(t, out, "101")
	assert.NotContains(t, out, "100")
	assert.Equal(t, 1000.0, out["101"].TotalDamage)
}

func TestMerge_PrimaryPresentKeepsPrimary(t *testing.T) {
	skills := map[string]domain.Skill{
		"100": {DisplayName: "Gale", TotalDamage: 400, TotalCount: 2, CritCount: 1, MaxHit: 300},
		"101": {DisplayName: "Gale (echo)", TotalDamage: 600, TotalCount: 3, LuckyCount: 2, MaxHit: 250},
		"999": {DisplayName: "Untouched", TotalDamage: 5},
	}
	table := NewTable(map[string][]string{"100": {"101"}})

	out := Merge(skills, table, nil)

	require.Len(t, out, 2)
	assert.NotContains(t, out, "101")
	merged := out["100"]
	assert.Equal(t, "Gale", merged.DisplayName)
	assert.Equal(t, 1000.0, merged.TotalDamage)
	assert.Equal(t, int64(5), merged.TotalCount)
	assert.Equal(t, int64(1), merged.CritCount)
	assert.Equal(t, int64(2), merged.LuckyCount)
	assert.Equal(t, 550.0, merged.MaxHit)
	assert.Equal(t, skills["999"], out["999"])
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	skills := map[string]domain.Skill{
		"100": {TotalDamage: 1},
		"101": {TotalDamage: 2},
	}
	_ = Merge(skills, NewTable(map[string][]string{"100": {"101"}}), nil)

	assert.Len(t, skills, 2)
	assert.Equal(t, 1.0, skills["100"].TotalDamage)
}

func TestMerge_ConflictingLaterGroupIsNoop(t *testing.T) {
	skills := map[string]domain.Skill{
		"101": {TotalDamage: 10},
		"200": {TotalDamage: 20},
		"201": {TotalDamage: 30},
	}
	// 101 becomes the keep id of group 100, so group 200 overlaps and is skipped.
	table := NewTable(map[string][]string{
		"100": {"101"},
		"200": {"101", "201"},
	})

	out := Merge(skills, table, nil)

	assert.Equal(t, 10.0, out["101"].TotalDamage)
	assert.Equal(t, 20.0, out["200"].TotalDamage)
	assert.Equal(t, 30.0, out["201"].TotalDamage)
}

func TestMerge_WhitelistOnlySumsListedFields(t *testing.T) {
	skills := map[string]domain.Skill{
		"1": {TotalDamage: 100, TotalCount: 1, MaxHit: 100},
		"2": {TotalDamage: 50, TotalCount: 2, MaxHit: 40},
	}
	out := Merge(skills, NewTable(map[string][]string{"1": {"2"}}), NewWhitelist([]string{FieldTotalDamage}))

	assert.Equal(t, 150.0, out["1"].TotalDamage)
	assert.Equal(t, int64(1), out["1"].TotalCount)
	assert.Equal(t, 100.0, out["1"].MaxHit)
}

func TestMerge_EmptyGroupsAndNilInput(t *testing.T) {
	assert.Empty(t, Merge(nil, NewTable(map[string][]string{"1": {"2"}}), nil))

	skills := map[string]domain.Skill{"7": {TotalDamage: 1}}
	out := Merge(skills, NewTable(map[string][]string{"1": {"2"}}), nil)
	assert.Equal(t, skills, out)
}

func TestNewTable_OrdersNumerically(t *testing.T) {
	table := NewTable(map[string][]string{
		"1901": {"1903"},
		"200":  {"201"},
		"abc":  {"abd"},
		"1701": {"1702"},
	})
	var primaries []string
	for _, g := range table {
		primaries = append(primaries, g.Primary)
	}
	assert.Equal(t, []string{"200", "1701", "1901", "abc"}, primaries)
}

func TestMerge_IsIdempotentAndPreservesSums(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		skills := make(map[string]domain.Skill)
		for i := 0; i < 12; i++ {
			if rng.Intn(3) == 0 {
				continue
			}
			skills[fmt.Sprint(i)] = domain.Skill{
				TotalDamage: float64(rng.Intn(1000)),
				TotalCount:  int64(rng.Intn(20)),
				CritCount:   int64(rng.Intn(5)),
			}
		}
		raw := make(map[string][]string)
		for g := 0; g < 4; g++ {
			primary := fmt.Sprint(rng.Intn(12))
			var aliases []string
			for a := 0; a < 1+rng.Intn(3); a++ {
				aliases = append(aliases, fmt.Sprint(rng.Intn(12)))
			}
			raw[primary] = aliases
		}
		table := NewTable(raw)

		once := Merge(skills, table, nil)
		twice := Merge(once, table, nil)
		require.Equal(t, once, twice, "round %d", round)

		var before, after float64
		var hitsBefore, hitsAfter int64
		for _, s := range skills {
			before += s.TotalDamage
			hitsBefore += s.TotalCount
		}
		for _, s := range once {
			after += s.TotalDamage
			hitsAfter += s.TotalCount
		}
		require.Equal(t, before, after, "round %d", round)
		require.Equal(t, hitsBefore, hitsAfter, "round %d", round)
	}
}
