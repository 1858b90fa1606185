package replica

import (
	"cmp"
	"slices"

	"combat-meter/internal/domain"
)

// Metric selects the value a view ranks by.
type Metric string

const (
	MetricDPS  Metric = "dps"
	MetricHeal Metric = "heal"
	MetricTank Metric = "tank"
)

func (m Metric) Value(p domain.Player) float64 {
	switch m {
	case MetricHeal:
		return p.TotalHealing
	case MetricTank:
		return p.TakenDamage
	default:
		return p.TotalDamage
	}
}

// Rate is the per-second figure shown next to the total.
func (m Metric) Rate(p domain.Player) float64 {
	switch m {
	case MetricHeal:
		return p.HPS
	case MetricTank:
		return p.DTPS
	default:
		return p.DPS
	}
}

type Row struct {
	UID        int64   `json:"uid"`
	Name       string  `json:"name"`
	Profession string  `json:"profession"`
	ClassKey   string  `json:"classKey"`
	Value      float64 `json:"value"`
	Rate       float64 `json:"rate"`
	BarPct     float64 `json:"barPct"`
	SharePct   float64 `json:"sharePct"`
	Rank       int     `json:"rank"`
}

// Rank keeps players with a nonzero value, sorts them by value descending and
// computes bar fill against the top value and share against the sum. Ties keep
// ascending id order.
func Rank(players map[int64]domain.Player, metric Metric) []Row {
	rows := make([]Row, 0, len(players))
	var total float64
	for uid, p := range players {
		v := metric.Value(p)
		if v <= 0 {
			continue
		}
		total += v
		rows = append(rows, Row{
			UID:        uid,
			Name:       p.Name,
			Profession: p.Profession,
			ClassKey:   domain.ClassKey(p.Profession),
			Value:      v,
			Rate:       metric.Rate(p),
		})
	}

	slices.SortFunc(rows, func(a, b Row) int { return cmp.Compare(a.UID, b.UID) })
	slices.SortStableFunc(rows, func(a, b Row) int { return cmp.Compare(b.Value, a.Value) })

	if len(rows) == 0 {
		return rows
	}
	top := rows[0].Value
	for i := range rows {
		rows[i].Rank = i + 1
		rows[i].BarPct = min(100, rows[i].Value/top*100)
		rows[i].SharePct = rows[i].Value / total * 100
	}
	return rows
}
