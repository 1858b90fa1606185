package aggregate

import (
	"time"

	"combat-meter/internal/constants"
	"combat-meter/internal/domain"
)

type bucket struct {
	second    int64
	raw       float64
	effective float64
	events    []domain.TimelineEvent
}

// timeline is a queue of one-second damage-taken buckets, oldest first.
type timeline struct {
	buckets []bucket
}

func (t *timeline) add(ev domain.DamageTakenEvent) {
	sec := ev.At.Unix()
	entry := domain.TimelineEvent{
		Source:    ev.Source,
		SkillID:   ev.SkillID,
		Raw:       ev.Raw,
		Effective: ev.Effective,
		Lethal:    ev.Lethal,
	}

	// events mostly arrive in order; search from the tail
	i := len(t.buckets) - 1
	for ; i >= 0 && t.buckets[i].second > sec; i-- {
	}
	if i >= 0 && t.buckets[i].second == sec {
		b := &t.buckets[i]
		b.raw += ev.Raw
		b.effective += ev.Effective
		b.events = append(b.events, entry)
		return
	}

	nb := bucket{second: sec, raw: ev.Raw, effective: ev.Effective, events: []domain.TimelineEvent{entry}}
	t.buckets = append(t.buckets, bucket{})
	copy(t.buckets[i+2:], t.buckets[i+1:])
	t.buckets[i+1] = nb
}

func retentionCutoff(now time.Time) int64 {
	return now.Unix() - int64(constants.TimelineRetention/time.Second)
}

func (t *timeline) evict(now time.Time) {
	cutoff := retentionCutoff(now)
	n := 0
	for n < len(t.buckets) && t.buckets[n].second <= cutoff {
		n++
	}
	if n > 0 {
		t.buckets = append(t.buckets[:0], t.buckets[n:]...)
	}
}

// windows skips buckets outside the retention window even when no later hit
// has evicted them yet.
func (t *timeline) windows(startedAt, now time.Time) []domain.TimelineWindow {
	cutoff := retentionCutoff(now)
	out := make([]domain.TimelineWindow, 0, len(t.buckets))
	for _, b := range t.buckets {
		if b.second <= cutoff {
			continue
		}
		events := make([]domain.TimelineEvent, len(b.events))
		copy(events, b.events)
		out = append(out, domain.TimelineWindow{
			Second:               b.second,
			RelativeTime:         b.second - startedAt.Unix(),
			TotalRawDamage:       b.raw,
			TotalEffectiveDamage: b.effective,
			Events:               events,
		})
	}
	return out
}
