package main

import (
	"sync/atomic"

	"combat-meter/internal/detail"
	"combat-meter/internal/replica"

	"github.com/rs/zerolog"
)

// logList renders the ranked list as log lines.
type logList struct {
	logger zerolog.Logger
}

func (l logList) Create(row replica.Row, index int) {
	l.logger.Info().
		Int64("uid", row.UID).
		Str("name", row.Name).
		Int("pos", index).
		Float64("value", row.Value).
		Float64("share_pct", row.SharePct).
		Msg("row added")
}

func (l logList) Update(row replica.Row) {
	l.logger.Debug().
		Int64("uid", row.UID).
		Int("rank", row.Rank).
		Float64("value", row.Value).
		Float64("rate", row.Rate).
		Float64("bar_pct", row.BarPct).
		Float64("share_pct", row.SharePct).
		Msg("row updated")
}

func (l logList) Move(uid int64, from, to int) {
	l.logger.Info().Int64("uid", uid).Int("from", from).Int("to", to).Msg("row moved")
}

func (l logList) Remove(uid int64) {
	l.logger.Info().Int64("uid", uid).Msg("row removed")
}

// logDetail is a detail surface that reports ready as soon as it is opened.
type logDetail struct {
	logger zerolog.Logger
	closed atomic.Bool
}

func (d *logDetail) Post(msg detail.Message) error {
	if msg.Payload == nil {
		return nil
	}
	d.logger.Info().
		Str("type", msg.Type).
		Int64("uid", msg.Payload.UID).
		Str("class", msg.Payload.ClassKey).
		Int("skills", len(msg.Payload.Items)).
		Float64("total", msg.Payload.Total).
		Msg("detail payload")
	return nil
}

func (d *logDetail) Closed() bool {
	return d.closed.Load()
}

func (d *logDetail) Close() error {
	d.closed.Store(true)
	return nil
}
