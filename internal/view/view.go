// Package view assembles the operator's daily worklist: today's rows,
// minus the ones already claimed in the ledger, plus the catalogs needed
// to fill in selections.
package view

import (
	"context"
	"time"

	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/store"
)

// Row is a worklist line. Sent rows stay visible but marked, so both
// operators see the same picture of the day.
type Row struct {
	store.DayRow
	Placeholders []string `json:"placeholders"`
	Sent         bool     `json:"sent"`
}

// Worklist is the daily view one operator works from.
type Worklist struct {
	Date        string             `json:"date"`
	DayKey      string             `json:"day_key"`
	Rows        []Row              `json:"rows"`
	Pending     int                `json:"pending"`
	Categories  []string           `json:"categories"`
	Variables   []store.Variable   `json:"variables"`
	Attachments []store.Attachment `json:"attachments"`
}

type Builder struct {
	store  *store.Store
	ledger *ledger.Ledger

	// extract derives placeholder names from row text.
	extract func(string) []string
}

func NewBuilder(st *store.Store, led *ledger.Ledger, extract func(string) []string) *Builder {
	return &Builder{store: st, ledger: led, extract: extract}
}

// Build composes the worklist for the day containing now. The sent-state
// read is advisory; the ledger re-checks atomically at send time.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Worklist, error) {
	dayKey := store.DayKeyFor(now)
	rows, err := b.store.DayRows(ctx, dayKey)
	if err != nil {
		return nil, err
	}
	sent, err := b.ledger.SentToday(ctx, now)
	if err != nil {
		return nil, err
	}
	cats, err := b.store.Categories(ctx)
	if err != nil {
		return nil, err
	}
	vars, err := b.store.Variables(ctx)
	if err != nil {
		return nil, err
	}
	atts, err := b.store.Attachments(ctx, false)
	if err != nil {
		return nil, err
	}

	wl := &Worklist{
		Date:        ledger.DateKey(now),
		DayKey:      dayKey,
		Rows:        make([]Row, 0, len(rows)),
		Categories:  cats,
		Variables:   vars,
		Attachments: atts,
	}
	for _, r := range rows {
		_, done := sent[r.ID]
		if !done {
			wl.Pending++
		}
		var ph []string
		if b.extract != nil {
			ph = b.extract(r.Text)
		}
		wl.Rows = append(wl.Rows, Row{DayRow: r, Placeholders: ph, Sent: done})
	}
	return wl, nil
}

// PendingRow finds one still-unsent row by identity. The bool reports
// whether the row exists in today's worklist and is not yet claimed.
func (b *Builder) PendingRow(ctx context.Context, now time.Time, rowID int64) (store.DayRow, bool, error) {
	rows, err := b.store.DayRows(ctx, store.DayKeyFor(now))
	if err != nil {
		return store.DayRow{}, false, err
	}
	sent, err := b.ledger.SentToday(ctx, now)
	if err != nil {
		return store.DayRow{}, false, err
	}
	for _, r := range rows {
		if r.ID != rowID {
			continue
		}
		if _, done := sent[r.ID]; done {
			return store.DayRow{}, false, nil
		}
		return r, true, nil
	}
	return store.DayRow{}, false, nil
}
