// Package ledger is the send-reservation ledger: an atomic, idempotent
// per-(day, row) claim that prevents double sends across concurrent
// operator sessions.
//
// The claim is a single conditional insert against the unique index on
// (sent_date, day_row_id). There is no exists-check before the insert;
// the database resolves the race. A reservation that loses the race is
// not an error, it is the expected outcome for the slower caller.
package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	logx "aksiyonbot/pkg/logx"
)

// SentRecord is one successful (or in-flight reserved) send.
type SentRecord struct {
	ID       int64     `json:"id"`
	Date     string    `json:"date"`
	RowID    int64     `json:"row_id"`
	Text     string    `json:"text"`
	Operator string    `json:"operator"`
	At       time.Time `json:"at"`
}

// DateCount is one line of the history summary.
type DateCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Ledger struct {
	db  *sql.DB
	log logx.Logger
}

func New(db *sql.DB, log logx.Logger) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Ledger{db: db, log: log}
}

const dateLayout = "2006-01-02"

// DateKey reduces a point in time to the ledger's calendar-date key.
func DateKey(t time.Time) string { return t.Format(dateLayout) }

// TryReserve claims (day, rowID) for this operator. It returns true when
// the caller now owns the send, false when the pair was already claimed.
// Only a storage failure is an error.
func (l *Ledger) TryReserve(ctx context.Context, day time.Time, rowID int64, text, operator string) (bool, error) {
	if rowID == 0 {
		return false, nil
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO sent_log(sent_date, day_row_id, template_text, user_key)
		 VALUES(?,?,?,?)
		 ON CONFLICT(sent_date, day_row_id) DO NOTHING`,
		DateKey(day), rowID, strings.TrimSpace(text), operator)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Rollback releases a reservation after a failed delivery so the row
// becomes sendable again, by any operator.
func (l *Ledger) Rollback(ctx context.Context, day time.Time, rowID int64) error {
	if rowID == 0 {
		return nil
	}
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM sent_log WHERE sent_date=? AND day_row_id=?`,
		DateKey(day), rowID)
	if err == nil {
		l.log.Debug("reservation rolled back",
			logx.String("date", DateKey(day)), logx.Int64("row_id", rowID))
	}
	return err
}

// SentToday returns the row identities already claimed for the given day.
// This is a plain read used for worklist filtering; it need not be
// transactionally consistent with concurrent reservations.
func (l *Ledger) SentToday(ctx context.Context, day time.Time) (map[int64]struct{}, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT day_row_id FROM sent_log WHERE sent_date=?`, DateKey(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// History lists the full records for one day, oldest first.
func (l *Ledger) History(ctx context.Context, day time.Time) ([]SentRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, sent_date, day_row_id, template_text, user_key, created_at
		 FROM sent_log WHERE sent_date=? ORDER BY id`, DateKey(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SentRecord
	for rows.Next() {
		var r SentRecord
		var created string
		if err := rows.Scan(&r.ID, &r.Date, &r.RowID, &r.Text, &r.Operator, &created); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.At = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary returns per-date send counts, newest date first.
func (l *Ledger) Summary(ctx context.Context) ([]DateCount, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT sent_date, COUNT(*) FROM sent_log GROUP BY sent_date ORDER BY sent_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DateCount
	for rows.Next() {
		var dc DateCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
