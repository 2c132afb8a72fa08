package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "aksiyonbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// DefaultCategory always exists and cannot be deleted. Referents of a
// deleted category are reassigned to it.
const DefaultCategory = "Genel"

// DayKeys are the seven fixed weekday keys, Monday first.
var DayKeys = [7]string{
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
}

// DayKeyFor maps a point in time to its weekday key.
func DayKeyFor(t time.Time) string {
	// time.Weekday is Sunday-based.
	return DayKeys[(int(t.Weekday())+6)%7]
}

func ValidDayKey(k string) bool {
	for _, d := range DayKeys {
		if d == k {
			return true
		}
	}
	return false
}

var ErrBadDayKey = errors.New("unknown day key")

// DayRow is one scheduled template message for a weekday.
type DayRow struct {
	ID                 int64  `json:"id"`
	DayKey             string `json:"day_key"`
	Text               string `json:"text"`
	Category           string `json:"category"`
	RequiresAttachment bool   `json:"requires_attachment"`
}

// Variable is a named, category-scoped set of allowed option values.
type Variable struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Options  []string `json:"options"`
}

// Attachment is a named, category-scoped preset URL with optional expiry.
type Attachment struct {
	Name      string     `json:"name"`
	Category  string     `json:"category"`
	URL       string     `json:"url"`
	ValidDate *time.Time `json:"valid_date,omitempty"`
}

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Store persists categories, day rows, variables and attachment presets
// on a single SQLite file. The ledger shares the same handle via DB().
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for the ledger, which lives on the
// same file so the uniqueness constraint covers both components.
func (s *Store) DB() *sql.DB { return s.db }

// ---- Categories ----

// Categories returns all category names with the default category first.
func (s *Store) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{DefaultCategory}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name != DefaultCategory {
			out = append(out, name)
		}
	}
	return out, rows.Err()
}

func (s *Store) AddCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("category name is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories(name) VALUES(?) ON CONFLICT(name) DO NOTHING`, name)
	return err
}

// DeleteCategory removes a category and reassigns all its rows, variables
// and attachments to the default category. Deleting the default category
// is a no-op.
func (s *Store) DeleteCategory(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == DefaultCategory {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"day_rows", "variables", "attachments"} {
		q := fmt.Sprintf(`UPDATE %s SET category=? WHERE category=?`, table)
		if _, err := tx.ExecContext(ctx, q, DefaultCategory, name); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM categories WHERE name=?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) categoryOrDefault(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return DefaultCategory
	}
	return c
}

// ---- Day rows ----

func (s *Store) DayRows(ctx context.Context, dayKey string) ([]DayRow, error) {
	if !ValidDayKey(dayKey) {
		return nil, fmt.Errorf("%w: %q", ErrBadDayKey, dayKey)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, category, requires_attachment
		 FROM day_rows
		 WHERE day_key=? AND active=1
		 ORDER BY id ASC`, dayKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayRow
	for rows.Next() {
		r := DayRow{DayKey: dayKey}
		if err := rows.Scan(&r.ID, &r.Text, &r.Category, &r.RequiresAttachment); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceDayRows swaps out the full row set for one weekday. Row order is
// the slice order; rows get fresh identities.
func (s *Store) ReplaceDayRows(ctx context.Context, dayKey string, newRows []DayRow) error {
	if !ValidDayKey(dayKey) {
		return fmt.Errorf("%w: %q", ErrBadDayKey, dayKey)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM day_rows WHERE day_key=?`, dayKey); err != nil {
		return err
	}
	for _, r := range newRows {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO day_rows(day_key, text, category, requires_attachment, active)
			 VALUES(?,?,?,?,1)`,
			dayKey, text, s.categoryOrDefault(r.Category), r.RequiresAttachment)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AddDayRow(ctx context.Context, dayKey string, r DayRow) (int64, error) {
	if !ValidDayKey(dayKey) {
		return 0, fmt.Errorf("%w: %q", ErrBadDayKey, dayKey)
	}
	text := strings.TrimSpace(r.Text)
	if text == "" {
		return 0, errors.New("row text is empty")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO day_rows(day_key, text, category, requires_attachment, active)
		 VALUES(?,?,?,?,1)`,
		dayKey, text, s.categoryOrDefault(r.Category), r.RequiresAttachment)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ---- Variables ----

func (s *Store) Variables(ctx context.Context) ([]Variable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, category FROM variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Variable
	for rows.Next() {
		var v Variable
		if err := rows.Scan(&v.Name, &v.Category); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		opts, err := s.variableOptions(ctx, out[i].Name)
		if err != nil {
			return nil, err
		}
		out[i].Options = opts
	}
	return out, nil
}

func (s *Store) variableOptions(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM variable_options WHERE variable_name=? ORDER BY id`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		opts = append(opts, v)
	}
	return opts, rows.Err()
}

func (s *Store) UpsertVariable(ctx context.Context, name, category string, options []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("variable name is empty")
	}
	category = s.categoryOrDefault(category)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO variables(name, category) VALUES(?,?)
		 ON CONFLICT(name) DO UPDATE SET category=excluded.category`, name, category)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM variable_options WHERE variable_name=?`, name); err != nil {
		return err
	}
	for _, o := range options {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO variable_options(variable_name, value) VALUES(?,?)`, name, o); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteVariable(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM variable_options WHERE variable_name=?`, name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM variables WHERE name=?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- Attachment presets ----

const dateLayout = "2006-01-02"

// Attachments lists presets. With includeExpired=false, presets whose
// valid_date is before today are filtered out (soft expiry; rows stay in
// the table until the sweep).
func (s *Store) Attachments(ctx context.Context, includeExpired bool) ([]Attachment, error) {
	q := `SELECT name, category, url, valid_date FROM attachments ORDER BY name`
	args := []any{}
	if !includeExpired {
		q = `SELECT name, category, url, valid_date FROM attachments
		     WHERE valid_date IS NULL OR valid_date >= ?
		     ORDER BY name`
		args = append(args, time.Now().Format(dateLayout))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var vd sql.NullString
		if err := rows.Scan(&a.Name, &a.Category, &a.URL, &vd); err != nil {
			return nil, err
		}
		if vd.Valid {
			if t, err := time.Parse(dateLayout, vd.String); err == nil {
				a.ValidDate = &t
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpsertAttachment(ctx context.Context, a Attachment) error {
	name := strings.TrimSpace(a.Name)
	url := strings.TrimSpace(a.URL)
	if name == "" || url == "" {
		return errors.New("attachment name and url are required")
	}
	if a.ValidDate == nil {
		// Names like "16 Aralık Limitli" carry their own expiry.
		a.ValidDate = ParseLeadingDate(name, time.Now())
	}
	var vd any
	if a.ValidDate != nil {
		vd = a.ValidDate.Format(dateLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments(name, category, url, valid_date)
		 VALUES(?,?,?,?)
		 ON CONFLICT(name) DO UPDATE
		 SET category=excluded.category, url=excluded.url, valid_date=excluded.valid_date`,
		name, s.categoryOrDefault(a.Category), url, vd)
	return err
}

func (s *Store) DeleteAttachment(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE name=?`, name)
	return err
}

// SweepExpiredAttachments hard-deletes presets whose expiry passed more
// than retention ago. Returns the number of presets removed.
func (s *Store) SweepExpiredAttachments(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Format(dateLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE valid_date IS NOT NULL AND valid_date < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
