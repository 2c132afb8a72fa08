package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	logx "aksiyonbot/pkg/logx"
)

// Legacy flat-file import.
//
// Earlier deployments kept everything in one JSON file with loose shapes:
//   - day rows were either plain strings or objects,
//   - variables were either a flat option list or an object,
//   - attachments were always objects but with a free-form date string.
//
// ImportLegacy upgrades such a file into the canonical schema exactly
// once; a meta marker prevents re-import on later starts.

const legacyImportedKey = "legacy_imported"

type legacyFile struct {
	Version     int                         `json:"version,omitempty"`
	Days        map[string][]json.RawMessage `json:"days"`
	Variables   map[string]json.RawMessage   `json:"variables,omitempty"`
	Attachments map[string]legacyAttachment  `json:"attachments,omitempty"`
}

type legacyRow struct {
	Text               string `json:"text"`
	Category           string `json:"category,omitempty"`
	RequiresAttachment bool   `json:"requires_attachment,omitempty"`
}

type legacyVariable struct {
	Category string   `json:"category,omitempty"`
	Options  []string `json:"options"`
}

type legacyAttachment struct {
	Category  string `json:"category,omitempty"`
	URL       string `json:"url"`
	ValidDate string `json:"valid_date,omitempty"`
}

// ImportLegacy reads a legacy flat-file export and loads it into the
// store. It is idempotent: after the first successful import the file is
// ignored. A missing file is not an error.
func (s *Store) ImportLegacy(ctx context.Context, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	done, err := s.metaGet(ctx, legacyImportedKey)
	if err != nil {
		return err
	}
	if done != "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var lf legacyFile
	if err := json.Unmarshal(b, &lf); err != nil {
		return fmt.Errorf("legacy file %s: %w", path, err)
	}
	if lf.Version > 1 {
		return fmt.Errorf("legacy file %s: unsupported version %d", path, lf.Version)
	}

	rowsByDay, vars, atts, err := upgradeLegacy(&lf)
	if err != nil {
		return fmt.Errorf("legacy file %s: %w", path, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seenCats := map[string]bool{}
	addCat := func(c string) error {
		if c == DefaultCategory || seenCats[c] {
			return nil
		}
		seenCats[c] = true
		_, err := tx.ExecContext(ctx,
			`INSERT INTO categories(name) VALUES(?) ON CONFLICT(name) DO NOTHING`, c)
		return err
	}

	imported := 0
	for _, day := range DayKeys {
		for _, r := range rowsByDay[day] {
			if err := addCat(r.Category); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO day_rows(day_key, text, category, requires_attachment, active)
				 VALUES(?,?,?,?,1)`,
				day, r.Text, r.Category, r.RequiresAttachment)
			if err != nil {
				return err
			}
			imported++
		}
	}
	for _, v := range vars {
		if err := addCat(v.Category); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO variables(name, category) VALUES(?,?)
			 ON CONFLICT(name) DO UPDATE SET category=excluded.category`,
			v.Name, v.Category)
		if err != nil {
			return err
		}
		for _, o := range v.Options {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO variable_options(variable_name, value) VALUES(?,?)`, v.Name, o); err != nil {
				return err
			}
		}
	}
	for _, a := range atts {
		if err := addCat(a.Category); err != nil {
			return err
		}
		var vd any
		if a.ValidDate != nil {
			vd = a.ValidDate.Format(dateLayout)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO attachments(name, category, url, valid_date)
			 VALUES(?,?,?,?)
			 ON CONFLICT(name) DO UPDATE
			 SET category=excluded.category, url=excluded.url, valid_date=excluded.valid_date`,
			a.Name, a.Category, a.URL, vd)
		if err != nil {
			return err
		}
	}

	if err := metaSetTx(ctx, tx, legacyImportedKey, time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Info("legacy config imported",
		logx.String("path", path),
		logx.Int("rows", imported),
		logx.Int("variables", len(vars)),
		logx.Int("attachments", len(atts)))
	return nil
}

// upgradeLegacy normalizes every loose legacy shape into the canonical
// in-memory types. It is pure; storage happens in ImportLegacy.
func upgradeLegacy(lf *legacyFile) (map[string][]DayRow, []Variable, []Attachment, error) {
	rowsByDay := map[string][]DayRow{}
	for day, raws := range lf.Days {
		if !ValidDayKey(day) {
			return nil, nil, nil, fmt.Errorf("%w: %q", ErrBadDayKey, day)
		}
		for _, raw := range raws {
			row, ok, err := upgradeLegacyRow(raw)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("day %s: %w", day, err)
			}
			if ok {
				row.DayKey = day
				rowsByDay[day] = append(rowsByDay[day], row)
			}
		}
	}

	var vars []Variable
	for name, raw := range lf.Variables {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		v, err := upgradeLegacyVariable(name, raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("variable %s: %w", name, err)
		}
		vars = append(vars, v)
	}

	var atts []Attachment
	for name, la := range lf.Attachments {
		name = strings.TrimSpace(name)
		url := strings.TrimSpace(la.URL)
		if name == "" || url == "" {
			continue
		}
		a := Attachment{Name: name, Category: normLegacyCategory(la.Category), URL: url}
		if d := strings.TrimSpace(la.ValidDate); d != "" {
			t, err := time.Parse(dateLayout, d)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("attachment %s: bad valid_date %q", name, d)
			}
			a.ValidDate = &t
		}
		atts = append(atts, a)
	}

	return rowsByDay, vars, atts, nil
}

func upgradeLegacyRow(raw json.RawMessage) (DayRow, bool, error) {
	// v0 shape: a bare string.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			return DayRow{}, false, nil
		}
		return DayRow{Text: text, Category: DefaultCategory}, true, nil
	}

	var lr legacyRow
	if err := json.Unmarshal(raw, &lr); err != nil {
		return DayRow{}, false, err
	}
	text = strings.TrimSpace(lr.Text)
	if text == "" {
		return DayRow{}, false, nil
	}
	return DayRow{
		Text:               text,
		Category:           normLegacyCategory(lr.Category),
		RequiresAttachment: lr.RequiresAttachment,
	}, true, nil
}

func upgradeLegacyVariable(name string, raw json.RawMessage) (Variable, error) {
	// v0 shape: a flat option list. A single scalar is also seen in the wild.
	var opts []string
	if err := json.Unmarshal(raw, &opts); err == nil {
		return Variable{Name: name, Category: DefaultCategory, Options: cleanOptions(opts)}, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return Variable{Name: name, Category: DefaultCategory, Options: cleanOptions([]string{single})}, nil
	}

	var lv legacyVariable
	if err := json.Unmarshal(raw, &lv); err != nil {
		return Variable{}, err
	}
	return Variable{
		Name:     name,
		Category: normLegacyCategory(lv.Category),
		Options:  cleanOptions(lv.Options),
	}, nil
}

func cleanOptions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func normLegacyCategory(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return DefaultCategory
	}
	return c
}

// ---- meta ----

func (s *Store) metaGet(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func metaSetTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}
