package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/send"
	"aksiyonbot/internal/store"
	logx "aksiyonbot/pkg/logx"
)

// ---- worklist ----

func (s *Server) handleWorklist(w http.ResponseWriter, r *http.Request) {
	wl, err := s.builder.Build(r.Context(), time.Now())
	if err != nil {
		s.log.Error("worklist build failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, wl)
}

// ---- draft payload ----

type attachmentPayload struct {
	Preset    string `json:"preset,omitempty"`
	ManualURL string `json:"manual_url,omitempty"`
}

type draftItemPayload struct {
	RowID      int64              `json:"row_id"`
	Selections map[string]string  `json:"selections,omitempty"`
	Attachment *attachmentPayload `json:"attachment,omitempty"`
}

type draftPayload struct {
	Items []draftItemPayload `json:"items"`
}

func (p *attachmentPayload) selection() (attach.Selection, error) {
	if p == nil {
		return attach.Selection{}, nil
	}
	preset := strings.TrimSpace(p.Preset)
	manual := strings.TrimSpace(p.ManualURL)
	switch {
	case preset != "" && manual != "":
		return attach.Selection{}, errors.New("attachment: preset and manual_url are mutually exclusive")
	case preset != "":
		return attach.Selection{Kind: attach.SelectionPreset, Preset: preset}, nil
	case manual != "":
		return attach.Selection{Kind: attach.SelectionManual, ManualURL: manual}, nil
	default:
		return attach.Selection{}, nil
	}
}

// buildDraft maps the request onto today's rows. A row id outside today's
// worklist is a client error; an already-sent row is accepted and will
// come back as skipped_locked from the pipeline.
func (s *Server) buildDraft(r *http.Request, payload draftPayload, now time.Time) (*send.Draft, error) {
	if len(payload.Items) == 0 {
		return nil, errors.New("draft has no items")
	}
	rows, err := s.store.DayRows(r.Context(), store.DayKeyFor(now))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	byID := make(map[int64]store.DayRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	draft := &send.Draft{Date: now, Operator: operatorFrom(r)}
	seen := map[int64]bool{}
	for _, it := range payload.Items {
		row, ok := byID[it.RowID]
		if !ok {
			return nil, fmt.Errorf("row %d is not in today's worklist", it.RowID)
		}
		if seen[it.RowID] {
			return nil, fmt.Errorf("row %d listed twice", it.RowID)
		}
		seen[it.RowID] = true

		sel, err := it.Attachment.selection()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", it.RowID, err)
		}
		draft.Items = append(draft.Items, &send.Item{
			Row:        row,
			Selections: it.Selections,
			Attachment: sel,
		})
	}
	return draft, nil
}

// ---- check-links / send ----

func (s *Server) handleCheckLinks(w http.ResponseWriter, r *http.Request) {
	var payload draftPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft, err := s.buildDraft(r, payload, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	problems, err := s.pipeline.CheckLinks(r.Context(), draft, s.fetcherFor(draft.Operator))
	if err != nil {
		s.log.Error("check-links failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       len(problems) == 0,
		"problems": problems,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload draftPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := time.Now()
	draft, err := s.buildDraft(r, payload, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.pipeline.Run(r.Context(), draft, s.fetcherFor(draft.Operator))
	if err != nil {
		s.log.Error("send run failed", logx.String("operator", draft.Operator), logx.Err(err))
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if report.Sent() {
		// The draft is spent; the next batch starts from a fresh cache.
		s.dropFetcher(draft.Operator)
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	s.dropFetcher(operatorFrom(r))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- history ----

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if q := strings.TrimSpace(r.URL.Query().Get("date")); q != "" {
		t, err := time.Parse("2006-01-02", q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = t
	}
	records, err := s.history.History(r.Context(), day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if records == nil {
		records = []ledger.SentRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":    ledger.DateKey(day),
		"records": records,
	})
}

func (s *Server) handleHistorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.history.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if summary == nil {
		summary = []ledger.DateCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": summary})
}

// ---- settings: categories ----

func (s *Server) handleCategoriesList(w http.ResponseWriter, r *http.Request) {
	cats, err := s.store.Categories(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) handleCategoryAdd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.AddCategory(r.Context(), body.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleCategoryDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.store.DeleteCategory(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- settings: day rows ----

func (s *Server) handleDayRowsGet(w http.ResponseWriter, r *http.Request) {
	dayKey := chi.URLParam(r, "dayKey")
	rows, err := s.store.DayRows(r.Context(), dayKey)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrBadDayKey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	if rows == nil {
		rows = []store.DayRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"day_key": dayKey, "rows": rows})
}

func (s *Server) handleDayRowsReplace(w http.ResponseWriter, r *http.Request) {
	dayKey := chi.URLParam(r, "dayKey")
	var body struct {
		Rows []store.DayRow `json:"rows"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.ReplaceDayRows(r.Context(), dayKey, body.Rows); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrBadDayKey) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDayRowAdd(w http.ResponseWriter, r *http.Request) {
	dayKey := chi.URLParam(r, "dayKey")
	var row store.DayRow
	if err := decodeJSON(w, r, &row); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.store.AddDayRow(r.Context(), dayKey, row)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrBadDayKey) || strings.Contains(err.Error(), "empty") {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

// ---- settings: variables ----

func (s *Server) handleVariablesList(w http.ResponseWriter, r *http.Request) {
	vars, err := s.store.Variables(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if vars == nil {
		vars = []store.Variable{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"variables": vars})
}

func (s *Server) handleVariableUpsert(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Category string   `json:"category,omitempty"`
		Options  []string `json:"options"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpsertVariable(r.Context(), name, body.Category, body.Options); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleVariableDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteVariable(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ---- settings: attachment presets ----

func (s *Server) handleAttachmentsList(w http.ResponseWriter, r *http.Request) {
	includeExpired := r.URL.Query().Get("include_expired") == "true"
	atts, err := s.store.Attachments(r.Context(), includeExpired)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if atts == nil {
		atts = []store.Attachment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"attachments": atts})
}

func (s *Server) handleAttachmentUpsert(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Category  string `json:"category,omitempty"`
		URL       string `json:"url"`
		ValidDate string `json:"valid_date,omitempty"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := store.Attachment{Name: name, Category: body.Category, URL: body.URL}
	if vd := strings.TrimSpace(body.ValidDate); vd != "" {
		t, err := time.Parse("2006-01-02", vd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "valid_date must be YYYY-MM-DD")
			return
		}
		a.ValidDate = &t
	}
	if !attach.IsScreenshotURL(a.URL) {
		writeError(w, http.StatusBadRequest, "url is not a supported screenshot link")
		return
	}
	if err := s.store.UpsertAttachment(r.Context(), a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAttachmentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAttachment(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
