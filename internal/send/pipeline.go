// Package send orchestrates the per-row send pipeline: validate, reserve
// in the ledger, deliver, and compensate on failure.
//
// The batch is all-or-nothing at the validation stage (one known-bad row
// blocks every delivery) and fail-fast at the delivery stage (a transport
// failure stops the remaining rows, since channel ordering matters).
// Losing a reservation to the other operator is a normal skip, not an
// error.
package send

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/dispatch"
	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/message"
	"aksiyonbot/internal/store"
	logx "aksiyonbot/pkg/logx"
)

type Pipeline struct {
	store      *store.Store
	ledger     *ledger.Ledger
	dispatcher dispatch.Dispatcher
	channelID  int64

	// confirmBudget bounds the post-upload visibility probe. Zero skips it.
	confirmBudget time.Duration

	log logx.Logger
}

func New(st *store.Store, led *ledger.Ledger, d dispatch.Dispatcher, channelID int64, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pipeline{
		store:         st,
		ledger:        led,
		dispatcher:    d,
		channelID:     channelID,
		confirmBudget: 5 * time.Second,
		log:           log,
	}
}

// catalogs is the read-mostly config snapshot one run works against.
type catalogs struct {
	categories map[string]bool
	variables  message.Catalog
	presets    map[string]attach.Preset
}

func (p *Pipeline) loadCatalogs(ctx context.Context) (*catalogs, error) {
	cats, err := p.store.Categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	vars, err := p.store.Variables(ctx)
	if err != nil {
		return nil, fmt.Errorf("load variables: %w", err)
	}
	atts, err := p.store.Attachments(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("load attachments: %w", err)
	}

	c := &catalogs{
		categories: make(map[string]bool, len(cats)),
		variables:  make(message.Catalog, len(vars)),
		presets:    make(map[string]attach.Preset, len(atts)),
	}
	for _, name := range cats {
		c.categories[name] = true
	}
	for _, v := range vars {
		c.variables[v.Name] = message.Variable{Category: v.Category, Options: v.Options}
	}
	for _, a := range atts {
		c.presets[a.Name] = attach.Preset{Category: a.Category, URL: a.URL}
	}
	return c, nil
}

// rowCategory falls back to the default category when the row references
// one that no longer exists (settings may have changed under the draft).
func (c *catalogs) rowCategory(row store.DayRow) string {
	cat := strings.TrimSpace(row.Category)
	if cat == "" || !c.categories[cat] {
		return store.DefaultCategory
	}
	return cat
}

// validate runs stage one on every item. Image fetching counts as
// validation here: an attachment-required row without its image must not
// reach the ledger.
func (p *Pipeline) validate(ctx context.Context, draft *Draft, fetcher *attach.Fetcher, cat *catalogs) []RowError {
	var rejections []RowError
	reject := func(it *Item, err error) {
		it.state = StateRejected
		rejections = append(rejections, RowError{RowID: it.Row.ID, Detail: err.Error()})
	}

	for _, it := range draft.Items {
		it.state = StateCandidate
		rowCat := cat.rowCategory(it.Row)

		text, err := message.Resolve(message.StripAnchors(it.Row.Text), rowCat, it.Selections, cat.variables)
		if err != nil {
			reject(it, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			reject(it, fmt.Errorf("resolved message is empty"))
			continue
		}

		url, err := attach.Resolve(it.Row.RequiresAttachment, it.Attachment, rowCat, cat.presets)
		if err != nil {
			reject(it, err)
			continue
		}

		var img []byte
		if url != "" {
			img = fetcher.Fetch(ctx, url)
			if img == nil {
				reject(it, fmt.Errorf("image could not be fetched: %s", url))
				continue
			}
		}

		it.state = StateValidated
		it.text = text
		it.image = img
	}
	return rejections
}

// CheckLinks runs the attachment part of validation only: resolve and
// fetch every required attachment without touching the ledger or the
// channel. The session fetch cache keeps the follow-up send cheap.
func (p *Pipeline) CheckLinks(ctx context.Context, draft *Draft, fetcher *attach.Fetcher) ([]RowError, error) {
	cat, err := p.loadCatalogs(ctx)
	if err != nil {
		return nil, err
	}

	var problems []RowError
	for _, it := range draft.Items {
		if !it.Row.RequiresAttachment {
			continue
		}
		rowCat := cat.rowCategory(it.Row)
		url, err := attach.Resolve(true, it.Attachment, rowCat, cat.presets)
		if err != nil {
			problems = append(problems, RowError{RowID: it.Row.ID, Detail: err.Error()})
			continue
		}
		if fetcher.Fetch(ctx, url) == nil {
			problems = append(problems, RowError{RowID: it.Row.ID, Detail: "image could not be fetched: " + url})
		}
	}
	return problems, nil
}

// Run executes the full pipeline for one draft.
//
// The returned error is reserved for storage unavailability, a hard
// stop with no partial progress claimed. Validation failures, lost
// reservations and delivery failures are all reported in the Report.
func (p *Pipeline) Run(ctx context.Context, draft *Draft, fetcher *attach.Fetcher) (*Report, error) {
	cat, err := p.loadCatalogs(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	report.Rejections = p.validate(ctx, draft, fetcher, cat)
	if len(report.Rejections) > 0 {
		// All-or-nothing: a batch with known-bad rows sends nothing.
		p.log.Info("send batch rejected",
			logx.String("operator", draft.Operator),
			logx.Int("rejections", len(report.Rejections)))
		report.Outcomes = outcomes(draft)
		return report, nil
	}

	// Delivery is strictly sequential to preserve channel message order.
	stopped := false
	for _, it := range draft.Items {
		if it.state != StateValidated || stopped {
			continue
		}

		reserved, err := p.ledger.TryReserve(ctx, draft.Date, it.Row.ID, it.Row.Text, draft.Operator)
		if err != nil {
			return nil, fmt.Errorf("reserve row %d: %w", it.Row.ID, err)
		}
		if !reserved {
			// The other operator claimed this row first. Normal outcome.
			it.state = StateSkippedLocked
			report.SkippedLocked++
			continue
		}
		it.state = StateReserved

		if err := p.deliver(ctx, it, cat); err != nil {
			if rbErr := p.ledger.Rollback(ctx, draft.Date, it.Row.ID); rbErr != nil {
				p.log.Error("rollback failed; row stays locked until manual cleanup",
					logx.Int64("row_id", it.Row.ID), logx.Err(rbErr))
			}
			it.state = StateRolledBack
			report.DeliveryError = err.Error()
			p.log.Warn("delivery failed; stopping batch",
				logx.Int64("row_id", it.Row.ID),
				logx.String("operator", draft.Operator),
				logx.Err(err))
			// Fail fast: a mid-batch failure leaves ambiguous channel
			// state, so the remaining rows are left for a later attempt.
			stopped = true
			continue
		}

		it.state = StateDelivered
		report.Delivered++
	}

	report.Outcomes = outcomes(draft)
	p.log.Info("send batch finished",
		logx.String("operator", draft.Operator),
		logx.Int("delivered", report.Delivered),
		logx.Int("skipped_locked", report.SkippedLocked),
		logx.Bool("stopped_on_error", report.DeliveryError != ""))
	return report, nil
}

func (p *Pipeline) deliver(ctx context.Context, it *Item, cat *catalogs) error {
	if it.image == nil {
		return p.dispatcher.Post(ctx, p.channelID, it.text)
	}

	filename := attach.Filename(cat.rowCategory(it.Row))
	if err := p.dispatcher.PostWithImage(ctx, p.channelID, it.text, it.image, filename); err != nil {
		return err
	}

	if c, ok := p.dispatcher.(dispatch.UploadConfirmer); ok && p.confirmBudget > 0 {
		if !dispatch.AwaitConfirmation(ctx, p.confirmBudget, c.ConfirmUpload) {
			// Unknown is treated as delivered; the reservation stands.
			p.log.Debug("upload confirmation timed out; assuming delivered",
				logx.Int64("row_id", it.Row.ID))
		}
	}
	return nil
}

func outcomes(draft *Draft) []Outcome {
	out := make([]Outcome, 0, len(draft.Items))
	for _, it := range draft.Items {
		o := Outcome{RowID: it.Row.ID, State: it.state}
		if it.state == StateValidated {
			o.Detail = "not attempted (batch stopped earlier)"
		}
		out = append(out, o)
	}
	return out
}
