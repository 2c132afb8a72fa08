package send

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/store"
	logx "aksiyonbot/pkg/logx"
)

type fakePost struct {
	text     string
	filename string
	image    bool
}

// fakeDispatcher records posts and can be told to fail the nth call.
type fakeDispatcher struct {
	mu     sync.Mutex
	posts  []fakePost
	failAt int // 1-based call number to fail, 0 = never
	calls  int
}

func (f *fakeDispatcher) Post(ctx context.Context, channelID int64, text string) error {
	return f.record(fakePost{text: text})
}

func (f *fakeDispatcher) PostWithImage(ctx context.Context, channelID int64, text string, image []byte, filename string) error {
	return f.record(fakePost{text: text, filename: filename, image: true})
}

func (f *fakeDispatcher) record(p fakePost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls == f.failAt {
		return errors.New("transport down")
	}
	f.posts = append(f.posts, p)
	return nil
}

func (f *fakeDispatcher) sent() []fakePost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakePost(nil), f.posts...)
}

type testRig struct {
	store    *store.Store
	ledger   *ledger.Ledger
	disp     *fakeDispatcher
	pipeline *Pipeline
	fetcher  *attach.Fetcher
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	led := ledger.New(st.DB(), logx.Nop())
	disp := &fakeDispatcher{}
	return &testRig{
		store:    st,
		ledger:   led,
		disp:     disp,
		pipeline: New(st, led, disp, -100123, logx.Nop()),
		fetcher:  attach.NewFetcher(time.Second, "", logx.Nop()),
	}
}

func item(id int64, text string, opts ...func(*Item)) *Item {
	it := &Item{Row: store.DayRow{ID: id, DayKey: "monday", Text: text, Category: store.DefaultCategory}}
	for _, o := range opts {
		o(it)
	}
	return it
}

func draftOf(items ...*Item) *Draft {
	return &Draft{
		Date:     time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC),
		Operator: "ayse",
		Items:    items,
	}
}

func TestRunDeliversAndResolvesTemplate(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	ctx := context.Background()

	if err := rig.store.UpsertVariable(ctx, "Server", store.DefaultCategory, []string{"eu-1"}); err != nil {
		t.Fatal(err)
	}

	it := item(1, "bakım: {{Server}}, detay [link](https://x.test)")
	it.Selections = map[string]string{"Server": "eu-1"}
	draft := draftOf(it)

	report, err := rig.pipeline.Run(ctx, draft, rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Delivered != 1 || !report.Sent() {
		t.Fatalf("delivered = %d", report.Delivered)
	}

	posts := rig.disp.sent()
	if len(posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(posts))
	}
	// Placeholder substituted, anchor reduced to its label.
	if posts[0].text != "bakım: eu-1, detay link" {
		t.Fatalf("posted text = %q", posts[0].text)
	}

	sent, _ := rig.ledger.SentToday(ctx, draft.Date)
	if _, ok := sent[1]; !ok {
		t.Fatal("ledger does not record the delivered row")
	}
	if report.Outcomes[0].State != StateDelivered {
		t.Fatalf("outcome = %+v", report.Outcomes[0])
	}
}

func TestRunAllOrNothingOnValidationFailure(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	ctx := context.Background()

	draft := draftOf(
		item(1, "fine row"),
		item(2, "bad row {{Unknown}}"),
	)
	report, err := rig.pipeline.Run(ctx, draft, rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(report.Rejections) != 1 || report.Rejections[0].RowID != 2 {
		t.Fatalf("rejections = %+v", report.Rejections)
	}
	if report.Delivered != 0 || len(rig.disp.sent()) != 0 {
		t.Fatal("a rejected batch must deliver nothing")
	}
	sent, _ := rig.ledger.SentToday(ctx, draft.Date)
	if len(sent) != 0 {
		t.Fatal("a rejected batch must not touch the ledger")
	}
	if report.Outcomes[0].State != StateValidated || report.Outcomes[1].State != StateRejected {
		t.Fatalf("outcomes = %+v", report.Outcomes)
	}
}

func TestRunSkipsAlreadyReservedRow(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	ctx := context.Background()
	draft := draftOf(item(1, "row one"), item(2, "row two"))

	// The other operator already claimed row 1 today.
	if ok, _ := rig.ledger.TryReserve(ctx, draft.Date, 1, "row one", "mehmet"); !ok {
		t.Fatal("pre-reserve failed")
	}

	report, err := rig.pipeline.Run(ctx, draft, rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedLocked != 1 || report.Delivered != 1 {
		t.Fatalf("skipped = %d, delivered = %d", report.SkippedLocked, report.Delivered)
	}
	posts := rig.disp.sent()
	if len(posts) != 1 || posts[0].text != "row two" {
		t.Fatalf("posts = %+v", posts)
	}
	if report.Outcomes[0].State != StateSkippedLocked {
		t.Fatalf("outcome = %+v", report.Outcomes[0])
	}
}

func TestRunRollsBackAndStopsOnDeliveryFailure(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	rig.disp.failAt = 2
	ctx := context.Background()

	draft := draftOf(item(1, "one"), item(2, "two"), item(3, "three"))
	report, err := rig.pipeline.Run(ctx, draft, rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Delivered != 1 {
		t.Fatalf("delivered = %d, want 1", report.Delivered)
	}
	if report.DeliveryError == "" {
		t.Fatal("delivery error missing from report")
	}

	// The failed row's reservation was released; the untried row was never
	// reserved at all.
	sent, _ := rig.ledger.SentToday(ctx, draft.Date)
	if _, ok := sent[2]; ok {
		t.Fatal("failed row still holds its reservation")
	}
	if _, ok := sent[3]; ok {
		t.Fatal("untried row was reserved")
	}
	if _, ok := sent[1]; !ok {
		t.Fatal("delivered row lost its reservation")
	}

	states := map[int64]State{}
	for _, o := range report.Outcomes {
		states[o.RowID] = o.State
	}
	if states[1] != StateDelivered || states[2] != StateRolledBack || states[3] != StateValidated {
		t.Fatalf("outcomes = %+v", report.Outcomes)
	}
}

func newScreenshotServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	// The path carries the accepted host marker so the link predicate
	// passes against a local server.
	mux.HandleFunc("/prnt.sc/share", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<meta property="og:image" content="%s/shot.png"/>`, srv.URL)
	})
	mux.HandleFunc("/shot.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	})
	return srv
}

func TestRunDeliversAttachment(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	srv := newScreenshotServer(t)
	ctx := context.Background()

	it := item(1, "with screenshot")
	it.Row.RequiresAttachment = true
	it.Attachment = attach.Selection{Kind: attach.SelectionManual, ManualURL: srv.URL + "/prnt.sc/share"}

	report, err := rig.pipeline.Run(ctx, draftOf(it), rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Delivered != 1 {
		t.Fatalf("delivered = %d, rejections = %+v", report.Delivered, report.Rejections)
	}
	posts := rig.disp.sent()
	if len(posts) != 1 || !posts[0].image {
		t.Fatalf("posts = %+v", posts)
	}
	if posts[0].filename != "Genel.png" {
		t.Fatalf("filename = %q", posts[0].filename)
	}
}

func TestRunRejectsUnfetchableAttachment(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	srv := newScreenshotServer(t)
	ctx := context.Background()

	it := item(1, "with screenshot")
	it.Row.RequiresAttachment = true
	it.Attachment = attach.Selection{Kind: attach.SelectionManual, ManualURL: srv.URL + "/prnt.sc/missing"}

	report, err := rig.pipeline.Run(ctx, draftOf(it), rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Rejections) != 1 || report.Delivered != 0 {
		t.Fatalf("report = %+v", report)
	}
	if len(rig.disp.sent()) != 0 {
		t.Fatal("nothing may be posted when the image is unavailable")
	}
}

func TestRunRejectsMissingAttachmentChoice(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)

	it := item(1, "needs screenshot")
	it.Row.RequiresAttachment = true

	report, err := rig.pipeline.Run(context.Background(), draftOf(it), rig.fetcher)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Rejections) != 1 {
		t.Fatalf("rejections = %+v", report.Rejections)
	}
}

func TestCheckLinks(t *testing.T) {
	t.Parallel()
	rig := newTestRig(t)
	srv := newScreenshotServer(t)
	ctx := context.Background()

	good := item(1, "ok")
	good.Row.RequiresAttachment = true
	good.Attachment = attach.Selection{Kind: attach.SelectionManual, ManualURL: srv.URL + "/prnt.sc/share"}

	bad := item(2, "broken")
	bad.Row.RequiresAttachment = true
	bad.Attachment = attach.Selection{Kind: attach.SelectionPreset, Preset: "yok"}

	plain := item(3, "no attachment needed")

	problems, err := rig.pipeline.CheckLinks(ctx, draftOf(good, bad, plain), rig.fetcher)
	if err != nil {
		t.Fatalf("CheckLinks: %v", err)
	}
	if len(problems) != 1 || problems[0].RowID != 2 {
		t.Fatalf("problems = %+v", problems)
	}
	// No ledger activity and no posts from a link check.
	sent, _ := rig.ledger.SentToday(ctx, time.Now())
	if len(sent) != 0 || len(rig.disp.sent()) != 0 {
		t.Fatal("check must be side-effect free")
	}
}
