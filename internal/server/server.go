// Package server is the operator-facing HTTP JSON API. Two fixed
// operators authenticate with basic auth; the first configured operator
// is the admin and additionally owns settings and history.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/config"
	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/send"
	"aksiyonbot/internal/store"
	"aksiyonbot/internal/view"
	logx "aksiyonbot/pkg/logx"
)

// HistoryReader is the ledger surface the read-only endpoints use.
type HistoryReader interface {
	History(ctx context.Context, day time.Time) ([]ledger.SentRecord, error)
	Summary(ctx context.Context) ([]ledger.DateCount, error)
}

type Server struct {
	cfg      func() *config.Config
	store    *store.Store
	builder  *view.Builder
	pipeline *send.Pipeline
	history  HistoryReader
	log      logx.Logger

	// One fetch cache per operator session. check-links warms it, the
	// follow-up send reuses it, reset drops it.
	mu         sync.Mutex
	fetchers   map[string]*attach.Fetcher
	newFetcher func() *attach.Fetcher
}

func New(cfg func() *config.Config, st *store.Store, builder *view.Builder, pipeline *send.Pipeline, history HistoryReader, newFetcher func() *attach.Fetcher, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:        cfg,
		store:      st,
		builder:    builder,
		pipeline:   pipeline,
		history:    history,
		log:        log,
		fetchers:   map[string]*attach.Fetcher{},
		newFetcher: newFetcher,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireOperator)

		r.Get("/worklist", s.handleWorklist)
		r.Post("/check-links", s.handleCheckLinks)
		r.Post("/send", s.handleSend)
		r.Post("/session/reset", s.handleSessionReset)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/history", s.handleHistory)
			r.Get("/history/summary", s.handleHistorySummary)

			r.Route("/settings", func(r chi.Router) {
				r.Get("/categories", s.handleCategoriesList)
				r.Post("/categories", s.handleCategoryAdd)
				r.Delete("/categories/{name}", s.handleCategoryDelete)

				r.Get("/days/{dayKey}", s.handleDayRowsGet)
				r.Put("/days/{dayKey}", s.handleDayRowsReplace)
				r.Post("/days/{dayKey}/rows", s.handleDayRowAdd)

				r.Get("/variables", s.handleVariablesList)
				r.Put("/variables/{name}", s.handleVariableUpsert)
				r.Delete("/variables/{name}", s.handleVariableDelete)

				r.Get("/attachments", s.handleAttachmentsList)
				r.Put("/attachments/{name}", s.handleAttachmentUpsert)
				r.Delete("/attachments/{name}", s.handleAttachmentDelete)
			})
		})
	})

	return r
}

// ---- auth ----

type ctxKey int

const operatorKey ctxKey = 0

func operatorFrom(r *http.Request) string {
	op, _ := r.Context().Value(operatorKey).(string)
	return op
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !s.authenticate(user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="aksiyonbot"`)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), operatorKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if operatorFrom(r) != s.adminName() {
			writeError(w, http.StatusForbidden, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(user, pass string) bool {
	for _, op := range s.cfg().Operators {
		nameOK := subtle.ConstantTimeCompare([]byte(op.Name), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(op.Password), []byte(pass)) == 1
		if nameOK && passOK {
			return true
		}
	}
	return false
}

func (s *Server) adminName() string {
	ops := s.cfg().Operators
	if len(ops) == 0 {
		return ""
	}
	return ops[0].Name
}

// fetcherFor returns the operator's session fetch cache, creating it on
// first use.
func (s *Server) fetcherFor(operator string) *attach.Fetcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fetchers[operator]
	if !ok {
		f = s.newFetcher()
		s.fetchers[operator] = f
	}
	return f
}

func (s *Server) dropFetcher(operator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fetchers, operator)
}

// ---- JSON helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
