// Package app wires the service together: config, logging, storage,
// ledger, dispatcher, pipeline and the operator HTTP API, plus the
// daily preset sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"aksiyonbot/internal/attach"
	"aksiyonbot/internal/config"
	"aksiyonbot/internal/dispatch"
	"aksiyonbot/internal/ledger"
	"aksiyonbot/internal/message"
	"aksiyonbot/internal/send"
	"aksiyonbot/internal/server"
	"aksiyonbot/internal/store"
	"aksiyonbot/internal/view"
	logx "aksiyonbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager

	log      logx.Logger
	logClose func() error

	store  *store.Store
	ledger *ledger.Ledger
	httpd  *http.Server
	cron   *cron.Cron

	cancel context.CancelFunc
	done   chan struct{}
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logClose, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, err
	}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	busyTimeout, err := cfg.StorageBusyTimeout()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}
	if cfg.Storage.LegacyImport != "" {
		if err := st.ImportLegacy(context.Background(), cfg.Storage.LegacyImport); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("legacy import: %w", err)
		}
	}

	led := ledger.New(st.DB(), log.With(logx.String("comp", "ledger")))

	tg, err := dispatch.NewTelegram(cfg.Telegram.Token, cfg.PostRate(),
		log.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	pipeline := send.New(st, led, tg, cfg.Telegram.ChannelID,
		log.With(logx.String("comp", "send")))
	builder := view.NewBuilder(st, led, message.ExtractPlaceholders)

	fetchTimeout, err := cfg.FetchTimeout()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	newFetcher := func() *attach.Fetcher {
		return attach.NewFetcher(fetchTimeout, cfg.Fetch.UserAgent,
			log.With(logx.String("comp", "fetch")))
	}

	srv := server.New(cfgm.Get, st, builder, pipeline, led, newFetcher,
		log.With(logx.String("comp", "http")))

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logClose: logClose,
		store:    st,
		ledger:   led,
		httpd: &http.Server{
			Addr:              cfg.ListenAddr(),
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}

	if retention := cfg.SweepRetention(); retention > 0 {
		a.cron = cron.New()
		sweepLog := log.With(logx.String("comp", "sweep"))
		_, err := a.cron.AddFunc(cfg.SweepSpec(), func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			n, err := st.SweepExpiredAttachments(ctx, retention)
			if err != nil {
				sweepLog.Warn("preset sweep failed", logx.Err(err))
				return
			}
			if n > 0 {
				sweepLog.Info("expired presets removed", logx.Int64("count", n))
			}
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("sweep schedule %q: %w", cfg.SweepSpec(), err)
		}
	}

	return a, nil
}

// Start brings up the config watcher, the sweep schedule and the HTTP
// listener, then returns. Use Stop for orderly shutdown.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.OnChange = func(cfg *config.Config) {
		// Operators and sweep retention take effect immediately via Get();
		// transport and listener changes need a restart.
		a.log.Info("config change applied; token/listen changes need a restart")
	}
	go func() {
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	if a.cron != nil {
		a.cron.Start()
	}

	go func() {
		defer close(a.done)
		a.log.Info("http listener up", logx.String("addr", a.httpd.Addr))
		if err := a.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http listener failed", logx.Err(err))
			cancel()
		}
	}()
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.cron != nil {
		cronCtx := a.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	err := a.httpd.Shutdown(ctx)
	<-a.done

	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	if a.logClose != nil {
		_ = a.logClose()
	}
	return err
}
