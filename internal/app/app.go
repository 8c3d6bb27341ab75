package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/recall-backend/internal/config"
	"github.com/yungbote/recall-backend/internal/data/db"
	"github.com/yungbote/recall-backend/internal/http"
	jobrt "github.com/yungbote/recall-backend/internal/jobs/runtime"
	"github.com/yungbote/recall-backend/internal/observability"
	"github.com/yungbote/recall-backend/internal/pkg/dbctx"
	"github.com/yungbote/recall-backend/internal/pkg/logger"
)

const (
	redispatchInterval = time.Minute
	redispatchAge      = time.Minute
	redispatchBatch    = 100
)

type Options struct {
	// AutoMigrate runs schema migration before wiring.
	AutoMigrate bool
}

type App struct {
	Log      *logger.Logger
	Cfg      config.Config
	DB       *gorm.DB
	Metrics  *observability.Metrics
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *http.Server

	pg           *db.PostgresService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
	wg           *sync.WaitGroup
}

func New(cfg config.Config, opts Options) (*App, error) {
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		Enabled:     cfg.Observability.OTelEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	metrics := observability.Init(log, cfg.Observability.MetricsEnabled)

	pg, err := db.NewPostgresService(log, cfg.Postgres)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if opts.AutoMigrate {
		if err := pg.AutoMigrateAll(); err != nil {
			_ = pg.Close()
			log.Sync()
			return nil, fmt.Errorf("postgres automigrate: %w", err)
		}
	}
	theDB := pg.DB()

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(log, cfg, reposet, clients)
	if err != nil {
		clients.Close()
		_ = pg.Close()
		log.Sync()
		return nil, err
	}

	sqlDB, err := theDB.DB()
	if err != nil {
		log.Warn("sql handle unavailable; healthz skips db ping (continuing)", "error", err)
		sqlDB = nil
	}
	handlerset := wireHandlers(log, sqlDB, serviceset)
	server := wireServer(log, cfg, handlerset, metrics)

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		Metrics:      metrics,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       server,
		pg:           pg,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches whichever job transport is configured. It is a no-op when
// called twice.
func (a *App) Start(ctx context.Context) error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.Services.TemporalWorker != nil {
		if err := a.Services.TemporalWorker.Start(ctx); err != nil {
			cancel()
			a.cancel = nil
			return fmt.Errorf("start temporal worker: %w", err)
		}
		a.wg = &sync.WaitGroup{}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.redispatchLoop(ctx)
		}()
		return nil
	}

	if a.Services.JobWorker != nil {
		a.wg = a.Services.JobWorker.Start(ctx)
	}
	return nil
}

// redispatchLoop starts workflows for jobs whose dispatch failed at enqueue
// and fails runs that went stale on their last attempt, so their workflows
// can finish.
func (a *App) redispatchLoop(ctx context.Context) {
	t := time.NewTicker(redispatchInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := a.Services.JobService.RedispatchQueued(dbctx.New(ctx), redispatchAge, redispatchBatch); err != nil {
				a.Log.Warn("redispatch of queued jobs failed (continuing)", "error", err)
			}
			if _, err := jobrt.SweepStaleExhausted(dbctx.New(ctx), a.Repos.JobRuns, a.Services.JobNotifier, a.Cfg.Worker.StaleRunning()); err != nil {
				a.Log.Warn("stale run sweep failed (continuing)", "error", err)
			}
		}
	}
}

// Run serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Server.Run(ctx, a.Cfg.HTTP.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.wg != nil {
		a.wg.Wait()
		a.wg = nil
	}
	a.Clients.Close()
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
