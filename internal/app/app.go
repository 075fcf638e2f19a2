package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/jgivc/modsync/internal/adapter/downloader"
	"github.com/jgivc/modsync/internal/adapter/hostapi"
	"github.com/jgivc/modsync/internal/adapter/mdadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	httphandler "github.com/jgivc/modsync/internal/handler/http"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/jgivc/modsync/internal/repository/history"
	"github.com/jgivc/modsync/internal/repository/unit"
	"github.com/jgivc/modsync/internal/service/copier"
	"github.com/jgivc/modsync/internal/service/counter"
	"github.com/jgivc/modsync/internal/service/publish"
	"github.com/jgivc/modsync/internal/service/synchronizer"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

const (
	LogFormatText = "text"
	LogFormatJSON = "json"

	connectTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

type App struct {
	cfg *config.Config
	fs  afero.Fs
	log *slog.Logger

	units    unit.Repository
	tasks    *history.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	dlCfg       downloader.Config
	syncer      *synchronizer.Synchronizer
	distributor *publish.Distributor
	copier      *copier.Service
	counter     *counter.CounterService

	mu      sync.Mutex
	reports map[string]*progress.Report

	srv *http.Server
}

/*
NewLogger returns a slog logger backed by charmbracelet/log. The text formatter
is used on a terminal and JSON otherwise, unless cfg.LogFormat names one.
*/
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, err := charmlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = charmlog.InfoLevel
	}

	formatter := charmlog.JSONFormatter
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		formatter = charmlog.TextFormatter
	}

	switch cfg.LogFormat {
	case LogFormatText:
		formatter = charmlog.TextFormatter
	case LogFormatJSON:
		formatter = charmlog.JSONFormatter
	}

	return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	}))
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	return NewWithFS(afero.NewOsFs(), cfg, log)
}

// NewWithFS builds every component on fs. The unit store and the history
// database stay on disk.
func NewWithFS(fs afero.Fs, cfg *config.Config, log *slog.Logger) (*App, error) {
	a := &App{
		cfg:      cfg,
		fs:       fs,
		log:      log.With(slog.String("item", "App")),
		registry: prometheus.NewRegistry(),
		reports:  make(map[string]*progress.Report),
	}

	units, err := newUnitRepository(cfg, log)
	if err != nil {
		return nil, err
	}
	a.units = units

	tasks, err := history.NewStore(cfg.History.DBFile)
	if err != nil {
		units.Close()

		return nil, fmt.Errorf("cannot open history store: %w", err)
	}
	a.tasks = tasks

	page, err := mdadapter.NewPageRenderer(fs, cfg.Publish.IndexTemplate, log)
	if err != nil {
		a.Close()

		return nil, err
	}

	a.metrics = metrics.New(a.registry)
	a.dlCfg = downloader.Config{
		TempDir:           cfg.TempDir,
		HTTPTimeout:       cfg.Sync.HTTPTimeout,
		S3Region:          cfg.S3.Region,
		S3Endpoint:        cfg.S3.Endpoint,
		S3AccessKeyID:     cfg.S3.AccessKeyID,
		S3SecretAccessKey: cfg.S3.SecretAccessKey,
		S3SessionToken:    cfg.S3.SessionToken,
	}

	a.syncer = synchronizer.NewSynchronizerWithFS(fs, units, tasks, a.metrics, synchronizer.Config{
		StorageDir:    cfg.StorageDir,
		Workers:       cfg.Sync.Workers,
		RemoveMissing: cfg.Sync.RemoveMissing,
	}, log)

	a.distributor = publish.NewDistributorWithFS(fs, page, tasks, a.metrics, publish.Config{
		HostingDir: cfg.Publish.HostingDir,
		Workers:    cfg.Publish.Workers,
	}, log)

	client := hostapi.NewClient(hostapi.Config{
		URL:      cfg.API.URL,
		Username: cfg.API.Username,
		Password: cfg.API.Password,
		Timeout:  cfg.Sync.HTTPTimeout,
	}, log)
	a.counter = counter.NewCounterService(units, log)
	a.copier = copier.NewService(client, hostapi.NewPoller(client, cfg.API.PollInterval, log), tasks, a.metrics, log)

	return a, nil
}

func newUnitRepository(cfg *config.Config, log *slog.Logger) (unit.Repository, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		return unit.NewRedisRepositoryFromURL(ctx, cfg.Store.RedisURL, log)
	case config.StoreDriverBolt:
		return unit.NewBoltRepository(cfg.Store.BoltPath, log)
	}

	return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
}

func (a *App) repository(repoID string) (*entity.Repository, error) {
	rc, ok := a.cfg.RepositoryByID(repoID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrRepositoryNotFound, repoID)
	}

	return rc.Repository(), nil
}

func (a *App) newReport(repoID string) *progress.Report {
	log := a.log.With(slog.String("repo_id", repoID))
	report := progress.New(func(s progress.Snapshot) {
		log.Debug("Progress", slog.String("metadata", string(s.MetadataState)), slog.String("modules", string(s.ModulesState)),
			slog.Int("finished", s.ModuleFinishedCount), slog.Int("total", s.ModuleTotalCount))
	})

	a.mu.Lock()
	a.reports[repoID] = report
	a.mu.Unlock()

	return report
}

// Sync synchronizes the configured repository repoID with its feed.
func (a *App) Sync(ctx context.Context, repoID string) (*synchronizer.Result, error) {
	repo, err := a.repository(repoID)
	if err != nil {
		return nil, err
	}

	d, err := downloader.New(repo, a.dlCfg, a.log)
	if err != nil {
		return nil, fmt.Errorf("cannot create downloader: %w", err)
	}

	return a.syncer.SyncWithReport(ctx, repo, d, func() *progress.Report {
		return a.newReport(repoID)
	})
}

// Publish publishes every known unit of repoID.
func (a *App) Publish(ctx context.Context, repoID string) (*publish.Result, error) {
	repo, err := a.repository(repoID)
	if err != nil {
		return nil, err
	}

	units, err := a.units.List(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("cannot list units: %w", err)
	}

	return a.distributor.Publish(ctx, repo, units, repo.Distributor)
}

func (a *App) Copy(ctx context.Context, req copier.Request) error {
	return a.copier.Run(ctx, req)
}

func (a *App) History(ctx context.Context, repoID string, limit int) ([]*entity.TaskRecord, error) {
	return a.tasks.List(ctx, repoID, limit)
}

// Task returns the finished run with the given id.
func (a *App) Task(ctx context.Context, id string) (*entity.TaskRecord, error) {
	return a.tasks.Get(ctx, id)
}

// RepoIDs returns every repository holding units, sorted. Repositories removed
// from the configuration are listed too while their units remain.
func (a *App) RepoIDs(ctx context.Context) ([]string, error) {
	ids, err := a.units.RepoIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot list repositories: %w", err)
	}
	sort.Strings(ids)

	return ids, nil
}

func (a *App) Units(ctx context.Context, repoID string) ([]*entity.Unit, error) {
	return a.units.List(ctx, repoID)
}

func (a *App) Unit(ctx context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error) {
	return a.units.Get(ctx, repoID, key)
}

func (a *App) DownloadCounters(ctx context.Context, repoID string) (map[string]int, error) {
	return a.counter.GetDownloadCounters(ctx, repoID)
}

// Progress returns the last progress snapshot of repoID.
func (a *App) Progress(repoID string) (progress.Snapshot, bool) {
	a.mu.Lock()
	report, ok := a.reports[repoID]
	a.mu.Unlock()

	if !ok {
		return progress.Snapshot{}, false
	}

	return report.Snapshot(), true
}

// Location returns the hosting location of repoID.
func (a *App) Location(repoID string) (string, bool) {
	repo, err := a.repository(repoID)
	if err != nil {
		return "", false
	}

	return a.distributor.HostingLocations(repo, repo.Distributor)[0], true
}

// SyncAll syncs every configured repository in order. Errors are logged.
func (a *App) SyncAll(ctx context.Context) {
	for _, rc := range a.cfg.Repositories {
		if _, err := a.Sync(ctx, rc.ID); err != nil {
			a.log.Error("Cannot sync repository", slog.String("repo_id", rc.ID), slog.Any("error", err))
		}
	}
}

// PublishAll publishes every configured repository in order. Errors are logged.
func (a *App) PublishAll(ctx context.Context) {
	for _, rc := range a.cfg.Repositories {
		if _, err := a.Publish(ctx, rc.ID); err != nil {
			a.log.Error("Cannot publish repository", slog.String("repo_id", rc.ID), slog.Any("error", err))
		}
	}
}

func (a *App) Handler() http.Handler {
	return httphandler.NewRouter(&httphandler.Services{
		Fs:       a.fs,
		Locator:  a,
		History:  a.tasks,
		Sync:     a,
		Progress: a,
		Counter:  a.counter,
		Units:    a,
		Gatherer: a.registry,
	}, a.log)
}

// Start serves the HTTP surface in the background.
func (a *App) Start() <-chan error {
	a.srv = &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("Start listen", slog.String("addr", a.cfg.Listen))

		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Could not serve", slog.String("listen_addr", a.cfg.Listen), slog.Any("error", err))
			errc <- err
		}
		close(errc)
	}()

	return errc
}

func (a *App) Stop() {
	if a.srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(ctx); err != nil {
		a.log.Error("Cannot shutdown server", slog.Any("error", err))
	}
}

func (a *App) Close() error {
	var errs []error
	if a.tasks != nil {
		errs = append(errs, a.tasks.Close())
	}

	if a.units != nil {
		errs = append(errs, a.units.Close())
	}

	return errors.Join(errs...)
}
