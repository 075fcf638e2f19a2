package synchronizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/adapter/downloader"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/jgivc/modsync/internal/service/synchronizer")

type UnitRepository interface {
	List(ctx context.Context, repoID string) ([]*entity.Unit, error)
	Save(ctx context.Context, repoID string, unit *entity.Unit) error
	Delete(ctx context.Context, repoID string, key entity.ModuleKey) error
}

type HistoryRecorder interface {
	Record(ctx context.Context, rec *entity.TaskRecord) error
}

type Config struct {
	StorageDir    string
	Workers       int
	RemoveMissing bool
}

// Result summarizes one sync run. A run that returns a Result without error
// may still have failed modules; see Errors.
type Result struct {
	RunID    string
	Total    int
	Skipped  int
	Synced   int
	Failed   int
	Removed  int
	Errors   map[string]string
	Duration time.Duration
}

type outcome struct {
	module *entity.Module
	err    error
}

// importError marks a module that was retrieved but could not be imported.
type importError struct {
	err error
}

func (e *importError) Error() string {
	return e.err.Error()
}

func (e *importError) Unwrap() error {
	return e.err
}

type Synchronizer struct {
	fs      afero.Fs
	units   UnitRepository
	history HistoryRecorder
	metrics *metrics.Metrics
	cfg     Config
	log     *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

func NewSynchronizer(units UnitRepository, history HistoryRecorder, m *metrics.Metrics, cfg Config, log *slog.Logger) *Synchronizer {
	return NewSynchronizerWithFS(afero.NewOsFs(), units, history, m, cfg, log)
}

func NewSynchronizerWithFS(fs afero.Fs, units UnitRepository, history HistoryRecorder, m *metrics.Metrics, cfg Config, log *slog.Logger) *Synchronizer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Synchronizer{
		fs:      fs,
		units:   units,
		history: history,
		metrics: m,
		cfg:     cfg,
		log:     log.With(slog.String("item", "Synchronizer")),
		running: make(map[string]struct{}),
	}
}

func (s *Synchronizer) acquire(repoID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.running[repoID]; exists {
		return false
	}
	s.running[repoID] = struct{}{}

	return true
}

func (s *Synchronizer) release(repoID string) {
	s.mu.Lock()
	delete(s.running, repoID)
	s.mu.Unlock()
}

/*
Sync brings the units of repo in line with the feed served by d.

A failure to retrieve or parse metadata aborts the run. A module that cannot
be retrieved or imported is recorded in report and in the result, and the
run continues with the other modules.
*/
func (s *Synchronizer) Sync(ctx context.Context, repo *entity.Repository, d downloader.Downloader, report *progress.Report) (*Result, error) {
	return s.SyncWithReport(ctx, repo, d, func() *progress.Report { return report })
}

// SyncWithReport is Sync with a report created by newReport once the run owns
// repo. A rejected run never calls newReport.
func (s *Synchronizer) SyncWithReport(ctx context.Context, repo *entity.Repository, d downloader.Downloader, newReport func() *progress.Report) (*Result, error) {
	if !s.acquire(repo.ID) {
		return nil, common.ErrSyncAlreadyStarted
	}
	defer s.release(repo.ID)

	report := newReport()

	res := &Result{
		RunID:  uuid.NewString(),
		Errors: make(map[string]string),
	}
	start := time.Now()
	log := s.log.With(slog.String("repo_id", repo.ID), slog.String("run_id", res.RunID))

	ctx, span := tracer.Start(ctx, "sync")
	span.SetAttributes(attribute.String("repo.id", repo.ID), attribute.String("run.id", res.RunID))
	defer span.End()

	err := s.run(ctx, log, repo, d, report, res)
	res.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Sync failed", slog.Any("error", err))
	} else {
		span.SetAttributes(
			attribute.Int("modules.synced", res.Synced),
			attribute.Int("modules.failed", res.Failed),
		)
		log.Info("Sync finished",
			slog.Int("synced", res.Synced),
			slog.Int("failed", res.Failed),
			slog.Int("skipped", res.Skipped),
			slog.Int("removed", res.Removed),
			slog.Duration("duration", res.Duration))
	}

	s.metrics.RunFinished(repo.ID, entity.TaskKindSync, start, err)
	s.record(repo.ID, res, start, err)

	return res, err
}

func (s *Synchronizer) run(ctx context.Context, log *slog.Logger, repo *entity.Repository, d downloader.Downloader, report *progress.Report, res *Result) error {
	metadata, err := s.retrieveMetadata(ctx, d, report)
	if err != nil {
		report.MetadataFailed(err)

		return err
	}
	report.MetadataDone()

	known, err := s.units.List(ctx, repo.ID)
	if err != nil {
		report.ModulesFailed()

		return fmt.Errorf("cannot list units: %w", err)
	}

	knownKeys := make(map[entity.ModuleKey]*entity.Unit, len(known))
	for _, u := range known {
		knownKeys[u.Key()] = u
	}

	modules := metadata.Modules()
	toFetch := make([]*entity.Module, 0, len(modules))
	for _, m := range modules {
		if _, exists := knownKeys[m.Key()]; !exists {
			toFetch = append(toFetch, m)
		}
	}

	res.Total = len(modules)
	res.Skipped = len(modules) - len(toFetch)

	log.Info("Metadata retrieved", slog.Int("modules", len(modules)), slog.Int("to_fetch", len(toFetch)))

	report.SetModuleTotal(len(toFetch))

	for o := range s.fetch(ctx, log, repo, d, report, toFetch) {
		if o.err != nil {
			var ierr *importError
			if errors.As(o.err, &ierr) {
				report.FailImport(o.module.String(), ierr.err)
			} else {
				report.FailModule(o.module.String(), o.err)
			}
			s.metrics.ModuleFailed(repo.ID)
			res.Failed++
			res.Errors[o.module.String()] = o.err.Error()

			continue
		}

		s.metrics.ModuleRetrieved(repo.ID)
		res.Synced++
	}

	if err := ctx.Err(); err != nil {
		report.ModulesFailed()

		return err
	}

	report.ModulesDone()

	if s.cfg.RemoveMissing {
		for key, u := range knownKeys {
			if _, exists := metadata.Get(key); exists {
				continue
			}

			if err := s.removeUnit(ctx, repo.ID, u); err != nil {
				log.Error("Cannot remove unit", slog.String("unit", key.String()), slog.Any("error", err))

				continue
			}

			res.Removed++
		}

		s.metrics.ModulesRemoved(repo.ID, res.Removed)
	}

	return nil
}

func (s *Synchronizer) retrieveMetadata(ctx context.Context, d downloader.Downloader, report *progress.Report) (*entity.RepositoryMetadata, error) {
	docs, err := d.RetrieveMetadata(ctx, report)
	if err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, common.ErrNoMetadataDocuments
	}

	metadata := entity.NewRepositoryMetadata()
	for _, doc := range docs {
		if err := metadata.UpdateFromJSON(doc); err != nil {
			return nil, err
		}
	}

	return metadata, nil
}

// fetch retrieves modules on a pool of workers and streams the outcomes.
func (s *Synchronizer) fetch(ctx context.Context, log *slog.Logger, repo *entity.Repository, d downloader.Downloader, report *progress.Report, modules []*entity.Module) <-chan outcome {
	in := make(chan *entity.Module, len(modules))
	out := make(chan outcome, len(modules))

	for _, m := range modules {
		in <- m
	}
	close(in)

	workers := min(s.cfg.Workers, len(modules))

	var wg sync.WaitGroup
	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go s.worker(ctx, log.With(slog.Int("worker_id", n)), repo, d, report, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (s *Synchronizer) worker(ctx context.Context, log *slog.Logger, repo *entity.Repository, d downloader.Downloader, report *progress.Report, in <-chan *entity.Module, out chan<- outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	log.Debug("Started")

	for m := range in {
		select {
		case <-ctx.Done():
			log.Info("Interrupted")

			return
		default:
		}

		err := s.syncModule(ctx, repo, d, report, m)
		if err != nil {
			log.Error("Cannot sync module", slog.String("module", m.String()), slog.Any("error", err))
		}

		out <- outcome{module: m, err: err}
	}

	log.Debug("Done")
}

func (s *Synchronizer) syncModule(ctx context.Context, repo *entity.Repository, d downloader.Downloader, report *progress.Report, m *entity.Module) error {
	defer func() {
		if err := d.CleanupModule(m); err != nil {
			s.log.Warn("Cannot cleanup module", slog.String("module", m.String()), slog.Any("error", err))
		}
	}()

	path, err := d.RetrieveModule(ctx, report, m)
	if err != nil {
		return err
	}

	unit, err := s.importModule(downloader.SourceFs(d), path, repo.ID, m)
	if err != nil {
		return &importError{err: err}
	}

	if err := s.units.Save(ctx, repo.ID, unit); err != nil {
		_ = s.fs.Remove(unit.StoragePath)

		return &importError{err: fmt.Errorf("cannot save unit: %w", err)}
	}

	return nil
}

// StoragePath returns where the artifact of m is imported for repoID.
// Every repository owns its own directory.
func (s *Synchronizer) StoragePath(repoID string, m *entity.Module) string {
	return filepath.Join(s.repoStorageDir(repoID), m.Filename())
}

func (s *Synchronizer) repoStorageDir(repoID string) string {
	return filepath.Join(s.cfg.StorageDir, repoID)
}

// importModule copies the retrieved artifact into the storage dir of repoID and verifies its checksum.
func (s *Synchronizer) importModule(srcFs afero.Fs, path, repoID string, m *entity.Module) (*entity.Unit, error) {
	checksumType := util.NormalizeChecksumType(m.ChecksumType)
	dst := s.StoragePath(repoID, m)

	sum, err := util.CopyFile(srcFs, path, s.fs, dst, checksumType)
	if err != nil {
		return nil, fmt.Errorf("cannot import module: %w", err)
	}

	if m.Checksum != "" && !strings.EqualFold(m.Checksum, sum) {
		_ = s.fs.Remove(dst)

		return nil, &common.ChecksumError{
			Filename: m.Filename(),
			Type:     checksumType,
			Expected: m.Checksum,
			Actual:   sum,
		}
	}

	return entity.NewUnit(m, dst, sum, checksumType), nil
}

func (s *Synchronizer) removeUnit(ctx context.Context, repoID string, u *entity.Unit) error {
	if err := s.units.Delete(ctx, repoID, u.Key()); err != nil && !errors.Is(err, common.ErrUnitNotFound) {
		return err
	}

	// Artifacts outside the directory of repoID belong to someone else.
	if u.StoragePath == "" || filepath.Dir(u.StoragePath) != s.repoStorageDir(repoID) {
		return nil
	}

	if err := s.fs.Remove(u.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove artifact: %w", err)
	}

	return nil
}

func (s *Synchronizer) record(repoID string, res *Result, start time.Time, err error) {
	if s.history == nil {
		return
	}

	rec := &entity.TaskRecord{
		ID:         res.RunID,
		RepoID:     repoID,
		Kind:       entity.TaskKindSync,
		State:      entity.TaskStateSuccess,
		Finished:   res.Synced,
		Errors:     res.Failed,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}

	if err != nil {
		rec.State = entity.TaskStateFailed
		rec.Message = err.Error()
	}

	// The run context may already be canceled.
	if err := s.history.Record(context.Background(), rec); err != nil {
		s.log.Error("Cannot record history", slog.String("run_id", res.RunID), slog.Any("error", err))
	}
}
