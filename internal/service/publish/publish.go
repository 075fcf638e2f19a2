package publish

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/modsync/internal/adapter/mdadapter"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/config"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
	"github.com/jgivc/modsync/internal/util"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	ManifestFilename = "PULP_MANIFEST"
	IndexFilename    = "index.html"
)

var (
	tracer = otel.Tracer("github.com/jgivc/modsync/internal/service/publish")

	errNoManifest = errors.New("no manifest is open")
)

type IndexRenderer interface {
	Render(title string, entries []mdadapter.Entry) ([]byte, error)
}

type HistoryRecorder interface {
	Record(ctx context.Context, rec *entity.TaskRecord) error
}

type Config struct {
	HostingDir string
	Workers    int
}

type Result struct {
	RunID    string
	Location string
	Units    int
	Duration time.Duration
}

// Distributor publishes imported units into a hosting location with a
// checksum manifest.
type Distributor struct {
	fs      afero.Fs
	cfg     Config
	index   IndexRenderer
	history HistoryRecorder
	metrics *metrics.Metrics
	log     *slog.Logger

	mu       sync.Mutex
	manifest *csv.Writer

	// Serializes whole manifests between concurrent publishes.
	manifestMu sync.Mutex
}

func NewDistributor(index IndexRenderer, history HistoryRecorder, m *metrics.Metrics, cfg Config, log *slog.Logger) *Distributor {
	return NewDistributorWithFS(afero.NewOsFs(), index, history, m, cfg, log)
}

func NewDistributorWithFS(fs afero.Fs, index IndexRenderer, history HistoryRecorder, m *metrics.Metrics, cfg Config, log *slog.Logger) *Distributor {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return &Distributor{
		fs:      fs,
		cfg:     cfg,
		index:   index,
		history: history,
		metrics: m,
		log:     log.With(slog.String("item", "Distributor")),
	}
}

/*
ValidateConfig checks the distributor options of repo.

An absent hosting_directory_override is valid. A present one must name an
existing directory; a null or empty value is invalid.
*/
func (d *Distributor) ValidateConfig(repo *entity.Repository, cfg entity.PluginConfig) (bool, string) {
	v, exists := cfg.Lookup(config.KeyHostingDirOverride)
	if !exists {
		return true, ""
	}

	dir, _ := v.(string)
	if dir == "" {
		return false, fmt.Sprintf("The hosting directory specified for the distributor of %s is invalid: %v", repo.ID, v)
	}

	if !util.DirExists(d.fs, dir) {
		return false, fmt.Sprintf("The hosting directory %s does not exist", dir)
	}

	return true, ""
}

// HostingLocations returns the directories the units of repo are published to.
func (d *Distributor) HostingLocations(repo *entity.Repository, cfg entity.PluginConfig) []string {
	base := d.cfg.HostingDir
	if override := cfg.String(config.KeyHostingDirOverride); override != "" {
		base = override
	}

	return []string{filepath.Join(base, repo.ID)}
}

// PathsForUnit returns the paths of unit relative to a hosting location.
func (d *Distributor) PathsForUnit(unit *entity.Unit) []string {
	return []string{filepath.Base(unit.StoragePath)}
}

// OpenManifest directs the following PublishMetadataForUnit calls to w.
func (d *Distributor) OpenManifest(w io.Writer) {
	d.mu.Lock()
	d.manifest = csv.NewWriter(w)
	d.mu.Unlock()
}

// CloseManifest flushes the current manifest.
func (d *Distributor) CloseManifest() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.manifest == nil {
		return errNoManifest
	}

	d.manifest.Flush()
	err := d.manifest.Error()
	d.manifest = nil

	return err
}

// PublishMetadataForUnit writes the manifest row filename,checksum,checksum_type of unit.
func (d *Distributor) PublishMetadataForUnit(unit *entity.Unit) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.manifest == nil {
		return errNoManifest
	}

	if err := d.manifest.Write([]string{d.PathsForUnit(unit)[0], unit.Checksum, unit.ChecksumType}); err != nil {
		return fmt.Errorf("cannot write manifest row: %w", err)
	}

	return nil
}

// Publish copies units into the hosting location of repo, then writes the manifest and the index page.
func (d *Distributor) Publish(ctx context.Context, repo *entity.Repository, units []*entity.Unit, cfg entity.PluginConfig) (*Result, error) {
	res := &Result{RunID: uuid.NewString()}
	start := time.Now()
	log := d.log.With(slog.String("repo_id", repo.ID), slog.String("run_id", res.RunID))

	ctx, span := tracer.Start(ctx, "publish")
	span.SetAttributes(attribute.String("repo.id", repo.ID), attribute.Int("units", len(units)))
	defer span.End()

	err := d.publish(ctx, log, repo, units, cfg, res)
	res.Duration = time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("Publish failed", slog.Any("error", err))
	} else {
		d.metrics.UnitsPublished(repo.ID, res.Units)
		log.Info("Published", slog.String("location", res.Location), slog.Int("units", res.Units), slog.Duration("duration", res.Duration))
	}

	d.metrics.RunFinished(repo.ID, entity.TaskKindPublish, start, err)
	d.record(repo.ID, res, start, err)

	return res, err
}

func (d *Distributor) publish(ctx context.Context, log *slog.Logger, repo *entity.Repository, units []*entity.Unit, cfg entity.PluginConfig, res *Result) error {
	if ok, msg := d.ValidateConfig(repo, cfg); !ok {
		return &common.ConfigurationError{Msg: msg}
	}

	location := d.HostingLocations(repo, cfg)[0]
	res.Location = location

	if err := d.fs.MkdirAll(location, 0o755); err != nil {
		return fmt.Errorf("cannot create hosting location: %w", err)
	}

	if err := d.copyUnits(ctx, log, location, units); err != nil {
		return err
	}

	if err := d.writeManifest(location, units); err != nil {
		return err
	}

	if d.index != nil {
		if err := d.writeIndex(repo, location, units); err != nil {
			return err
		}
	}

	res.Units = len(units)

	return nil
}

func (d *Distributor) copyUnits(ctx context.Context, log *slog.Logger, location string, units []*entity.Unit) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, unit := range units {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			dst := filepath.Join(location, d.PathsForUnit(unit)[0])
			if _, err := util.CopyFile(d.fs, unit.StoragePath, d.fs, dst, unit.ChecksumType); err != nil {
				log.Error("Cannot publish unit", slog.String("unit", unit.Key().String()), slog.Any("error", err))

				return fmt.Errorf("cannot publish unit %s: %w", unit.Key(), err)
			}

			return nil
		})
	}

	return g.Wait()
}

// writeManifest writes one row per unit in the order of units.
func (d *Distributor) writeManifest(location string, units []*entity.Unit) error {
	d.manifestMu.Lock()
	defer d.manifestMu.Unlock()

	path := filepath.Join(location, ManifestFilename)
	tmpPath := path + ".tmp"

	f, err := d.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("cannot create manifest: %w", err)
	}

	d.OpenManifest(f)

	for _, unit := range units {
		if err := d.PublishMetadataForUnit(unit); err != nil {
			_ = d.CloseManifest()
			f.Close()
			_ = d.fs.Remove(tmpPath)

			return err
		}
	}

	if err := d.CloseManifest(); err != nil {
		f.Close()
		_ = d.fs.Remove(tmpPath)

		return fmt.Errorf("cannot flush manifest: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = d.fs.Remove(tmpPath)

		return fmt.Errorf("cannot close manifest: %w", err)
	}

	if err := d.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cannot rename manifest: %w", err)
	}

	return nil
}

func (d *Distributor) writeIndex(repo *entity.Repository, location string, units []*entity.Unit) error {
	entries := make([]mdadapter.Entry, 0, len(units))
	for _, unit := range units {
		entries = append(entries, mdadapter.Entry{
			Filename:     d.PathsForUnit(unit)[0],
			Checksum:     unit.Checksum,
			ChecksumType: unit.ChecksumType,
		})
	}

	page, err := d.index.Render(repo.ID, entries)
	if err != nil {
		return fmt.Errorf("cannot render index page: %w", err)
	}

	if err := afero.WriteFile(d.fs, filepath.Join(location, IndexFilename), page, 0o644); err != nil {
		return fmt.Errorf("cannot write index page: %w", err)
	}

	return nil
}

func (d *Distributor) record(repoID string, res *Result, start time.Time, err error) {
	if d.history == nil {
		return
	}

	rec := &entity.TaskRecord{
		ID:         res.RunID,
		RepoID:     repoID,
		Kind:       entity.TaskKindPublish,
		State:      entity.TaskStateSuccess,
		Finished:   res.Units,
		Message:    res.Location,
		StartedAt:  start,
		FinishedAt: time.Now(),
	}

	if err != nil {
		rec.State = entity.TaskStateFailed
		rec.Message = err.Error()
	}

	if err := d.history.Record(context.Background(), rec); err != nil {
		d.log.Error("Cannot record history", slog.String("run_id", res.RunID), slog.Any("error", err))
	}
}
