package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/spf13/afero"
)

// LocalDownloader reads a feed laid out as a directory: modules.json next to the artifacts.
type LocalDownloader struct {
	fs   afero.Fs
	root string
	log  *slog.Logger
}

func NewLocalDownloader(root string, log *slog.Logger) *LocalDownloader {
	return NewLocalDownloaderWithFS(afero.NewOsFs(), root, log)
}

func NewLocalDownloaderWithFS(fs afero.Fs, root string, log *slog.Logger) *LocalDownloader {
	return &LocalDownloader{
		fs:   fs,
		root: root,
		log:  log.With(slog.String("item", "LocalDownloader")),
	}
}

func (d *LocalDownloader) RetrieveMetadata(ctx context.Context, report *progress.Report) ([][]byte, error) {
	path := filepath.Join(d.root, MetadataFilename)

	report.StartMetadataQuery(1, path)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(d.fs, path)
	if err != nil {
		d.log.Error("Cannot read metadata", slog.String("path", path), slog.Any("error", err))

		return nil, common.NewRetrievalError(path, err)
	}

	report.FinishMetadataQuery()

	return [][]byte{data}, nil
}

// RetrieveModule returns the artifact path inside the feed directory. Nothing is copied.
func (d *LocalDownloader) RetrieveModule(ctx context.Context, report *progress.Report, m *entity.Module) (string, error) {
	path := filepath.Join(d.root, m.Filename())

	report.BeginModule(m.Name)

	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := d.fs.Stat(path)
	if err != nil {
		return "", common.NewRetrievalError(path, err)
	}

	if info.IsDir() {
		return "", common.NewRetrievalError(path, fmt.Errorf("is a directory"))
	}

	report.FinishModule()

	return path, nil
}

func (d *LocalDownloader) CleanupModule(_ *entity.Module) error {
	return nil
}

func (d *LocalDownloader) Fs() afero.Fs {
	return d.fs
}
