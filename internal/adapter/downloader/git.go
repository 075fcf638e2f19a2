package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/spf13/afero"
)

// CloneFunc returns the worktree of the repository at url.
type CloneFunc func(ctx context.Context, url string) (billy.Filesystem, error)

// ShallowClone clones the default branch with depth 1 into memory.
func ShallowClone(ctx context.Context, url string) (billy.Filesystem, error) {
	wt := memfs.New()

	_, err := git.CloneContext(ctx, memory.NewStorage(), wt, &git.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot clone %s: %w", url, err)
	}

	return wt, nil
}

// GitDownloader reads a feed committed to a git repository. The repository is
// cloned once, on first use, and read like a local feed.
type GitDownloader struct {
	url   string
	clone CloneFunc
	temp  *tempFiles
	log   *slog.Logger

	mu sync.Mutex
	wt billy.Filesystem
}

func NewGitDownloader(url string, cfg Config, log *slog.Logger) *GitDownloader {
	return NewGitDownloaderWithClone(ShallowClone, afero.NewOsFs(), url, cfg, log)
}

func NewGitDownloaderWithClone(clone CloneFunc, fs afero.Fs, url string, cfg Config, log *slog.Logger) *GitDownloader {
	return &GitDownloader{
		url:   url,
		clone: clone,
		temp:  newTempFiles(fs, cfg.TempDir),
		log:   log.With(slog.String("item", "GitDownloader"), slog.String("url", url)),
	}
}

func (d *GitDownloader) worktree(ctx context.Context) (billy.Filesystem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.wt != nil {
		return d.wt, nil
	}

	wt, err := d.clone(ctx, d.url)
	if err != nil {
		return nil, err
	}

	d.log.Debug("Repository cloned")
	d.wt = wt

	return wt, nil
}

func (d *GitDownloader) RetrieveMetadata(ctx context.Context, report *progress.Report) ([][]byte, error) {
	source := d.url + "#" + MetadataFilename

	report.StartMetadataQuery(1, source)

	wt, err := d.worktree(ctx)
	if err != nil {
		d.log.Error("Cannot clone repository", slog.Any("error", err))

		return nil, common.NewRetrievalError(d.url, err)
	}

	f, err := wt.Open(MetadataFilename)
	if err != nil {
		return nil, common.NewRetrievalError(source, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, common.NewRetrievalError(source, err)
	}

	report.FinishMetadataQuery()

	return [][]byte{data}, nil
}

func (d *GitDownloader) RetrieveModule(ctx context.Context, report *progress.Report, m *entity.Module) (string, error) {
	source := d.url + "#" + m.Filename()

	report.BeginModule(m.Name)

	wt, err := d.worktree(ctx)
	if err != nil {
		return "", common.NewRetrievalError(d.url, err)
	}

	f, err := wt.Open(m.Filename())
	if err != nil {
		return "", common.NewRetrievalError(source, err)
	}
	defer f.Close()

	path, err := d.temp.store(m, f)
	if err != nil {
		return "", common.NewRetrievalError(source, err)
	}

	report.FinishModule()

	return path, nil
}

func (d *GitDownloader) CleanupModule(m *entity.Module) error {
	return d.temp.cleanup(m)
}

func (d *GitDownloader) Fs() afero.Fs {
	return d.temp.fs
}
