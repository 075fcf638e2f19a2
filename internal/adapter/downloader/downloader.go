package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/spf13/afero"
)

const (
	// MetadataFilename is the catalog file name at the root of a feed.
	MetadataFilename = "modules.json"
)

// Downloader retrieves the metadata documents and the module artifacts of a feed.
type Downloader interface {
	// RetrieveMetadata returns the raw metadata documents in retrieval order.
	RetrieveMetadata(ctx context.Context, report *progress.Report) ([][]byte, error)
	// RetrieveModule makes the artifact of m available locally and returns its path.
	RetrieveModule(ctx context.Context, report *progress.Report, m *entity.Module) (string, error)
	// CleanupModule releases what RetrieveModule created for m. It never fails when nothing exists.
	CleanupModule(m *entity.Module) error
}

type Config struct {
	TempDir           string
	HTTPTimeout       time.Duration
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3SessionToken    string
}

type constructor func(repo *entity.Repository, feed *url.URL, cfg Config, log *slog.Logger) (Downloader, error)

var registry = map[string]constructor{
	"file":      newLocalFromURL,
	"http":      newRemoteFromURL,
	"https":     newRemoteFromURL,
	"s3":        newS3FromURL,
	"git+https": newGitFromURL,
	"git+http":  newGitFromURL,
	"git+ssh":   newGitFromURL,
	"git+file":  newGitFromURL,
}

// New returns the downloader registered for the scheme of the repository feed.
func New(repo *entity.Repository, cfg Config, log *slog.Logger) (Downloader, error) {
	feed, err := url.Parse(repo.Feed)
	if err != nil {
		return nil, fmt.Errorf("cannot parse feed url: %w", err)
	}

	ctor, exists := registry[strings.ToLower(feed.Scheme)]
	if !exists {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownScheme, feed.Scheme)
	}

	return ctor(repo, feed, cfg, log)
}

func newLocalFromURL(_ *entity.Repository, feed *url.URL, _ Config, log *slog.Logger) (Downloader, error) {
	return NewLocalDownloader(feed.Path, log), nil
}

func newRemoteFromURL(repo *entity.Repository, feed *url.URL, cfg Config, log *slog.Logger) (Downloader, error) {
	return NewRemoteDownloader(feed.String(), repo.Queries, cfg, log), nil
}

func newS3FromURL(_ *entity.Repository, feed *url.URL, cfg Config, log *slog.Logger) (Downloader, error) {
	if feed.Host == "" {
		return nil, fmt.Errorf("s3 feed has no bucket: %s", feed.String())
	}

	return NewS3Downloader(feed.Host, strings.Trim(feed.Path, "/"), cfg, log), nil
}

func newGitFromURL(_ *entity.Repository, feed *url.URL, cfg Config, log *slog.Logger) (Downloader, error) {
	cloneURL := *feed
	cloneURL.Scheme = strings.TrimPrefix(feed.Scheme, "git+")

	return NewGitDownloader(cloneURL.String(), cfg, log), nil
}

// FileSystem is implemented by downloaders whose returned paths live on a
// filesystem other than the OS one.
type FileSystem interface {
	Fs() afero.Fs
}

// SourceFs returns the filesystem the paths of d refer to.
func SourceFs(d Downloader) afero.Fs {
	if f, ok := d.(FileSystem); ok {
		return f.Fs()
	}

	return afero.NewOsFs()
}
