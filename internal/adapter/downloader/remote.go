package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/spf13/afero"
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

/*
RemoteDownloader fetches a Forge style feed over HTTP.

Metadata is requested once per query as <feed>/modules.json?q=<query>, or once
without a query when none are configured. Artifacts live under
<feed>/system/releases/<first letter of author>/<author>/<filename> and are
streamed into temp files.
*/
type RemoteDownloader struct {
	feed    string
	queries []string
	client  Doer
	temp    *tempFiles
	log     *slog.Logger
}

func NewRemoteDownloader(feed string, queries []string, cfg Config, log *slog.Logger) *RemoteDownloader {
	return NewRemoteDownloaderWithClient(&http.Client{Timeout: cfg.HTTPTimeout}, afero.NewOsFs(), feed, queries, cfg, log)
}

func NewRemoteDownloaderWithClient(client Doer, fs afero.Fs, feed string, queries []string, cfg Config, log *slog.Logger) *RemoteDownloader {
	return &RemoteDownloader{
		feed:    strings.TrimRight(feed, "/"),
		queries: queries,
		client:  client,
		temp:    newTempFiles(fs, cfg.TempDir),
		log:     log.With(slog.String("item", "RemoteDownloader")),
	}
}

func (d *RemoteDownloader) metadataURLs() []string {
	base := d.feed + "/" + MetadataFilename
	if len(d.queries) == 0 {
		return []string{base}
	}

	urls := make([]string, 0, len(d.queries))
	for _, q := range d.queries {
		urls = append(urls, base+"?q="+url.QueryEscape(q))
	}

	return urls
}

// ModuleURL returns the location of the artifact of m in the feed.
func (d *RemoteDownloader) ModuleURL(m *entity.Module) string {
	letter := ""
	if m.Author != "" {
		letter = m.Author[:1]
	}

	return fmt.Sprintf("%s/system/releases/%s/%s/%s", d.feed, letter, m.Author, m.Filename())
}

func (d *RemoteDownloader) RetrieveMetadata(ctx context.Context, report *progress.Report) ([][]byte, error) {
	urls := d.metadataURLs()
	docs := make([][]byte, 0, len(urls))

	for _, u := range urls {
		report.StartMetadataQuery(len(urls), u)

		body, err := d.get(ctx, u)
		if err != nil {
			d.log.Error("Cannot retrieve metadata", slog.String("url", u), slog.Any("error", err))

			return nil, err
		}

		data, err := io.ReadAll(body)
		body.Close()

		if err != nil {
			return nil, common.NewRetrievalError(u, err)
		}

		docs = append(docs, data)

		report.FinishMetadataQuery()
	}

	return docs, nil
}

func (d *RemoteDownloader) RetrieveModule(ctx context.Context, report *progress.Report, m *entity.Module) (string, error) {
	u := d.ModuleURL(m)

	report.BeginModule(m.Name)

	body, err := d.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer body.Close()

	path, err := d.temp.store(m, body)
	if err != nil {
		return "", common.NewRetrievalError(u, err)
	}

	report.FinishModule()

	return path, nil
}

func (d *RemoteDownloader) CleanupModule(m *entity.Module) error {
	return d.temp.cleanup(m)
}

func (d *RemoteDownloader) Fs() afero.Fs {
	return d.temp.fs
}

func (d *RemoteDownloader) get(ctx context.Context, u string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, common.NewRetrievalError(u, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, common.NewRetrievalError(u, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		resp.Body.Close()

		return nil, common.NewRetrievalError(u, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return resp.Body, nil
}
