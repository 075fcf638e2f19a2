package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/progress"
	"github.com/spf13/afero"
)

var errNoSuchKey = errors.New("no such key")

type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Downloader reads a feed stored in a bucket with the same layout as a local feed.
type S3Downloader struct {
	client ObjectGetter
	bucket string
	prefix string
	temp   *tempFiles
	log    *slog.Logger
}

func NewS3Downloader(bucket, prefix string, cfg Config, log *slog.Logger) *S3Downloader {
	opts := s3.Options{
		Region:       cfg.S3Region,
		UsePathStyle: true,
		Credentials:  s3Credentials(cfg),
	}

	if cfg.S3Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return NewS3DownloaderWithClient(s3.New(opts), afero.NewOsFs(), bucket, prefix, cfg, log)
}

// s3Credentials returns static credentials from cfg, or anonymous ones when no
// access key is configured.
func s3Credentials(cfg Config) aws.CredentialsProvider {
	if cfg.S3AccessKeyID == "" {
		return aws.AnonymousCredentials{}
	}

	creds := aws.Credentials{
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		SessionToken:    cfg.S3SessionToken,
		Source:          "modsync",
	}

	return aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return creds, nil
	}))
}

func NewS3DownloaderWithClient(client ObjectGetter, fs afero.Fs, bucket, prefix string, cfg Config, log *slog.Logger) *S3Downloader {
	return &S3Downloader{
		client: client,
		bucket: bucket,
		prefix: prefix,
		temp:   newTempFiles(fs, cfg.TempDir),
		log:    log.With(slog.String("item", "S3Downloader"), slog.String("bucket", bucket)),
	}
}

func (d *S3Downloader) key(name string) string {
	if d.prefix == "" {
		return name
	}

	return path.Join(d.prefix, name)
}

func (d *S3Downloader) RetrieveMetadata(ctx context.Context, report *progress.Report) ([][]byte, error) {
	key := d.key(MetadataFilename)

	report.StartMetadataQuery(1, key)

	body, err := d.get(ctx, key)
	if err != nil {
		d.log.Error("Cannot retrieve metadata", slog.String("key", key), slog.Any("error", err))

		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, common.NewRetrievalError(d.source(key), err)
	}

	report.FinishMetadataQuery()

	return [][]byte{data}, nil
}

func (d *S3Downloader) RetrieveModule(ctx context.Context, report *progress.Report, m *entity.Module) (string, error) {
	key := d.key(m.Filename())

	report.BeginModule(m.Name)

	body, err := d.get(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	p, err := d.temp.store(m, body)
	if err != nil {
		return "", common.NewRetrievalError(d.source(key), err)
	}

	report.FinishModule()

	return p, nil
}

func (d *S3Downloader) CleanupModule(m *entity.Module) error {
	return d.temp.cleanup(m)
}

func (d *S3Downloader) Fs() afero.Fs {
	return d.temp.fs
}

func (d *S3Downloader) source(key string) string {
	return fmt.Sprintf("s3://%s/%s", d.bucket, key)
}

func (d *S3Downloader) get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, common.NewRetrievalError(d.source(key), errNoSuchKey)
		}

		return nil, common.NewRetrievalError(d.source(key), err)
	}

	return out.Body, nil
}
