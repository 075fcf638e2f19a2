package counter

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	serviceName = "counter"
)

type CounterRepository interface {
	IncDownloadCounter(ctx context.Context, repoID, filename string) (int64, error)
	GetDownloadCounters(ctx context.Context, repoID string) (map[string]int, error)
}

// CounterService counts downloads of published artifacts.
type CounterService struct {
	repo CounterRepository
	log  *slog.Logger
}

func NewCounterService(repo CounterRepository, log *slog.Logger) *CounterService {
	return &CounterService{
		repo: repo,
		log:  log.With(slog.String("service", serviceName)),
	}
}

// Count records one download of filename. A failure is logged and not returned,
// the download itself already succeeded.
func (c *CounterService) Count(ctx context.Context, repoID, filename string) {
	counter, err := c.repo.IncDownloadCounter(ctx, repoID, filename)
	if err != nil {
		c.log.Error("Cannot increment download counter", slog.String("repo_id", repoID), slog.String("file", filename), slog.Any("error", err))

		return
	}

	c.log.Debug("Download", slog.String("repo_id", repoID), slog.String("file", filename), slog.Int64("counter", counter))
}

func (c *CounterService) GetDownloadCounters(ctx context.Context, repoID string) (map[string]int, error) {
	counters, err := c.repo.GetDownloadCounters(ctx, repoID)
	if err != nil {
		c.log.Error("Cannot get download counters", slog.String("repo_id", repoID), slog.Any("error", err))

		return nil, fmt.Errorf("cannot get download %s counters: %w", repoID, err)
	}

	return counters, nil
}
