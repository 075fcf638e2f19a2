package unit

import (
	"context"
	"strings"

	"github.com/jgivc/modsync/internal/entity"
)

const (
	KeyUnits     = "u" // HASH. u:<repo_id> <author>-<name>-<version>: unit JSON
	KeyDownloads = "d" // HASH. d:<repo_id> <filename>: download counter
	KeySeparator = ":"

	ScanCount = 1000
)

// Repository keeps the units imported into each repository.
type Repository interface {
	List(ctx context.Context, repoID string) ([]*entity.Unit, error)
	Get(ctx context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error)
	Save(ctx context.Context, repoID string, unit *entity.Unit) error
	Delete(ctx context.Context, repoID string, key entity.ModuleKey) error
	RepoIDs(ctx context.Context) ([]string, error)
	IncDownloadCounter(ctx context.Context, repoID, filename string) (int64, error)
	GetDownloadCounters(ctx context.Context, repoID string) (map[string]int, error)
	Close() error
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}
