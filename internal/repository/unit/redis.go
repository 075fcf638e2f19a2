package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"github.com/redis/go-redis/v9"
)

type redisRepository struct {
	cl  *redis.Client
	log *slog.Logger
}

func NewRedisRepository(cl *redis.Client, log *slog.Logger) *redisRepository {
	return &redisRepository{
		cl:  cl,
		log: log.With(slog.String("item", "RedisUnitRepository")),
	}
}

// NewRedisRepositoryFromURL connects to the server at url and checks it answers.
func NewRedisRepositoryFromURL(ctx context.Context, url string, log *slog.Logger) (*redisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	cl := redis.NewClient(opts)
	if err := cl.Ping(ctx).Err(); err != nil {
		cl.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	return NewRedisRepository(cl, log), nil
}

func (r *redisRepository) List(ctx context.Context, repoID string) ([]*entity.Unit, error) {
	values, err := r.cl.HGetAll(ctx, getKey(KeyUnits, repoID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get units: %w", err)
	}

	fields := make([]string, 0, len(values))
	for field := range values {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	units := make([]*entity.Unit, 0, len(values))
	for _, field := range fields {
		var u entity.Unit
		if err := json.Unmarshal([]byte(values[field]), &u); err != nil {
			r.log.Error("Cannot decode unit", slog.String("repo_id", repoID), slog.String("unit", field), slog.Any("error", err))

			continue
		}

		units = append(units, &u)
	}

	return units, nil
}

func (r *redisRepository) Get(ctx context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error) {
	val, err := r.cl.HGet(ctx, getKey(KeyUnits, repoID), key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrUnitNotFound
		}

		return nil, fmt.Errorf("cannot get unit %s: %w", key, err)
	}

	var u entity.Unit
	if err := json.Unmarshal([]byte(val), &u); err != nil {
		return nil, fmt.Errorf("cannot decode unit %s: %w", key, err)
	}

	return &u, nil
}

func (r *redisRepository) Save(ctx context.Context, repoID string, unit *entity.Unit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("cannot encode unit: %w", err)
	}

	if err := r.cl.HSet(ctx, getKey(KeyUnits, repoID), unit.Key().String(), data).Err(); err != nil {
		return fmt.Errorf("cannot save unit %s: %w", unit.Key(), err)
	}

	return nil
}

func (r *redisRepository) Delete(ctx context.Context, repoID string, key entity.ModuleKey) error {
	n, err := r.cl.HDel(ctx, getKey(KeyUnits, repoID), key.String()).Result()
	if err != nil {
		return fmt.Errorf("cannot delete unit %s: %w", key, err)
	}

	if n == 0 {
		return common.ErrUnitNotFound
	}

	return nil
}

func (r *redisRepository) RepoIDs(ctx context.Context) ([]string, error) {
	pattern := getKey(KeyUnits, "*")
	prefix := getKey(KeyUnits, "")

	var (
		cursor uint64
		ids    []string
	)

	for {
		keys, nextCursor, err := r.cl.Scan(ctx, cursor, pattern, ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("error scanning keys: %w", err)
		}

		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (r *redisRepository) IncDownloadCounter(ctx context.Context, repoID, filename string) (int64, error) {
	counter, err := r.cl.HIncrBy(ctx, getKey(KeyDownloads, repoID), filename, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("cannot increment download counter: %w", err)
	}

	return counter, nil
}

func (r *redisRepository) GetDownloadCounters(ctx context.Context, repoID string) (map[string]int, error) {
	values, err := r.cl.HGetAll(ctx, getKey(KeyDownloads, repoID)).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get download counters: %w", err)
	}

	counters := make(map[string]int, len(values))
	for filename, value := range values {
		counter, err := strconv.Atoi(value)
		if err != nil {
			r.log.Error("Cannot parse download counter", slog.String("repo_id", repoID), slog.String("file", filename), slog.Any("error", err))

			continue
		}

		counters[filename] = counter
	}

	return counters, nil
}

func (r *redisRepository) Close() error {
	return r.cl.Close()
}
