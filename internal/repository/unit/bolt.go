package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	bolt "go.etcd.io/bbolt"
)

var (
	unitsBucket     = []byte(KeyUnits)
	downloadsBucket = []byte(KeyDownloads)
)

// boltRepository stores units in a bolt file: one nested bucket per repository
// under "u". Download counters live under "d" the same way.
type boltRepository struct {
	db  *bolt.DB
	log *slog.Logger
}

func NewBoltRepository(path string, log *slog.Logger) (*boltRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open unit database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{unitsBucket, downloadsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create bucket: %w", err)
	}

	return &boltRepository{
		db:  db,
		log: log.With(slog.String("item", "BoltUnitRepository")),
	}, nil
}

func (r *boltRepository) List(_ context.Context, repoID string) ([]*entity.Unit, error) {
	var units []*entity.Unit

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(unitsBucket).Bucket([]byte(repoID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var u entity.Unit
			if err := json.Unmarshal(v, &u); err != nil {
				r.log.Error("Cannot decode unit", slog.String("repo_id", repoID), slog.String("unit", string(k)), slog.Any("error", err))

				return nil
			}

			units = append(units, &u)

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list units: %w", err)
	}

	return units, nil
}

func (r *boltRepository) Get(_ context.Context, repoID string, key entity.ModuleKey) (*entity.Unit, error) {
	var u *entity.Unit

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(unitsBucket).Bucket([]byte(repoID))
		if b == nil {
			return common.ErrUnitNotFound
		}

		data := b.Get([]byte(key.String()))
		if data == nil {
			return common.ErrUnitNotFound
		}

		u = &entity.Unit{}

		return json.Unmarshal(data, u)
	})
	if err != nil {
		return nil, err
	}

	return u, nil
}

func (r *boltRepository) Save(_ context.Context, repoID string, unit *entity.Unit) error {
	data, err := json.Marshal(unit)
	if err != nil {
		return fmt.Errorf("cannot encode unit: %w", err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(unitsBucket).CreateBucketIfNotExists([]byte(repoID))
		if err != nil {
			return fmt.Errorf("cannot create repository bucket: %w", err)
		}

		return b.Put([]byte(unit.Key().String()), data)
	})
}

func (r *boltRepository) Delete(_ context.Context, repoID string, key entity.ModuleKey) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(unitsBucket).Bucket([]byte(repoID))
		if b == nil || b.Get([]byte(key.String())) == nil {
			return common.ErrUnitNotFound
		}

		return b.Delete([]byte(key.String()))
	})
}

func (r *boltRepository) RepoIDs(_ context.Context) ([]string, error) {
	var ids []string

	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(unitsBucket).ForEach(func(k, v []byte) error {
			// Nested buckets have nil values.
			if v == nil {
				ids = append(ids, string(k))
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cannot list repositories: %w", err)
	}

	return ids, nil
}

func (r *boltRepository) IncDownloadCounter(_ context.Context, repoID, filename string) (int64, error) {
	var counter int64

	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(downloadsBucket).CreateBucketIfNotExists([]byte(repoID))
		if err != nil {
			return err
		}

		if v := b.Get([]byte(filename)); v != nil {
			if counter, err = strconv.ParseInt(string(v), 10, 64); err != nil {
				return err
			}
		}
		counter++

		return b.Put([]byte(filename), []byte(strconv.FormatInt(counter, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("cannot increment download counter: %w", err)
	}

	return counter, nil
}

func (r *boltRepository) GetDownloadCounters(_ context.Context, repoID string) (map[string]int, error) {
	counters := make(map[string]int)

	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(downloadsBucket).Bucket([]byte(repoID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			counter, err := strconv.Atoi(string(v))
			if err != nil {
				return err
			}
			counters[string(k)] = counter

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cannot get download counters: %w", err)
	}

	return counters, nil
}

func (r *boltRepository) Close() error {
	return r.db.Close()
}
