package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jgivc/modsync/internal/common"
	"github.com/jgivc/modsync/internal/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultLimit = 50

// taskRecord is the stored form of entity.TaskRecord.
type taskRecord struct {
	ID         string `gorm:"primaryKey"`
	RepoID     string `gorm:"index"`
	Kind       string `gorm:"index"`
	State      string
	Finished   int
	Errors     int
	Message    string
	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time
}

func (taskRecord) TableName() string {
	return "task_history"
}

type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the sqlite database at file. ":memory:" is accepted.
func NewStore(file string) (*Store, error) {
	if file != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(file), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("cannot open history database: %w", err)
	}

	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("cannot migrate history database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, rec *entity.TaskRecord) error {
	row := taskRecord(*rec)

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("cannot save history record: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*entity.TaskRecord, error) {
	var row taskRecord

	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrTaskNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("cannot get history record: %w", err)
	}

	rec := entity.TaskRecord(row)

	return &rec, nil
}

// List returns the newest records of repoID first. An empty repoID lists every repository.
func (s *Store) List(ctx context.Context, repoID string, limit int) ([]*entity.TaskRecord, error) {
	if limit < 1 {
		limit = defaultLimit
	}

	q := s.db.WithContext(ctx).Model(&taskRecord{})
	if repoID != "" {
		q = q.Where("repo_id = ?", repoID)
	}

	var rows []taskRecord
	if err := q.Order("started_at desc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("cannot list history: %w", err)
	}

	records := make([]*entity.TaskRecord, 0, len(rows))
	for _, row := range rows {
		rec := entity.TaskRecord(row)
		records = append(records, &rec)
	}

	return records, nil
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}

	return db.Close()
}
