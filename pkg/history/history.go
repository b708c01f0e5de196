// Package history persists the outcome of every sync job to sqlite.
package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mitchellh/go-homedir"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"rsyncssh/pkg/executor"
	"rsyncssh/pkg/orchestrator"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusSkipped Status = "SKIPPED"
)

type Record struct {
	gorm.Model
	Project    string    `gorm:"index"`
	Key        string    `gorm:"not null"`
	Host       string    `gorm:"not null"`
	Identity   string    `gorm:"not null;index"`
	SrcPath    string    `gorm:"not null"`
	DstPath    string    `gorm:"not null"`
	Status     Status    `gorm:"not null;index"`
	Kind       string    `gorm:"not null"`
	SyncedAt   time.Time `gorm:"not null;index"`
	FromRemote bool
	DryRun     bool
	ErrMsg     string
	Warnings   int
	DurationMS int64
}

type Stats struct {
	Total   int64 `json:"total"`
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
	Skipped int64 `json:"skipped"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open creates the database file and its directory when missing.
func Open(dbPath string) (*Store, error) {
	expanded, err := homedir.Expand(dbPath)
	if err != nil {
		return nil, fmt.Errorf("expand db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(expanded), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func statusOf(o executor.Outcome) Status {
	switch {
	case o.Failed():
		return StatusFailed
	case o.Succeeded():
		return StatusSuccess
	}
	return StatusSkipped
}

// Record stores one row per job of the run.
func (s *Store) Record(ctx context.Context, summary *orchestrator.Summary) error {
	if len(summary.Outcomes) == 0 {
		return nil
	}

	records := make([]Record, 0, len(summary.Outcomes))
	for _, o := range summary.Outcomes {
		r := Record{
			Project:    summary.Project,
			Key:        o.Key,
			Host:       o.Host,
			Identity:   o.Identity,
			SrcPath:    o.SourcePath,
			DstPath:    o.DestinationPath,
			FromRemote: o.FromRemote,
			DryRun:     o.DryRun,
			Status:     statusOf(o),
			Kind:       string(o.Kind),
			Warnings:   len(o.Warnings),
			DurationMS: o.Duration.Milliseconds(),
			SyncedAt:   o.Started,
		}
		if o.Err != nil {
			r.ErrMsg = o.Err.Error()
		}
		if r.SyncedAt.IsZero() {
			r.SyncedAt = s.now()
		}
		records = append(records, r)
	}

	return s.db.WithContext(ctx).Create(&records).Error
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	result := s.db.WithContext(ctx).
		Order("synced_at desc").
		Limit(limit).
		Find(&records)

	return records, result.Error
}

func (s *Store) Failed(ctx context.Context, limit int) ([]Record, error) {
	var records []Record
	result := s.db.WithContext(ctx).
		Where("status = ?", StatusFailed).
		Order("synced_at desc").
		Limit(limit).
		Find(&records)

	return records, result.Error
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&Record{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&Record{}).Where("status = ?", StatusSuccess).Count(&stats.Success).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&Record{}).Where("status = ?", StatusFailed).Count(&stats.Failed).Error; err != nil {
		return stats, err
	}

	stats.Skipped = stats.Total - stats.Success - stats.Failed
	return stats, nil
}
