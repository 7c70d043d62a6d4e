package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type snapshotRow struct {
	Name      string `gorm:"primaryKey"`
	Value     []byte
	UpdatedAt time.Time
}

func (snapshotRow) TableName() string {
	return "snapshots"
}

type SnapshotRepository struct {
	db *gorm.DB
}

// Open opens (or creates) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*SnapshotRepository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&snapshotRow{}); err != nil {
		return nil, err
	}
	return &SnapshotRepository{db: db}, nil
}

func (r *SnapshotRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var row snapshotRow
	err := r.db.WithContext(ctx).First(&row, "name = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

func (r *SnapshotRepository) Put(ctx context.Context, key string, value []byte) error {
	row := snapshotRow{Name: key, Value: value}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (r *SnapshotRepository) Delete(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Delete(&snapshotRow{}, "name = ?", key).Error
}

func (r *SnapshotRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
