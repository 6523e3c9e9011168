package mysql

import (
	"context"
	"errors"
	"time"

	"devicefarm/pkg/logger"
	"devicefarm/pkg/store/mysql/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UtilizationRepository handles device utilization persistence in MySQL
type UtilizationRepository struct {
	ds *Datastore
}

// NewUtilizationRepository creates a new utilization repository
func NewUtilizationRepository(ds *Datastore) *UtilizationRepository {
	return &UtilizationRepository{ds: ds}
}

// Get returns the utilization in milliseconds, 0 when missing or unreadable
func (r *UtilizationRepository) Get(ctx context.Context, udid string) int64 {
	var record model.DeviceUtilization
	err := r.ds.DB(ctx).Where("udid = ?", udid).First(&record).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.WarnCtx(ctx, "failed to read utilization for %s: %v", udid, err)
		}
		return 0
	}
	if record.TotalMs < 0 {
		return 0
	}
	return record.TotalMs
}

// Set stores the utilization in milliseconds
func (r *UtilizationRepository) Set(ctx context.Context, udid string, ms int64) error {
	return r.upsertStatement(r.ds.DB(ctx), udid, ms).Error
}

func (r *UtilizationRepository) upsertStatement(db *gorm.DB, udid string, ms int64) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "udid"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_ms", "updated_at"}),
	}).Create(&model.DeviceUtilization{
		UDID:      udid,
		TotalMs:   ms,
		UpdatedAt: time.Now(),
	})
}
