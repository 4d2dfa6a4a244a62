package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("vin already exists")
)

type VINRepository struct {
	db *gorm.DB
}

func NewVINRepository(db *gorm.DB) *VINRepository {
	return &VINRepository{db: db}
}

func (Record) TableName() string {
	return "vin_records"
}

func (Scan) TableName() string {
	return "vin_scans"
}

type Record struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	VIN          string    `gorm:"column:vin;not null;uniqueIndex"`
	MaterialKind *string
	SnapshotURL  *string
	FirstSeenAt  time.Time `gorm:"not null"`
	CreatedAt    time.Time
}

type Scan struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	RecordID     uuid.UUID `gorm:"type:uuid;not null"`
	VIN          string    `gorm:"column:vin;not null"`
	CapturedAt   time.Time `gorm:"not null"`
	Lat          *float64
	Lng          *float64
	SourceIP     *string
	MaterialKind *string
	Recognizer   *string
	Duplicate    bool
	RawPayload   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time
}

// SaveScan stores a sighting. A new VIN creates its record and first scan in
// one transaction and returns created=true. An existing VIN only gets the
// scan appended (marked duplicate) and returns created=false; record is then
// filled with the stored row.
func (r *VINRepository) SaveScan(ctx context.Context, record *Record, scan *Scan) (bool, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if scan.ID == uuid.Nil {
		scan.ID = uuid.New()
	}
	now := time.Now()
	record.CreatedAt = now
	scan.CreatedAt = now

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		scan.RecordID = record.ID
		return tx.Create(scan).Error
	})
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, fmt.Errorf("failed to create vin record: %w", err)
	}

	existing, err := r.FindByVIN(ctx, record.VIN)
	if err != nil {
		return false, err
	}
	*record = *existing

	scan.ID = uuid.New()
	scan.RecordID = existing.ID
	scan.Duplicate = true
	if err := r.db.WithContext(ctx).Create(scan).Error; err != nil {
		return false, fmt.Errorf("failed to append vin scan: %w", err)
	}
	return false, nil
}

func (r *VINRepository) FindByVIN(ctx context.Context, vin string) (*Record, error) {
	var record Record
	err := r.db.WithContext(ctx).Where("vin = ?", vin).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *VINRepository) ScanStats(ctx context.Context, recordID uuid.UUID) (int64, *time.Time, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&Scan{}).Where("record_id = ?", recordID).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var last Scan
	err := r.db.WithContext(ctx).
		Where("record_id = ?", recordID).
		Order("captured_at DESC").
		First(&last).Error
	if err != nil {
		return 0, nil, err
	}
	return count, &last.CapturedAt, nil
}

func (r *VINRepository) SetSnapshotURL(ctx context.Context, vin, url string) error {
	result := r.db.WithContext(ctx).
		Model(&Record{}).
		Where("vin = ?", vin).
		Update("snapshot_url", url)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOldScans удаляет обнаружения старше указанного количества дней.
// Сами записи vin_records не удаляются.
func (r *VINRepository) DeleteOldScans(ctx context.Context, days int) (int64, error) {
	cutoffTime := time.Now().AddDate(0, 0, -days)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoffTime).
		Delete(&Scan{})

	if result.Error != nil {
		return 0, result.Error
	}

	return result.RowsAffected, nil
}
