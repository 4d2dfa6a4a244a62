package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"vin-service/internal/domain/vin"
	"vin-service/internal/repository"
	"vin-service/internal/utils"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("snapshot storage unavailable")
)

type VINStore interface {
	SaveScan(ctx context.Context, record *repository.Record, scan *repository.Scan) (bool, error)
	FindByVIN(ctx context.Context, vin string) (*repository.Record, error)
	ScanStats(ctx context.Context, recordID uuid.UUID) (int64, *time.Time, error)
	SetSnapshotURL(ctx context.Context, vin, url string) error
	DeleteOldScans(ctx context.Context, days int) (int64, error)
}

type SnapshotStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

type VINService struct {
	repo      VINStore
	snapshots SnapshotStore
	log       zerolog.Logger
	now       func() time.Time
}

// NewVINService builds the service. snapshots may be nil when object storage
// is not configured.
func NewVINService(repo VINStore, snapshots SnapshotStore, log zerolog.Logger) *VINService {
	return &VINService{
		repo:      repo,
		snapshots: snapshots,
		log:       log,
		now:       time.Now,
	}
}

type SubmitResult struct {
	ID      uuid.UUID
	VIN     vin.VIN
	Created bool
}

// SubmitScan validates and records one scan. Created=false means the VIN was
// already known; the sighting is still recorded.
func (s *VINService) SubmitScan(ctx context.Context, req vin.ScanResult, clientIP string) (*SubmitResult, error) {
	parsed, err := utils.ParseVIN(req.VIN.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !utils.ValidVINChecksum(parsed.String()) {
		return nil, fmt.Errorf("%w: vin %s fails checksum", ErrInvalidInput, parsed)
	}
	if req.Geolocation != nil {
		if req.Geolocation.Lat < -90 || req.Geolocation.Lat > 90 || req.Geolocation.Lng < -180 || req.Geolocation.Lng > 180 {
			return nil, fmt.Errorf("%w: geolocation out of range", ErrInvalidInput)
		}
	}

	capturedAt := req.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = s.now()
	}

	sourceIP := optionalString(req.SourceIP)
	if sourceIP == nil && clientIP != "" {
		sourceIP = &clientIP
	}
	material := optionalString(req.MaterialOrKind)

	scan := &repository.Scan{
		VIN:          parsed.String(),
		CapturedAt:   capturedAt,
		SourceIP:     sourceIP,
		MaterialKind: material,
	}
	if req.Geolocation != nil {
		lat, lng := req.Geolocation.Lat, req.Geolocation.Lng
		scan.Lat = &lat
		scan.Lng = &lng
	}
	if req.Recognizer != "" {
		recognizer := req.Recognizer
		scan.Recognizer = &recognizer
	}
	if req.RawText != "" {
		raw, err := json.Marshal(map[string]interface{}{"raw_text": req.RawText})
		if err != nil {
			return nil, fmt.Errorf("marshal raw payload: %w", err)
		}
		scan.RawPayload = datatypes.JSON(raw)
	}

	record := &repository.Record{
		VIN:          parsed.String(),
		MaterialKind: material,
		FirstSeenAt:  capturedAt,
	}

	created, err := s.repo.SaveScan(ctx, record, scan)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("vin", parsed.String()).
			Msg("failed to save vin scan")
		return nil, fmt.Errorf("failed to save vin scan: %w", err)
	}

	logEvent := s.log.Info()
	if !created {
		logEvent = s.log.Debug()
	}
	logEvent.
		Str("record_id", record.ID.String()).
		Str("vin", parsed.String()).
		Bool("created", created).
		Time("captured_at", capturedAt).
		Msg("vin scan recorded")

	return &SubmitResult{
		ID:      record.ID,
		VIN:     parsed,
		Created: created,
	}, nil
}

func (s *VINService) GetRecord(ctx context.Context, raw string) (*vin.RecordInfo, error) {
	parsed, err := utils.ParseVIN(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	record, err := s.repo.FindByVIN(ctx, parsed.String())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: vin %s", ErrNotFound, parsed)
		}
		return nil, fmt.Errorf("failed to find vin record: %w", err)
	}

	count, lastScanAt, err := s.repo.ScanStats(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan stats: %w", err)
	}

	return &vin.RecordInfo{
		ID:          record.ID,
		VIN:         record.VIN,
		Material:    record.MaterialKind,
		SnapshotURL: record.SnapshotURL,
		FirstSeenAt: record.FirstSeenAt,
		ScanCount:   count,
		LastScanAt:  lastScanAt,
	}, nil
}

// UploadSnapshot сохраняет фото VIN-таблички в R2 и привязывает ссылку к записи
func (s *VINService) UploadSnapshot(ctx context.Context, raw string, filename string, body io.Reader, size int64, contentType string) (string, error) {
	if s.snapshots == nil {
		return "", ErrStorageUnavailable
	}
	parsed, err := utils.ParseVIN(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if size <= 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: content type %q is not an image", ErrInvalidInput, contentType)
	}

	if _, err := s.repo.FindByVIN(ctx, parsed.String()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", fmt.Errorf("%w: vin %s", ErrNotFound, parsed)
		}
		return "", fmt.Errorf("failed to find vin record: %w", err)
	}

	key := SnapshotKey(parsed, filename)
	url, err := s.snapshots.Upload(ctx, key, body, size, contentType)
	if err != nil {
		s.log.Error().Err(err).Str("vin", parsed.String()).Str("key", key).Msg("failed to upload snapshot")
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	if err := s.repo.SetSnapshotURL(ctx, parsed.String(), url); err != nil {
		return "", fmt.Errorf("failed to set snapshot url: %w", err)
	}

	s.log.Info().
		Str("vin", parsed.String()).
		Str("snapshot_url", url).
		Msg("vin snapshot uploaded")

	return url, nil
}

func SnapshotKey(v vin.VIN, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	return fmt.Sprintf("vin/%s/%s%s", v, uuid.NewString(), ext)
}

// CleanupOldScans удаляет обнаружения старше указанного количества дней
func (s *VINService) CleanupOldScans(ctx context.Context, days int) (int64, error) {
	deleted, err := s.repo.DeleteOldScans(ctx, days)
	if err != nil {
		s.log.Error().Err(err).Int("days", days).Msg("failed to cleanup old scans")
		return 0, err
	}
	if deleted > 0 {
		s.log.Info().Int64("deleted_count", deleted).Int("days", days).Msg("cleaned up old scans")
	}
	return deleted, nil
}

// RunRetention periodically calls CleanupOldScans until ctx is cancelled.
func (s *VINService) RunRetention(ctx context.Context, days int, interval time.Duration) {
	if days <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = s.CleanupOldScans(ctx, days)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func optionalString(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
