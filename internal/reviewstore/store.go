package reviewstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/review"
)

// DataStore implements review.Store using a GORM database.
type DataStore struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// New creates a store based on the configured backend. When neither SQL
// backend is enabled the in-memory reference store is returned.
func New(settings *conf.Settings) review.Store {
	switch {
	case settings.Store.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}
	case settings.Store.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return NewMemoryStore()
	}
}

// storeLogger returns the package logger, lazily bound so tests without
// logging.Init still work.
func storeLogger() *slog.Logger {
	if l := logging.ForService("reviewstore"); l != nil {
		return l
	}
	return slog.Default().With("service", "reviewstore")
}

// createGormLogger configures nearly silent gorm logging; slow queries and
// errors still surface.
func createGormLogger() gormlogger.Interface {
	return gormlogger.Default.LogMode(gormlogger.Warn)
}

// performAutoMigration migrates the review schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&ReviewRecord{}, &AuditRecord{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}
	if debug {
		storeLogger().Debug("database migration successful", "type", dbType, "connection", connectionInfo)
	}
	return nil
}

// Get returns the latest committed snapshot for a dataset.
func (ds *DataStore) Get(ctx context.Context, datasetID string) (*review.DatasetReview, error) {
	var rec ReviewRecord
	err := ds.DB.WithContext(ctx).Where("dataset_id = ?", datasetID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, review.ErrNotFound
		}
		return nil, fmt.Errorf("getting review %s: %w", datasetID, err)
	}
	return fromRecord(&rec)
}

// Create stores a new review record.
func (ds *DataStore) Create(ctx context.Context, r *review.DatasetReview) error {
	rec, err := toRecord(r)
	if err != nil {
		return err
	}
	if err := ds.DB.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return review.ErrAlreadyExists
		}
		return fmt.Errorf("creating review %s: %w", r.DatasetID, err)
	}
	return nil
}

// Update commits a mutated snapshot under the optimistic version check:
// the row is only written when its stored version is the snapshot's base
// version. Zero rows affected means the version moved or the row is gone.
func (ds *DataStore) Update(ctx context.Context, r *review.DatasetReview) error {
	rec, err := toRecord(r)
	if err != nil {
		return err
	}

	res := ds.DB.WithContext(ctx).
		Model(&ReviewRecord{}).
		Where("dataset_id = ? AND version = ?", r.DatasetID, r.Version-1).
		Updates(map[string]any{
			"status":                      rec.Status,
			"reviewer_user_id":            rec.ReviewerUserID,
			"preapproved":                 rec.Preapproved,
			"approved_data_points":        rec.ApprovedDataPoints,
			"approved_custom_data_points": rec.ApprovedCustomDataPoints,
			"approved_qa_reports":         rec.ApprovedQaReports,
			"rejected_data_points":        rec.RejectedDataPoints,
			"version":                     rec.Version,
			"updated_at":                  rec.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("updating review %s: %w", r.DatasetID, res.Error)
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing row from a moved version.
		var count int64
		if err := ds.DB.WithContext(ctx).Model(&ReviewRecord{}).
			Where("dataset_id = ?", r.DatasetID).Count(&count).Error; err != nil {
			return fmt.Errorf("updating review %s: %w", r.DatasetID, err)
		}
		if count == 0 {
			return review.ErrNotFound
		}
		return review.ErrVersionConflict
	}
	return nil
}

// ListByStatus returns reviews in a state ordered by creation time ascending.
func (ds *DataStore) ListByStatus(ctx context.Context, status review.Status, limit, offset int) ([]*review.DatasetReview, int64, error) {
	var total int64
	q := ds.DB.WithContext(ctx).Model(&ReviewRecord{}).Where("status = ?", string(status))
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting reviews by status %s: %w", status, err)
	}

	var recs []ReviewRecord
	query := ds.DB.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing reviews by status %s: %w", status, err)
	}

	reviews := make([]*review.DatasetReview, 0, len(recs))
	for i := range recs {
		r, err := fromRecord(&recs[i])
		if err != nil {
			return nil, 0, err
		}
		reviews = append(reviews, r)
	}
	return reviews, total, nil
}

// AppendAudit appends audit entries in one transaction.
func (ds *DataStore) AppendAudit(ctx context.Context, entries ...review.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	recs := make([]*AuditRecord, 0, len(entries))
	for i := range entries {
		recs = append(recs, toAuditRecord(&entries[i]))
	}
	if err := ds.DB.WithContext(ctx).Create(recs).Error; err != nil {
		return fmt.Errorf("appending %d audit entries: %w", len(entries), err)
	}
	return nil
}

// AuditTrail returns a dataset's audit entries ordered by time ascending.
func (ds *DataStore) AuditTrail(ctx context.Context, datasetID string) ([]review.AuditEntry, error) {
	var recs []AuditRecord
	err := ds.DB.WithContext(ctx).
		Where("dataset_id = ?", datasetID).
		Order("timestamp ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("loading audit trail for %s: %w", datasetID, err)
	}
	entries := make([]review.AuditEntry, 0, len(recs))
	for i := range recs {
		entries = append(entries, fromAuditRecord(&recs[i]))
	}
	return entries, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
// Relies on gorm error translation being enabled on the connection.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// gormConfig is the shared connection configuration for both SQL backends.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         createGormLogger(),
		TranslateError: true,
		NowFunc:        time.Now,
	}
}
