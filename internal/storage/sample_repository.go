package storage

import (
	"context"
	"time"

	apperrors "github.com/magickw/linkDAO-sub011/internal/errors"
	"github.com/magickw/linkDAO-sub011/internal/models"
)

// SampleRepository appends health monitor probe samples to ClickHouse.
type SampleRepository struct {
	db *ClickHouseDB
}

// NewSampleRepository creates a new sample repository
func NewSampleRepository(db *ClickHouseDB) *SampleRepository {
	return &SampleRepository{db: db}
}

// Insert appends one probe sample
func (r *SampleRepository) Insert(ctx context.Context, sample *models.MonitorSample) error {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO monitor_samples (ts, source, target, ok, latency_ms, confidence)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := r.db.Exec(ctx, query,
		sample.Timestamp,
		sample.Source,
		sample.Target,
		sample.OK,
		sample.LatencyMS,
		sample.Confidence,
	)
	if err != nil {
		return apperrors.NewDatabaseError("insert monitor sample", err)
	}

	return nil
}
