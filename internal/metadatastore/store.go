// Package metadatastore implements the external hearing metadata store §6
// describes: one row per job with `id, title, committee, date,
// processing_stage, full_text_content, updated_at`. The core only ever
// updates processing_stage and full_text_content, plus the row's
// updated_at timestamp. Backed by gorm+sqlite,
// grounded on tphakala-birdnet-go's internal/datastore.SQLiteStore
// construction, narrowed to this core's single table and single-writer
// per job_id transaction discipline (§5).
package metadatastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ProcessingStage names the values the core writes to a hearing row (§6).
type ProcessingStage string

const (
	StageCaptured    ProcessingStage = "captured"
	StageTranscribed ProcessingStage = "transcribed"
)

// ErrHearingNotFound indicates no row exists for the given job id.
var ErrHearingNotFound = errors.New("hearing record not found")

// Hearing is one row of the external metadata store (§6).
type Hearing struct {
	ID               string `gorm:"primaryKey"`
	Title            string
	Committee        string
	Date             time.Time
	ProcessingStage  ProcessingStage
	FullTextContent  string
	UpdatedAt        time.Time
}

// Store wraps the hearing metadata table (§6). Reads are plain queries;
// writes happen one row update per transaction (§5, "no long-held locks").
type Store struct {
	db *gorm.DB
}

// Open constructs a Store backed by a SQLite file at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&Hearing{}); err != nil {
		return nil, fmt.Errorf("metadatastore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Create inserts a new hearing row. The core pipeline never calls this —
// rows originate from the out-of-scope capture/ingestion façade — but the
// store exposes it since any writer of this table needs the same
// single-writer transaction discipline as MarkCaptured/MarkTranscribed.
func (s *Store) Create(ctx context.Context, h Hearing) error {
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&h).Error; err != nil {
		return fmt.Errorf("metadatastore: create %s: %w", h.ID, err)
	}
	return nil
}

// Get reads the hearing record for jobID (§4.7 "hearing" preflight check).
func (s *Store) Get(ctx context.Context, jobID string) (Hearing, error) {
	var h Hearing
	err := s.db.WithContext(ctx).First(&h, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Hearing{}, fmt.Errorf("%w: %s", ErrHearingNotFound, jobID)
	}
	if err != nil {
		return Hearing{}, fmt.Errorf("metadatastore: get %s: %w", jobID, err)
	}
	return h, nil
}

// MarkCaptured sets processing_stage=captured for jobID, one transaction
// per call (§5, §6).
func (s *Store) MarkCaptured(ctx context.Context, jobID string) error {
	return s.updateOne(ctx, jobID, map[string]interface{}{
		"processing_stage": StageCaptured,
		"updated_at":       time.Now(),
	})
}

// MarkTranscribed sets processing_stage=transcribed, full_text_content and
// updated_at for jobID (§6).
func (s *Store) MarkTranscribed(ctx context.Context, jobID, text string) error {
	return s.updateOne(ctx, jobID, map[string]interface{}{
		"processing_stage":  StageTranscribed,
		"full_text_content": text,
		"updated_at":        time.Now(),
	})
}

func (s *Store) updateOne(ctx context.Context, jobID string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&Hearing{}).Where("id = ?", jobID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("metadatastore: update %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrHearingNotFound, jobID)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
