// Package repository keeps the history of render runs in the database.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/mantonx/loopforge/internal/database"
)

// ErrRunNotFound is returned when no run matches the lookup.
var ErrRunNotFound = errors.New("render run not found")

// interruptedCause is recorded for runs left open by a previous process.
const interruptedCause = "interrupted by service restart"

// RunFilter narrows List results. Zero values match everything.
type RunFilter struct {
	JobID  string
	Slot   string
	Status database.RenderStatus
	Limit  int
	Offset int
}

// RunStore provides database-backed render run history
type RunStore struct {
	db     *gorm.DB
	logger hclog.Logger
}

// NewRunStore creates a new run store
func NewRunStore(db *gorm.DB, logger hclog.Logger) *RunStore {
	return &RunStore{
		db:     db,
		logger: logger.Named("run-store"),
	}
}

// Begin records a new running run. An empty runID gets a generated one.
func (s *RunStore) Begin(ctx context.Context, runID, jobID, slot, kind, request string) (*database.RenderRun, error) {
	if runID == "" {
		runID = uuid.New().String()
	}
	run := &database.RenderRun{
		ID:        runID,
		JobID:     jobID,
		Slot:      slot,
		Kind:      kind,
		Status:    database.RenderStatusRunning,
		Request:   request,
		StartedAt: time.Now(),
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create render run: %w", err)
	}

	s.logger.Debug("render run recorded", "run_id", run.ID, "job_id", jobID, "slot", slot)
	return run, nil
}

// UpdateProgress stores the latest progress ratio and message.
func (s *RunStore) UpdateProgress(ctx context.Context, runID string, ratio float64, message string) error {
	result := s.db.WithContext(ctx).Model(&database.RenderRun{}).
		Where("id = ? AND status = ?", runID, database.RenderStatusRunning).
		Updates(map[string]interface{}{
			"progress": ratio,
			"message":  message,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update progress: %w", result.Error)
	}
	return nil
}

// Finish moves a run to a terminal status.
func (s *RunStore) Finish(ctx context.Context, runID string, status database.RenderStatus, outputPath, cause string, logs []string) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}

	updates := map[string]interface{}{
		"status":      status,
		"output_path": outputPath,
		"cause":       cause,
		"logs":        database.JoinLogs(logs),
		"finished_at": time.Now(),
	}
	if status == database.RenderStatusCompleted {
		updates["progress"] = 1.0
	}

	result := s.db.WithContext(ctx).Model(&database.RenderRun{}).
		Where("id = ?", runID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to finish render run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}

	s.logger.Debug("render run finished", "run_id", runID, "status", status)
	return nil
}

// Get retrieves a run by ID
func (s *RunStore) Get(ctx context.Context, runID string) (*database.RenderRun, error) {
	var run database.RenderRun
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render run: %w", err)
	}
	return &run, nil
}

// Latest returns the most recent run for a slot.
func (s *RunStore) Latest(ctx context.Context, slot string) (*database.RenderRun, error) {
	var run database.RenderRun
	err := s.db.WithContext(ctx).Where("slot = ?", slot).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &run, nil
}

// List returns runs newest first along with the total match count.
func (s *RunStore) List(ctx context.Context, filter RunFilter) ([]database.RenderRun, int64, error) {
	query := s.db.WithContext(ctx).Model(&database.RenderRun{})
	if filter.JobID != "" {
		query = query.Where("job_id = ?", filter.JobID)
	}
	if filter.Slot != "" {
		query = query.Where("slot = ?", filter.Slot)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count render runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var runs []database.RenderRun
	err := query.Order("started_at DESC").Limit(limit).Offset(filter.Offset).Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list render runs: %w", err)
	}
	return runs, total, nil
}

// MarkInterrupted fails every run still marked running. Called at startup,
// when no process from the previous instance can still be alive.
func (s *RunStore) MarkInterrupted(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Model(&database.RenderRun{}).
		Where("status = ?", database.RenderStatusRunning).
		Updates(map[string]interface{}{
			"status":      database.RenderStatusFailed,
			"cause":       interruptedCause,
			"finished_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to mark interrupted runs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Warn("marked interrupted render runs as failed", "count", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// Prune deletes finished runs older than maxAge.
func (s *RunStore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result := s.db.WithContext(ctx).
		Where("status <> ? AND started_at < ?", database.RenderStatusRunning, cutoff).
		Delete(&database.RenderRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune render runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
