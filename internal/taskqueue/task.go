package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"imagery-explorer/internal/common"
	"imagery-explorer/internal/registry"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// ExportItem identifies one catalog item rendered into the export.
// Single-scene exports carry one; timelapse exports carry one per frame
// in chronological order.
type ExportItem struct {
	ID   string `json:"id"`
	URL  string `json:"url"`  // tile URL template with {z}/{x}/{y} placeholders
	Date string `json:"date"` // acquisition date, YYYY-MM-DD
}

// TimelapseOptions contains animated GIF export settings
type TimelapseOptions struct {
	MaxDimension    int     `json:"maxDimension"`    // longest output edge in pixels
	FrameDelay      float64 `json:"frameDelay"`      // seconds per frame
	ShowDateOverlay bool    `json:"showDateOverlay"` // stamp acquisition dates onto frames
	LoopCount       int     `json:"loopCount"`       // 0 = loop forever
}

// TaskProgress represents detailed progress information
type TaskProgress struct {
	CurrentPhase   string `json:"currentPhase"` // "downloading", "stitching", "encoding"
	TotalItems     int    `json:"totalItems"`
	CurrentItem    int    `json:"currentItem"`
	TilesTotal     int    `json:"tilesTotal"`
	TilesCompleted int    `json:"tilesCompleted"`
	Percent        int    `json:"percent"`
}

// ExportTask represents a single export job in the queue
type ExportTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`  // Higher = more urgent (default 0)
	CreatedAt   string     `json:"createdAt"` // ISO 8601 format
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`

	// Export settings
	WorkspaceID string                    `json:"workspaceId,omitempty"`
	Collection  string                    `json:"collection"`
	Band        string                    `json:"band"`
	Rescale     *registry.RescaleOverride `json:"rescale,omitempty"`
	BBox        common.BoundingBox        `json:"bbox"`
	Zoom        int                       `json:"zoom"`
	Format      string                    `json:"format"` // "tiles", "geotiff", "both", "gif"

	// Items to render, chronological for timelapse exports
	Items []ExportItem `json:"items"`

	// Timelapse options (only for format "gif")
	Timelapse *TimelapseOptions `json:"timelapse,omitempty"`

	// Progress tracking
	Progress TaskProgress `json:"progress"`

	// Error message if failed
	Error string `json:"error,omitempty"`

	// Output path for completed exports
	OutputPath string `json:"outputPath,omitempty"`
}

// NewExportTask creates a new export task with default values
func NewExportTask(name, collection, band string, bbox common.BoundingBox, zoom int, items []ExportItem) *ExportTask {
	return &ExportTask{
		ID:         uuid.NewString(),
		Name:       name,
		Status:     TaskStatusPending,
		Priority:   0,
		CreatedAt:  time.Now().Format(time.RFC3339),
		Collection: collection,
		Band:       band,
		BBox:       bbox,
		Zoom:       zoom,
		Items:      items,
		Format:     "geotiff",
		Progress: TaskProgress{
			TotalItems: len(items),
		},
	}
}

// SaveToFile persists the task to a JSON file
func (t *ExportTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}

	return nil
}

// LoadFromFile loads a task from a JSON file
func LoadFromFile(path string) (*ExportTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task ExportTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *ExportTask) DeleteFile(dir string) error {
	path := filepath.Join(dir, t.ID+".json")
	return os.Remove(path)
}

// UpdateProgress updates the task's progress
func (t *ExportTask) UpdateProgress(phase string, currentItem, totalItems, tilesCompleted, tilesTotal int) {
	t.Progress.CurrentPhase = phase
	t.Progress.CurrentItem = currentItem
	t.Progress.TotalItems = totalItems
	t.Progress.TilesCompleted = tilesCompleted
	t.Progress.TilesTotal = tilesTotal

	// Overall percent blends finished items with the current item's
	// tile progress
	if totalItems > 0 && tilesTotal > 0 {
		itemProgress := float64(currentItem-1) / float64(totalItems)
		tileProgress := float64(tilesCompleted) / float64(tilesTotal)
		currentContribution := tileProgress / float64(totalItems)
		t.Progress.Percent = int((itemProgress + currentContribution) * 100)
	} else if totalItems > 0 {
		t.Progress.Percent = (currentItem * 100) / totalItems
	}

	if t.Progress.Percent > 100 {
		t.Progress.Percent = 100
	}
}

// MarkStarted marks the task as started
func (t *ExportTask) MarkStarted() {
	t.StartedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusRunning
}

// MarkCompleted marks the task as completed
func (t *ExportTask) MarkCompleted(outputPath string) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCompleted
	t.OutputPath = outputPath
	t.Progress.Percent = 100
}

// MarkFailed marks the task as failed with an error
func (t *ExportTask) MarkFailed(err error) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

// MarkCancelled marks the task as cancelled
func (t *ExportTask) MarkCancelled() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCancelled
}

// IsFinished reports whether the task reached a terminal status
func (t *ExportTask) IsFinished() bool {
	return t.Status == TaskStatusCompleted ||
		t.Status == TaskStatusFailed ||
		t.Status == TaskStatusCancelled
}
