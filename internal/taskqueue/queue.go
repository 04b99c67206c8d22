package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// ErrTaskNotFound is returned by task lookups for unknown IDs.
var ErrTaskNotFound = errors.New("task not found")

// QueueState represents the persistent queue state
type QueueState struct {
	TaskOrder []string `json:"taskOrder"` // Ordered list of task IDs
	IsRunning bool     `json:"isRunning"` // Whether queue is processing
	IsPaused  bool     `json:"isPaused"`  // Whether queue is paused
}

// QueueStatus represents the current queue status for events
type QueueStatus struct {
	IsRunning      bool   `json:"isRunning"`
	IsPaused       bool   `json:"isPaused"`
	CurrentTaskID  string `json:"currentTaskID"`
	TotalTasks     int    `json:"totalTasks"`
	CompletedTasks int    `json:"completedTasks"`
	PendingTasks   int    `json:"pendingTasks"`
}

// TaskExecutor is the interface for task execution (implemented by App)
type TaskExecutor interface {
	ExecuteExportTask(ctx context.Context, task *ExportTask, progressChan chan<- TaskProgress) error
}

// QueueManager manages the export task queue. Tasks and queue order are
// persisted under the storage path so pending exports survive restarts.
type QueueManager struct {
	tasks       map[string]*ExportTask
	taskOrder   []string // maintains queue order
	mu          sync.RWMutex
	storagePath string // <dataDir>/queue/

	// State
	isRunning   bool
	isPaused    bool
	currentTask *ExportTask

	// Channels
	stopWorker chan struct{}

	// Context for cancelling the current task
	ctx        context.Context
	cancelFunc context.CancelFunc

	// Executor
	executor TaskExecutor

	// Event emission callbacks. Callbacks may call back into the
	// manager, so they are never invoked while holding the lock.
	onQueueUpdate  func(status QueueStatus)
	onTaskProgress func(taskID string, progress TaskProgress)
	onTaskComplete func(taskID string, success bool, err error)
	onNotification func(title, message, notifType string)

	workerWg sync.WaitGroup
}

// NewQueueManager creates a new queue manager and restores any
// persisted tasks. The queue does not start processing until
// StartQueue is called.
func NewQueueManager(storagePath string) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())

	qm := &QueueManager{
		tasks:       make(map[string]*ExportTask),
		taskOrder:   make([]string, 0),
		storagePath: storagePath,
		stopWorker:  make(chan struct{}, 1),
		ctx:         ctx,
		cancelFunc:  cancel,
	}

	if err := qm.loadState(); err != nil {
		log.Printf("[TaskQueue] Failed to load queue state: %v", err)
	}

	return qm
}

// SetExecutor sets the task executor
func (qm *QueueManager) SetExecutor(executor TaskExecutor) {
	qm.executor = executor
}

// SetCallbacks sets event callbacks
func (qm *QueueManager) SetCallbacks(
	onQueueUpdate func(QueueStatus),
	onTaskProgress func(string, TaskProgress),
	onTaskComplete func(string, bool, error),
	onNotification func(string, string, string),
) {
	qm.onQueueUpdate = onQueueUpdate
	qm.onTaskProgress = onTaskProgress
	qm.onTaskComplete = onTaskComplete
	qm.onNotification = onNotification
}

// getStoragePaths returns paths for queue storage
func (qm *QueueManager) getStoragePaths() (queueFile, tasksDir string) {
	queueFile = filepath.Join(qm.storagePath, "queue.json")
	tasksDir = filepath.Join(qm.storagePath, "tasks")
	return
}

// loadState loads the queue state from disk
func (qm *QueueManager) loadState() error {
	queueFile, tasksDir := qm.getStoragePaths()

	if data, err := os.ReadFile(queueFile); err == nil {
		var state QueueState
		if err := json.Unmarshal(data, &state); err == nil {
			qm.taskOrder = state.TaskOrder
			qm.isPaused = state.IsPaused
			// Don't restore isRunning - processing resumes only on an
			// explicit start
		}
	}

	// Load individual tasks
	if entries, err := os.ReadDir(tasksDir); err == nil {
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
				continue
			}
			taskPath := filepath.Join(tasksDir, entry.Name())
			task, err := LoadFromFile(taskPath)
			if err != nil {
				log.Printf("[TaskQueue] Failed to load task %s: %v", entry.Name(), err)
				continue
			}
			// A task interrupted mid-run by a crash goes back to
			// pending so it is retried
			if task.Status == TaskStatusRunning {
				task.Status = TaskStatusPending
				task.StartedAt = ""
			}
			qm.tasks[task.ID] = task
		}
	}

	// Drop order entries whose task file disappeared
	validOrder := make([]string, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if _, exists := qm.tasks[id]; exists {
			validOrder = append(validOrder, id)
		}
	}
	qm.taskOrder = validOrder

	// Append any tasks missing from the order
	inOrder := make(map[string]bool, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		inOrder[id] = true
	}
	for id := range qm.tasks {
		if !inOrder[id] {
			qm.taskOrder = append(qm.taskOrder, id)
		}
	}

	log.Printf("[TaskQueue] Loaded %d tasks from disk", len(qm.tasks))
	return nil
}

// saveState saves the queue state to disk. Caller must hold the lock.
func (qm *QueueManager) saveState() error {
	queueFile, _ := qm.getStoragePaths()

	if err := os.MkdirAll(filepath.Dir(queueFile), 0755); err != nil {
		return fmt.Errorf("failed to create queue directory: %w", err)
	}

	state := QueueState{
		TaskOrder: qm.taskOrder,
		IsRunning: qm.isRunning,
		IsPaused:  qm.isPaused,
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}

	tmpPath := queueFile + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write queue state: %w", err)
	}
	if err := os.Rename(tmpPath, queueFile); err != nil {
		return fmt.Errorf("failed to replace queue state: %w", err)
	}

	return nil
}

// saveTask saves a single task to disk
func (qm *QueueManager) saveTask(task *ExportTask) error {
	_, tasksDir := qm.getStoragePaths()
	return task.SaveToFile(tasksDir)
}

// AddTask adds a new task to the queue
func (qm *QueueManager) AddTask(task *ExportTask) error {
	qm.mu.Lock()

	if task.ID == "" {
		qm.mu.Unlock()
		return fmt.Errorf("task has no ID")
	}
	if _, exists := qm.tasks[task.ID]; exists {
		qm.mu.Unlock()
		return fmt.Errorf("task already queued: %s", task.ID)
	}

	qm.tasks[task.ID] = task
	qm.taskOrder = append(qm.taskOrder, task.ID)

	if err := qm.saveTask(task); err != nil {
		qm.mu.Unlock()
		return err
	}
	if err := qm.saveState(); err != nil {
		qm.mu.Unlock()
		return err
	}

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Added task: %s (%s)", task.Name, task.ID)
	return nil
}

// GetTask returns a task by ID
func (qm *QueueManager) GetTask(id string) (*ExportTask, error) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	task, exists := qm.tasks[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return task, nil
}

// GetAllTasks returns all tasks in queue order
func (qm *QueueManager) GetAllTasks() []*ExportTask {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	result := make([]*ExportTask, 0, len(qm.taskOrder))
	for _, id := range qm.taskOrder {
		if task, exists := qm.tasks[id]; exists {
			result = append(result, task)
		}
	}

	return result
}

// GetPendingTasks returns tasks that have not started yet
func (qm *QueueManager) GetPendingTasks() []*ExportTask {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	result := make([]*ExportTask, 0)
	for _, id := range qm.taskOrder {
		if task, exists := qm.tasks[id]; exists && task.Status == TaskStatusPending {
			result = append(result, task)
		}
	}

	return result
}

// UpdateTask updates a pending task's editable properties
func (qm *QueueManager) UpdateTask(id string, updates map[string]interface{}) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status != TaskStatusPending {
		qm.mu.Unlock()
		return fmt.Errorf("cannot update task that is not pending")
	}

	if name, ok := updates["name"].(string); ok {
		task.Name = name
	}
	if priority, ok := updates["priority"].(float64); ok {
		task.Priority = int(priority)
	}
	if format, ok := updates["format"].(string); ok {
		task.Format = format
	}
	if zoom, ok := updates["zoom"].(float64); ok {
		task.Zoom = int(zoom)
	}

	if err := qm.saveTask(task); err != nil {
		qm.mu.Unlock()
		return err
	}

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	return nil
}

// DeleteTask removes a task from the queue
func (qm *QueueManager) DeleteTask(id string) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.Status == TaskStatusRunning {
		qm.mu.Unlock()
		return fmt.Errorf("cannot delete running task - cancel it first")
	}

	qm.taskOrder = removeID(qm.taskOrder, id)
	delete(qm.tasks, id)

	_, tasksDir := qm.getStoragePaths()
	task.DeleteFile(tasksDir)

	qm.saveState()

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Deleted task: %s", id)
	return nil
}

// ReorderTask moves a task to a new position in the queue
func (qm *QueueManager) ReorderTask(id string, newIndex int) error {
	qm.mu.Lock()

	currentIndex := indexOf(qm.taskOrder, id)
	if currentIndex == -1 {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(qm.taskOrder) {
		newIndex = len(qm.taskOrder) - 1
	}

	order := removeID(qm.taskOrder, id)
	order = append(order, "")
	copy(order[newIndex+1:], order[newIndex:])
	order[newIndex] = id
	qm.taskOrder = order

	qm.saveState()

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Reordered task %s to position %d", id, newIndex)
	return nil
}

func indexOf(order []string, id string) int {
	for i, taskID := range order {
		if taskID == id {
			return i
		}
	}
	return -1
}

func removeID(order []string, id string) []string {
	result := make([]string, 0, len(order))
	for _, taskID := range order {
		if taskID != id {
			result = append(result, taskID)
		}
	}
	return result
}

// CancelTask cancels a running or pending task
func (qm *QueueManager) CancelTask(id string) error {
	qm.mu.Lock()

	task, exists := qm.tasks[id]
	if !exists {
		qm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if task.IsFinished() {
		qm.mu.Unlock()
		return fmt.Errorf("task already finished")
	}

	task.MarkCancelled()

	// If this is the current task, cancel its context so the executor
	// stops. The worker replaces the context before the next task.
	if qm.currentTask != nil && qm.currentTask.ID == id {
		qm.cancelFunc()
	}

	qm.saveTask(task)

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Cancelled task: %s", id)
	return nil
}

// StartQueue begins processing tasks
func (qm *QueueManager) StartQueue() error {
	qm.mu.Lock()

	if qm.isRunning && !qm.isPaused {
		qm.mu.Unlock()
		return fmt.Errorf("queue is already running")
	}

	qm.isRunning = true
	qm.isPaused = false
	qm.saveState()

	// Clear any stop signal left over from a previous StopQueue so the
	// fresh worker does not exit immediately
	select {
	case <-qm.stopWorker:
	default:
	}

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.workerWg.Add(1)
	go qm.worker()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Queue started")
	return nil
}

// PauseQueue pauses the queue after the current task completes
func (qm *QueueManager) PauseQueue() error {
	qm.mu.Lock()

	if !qm.isRunning {
		qm.mu.Unlock()
		return fmt.Errorf("queue is not running")
	}

	qm.isPaused = true
	qm.saveState()

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Queue paused (will stop after current task)")
	return nil
}

// StopQueue stops the queue immediately, cancelling the current task
func (qm *QueueManager) StopQueue() {
	qm.mu.Lock()
	qm.isRunning = false
	qm.isPaused = false
	qm.saveState()
	qm.cancelFunc()

	status := qm.statusLocked()
	qm.mu.Unlock()

	select {
	case qm.stopWorker <- struct{}{}:
	default:
	}

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Queue stopped")
}

// GetStatus returns the current queue status
func (qm *QueueManager) GetStatus() QueueStatus {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.statusLocked()
}

// statusLocked builds a status snapshot. Caller must hold the lock.
func (qm *QueueManager) statusLocked() QueueStatus {
	completed := 0
	pending := 0
	for _, task := range qm.tasks {
		switch task.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusPending:
			pending++
		}
	}

	currentTaskID := ""
	if qm.currentTask != nil {
		currentTaskID = qm.currentTask.ID
	}

	return QueueStatus{
		IsRunning:      qm.isRunning,
		IsPaused:       qm.isPaused,
		CurrentTaskID:  currentTaskID,
		TotalTasks:     len(qm.tasks),
		CompletedTasks: completed,
		PendingTasks:   pending,
	}
}

// nextPending returns the highest priority pending task, earliest
// queued winning ties. Caller must hold the lock.
func (qm *QueueManager) nextPending() *ExportTask {
	var next *ExportTask
	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Status != TaskStatusPending {
			continue
		}
		if next == nil || task.Priority > next.Priority {
			next = task
		}
	}
	return next
}

// worker processes tasks one at a time until the queue drains or stops
func (qm *QueueManager) worker() {
	defer qm.workerWg.Done()
	log.Printf("[TaskQueue] Worker started")
	defer log.Printf("[TaskQueue] Worker stopped")

	for {
		select {
		case <-qm.stopWorker:
			return
		default:
		}

		qm.mu.Lock()
		if !qm.isRunning || qm.isPaused {
			qm.mu.Unlock()
			return
		}

		nextTask := qm.nextPending()
		if nextTask == nil {
			// Queue drained
			qm.isRunning = false
			qm.saveState()
			completed := 0
			for _, t := range qm.tasks {
				if t.Status == TaskStatusCompleted {
					completed++
				}
			}
			status := qm.statusLocked()
			qm.mu.Unlock()

			if qm.onNotification != nil {
				qm.onNotification("Export Queue Complete",
					fmt.Sprintf("%d tasks finished", completed), "success")
			}

			qm.emitQueueUpdate(status)
			return
		}

		qm.currentTask = nextTask
		nextTask.MarkStarted()
		qm.saveTask(nextTask)
		taskCtx := qm.ctx
		status := qm.statusLocked()
		qm.mu.Unlock()

		qm.emitQueueUpdate(status)

		qm.runTask(taskCtx, nextTask)
	}
}

// runTask executes one task and records its outcome
func (qm *QueueManager) runTask(ctx context.Context, task *ExportTask) {
	log.Printf("[TaskQueue] Executing task: %s (%s)", task.Name, task.ID)

	progressChan := make(chan TaskProgress, 10)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for progress := range progressChan {
			qm.mu.Lock()
			task.Progress = progress
			qm.saveTask(task)
			qm.mu.Unlock()

			if qm.onTaskProgress != nil {
				qm.onTaskProgress(task.ID, progress)
			}
		}
	}()

	var execErr error
	if qm.executor != nil {
		execErr = qm.executor.ExecuteExportTask(ctx, task, progressChan)
	} else {
		execErr = fmt.Errorf("no executor configured")
	}
	close(progressChan)
	<-progressDone

	qm.mu.Lock()
	if execErr != nil {
		if ctx.Err() != nil {
			task.MarkCancelled()
		} else {
			task.MarkFailed(execErr)
			log.Printf("[TaskQueue] Task failed: %s - %v", task.ID, execErr)

			if qm.onNotification != nil {
				qm.onNotification("Export Failed",
					fmt.Sprintf("Task '%s' failed: %v", task.Name, execErr), "error")
			}
		}
	} else {
		task.MarkCompleted(task.OutputPath)
		log.Printf("[TaskQueue] Task completed: %s", task.ID)
	}
	qm.saveTask(task)
	qm.currentTask = nil

	// Fresh context for the next task
	qm.ctx, qm.cancelFunc = context.WithCancel(context.Background())
	status := qm.statusLocked()
	qm.mu.Unlock()

	if qm.onTaskComplete != nil {
		qm.onTaskComplete(task.ID, execErr == nil, execErr)
	}

	qm.emitQueueUpdate(status)
}

// emitQueueUpdate emits a queue update event
func (qm *QueueManager) emitQueueUpdate(status QueueStatus) {
	if qm.onQueueUpdate != nil {
		qm.onQueueUpdate(status)
	}
}

// SortByPriority sorts pending tasks by priority (higher first),
// keeping finished and running tasks at the front in their order.
func (qm *QueueManager) SortByPriority() {
	qm.mu.Lock()

	pendingTasks := make([]*ExportTask, 0)
	nonPendingOrder := make([]string, 0)

	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.Status == TaskStatusPending {
			pendingTasks = append(pendingTasks, task)
		} else {
			nonPendingOrder = append(nonPendingOrder, id)
		}
	}

	sort.SliceStable(pendingTasks, func(i, j int) bool {
		return pendingTasks[i].Priority > pendingTasks[j].Priority
	})

	newOrder := nonPendingOrder
	for _, task := range pendingTasks {
		newOrder = append(newOrder, task.ID)
	}
	qm.taskOrder = newOrder

	qm.saveState()

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
}

// ClearCompleted removes all finished tasks
func (qm *QueueManager) ClearCompleted() {
	qm.mu.Lock()

	_, tasksDir := qm.getStoragePaths()

	newOrder := make([]string, 0)
	for _, id := range qm.taskOrder {
		task := qm.tasks[id]
		if task.IsFinished() {
			task.DeleteFile(tasksDir)
			delete(qm.tasks, id)
		} else {
			newOrder = append(newOrder, id)
		}
	}
	qm.taskOrder = newOrder

	qm.saveState()

	status := qm.statusLocked()
	qm.mu.Unlock()

	qm.emitQueueUpdate(status)
	log.Printf("[TaskQueue] Cleared completed/failed/cancelled tasks")
}

// Close shuts down the queue manager and waits for the worker
func (qm *QueueManager) Close() {
	qm.StopQueue()
	qm.workerWg.Wait()
}
